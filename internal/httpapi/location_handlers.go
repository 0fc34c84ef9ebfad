package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"locshare.org/internal/audit"
	"locshare.org/internal/location"
	"locshare.org/internal/obs"
	"locshare.org/internal/visibility"
)

type recordRequest struct {
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	Accuracy   *float64 `json:"accuracy,omitempty"`
	CapturedAt int64    `json:"captured_at"`
	DateTime   string   `json:"date_time,omitempty"`
}

type visibleResponse struct {
	Items []visibility.Upsert `json:"items"`
	AsOf  time.Time           `json:"as_of"`
}

// recordLocation stores a fix for the caller. Callers can only write their own
// location.
func (a *API) recordLocation(w http.ResponseWriter, r *http.Request) {
	s, ok := session(w, r)
	if !ok {
		return
	}
	var req recordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.ledger.Record(r.Context(), s.AccountID, location.Sample{
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		Accuracy:   req.Accuracy,
		CapturedAt: req.CapturedAt,
		DateTime:   req.DateTime,
		UserName:   s.Name,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) currentLocation(w http.ResponseWriter, r *http.Request) {
	s, ok := session(w, r)
	if !ok {
		return
	}
	target := r.PathValue("userID")
	if err := a.resolver.Authorize(r.Context(), s.AccountID, target); err != nil {
		_ = audit.LogEvent(r.Context(), audit.EventAccessDenied, map[string]any{"target_id": target})
		handleError(w, r, err)
		return
	}
	cur, err := a.ledger.CurrentOf(r.Context(), target)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if cur == nil {
		writeError(w, r, http.StatusNotFound, "no location recorded")
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

// history streams the caller's history as newline-delimited JSON. A failure
// after the first row has been written is reported as a final error line.
func (a *API) history(w http.ResponseWriter, r *http.Request) {
	s, ok := session(w, r)
	if !ok {
		return
	}
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	started := false
	n := 0
	for smp, err := range a.ledger.HistoryOf(r.Context(), s.AccountID) {
		if err != nil {
			if !started {
				handleError(w, r, err)
				return
			}
			obs.Logger().Warn("history_stream_aborted", "request_id", RequestIDFromContext(r.Context()), "error", err)
			_ = enc.Encode(map[string]string{"error": "storage unavailable"})
			return
		}
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(smp); err != nil {
			return
		}
		n++
		if flusher != nil && n%100 == 0 {
			flusher.Flush()
		}
	}
	if !started {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
}

// visible returns a snapshot of every visible member that has a current location.
func (a *API) visible(w http.ResponseWriter, r *http.Request) {
	s, ok := session(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	members, err := a.resolver.VisibleSetFor(ctx, s.AccountID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	names := a.resolver.Names(ctx, members)
	board := visibility.NewBoard(s.AccountID)
	for _, id := range members {
		cur, err := a.ledger.CurrentOf(ctx, id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		board.Apply(visibility.Upsert{UserID: id, UserName: names[id], Self: id == s.AccountID, Sample: cur})
	}
	writeJSON(w, http.StatusOK, visibleResponse{Items: board.Entries(), AsOf: time.Now().UTC()})
}

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"locshare.org/internal/obs"
	"locshare.org/internal/visibility"
)

// Stream serves the caller's visible locations as Server-Sent Events. Each
// update is an "upsert" event; members that could not be subscribed are sent
// as "member_error" events.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	s, ok := session(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	updates := make(chan visibility.Upsert, 64)
	sub, err := a.resolver.SubscribeVisibleLocations(ctx, s.AccountID, func(u visibility.Upsert) {
		if u.Sample == nil {
			return
		}
		select {
		case updates <- u:
		case <-ctx.Done():
		}
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	defer sub.Unsubscribe()

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Send an initial comment to establish the stream
	_, _ = fmt.Fprintf(w, ": stream started members=%d\n\n", len(sub.Members()))
	flusher.Flush()

	keepAlive := time.NewTicker(a.sseInterval)
	defer keepAlive.Stop()
	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			writeEvent(w, "upsert", u)
		case me, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			obs.Logger().Warn("visible_member_failed", "user_id", me.UserID, "error", me.Err)
			writeEvent(w, "member_error", map[string]string{"user_id": me.UserID, "error": "unavailable"})
		case <-keepAlive.C:
			_, _ = w.Write([]byte(": ping\n\n"))
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
}

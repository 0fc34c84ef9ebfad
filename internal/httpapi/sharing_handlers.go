package httpapi

import (
	"context"
	"net/http"

	"locshare.org/internal/accounts"
	"locshare.org/internal/audit"
)

type shareRequest struct {
	Email string `json:"email"`
}

type person struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type peopleResponse struct {
	Items []person `json:"items"`
}

func (a *API) share(w http.ResponseWriter, r *http.Request) {
	s, ok := session(w, r)
	if !ok {
		return
	}
	var req shareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	viewerID, err := a.graph.Share(r.Context(), s.AccountID, req.Email)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventShareGranted, map[string]any{"viewer_id": viewerID})
	writeJSON(w, http.StatusCreated, map[string]any{
		"owner_id":  s.AccountID,
		"viewer_id": viewerID,
	})
}

func (a *API) revoke(w http.ResponseWriter, r *http.Request) {
	s, ok := session(w, r)
	if !ok {
		return
	}
	viewerID := r.PathValue("viewerID")
	if err := a.graph.Revoke(r.Context(), s.AccountID, viewerID); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventShareRevoked, map[string]any{"viewer_id": viewerID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listViewers(w http.ResponseWriter, r *http.Request) {
	s, ok := session(w, r)
	if !ok {
		return
	}
	ids, err := a.graph.ListViewers(r.Context(), s.AccountID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	people, err := a.people(r.Context(), ids, true)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, peopleResponse{Items: people})
}

func (a *API) listSharers(w http.ResponseWriter, r *http.Request) {
	s, ok := session(w, r)
	if !ok {
		return
	}
	ids, err := a.graph.ListSharers(r.Context(), s.AccountID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	people, err := a.people(r.Context(), ids, false)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, peopleResponse{Items: people})
}

// people resolves ids in order. Emails are only disclosed to the owner of the
// listed edges.
func (a *API) people(ctx context.Context, ids []string, withEmail bool) ([]person, error) {
	found, err := a.directory.Lookup(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]person, 0, len(ids))
	for _, id := range ids {
		p := person{ID: id, Name: accounts.DefaultDisplayName}
		if acct, ok := found[id]; ok {
			p.Name = acct.Name
			if withEmail {
				p.Email = acct.Email
			}
		}
		out = append(out, p)
	}
	return out, nil
}

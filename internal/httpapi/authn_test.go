package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"locshare.org/internal/auth"
)

func newAuthAPI(t *testing.T) (*API, *auth.Tokens) {
	t.Helper()
	tokens, err := auth.NewTokens("authn-secret", time.Minute)
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	return &API{tokens: tokens}, tokens
}

func sessionEcho(t *testing.T, got *auth.Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s, ok := auth.SessionFromContext(r.Context()); ok {
			*got = s
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestWithAuthAttachesSession(t *testing.T) {
	api, tokens := newAuthAPI(t)
	token, err := tokens.Issue(auth.Session{AccountID: "acct-1", Name: "Ann", Email: "ann@example.com"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var got auth.Session
	handler := api.withAuth(sessionEcho(t, &got))
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.AccountID != "acct-1" || got.Name != "Ann" {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestWithAuthRejectsMissingToken(t *testing.T) {
	api, _ := newAuthAPI(t)
	var got auth.Session
	handler := api.withAuth(sessionEcho(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/v1/visible", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestWithAuthRejectsForeignToken(t *testing.T) {
	api, _ := newAuthAPI(t)
	other, err := auth.NewTokens("another-secret", time.Minute)
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	token, err := other.Issue(auth.Session{AccountID: "acct-2"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var got auth.Session
	handler := api.withAuth(sessionEcho(t, &got))
	req := httptest.NewRequest(http.MethodGet, "/v1/visible", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got.AccountID != "" {
		t.Fatalf("handler must not run for a rejected token")
	}
}

func TestWithAuthSkipsPublicPaths(t *testing.T) {
	api, _ := newAuthAPI(t)
	var got auth.Session
	handler := api.withAuth(sessionEcho(t, &got))

	for _, path := range []string{"/healthz", "/v1/accounts", "/v1/auth/login"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]bool{
		"":              false,
		"Bearer ":       false,
		"Basic abc":     false,
		"Bearer abc":    true,
		"  bearer xyz ": true,
	}
	for header, ok := range cases {
		_, err := extractBearerToken(header)
		if (err == nil) != ok {
			t.Fatalf("header %q: unexpected err %v", header, err)
		}
	}
}

package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"locshare.org/internal/accounts"
	"locshare.org/internal/auth"
	"locshare.org/internal/location"
	"locshare.org/internal/sharing"
	"locshare.org/internal/stream"
	"locshare.org/internal/visibility"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	tokens, err := auth.NewTokens("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	dir := accounts.NewDirectory(accounts.NewInMemory(), accounts.WithPasswordCost(4))
	graph := sharing.NewGraph(sharing.NewInMemory(), dir)
	ledger := location.NewLedger(location.NewInMemory(), stream.New(0))

	api := New(Deps{
		Directory: dir,
		Graph:     graph,
		Ledger:    ledger,
		Resolver:  visibility.NewResolver(graph, dir, ledger),
		Tokens:    tokens,
		Version:   "test",
	}, WithRateLimit(1000, 1000), WithKeepAlive(50*time.Millisecond))

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, token)
}

func (c *apiClient) get(path string, params url.Values, token string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, token)
}

// signup registers an account and returns its id and a fresh token.
func (c *apiClient) signup(name, email string) (string, string) {
	c.t.Helper()
	resp := c.post("/v1/accounts", map[string]string{"name": name, "email": email, "password": "pw-" + name}, "")
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("register %s: status %d", email, resp.StatusCode)
	}
	acct := decode[accounts.Account](c.t, resp)

	resp = c.post("/v1/auth/login", map[string]string{"email": email, "password": "pw-" + name}, "")
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login %s: status %d", email, resp.StatusCode)
	}
	tok := decode[tokenResponse](c.t, resp)
	if tok.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return acct.ID, tok.Token
}

func (c *apiClient) record(token string, lat, lon float64, capturedAt int64) location.RecordResult {
	c.t.Helper()
	resp := c.post("/v1/locations", map[string]any{
		"latitude":    lat,
		"longitude":   lon,
		"captured_at": capturedAt,
	}, token)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("record location: status %d", resp.StatusCode)
	}
	return decode[location.RecordResult](c.t, resp)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != want {
		t.Fatalf("expected %d, got %d", want, resp.StatusCode)
	}
}

func TestAPIShareAndLocationFlow(t *testing.T) {
	c := newTestAPI(t)
	aliceID, aliceTok := c.signup("alice", "alice@example.com")
	bobID, bobTok := c.signup("bob", "bob@example.com")

	resp := c.post("/v1/shares", map[string]string{"email": "bob@example.com"}, aliceTok)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("share: status %d", resp.StatusCode)
	}
	edge := decode[map[string]string](t, resp)
	if edge["viewer_id"] != bobID || edge["owner_id"] != aliceID {
		t.Fatalf("unexpected edge: %+v", edge)
	}

	res := c.record(aliceTok, 51.5, -0.12, 1000)
	if !res.CurrentUpdated || res.Sample.UserID != aliceID || res.Sample.Key == "" {
		t.Fatalf("unexpected record result: %+v", res)
	}
	if res.Sample.UserName != "alice" {
		t.Fatalf("expected user name from session, got %q", res.Sample.UserName)
	}

	// Bob can see Alice.
	resp = c.get("/v1/locations/"+aliceID+"/current", nil, bobTok)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("current: status %d", resp.StatusCode)
	}
	cur := decode[location.Sample](t, resp)
	if cur.Latitude != 51.5 || cur.CapturedAt != 1000 {
		t.Fatalf("unexpected current: %+v", cur)
	}

	// Alice cannot see Bob.
	expectStatus(t, c.get("/v1/locations/"+bobID+"/current", nil, aliceTok), http.StatusForbidden)
	// Bob has not recorded anything yet.
	expectStatus(t, c.get("/v1/locations/"+bobID+"/current", nil, bobTok), http.StatusNotFound)

	c.record(bobTok, 48.85, 2.35, 2000)
	resp = c.get("/v1/visible", nil, bobTok)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("visible: status %d", resp.StatusCode)
	}
	vis := decode[visibleResponse](t, resp)
	if len(vis.Items) != 2 {
		t.Fatalf("expected 2 visible entries, got %d", len(vis.Items))
	}
	if vis.Items[0].UserID != bobID || !vis.Items[0].Self {
		t.Fatalf("expected viewer first, got %+v", vis.Items[0])
	}
	if vis.Items[1].UserID != aliceID || vis.Items[1].UserName != "alice" {
		t.Fatalf("unexpected second entry: %+v", vis.Items[1])
	}

	resp = c.get("/v1/shares/viewers", nil, aliceTok)
	viewers := decode[peopleResponse](t, resp)
	if len(viewers.Items) != 1 || viewers.Items[0].Email != "bob@example.com" {
		t.Fatalf("unexpected viewers: %+v", viewers)
	}
	resp = c.get("/v1/shares/sharers", nil, bobTok)
	sharers := decode[peopleResponse](t, resp)
	if len(sharers.Items) != 1 || sharers.Items[0].ID != aliceID || sharers.Items[0].Email != "" {
		t.Fatalf("unexpected sharers: %+v", sharers)
	}

	expectStatus(t, c.do(http.MethodDelete, "/v1/shares/"+bobID, nil, aliceTok), http.StatusNoContent)
	expectStatus(t, c.get("/v1/locations/"+aliceID+"/current", nil, bobTok), http.StatusForbidden)
}

func TestAPIHistoryStreamsNDJSON(t *testing.T) {
	c := newTestAPI(t)
	_, tok := c.signup("carol", "carol@example.com")

	c.record(tok, 1, 1, 300)
	c.record(tok, 2, 2, 100)
	c.record(tok, 3, 3, 200)

	resp := c.get("/v1/locations/history", nil, tok)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("unexpected content type %q", ct)
	}
	dec := json.NewDecoder(resp.Body)
	var got []int64
	for dec.More() {
		var s location.Sample
		if err := dec.Decode(&s); err != nil {
			t.Fatalf("decode history line: %v", err)
		}
		got = append(got, s.CapturedAt)
	}
	want := []int64{100, 200, 300}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestAPIStaleSampleIsRecordedButNotCurrent(t *testing.T) {
	c := newTestAPI(t)
	id, tok := c.signup("dan", "dan@example.com")

	c.record(tok, 10, 10, 500)
	res := c.record(tok, 20, 20, 400)
	if res.CurrentUpdated {
		t.Fatal("expected stale sample to leave current untouched")
	}
	cur := decode[location.Sample](t, c.get("/v1/locations/"+id+"/current", nil, tok))
	if cur.CapturedAt != 500 {
		t.Fatalf("expected current captured_at 500, got %d", cur.CapturedAt)
	}
}

func TestAPIErrorStatuses(t *testing.T) {
	c := newTestAPI(t)
	_, tok := c.signup("erin", "erin@example.com")

	cases := []struct {
		name   string
		resp   func() *http.Response
		status int
	}{
		{"duplicate email", func() *http.Response {
			return c.post("/v1/accounts", map[string]string{"name": "x", "email": "erin@example.com", "password": "p"}, "")
		}, http.StatusConflict},
		{"blank name", func() *http.Response {
			return c.post("/v1/accounts", map[string]string{"name": " ", "email": "z@example.com", "password": "p"}, "")
		}, http.StatusBadRequest},
		{"bad password", func() *http.Response {
			return c.post("/v1/auth/login", map[string]string{"email": "erin@example.com", "password": "wrong"}, "")
		}, http.StatusUnauthorized},
		{"unknown field", func() *http.Response {
			return c.post("/v1/accounts", map[string]string{"nick": "x"}, "")
		}, http.StatusBadRequest},
		{"missing token", func() *http.Response {
			return c.get("/v1/me", nil, "")
		}, http.StatusUnauthorized},
		{"garbage token", func() *http.Response {
			return c.get("/v1/me", nil, "not-a-jwt")
		}, http.StatusUnauthorized},
		{"share unknown user", func() *http.Response {
			return c.post("/v1/shares", map[string]string{"email": "nobody@example.com"}, tok)
		}, http.StatusNotFound},
		{"share with self", func() *http.Response {
			return c.post("/v1/shares", map[string]string{"email": "erin@example.com"}, tok)
		}, http.StatusUnprocessableEntity},
		{"invalid latitude", func() *http.Response {
			return c.post("/v1/locations", map[string]any{"latitude": 91, "longitude": 0, "captured_at": 1}, tok)
		}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expectStatus(t, tc.resp(), tc.status)
		})
	}
}

func TestAPIMeAndPublicEndpoints(t *testing.T) {
	c := newTestAPI(t)
	id, tok := c.signup("fay", "fay@example.com")

	me := decode[accounts.Account](t, c.get("/v1/me", nil, tok))
	if me.ID != id || me.Email != "fay@example.com" {
		t.Fatalf("unexpected me: %+v", me)
	}

	expectStatus(t, c.get("/healthz", nil, ""), http.StatusOK)
	expectStatus(t, c.get("/readyz", nil, ""), http.StatusOK)
	info := decode[map[string]any](t, c.get("/v1/info", nil, ""))
	if info["stale_policy"] != "reject_stale" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestAPIVisibleStream(t *testing.T) {
	c := newTestAPI(t)
	aliceID, aliceTok := c.signup("alice", "alice@example.com")
	_, bobTok := c.signup("bob", "bob@example.com")
	expectStatus(t, c.post("/v1/shares", map[string]string{"email": "bob@example.com"}, aliceTok), http.StatusCreated)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/visible/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+bobTok)
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := make(chan string, 32)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	waitFor := func(prefix string) string {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case l, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed waiting for %q", prefix)
				}
				if strings.HasPrefix(l, prefix) {
					return l
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	if l := waitFor(": stream started"); !strings.Contains(l, "members=2") {
		t.Fatalf("unexpected preamble %q", l)
	}

	c.record(aliceTok, 40.7, -74.0, 42)
	waitFor("event: upsert")
	data := strings.TrimPrefix(waitFor("data: "), "data: ")
	var up visibility.Upsert
	if err := json.Unmarshal([]byte(data), &up); err != nil {
		t.Fatalf("decode upsert: %v", err)
	}
	if up.UserID != aliceID || up.Self || up.Sample == nil || up.Sample.CapturedAt != 42 {
		t.Fatalf("unexpected upsert: %+v", up)
	}

	waitFor(": ping")
}

// Package httpapi exposes the location-sharing operations over HTTP and the
// gRPC health protocol.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"locshare.org/internal/accounts"
	"locshare.org/internal/auth"
	"locshare.org/internal/location"
	"locshare.org/internal/obs"
	"locshare.org/internal/sharing"
	"locshare.org/internal/store"
	"locshare.org/internal/visibility"
)

const serviceName = "locshare-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the configured backing services.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return store.Unavailable("ping database", err)
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return store.Unavailable("ping redis", err)
		}
	}
	return nil
}

// Deps wires the domain services into the API.
type Deps struct {
	Directory *accounts.Directory
	Graph     *sharing.Graph
	Ledger    *location.Ledger
	Resolver  *visibility.Resolver
	Tokens    *auth.Tokens
	Ready     readinessChecker
	Version   string
}

// API is the HTTP layer.
type API struct {
	mux       *http.ServeMux
	directory *accounts.Directory
	graph     *sharing.Graph
	ledger    *location.Ledger
	resolver  *visibility.Resolver
	tokens    *auth.Tokens
	ready     readinessChecker
	version   string

	rateBurst   int
	ratePerSec  float64
	maxBody     int64
	sseInterval time.Duration
}

// Option tunes the API.
type Option func(*API)

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		a.ratePerSec = perSecond
		a.rateBurst = burst
	}
}

// WithKeepAlive sets the SSE keep-alive comment interval.
func WithKeepAlive(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.sseInterval = d
		}
	}
}

func New(d Deps, opts ...Option) *API {
	a := &API{
		mux:         http.NewServeMux(),
		directory:   d.Directory,
		graph:       d.Graph,
		ledger:      d.Ledger,
		resolver:    d.Resolver,
		tokens:      d.Tokens,
		ready:       d.Ready,
		version:     d.Version,
		rateBurst:   40,
		ratePerSec:  20,
		maxBody:     1 << 20,
		sseInterval: 15 * time.Second,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	// accounts and sessions
	a.mux.HandleFunc("POST /v1/accounts", a.register)
	a.mux.HandleFunc("POST /v1/auth/login", a.login)
	a.mux.HandleFunc("GET /v1/me", a.me)

	// sharing graph
	a.mux.HandleFunc("POST /v1/shares", a.share)
	a.mux.HandleFunc("DELETE /v1/shares/{viewerID}", a.revoke)
	a.mux.HandleFunc("GET /v1/shares/viewers", a.listViewers)
	a.mux.HandleFunc("GET /v1/shares/sharers", a.listSharers)

	// locations
	a.mux.HandleFunc("POST /v1/locations", a.recordLocation)
	a.mux.HandleFunc("GET /v1/locations/{userID}/current", a.currentLocation)
	a.mux.HandleFunc("GET /v1/locations/history", a.history)
	a.mux.HandleFunc("GET /v1/visible", a.visible)
	a.mux.HandleFunc("GET /v1/visible/stream", a.Stream)

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	}
	if a.ledger != nil {
		info["stale_policy"] = a.ledger.Policy().String()
	}
	writeJSON(w, http.StatusOK, info)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// handleError maps domain errors to HTTP statuses.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, accounts.ErrDuplicateEmail):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, accounts.ErrInvalidCredentials), errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, accounts.ErrTooManyAttempts):
		w.Header().Set("Retry-After", "60")
		writeError(w, r, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, accounts.ErrInvalidInput), errors.Is(err, location.ErrInvalidSample):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, accounts.ErrNotFound), errors.Is(err, sharing.ErrUnknownUser):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, sharing.ErrSelfShare):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, visibility.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, location.ErrCurrentNotUpdated), errors.Is(err, store.ErrUnavailable):
		obs.Logger().Warn("storage_unavailable", "request_id", RequestIDFromContext(r.Context()), "error", err)
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusServiceUnavailable, "request cancelled")
	default:
		obs.Logger().Error("internal_error", "request_id", RequestIDFromContext(r.Context()), "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

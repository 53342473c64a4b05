// Package httpapi is the HTTP surface of the command gateway.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"cmdgate.io/internal/audit"
	"cmdgate.io/internal/auth"
	"cmdgate.io/internal/gateway"
	"cmdgate.io/internal/ledger"
	"cmdgate.io/internal/obs"
	"cmdgate.io/internal/rules"
	"cmdgate.io/internal/stream"
)

const serviceName = "cmdgate-api"

// ReadyProbe reports whether the backing store is reachable.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// API is the HTTP layer over the authorization pipeline and its stores.
type API struct {
	mux        *http.ServeMux
	pipeline   *gateway.Pipeline
	users      auth.UserStore
	rules      rules.Store
	credits    ledger.Service
	log        audit.Log
	events     *stream.Stream
	readyProbe readinessChecker
	version    string
}

// Option configures the API.
type Option func(*API)

// WithStream enables the admin SSE endpoint.
func WithStream(s *stream.Stream) Option {
	return func(a *API) { a.events = s }
}

// WithReadyProbe overrides the readiness check.
func WithReadyProbe(rp readinessChecker) Option {
	return func(a *API) { a.readyProbe = rp }
}

func New(p *gateway.Pipeline, users auth.UserStore, ruleStore rules.Store, credits ledger.Service, log audit.Log, version string, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		pipeline:   p,
		users:      users,
		rules:      ruleStore,
		credits:    credits,
		log:        log,
		readyProbe: ReadyProbe{},
		version:    version,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// gateway surface
	a.mux.HandleFunc("/v1/commands", a.handleCommands)
	a.mux.HandleFunc("/v1/me", a.handleMe)
	a.mux.HandleFunc("/v1/rules", a.handleRulesCollection)
	a.mux.HandleFunc("/v1/rules/", a.handleRuleResource)
	a.mux.HandleFunc("/v1/admin/logs", a.handleAdminLogs)
	a.mux.HandleFunc("/v1/admin/stream", a.handleAdminStream)
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// --- service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
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
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Package gateway implements the multi-tenant sync gateway: session and
// stream token authentication, organization role authorization, the
// revision compare-and-accept store, push idempotency, audit trail, rate
// limiting, and live-update broadcasting. The gateway never sees a vault
// content key or a decrypted payload.
package gateway

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/brendan612/latchkey/storage"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Gateway holds the shared stores and dependencies for the REST handlers.
// All mutable state is owned here, never package-scoped, so tests can run
// isolated instances.
type Gateway struct {
	store        storage.Store
	orgs         *orgStore
	audits       *auditLog
	limiter      *rateLimiter
	idempotency  *idempotencyCache
	broadcaster  *broadcaster
	signer       *tokenSigner
	metrics      *metricsCollector
	legacyTokens map[string]string

	strictAuth bool
	heartbeat  time.Duration
	logger     *slog.Logger
}

// Option configures the Gateway.
type Option func(*config)

type config struct {
	logger       *slog.Logger
	legacyTokens map[string]string
	defaultRole  Role
	strictAuth   bool
	rateLimit    int
	rateWindow   time.Duration
	auditCap     int
	heartbeat    time.Duration
	sessionTTL   time.Duration
	streamTTL    time.Duration
	alertFn      AlertFunc
}

// WithLogger sets the structured logger. If not set, a JSON logger writing
// to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithLegacyTokens configures pre-issued bearer tokens mapped to subjects,
// kept for clients that predate signed session tokens.
func WithLegacyTokens(tokens map[string]string) Option {
	return func(c *config) { c.legacyTokens = tokens }
}

// WithDefaultRole sets the role granted to auto-provisioned members of
// existing orgs. Defaults to viewer.
func WithDefaultRole(role Role) Option {
	return func(c *config) { c.defaultRole = role }
}

// WithStrictAuth makes /auth/status fail with 401 instead of reporting
// authenticated:false when identity cannot be resolved.
func WithStrictAuth() Option {
	return func(c *config) { c.strictAuth = true }
}

// WithRateLimit overrides the sliding-window request budget.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(c *config) { c.rateLimit = limit; c.rateWindow = window }
}

// WithAuditCap overrides the per-org audit entry cap.
func WithAuditCap(n int) Option {
	return func(c *config) { c.auditCap = n }
}

// WithHeartbeat overrides the event-stream heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(c *config) { c.heartbeat = d }
}

// WithTokenTTLs overrides the session and stream token lifetimes.
func WithTokenTTLs(session, stream time.Duration) Option {
	return func(c *config) { c.sessionTTL = session; c.streamTTL = stream }
}

// WithAlertFunc registers a callback for anomaly alerts.
func WithAlertFunc(fn AlertFunc) Option {
	return func(c *config) { c.alertFn = fn }
}

const defaultEventHeartbeat = 25 * time.Second

// New creates a Gateway. rootSecret seeds both token signing secrets; it
// must be stable across restarts for issued tokens to stay valid.
func New(store storage.Store, rootSecret []byte, opts ...Option) (*Gateway, error) {
	cfg := config{
		defaultRole: RoleViewer,
		heartbeat:   defaultEventHeartbeat,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	signer, err := newTokenSigner(rootSecret)
	if err != nil {
		return nil, err
	}
	if cfg.sessionTTL > 0 {
		signer.sessionTTL = cfg.sessionTTL
	}
	if cfg.streamTTL > 0 {
		signer.streamTTL = cfg.streamTTL
	}

	metrics := newMetricsCollector(cfg.alertFn)
	g := &Gateway{
		store:        store,
		orgs:         newOrgStore(cfg.defaultRole),
		audits:       newAuditLog(cfg.auditCap, cfg.logger),
		limiter:      newRateLimiter(cfg.rateLimit, cfg.rateWindow),
		idempotency:  newIdempotencyCache(),
		broadcaster:  newBroadcaster(metrics),
		signer:       signer,
		metrics:      metrics,
		legacyTokens: cfg.legacyTokens,
		strictAuth:   cfg.strictAuth,
		heartbeat:    cfg.heartbeat,
		logger:       cfg.logger,
	}
	return g, nil
}

// IssueSessionToken mints a session token for a subject, recording the
// membership at the given role. This is the operator-facing enrollment
// path; the gateway has no password login of its own.
func (g *Gateway) IssueSessionToken(subject, orgID string, role Role) (string, time.Time, error) {
	if _, ok := roleRanks[role]; !ok {
		return "", time.Time{}, fmt.Errorf("unknown role %q", role)
	}
	g.orgs.setMember(orgID, subject, role)
	return g.signer.issueSession(subject, orgID, role, time.Now())
}

// Router returns the full route tree: the versioned API pair, the served
// OpenAPI document, and the operational endpoints.
func (g *Gateway) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(g.recoverMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", g.Readyz)
	r.Get("/metrics", g.Metrics)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	// v1 and v2 are a compatibility pair during the protocol migration;
	// the behavior behind them is identical.
	for _, version := range []string{"/v1", "/v2"} {
		r.Route(version, func(r chi.Router) {
			r.Use(g.rateLimitMiddleware)

			r.Post("/auth/status", g.AuthStatus)

			r.Post("/vaults/pull-by-owner", g.requireRole(RoleViewer, g.PullByOwner))
			r.Post("/vaults/list-by-owner", g.requireRole(RoleViewer, g.ListByOwner))
			r.Post("/vaults/{vaultID}/pull", g.requireRole(RoleViewer, g.Pull))
			r.Post("/vaults/{vaultID}/push", g.requireRole(RoleEditor, g.Push))
			r.Delete("/vaults/{vaultID}", g.requireRole(RoleAdmin, g.DeleteVault))

			r.Post("/events/token", g.requireRole(RoleViewer, g.StreamToken))
			r.Get("/vaults/{vaultID}/events", g.Events)

			r.Get("/orgs/{orgID}/audit", g.requireRole(RoleAdmin, g.Audit))
			r.Post("/orgs/{orgID}/members", g.requireRole(RoleAdmin, g.AddMember))
			r.Delete("/orgs/{orgID}/members/{memberID}", g.requireRole(RoleAdmin, g.RemoveMember))
		})
	}

	return r
}

// Readyz reports whether the backing store is reachable.
func (g *Gateway) Readyz(w http.ResponseWriter, r *http.Request) {
	// A probe read against a vault that cannot exist; only an infra
	// error (not ErrNotFound) marks the gateway unready.
	if _, err := g.store.Get("readyz", "readyz"); err != nil && !errors.Is(err, storage.ErrNotFound) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("store unavailable"))
		return
	}
	w.Write([]byte("ok"))
}

// recoverMiddleware converts a handler panic into a 500 carrying the
// panic's message. One bad request must not take down the process or drop
// other subscribers.
func (g *Gateway) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				g.logger.Error("handler panic",
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
				)
				writeServerError(w, fmt.Errorf("%v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// StartSweepers runs the periodic cleanup loops until stop is closed.
func (g *Gateway) StartSweepers(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.limiter.sweep()
				g.idempotency.sweep()
			case <-stop:
				return
			}
		}
	}()
}

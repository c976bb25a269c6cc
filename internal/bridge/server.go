// Package bridge exposes the panel-facing HTTP API. Handlers authenticate,
// validate, audit, and stage work; they never touch the world directly. All
// mutation flows through the hub's command buffer to the loop goroutine.
package bridge

import (
	"context"
	"errors"
	"net/http"
	"time"

	"emberfall/server/internal/audit"
	"emberfall/server/internal/policy"
	"emberfall/server/internal/sim"
	"emberfall/server/internal/telemetry"
	"emberfall/server/logging"
)

// Request headers the panel presents.
const (
	headerSecret = "X-Panel-Secret"
	headerActor  = "X-Panel-Actor"
)

const (
	metricRequestsTotal     = "bridge_requests_total"
	metricUnauthorizedTotal = "bridge_unauthorized_total"
)

// ServerConfig wires the bridge to the rest of the process.
type ServerConfig struct {
	Policy               *policy.Policy
	Hub                  *sim.Hub
	Trail                *audit.Trail
	Stream               *Stream
	Logger               telemetry.Logger
	Metrics              telemetry.Metrics
	Publisher            logging.Publisher
	EnableInventoryView  bool
	EnableEnderChestView bool
}

// Server is the HTTP front of the bridge.
type Server struct {
	cfg       ServerConfig
	publisher logging.Publisher
	mux       *http.ServeMux
	httpd     *http.Server
}

// NewServer builds the server and registers every route.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		cfg:       cfg,
		publisher: cfg.Publisher,
		mux:       http.NewServeMux(),
	}
	if s.publisher == nil {
		s.publisher = logging.NopPublisher()
	}
	s.routes()
	return s
}

// Handler returns the full middleware chain, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.withRecovery(s.withAuth(s.mux))
}

// Start serves until Shutdown is called or the listener fails.
func (s *Server) Start(addr string) error {
	s.httpd = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes event subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.Stream != nil {
		_ = s.cfg.Stream.Close(ctx)
	}
	if s.httpd == nil {
		return nil
	}
	return s.httpd.Shutdown(ctx)
}

// withRecovery converts handler panics into opaque 500 responses. Internal
// detail goes to the log, never to the caller.
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if s.cfg.Logger != nil {
					s.cfg.Logger.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				}
				s.publisher.Publish(r.Context(), logging.Event{
					Type:     "bridge_handler_panic",
					Severity: logging.SeverityError,
					Category: logging.CategoryBridge,
					Payload:  map[string]any{"method": r.Method, "path": r.URL.Path},
				})
				writeError(w, http.StatusInternalServerError, errServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withAuth rejects any request whose X-Panel-Secret does not match. Nothing
// downstream of this middleware runs for an unauthenticated caller, so no
// audit entry and no staged command can result from a bad credential.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.Add(metricRequestsTotal, 1)
		}
		if !s.cfg.Policy.Authenticate(r.Header.Get(headerSecret)) {
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.Add(metricUnauthorizedTotal, 1)
			}
			s.publisher.Publish(r.Context(), logging.Event{
				Type:     "bridge_unauthorized",
				Severity: logging.SeverityWarn,
				Category: logging.CategoryBridge,
				Payload:  map[string]any{"path": r.URL.Path},
			}.WithExtra("remote", r.RemoteAddr))
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actorFrom resolves the self-declared panel identity used for audit lines.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get(headerActor); actor != "" {
		return actor
	}
	return "unknown"
}

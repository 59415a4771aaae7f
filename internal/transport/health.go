package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger is the database pool dependency the readiness probe checks.
// Implemented by internal/db.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer is the HTTP liveness/readiness surface served alongside
// the NATS transport, pairing net/http.Server with a chi.Router.
type HealthServer struct {
	srv *http.Server
}

// NewHealthServer builds the health HTTP server. GET /healthz reports
// process liveness only; GET /readyz additionally checks the database
// pool and the NATS connection.
func NewHealthServer(addr string, db Pinger, nc *Transport) *HealthServer {
	return &HealthServer{srv: &http.Server{
		Addr:              addr,
		Handler:           healthRouter(db, nc),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}}
}

func healthRouter(db Pinger, nc *Transport) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			http.Error(w, "db not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		if nc != nil && !nc.Connected() {
			http.Error(w, "transport not connected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down with its own bounded
// grace period, separate from the main shutdown timeout.
func (h *HealthServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return h.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

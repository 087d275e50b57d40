// Package server implements the pull side of the file-transfer protocol: it
// registers child files produced by the splitter, hands out time-bounded
// leases over HTTP/JSON, serves the file bytes, and sweeps expired leases
// back to pending.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/netunna/splitter/async"
	"github.com/netunna/splitter/config"
	"github.com/netunna/splitter/runtime"
)

var _ runtime.Service = (*Service)(nil)

// Service is the pull server. It owns the file-state store, the HTTP surface
// and the lease-expiry sweep.
type Service struct {
	ctx          context.Context
	cancel       context.CancelFunc
	cfg          *config.Server
	store        *Store
	server       *http.Server
	startFailure error
}

// NewService opens the state database and prepares the pull server. Start
// performs the initial output scan and binds the listener.
func NewService(ctx context.Context, cfg *config.Server) (*Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	store, err := NewStore(cfg.DatabasePath)
	if err != nil {
		cancel()
		return nil, err
	}
	return &Service{ctx: ctx, cancel: cancel, cfg: cfg, store: store}, nil
}

// Store exposes the file-state store, used by tests and the CLI.
func (s *Service) Store() *Store {
	return s.store
}

// Router builds the HTTP surface. The health and metrics endpoints are open;
// everything else sits behind the bearer token when one is configured.
func (s *Service) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/lease-files", s.handleLeaseFiles).Methods(http.MethodPost)
	api.HandleFunc("/confirm-download", s.handleConfirmDownload).Methods(http.MethodPost)
	api.HandleFunc("/pull-batch", s.handlePullBatch).Methods(http.MethodPost)
	api.HandleFunc("/scan", s.handleScan).Methods(http.MethodGet)
	api.HandleFunc("/files/{id}", s.handleFileDownload).Methods(http.MethodGet)
	return router
}

func (s *Service) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIToken != "" {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.APIToken {
				writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Start scans the output root, wires the watcher and the TTL sweep, and
// serves HTTP until the context is cancelled.
func (s *Service) Start() {
	registered, err := s.store.RegisterOutputs(s.cfg.OutputRoot)
	if err != nil {
		log.WithError(err).Error("Initial output scan failed")
		s.startFailure = err
		return
	}
	log.WithField("registered", registered).Info("Output scan complete")
	s.updatePendingGauge()

	handler := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(s.Router())

	async.RunEvery(s.ctx, s.cfg.SweepInterval(), s.sweep)
	if s.cfg.WatchOutput {
		go s.watchOutputs()
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler: handler,
	}
	go func() {
		log.WithField("address", s.server.Addr).Info("Starting pull server")
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("Pull server stopped unexpectedly")
			s.startFailure = err
		}
	}()
}

func (s *Service) sweep() {
	if _, err := s.store.SweepExpired(time.Now().UTC()); err != nil {
		log.WithError(err).Error("Lease sweep failed")
		return
	}
	s.updatePendingGauge()
}

func (s *Service) updatePendingGauge() {
	pending, err := s.store.Files(StatusPending)
	if err != nil {
		log.WithError(err).Debug("Could not count pending files")
		return
	}
	pendingFilesGauge.Set(float64(len(pending)))
}

// Status returns an error when the server failed to bind or crashed.
func (s *Service) Status() error {
	return s.startFailure
}

// Stop shuts the listener down gracefully and closes the store.
func (s *Service) Stop() error {
	s.cancel()
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Could not shut down pull server cleanly")
		}
	}
	return s.store.Close()
}

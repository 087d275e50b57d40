package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/netunna/splitter/runtime/version"
)

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Could not write response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"status": "error", "msg": msg})
}

// Router builds the agent's control surface.
func (s *Service) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/agent/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/agent/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/agent/pull", s.handlePull).Methods(http.MethodGet, http.MethodPost)
	return router
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "splitter-agent",
		"version": version.Version(),
	})
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	last, running := s.LastRun()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running":  running,
		"mode":     s.cfg.DownloadMode,
		"last_run": last,
	})
}

type pullRequest struct {
	Limit     int      `json:"limit"`
	Mode      string   `json:"mode"`
	Lotes     []string `json:"lotes"`
	DateFrom  string   `json:"date_from"`
	DateTo    string   `json:"date_to"`
	SinceDays int      `json:"since_days"`
}

// pullOptions validates the request and converts the date bounds, given as
// 2006-01-02 strings.
func (req pullRequest) pullOptions() (PullOptions, error) {
	opts := PullOptions{
		Limit:     req.Limit,
		Lotes:     req.Lotes,
		Mode:      req.Mode,
		SinceDays: req.SinceDays,
	}
	if req.DateFrom != "" {
		d, err := time.Parse("2006-01-02", req.DateFrom)
		if err != nil {
			return opts, errors.Wrap(err, "invalid date_from")
		}
		opts.DateFrom = d
	}
	if req.DateTo != "" {
		d, err := time.Parse("2006-01-02", req.DateTo)
		if err != nil {
			return opts, errors.Wrap(err, "invalid date_to")
		}
		opts.DateTo = d
	}
	return opts, nil
}

// handlePull starts one pull cycle in the background and answers 202. The
// request options come from the JSON body or, for GET, the query string.
func (s *Service) handlePull(w http.ResponseWriter, r *http.Request) {
	var req pullRequest
	if r.Method == http.MethodPost && r.Body != nil {
		// An empty body is fine, the defaults apply.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		req.Limit = n
	}
	if v := q.Get("mode"); v != "" {
		req.Mode = strings.ToLower(v)
	}
	if v := q.Get("lotes"); v != "" {
		req.Lotes = strings.Split(v, ",")
	}
	if v := q.Get("date_from"); v != "" {
		req.DateFrom = v
	}
	if v := q.Get("date_to"); v != "" {
		req.DateTo = v
	}
	if v := q.Get("since_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid since_days")
			return
		}
		req.SinceDays = n
	}
	opts, err := req.pullOptions()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	busy := s.running
	s.mu.Unlock()
	if busy {
		writeError(w, http.StatusConflict, "a pull cycle is already running")
		return
	}

	go func() {
		if _, err := s.PullOnce(s.ctx, opts); err != nil {
			log.WithError(err).Error("Background pull cycle failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// Start binds the agent control endpoint.
func (s *Service) Start() {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.Router(),
	}
	go func() {
		log.WithField("address", s.server.Addr).WithField("mode", s.cfg.DownloadMode).Info("Starting pull agent")
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("Pull agent stopped unexpectedly")
			s.startFailure = err
		}
	}()
}

// Status returns an error when the control endpoint failed to bind.
func (s *Service) Status() error {
	return s.startFailure
}

// Stop shuts the control endpoint down gracefully.
func (s *Service) Stop() error {
	s.cancel()
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

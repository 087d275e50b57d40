package server

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/netunna/splitter/config"
	"github.com/netunna/splitter/io/file"
	"github.com/netunna/splitter/runtime/version"
)

type leaseRequest struct {
	Limit      int      `json:"limit"`
	Lotes      []string `json:"lotes"`
	TTLSeconds int      `json:"ttl_seconds"`
}

type fileDescriptor struct {
	ID     string `json:"id"`
	PV     string `json:"pv"`
	Name   string `json:"name"`
	Lote   string `json:"lote"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
	URL    string `json:"url"`
}

type leaseResponse struct {
	LeaseID string           `json:"lease_id"`
	Files   []fileDescriptor `json:"files"`
}

type confirmRequest struct {
	LeaseID string   `json:"lease_id"`
	OKIDs   []string `json:"ok_ids"`
	FailIDs []string `json:"fail_ids"`
}

type confirmResponse struct {
	Confirmed int `json:"confirmed"`
	Rejected  int `json:"rejected"`
}

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

func descriptor(fs *FileState) fileDescriptor {
	return fileDescriptor{
		ID:     fs.ID,
		PV:     fs.PV,
		Name:   fs.Name,
		Lote:   fs.Lote,
		Size:   fs.Size,
		SHA256: fs.SHA256,
		URL:    "/files/" + fs.ID,
	}
}

func (s *Service) handleLeaseFiles(w http.ResponseWriter, r *http.Request) {
	var req leaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	limit, ttl, ok := s.leaseParams(w, req.Limit, req.TTLSeconds)
	if !ok {
		return
	}
	lease, files, err := s.store.Lease(limit, req.Lotes, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.updatePendingGauge()

	resp := leaseResponse{LeaseID: lease.ID, Files: make([]fileDescriptor, 0, len(files))}
	for _, fs := range files {
		resp.Files = append(resp.Files, descriptor(fs))
	}
	log.WithField("lease", lease.ID).WithField("files", len(files)).Info("Lease granted")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) leaseParams(w http.ResponseWriter, limit, ttlSeconds int) (int, time.Duration, bool) {
	if limit < 0 || ttlSeconds < 0 {
		writeError(w, http.StatusBadRequest, "limit and ttl_seconds must not be negative")
		return 0, 0, false
	}
	if limit == 0 {
		limit = config.DefaultPullLimit
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	if ttl == 0 {
		ttl = s.cfg.DefaultTTL
		if ttl == 0 {
			ttl = config.DefaultLeaseTTL
		}
	}
	return limit, ttl, true
}

func (s *Service) handleConfirmDownload(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LeaseID == "" {
		writeError(w, http.StatusBadRequest, "lease_id is required")
		return
	}
	confirmed, rejected, err := s.store.Confirm(req.LeaseID, req.OKIDs, req.FailIDs)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownLease):
			writeError(w, http.StatusConflict, "unknown lease")
		case errors.Is(err, ErrLeaseConflict):
			writeError(w, http.StatusConflict, "conflicting confirm outcome")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.updatePendingGauge()
	writeJSON(w, http.StatusOK, confirmResponse{Confirmed: confirmed, Rejected: rejected})
}

// handlePullBatch leases and immediately confirms, for agents running in
// direct mode. The files are marked downloaded before the agent fetches the
// bytes; a crashed agent loses the batch, which direct mode accepts.
func (s *Service) handlePullBatch(w http.ResponseWriter, r *http.Request) {
	var req leaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	limit, ttl, ok := s.leaseParams(w, req.Limit, req.TTLSeconds)
	if !ok {
		return
	}
	lease, files, err := s.store.Lease(limit, req.Lotes, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ids := make([]string, 0, len(files))
	for _, fs := range files {
		ids = append(ids, fs.ID)
	}
	if _, _, err := s.store.Confirm(lease.ID, ids, nil); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.updatePendingGauge()

	resp := leaseResponse{LeaseID: lease.ID, Files: make([]fileDescriptor, 0, len(files))}
	for _, fs := range files {
		resp.Files = append(resp.Files, descriptor(fs))
	}
	writeJSON(w, http.StatusOK, resp)
}

type scanEntry struct {
	Name  string    `json:"name"`
	Lote  string    `json:"lote"`
	MTime time.Time `json:"mtime"`
}

type scanResponse struct {
	Registered int         `json:"registered"`
	Input      []string    `json:"input"`
	Output     []scanEntry `json:"output"`
}

// handleScan re-walks the output root, registering anything new, and lists
// both trees: pending mother files on the input side and every known child on
// the output side.
func (s *Service) handleScan(w http.ResponseWriter, r *http.Request) {
	registered, err := s.store.RegisterOutputs(s.cfg.OutputRoot)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	files, err := s.store.Files("")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.updatePendingGauge()

	resp := scanResponse{Registered: registered, Input: listInputFiles(s.cfg.InputDir)}
	for _, fs := range files {
		entry := scanEntry{Name: fs.Name, Lote: fs.Lote, MTime: fs.RegisteredAt}
		if info, err := os.Stat(fs.Path); err == nil {
			entry.MTime = info.ModTime().UTC()
		}
		resp.Output = append(resp.Output, entry)
	}
	writeJSON(w, http.StatusOK, resp)
}

func listInputFiles(dir string) []string {
	names := []string{}
	if dir == "" {
		return names
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.WithError(err).Debug("Could not list input directory")
		return names
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names
}

func (s *Service) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	fs, err := s.store.File(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if fs == nil {
		writeError(w, http.StatusNotFound, "unknown file id")
		return
	}
	if !file.Exists(fs.Path) {
		writeError(w, http.StatusNotFound, "file no longer on disk")
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=\""+fs.Name+"\"")
	http.ServeFile(w, r, fs.Path)
}

func (s *Service) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "splitter-pull",
		"version": version.Version(),
	})
}

// Package agent implements the client side of the pull protocol: it leases
// batches of child files from the pull server, streams each file to disk with
// size and sha256 verification, and confirms the outcome. Besides the default
// lease mode it supports a direct batch mode and the legacy consolidated-zip
// mode.
package agent

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/netunna/splitter/config"
	"github.com/netunna/splitter/io/file"
	"github.com/netunna/splitter/runtime"
)

var _ runtime.Service = (*Service)(nil)

// ErrPullRunning is returned when a pull cycle is requested while another is
// still in flight.
var ErrPullRunning = errors.New("a pull cycle is already running")

// PullOptions select what one pull cycle fetches. The date bounds filter on
// the DDMMAA date carried in the child file name; SinceDays is a rolling
// lower bound relative to now.
type PullOptions struct {
	Limit     int
	Lotes     []string
	Mode      string
	DateFrom  time.Time
	DateTo    time.Time
	SinceDays int
}

// wantFile applies the date filter to one descriptor. Children whose name
// carries no parsable date are never filtered out.
func (o PullOptions) wantFile(name string) bool {
	from, to := o.DateFrom, o.DateTo
	if o.SinceDays > 0 {
		cutoff := dayOf(time.Now().AddDate(0, 0, -o.SinceDays))
		if from.IsZero() || cutoff.After(from) {
			from = cutoff
		}
	}
	if from.IsZero() && to.IsZero() {
		return true
	}
	d, ok := childDate(name)
	if !ok {
		return true
	}
	if !from.IsZero() && d.Before(dayOf(from)) {
		return false
	}
	if !to.IsZero() && d.After(dayOf(to)) {
		return false
	}
	return true
}

// childDate extracts the DDMMAA segment of `<PV>_<DDMMAA>_<NSA>_<KIND>.txt`.
func childDate(name string) (time.Time, bool) {
	parts := strings.Split(name, "_")
	if len(parts) < 2 {
		return time.Time{}, false
	}
	d, err := time.Parse("020106", parts[1])
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// RunResult summarizes one pull cycle for the status endpoint.
type RunResult struct {
	Mode       string    `json:"mode"`
	Leased     int       `json:"leased"`
	Downloaded int       `json:"downloaded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Bytes      int64     `json:"bytes"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
	Error      string    `json:"error,omitempty"`
}

// Service is the pull agent daemon: a small HTTP control surface plus the
// pull cycle itself.
type Service struct {
	ctx          context.Context
	cancel       context.CancelFunc
	cfg          *config.Agent
	client       *Client
	server       *http.Server
	startFailure error

	mu      sync.Mutex
	running bool
	lastRun *RunResult
}

// NewService builds the agent from its configuration. The server base URL is
// required for the lease and direct modes; zip mode only needs the zip URL.
func NewService(ctx context.Context, cfg *config.Agent) (*Service, error) {
	if cfg.DownloadMode == "" {
		cfg.DownloadMode = config.ModeLease
	}
	if cfg.DownloadMode != config.ModeZip && cfg.BaseURL == "" {
		return nil, errors.New("SPLITTER_BASE_URL is required outside zip mode")
	}
	var client *Client
	if cfg.BaseURL != "" {
		var err error
		client, err = NewClient(cfg.BaseURL,
			WithAuthenticationToken(cfg.APIKey),
			WithTimeout(2*time.Minute),
		)
		if err != nil {
			return nil, errors.Wrap(err, "could not build pull client")
		}
	} else {
		// Zip mode without a configured base URL still needs a transport
		// for the absolute zip URL.
		client = &Client{hc: &http.Client{Timeout: 2 * time.Minute}, token: cfg.APIKey}
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{ctx: ctx, cancel: cancel, cfg: cfg, client: client}, nil
}

// receivedDir resolves the target directory for downloaded children.
func (s *Service) receivedDir() string {
	dir := s.cfg.ReceivedDir
	if dir == "" {
		dir = config.DefaultReceivedDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(s.cfg.BaseDir, dir)
}

// PullOnce runs a single pull cycle in the configured or requested mode.
// Concurrent cycles are rejected; the lease TTL already protects the files.
func (s *Service) PullOnce(ctx context.Context, opts PullOptions) (*RunResult, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrPullRunning
	}
	s.running = true
	s.mu.Unlock()

	res := &RunResult{Mode: opts.Mode, Started: time.Now().UTC()}
	if res.Mode == "" {
		res.Mode = s.cfg.DownloadMode
	}
	if opts.Limit <= 0 {
		opts.Limit = s.cfg.PullLimit
	}

	var err error
	switch res.Mode {
	case config.ModeLease:
		err = s.runLease(ctx, opts, res)
	case config.ModeDirect:
		err = s.runDirect(ctx, opts, res)
	case config.ModeZip:
		err = s.runZip(ctx, res)
	default:
		err = errors.Errorf("unknown download mode %q", res.Mode)
	}
	res.Finished = time.Now().UTC()
	if err != nil {
		res.Error = err.Error()
	}

	s.mu.Lock()
	s.running = false
	s.lastRun = res
	s.mu.Unlock()

	log.WithFields(logrus.Fields{
		"mode":       res.Mode,
		"leased":     res.Leased,
		"downloaded": res.Downloaded,
		"failed":     res.Failed,
		"bytes":      humanize.Bytes(uint64(res.Bytes)),
	}).Info("Pull cycle finished")
	return res, err
}

// runLease is the default protocol: lease, download each descriptor with
// bounded retries, then confirm. Confirm runs even with empty lists so the
// server can close the lease.
func (s *Service) runLease(ctx context.Context, opts PullOptions, res *RunResult) error {
	ttl := int(s.cfg.LeaseTTL / time.Second)
	batch, err := s.client.LeaseFiles(ctx, opts.Limit, opts.Lotes, ttl)
	if err != nil {
		return err
	}
	res.Leased = len(batch.Files)

	var okIDs, failIDs []string
	for _, desc := range batch.Files {
		if !opts.wantFile(desc.Name) {
			// Outside the date window: the id goes in neither list, the
			// server re-pends it when the lease expires.
			res.Skipped++
			continue
		}
		n, err := s.downloadWithRetry(ctx, desc)
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled: the id goes in neither list, the server
				// will expire the lease.
				break
			}
			log.WithError(err).WithField("file", desc.Name).Warn("Download failed")
			failIDs = append(failIDs, desc.ID)
			res.Failed++
			continue
		}
		okIDs = append(okIDs, desc.ID)
		res.Downloaded++
		res.Bytes += n
	}

	if _, err := s.client.ConfirmDownload(ctx, batch.LeaseID, okIDs, failIDs); err != nil {
		// Files already on disk stay; the server re-leases after TTL and
		// the atomic rename makes the re-download idempotent.
		return errors.Wrap(err, "could not confirm lease")
	}
	return nil
}

// runDirect fetches a pre-confirmed batch. Failures are lost until the next
// operator rescan, which direct mode accepts.
func (s *Service) runDirect(ctx context.Context, opts PullOptions, res *RunResult) error {
	batch, err := s.client.PullBatch(ctx, opts.Limit, opts.Lotes)
	if err != nil {
		return err
	}
	res.Leased = len(batch.Files)
	for _, desc := range batch.Files {
		if !opts.wantFile(desc.Name) {
			res.Skipped++
			continue
		}
		n, err := s.downloadWithRetry(ctx, desc)
		if err != nil {
			log.WithError(err).WithField("file", desc.Name).Warn("Download failed")
			res.Failed++
			continue
		}
		res.Downloaded++
		res.Bytes += n
	}
	return nil
}

func (s *Service) downloadWithRetry(ctx context.Context, desc FileDescriptor) (int64, error) {
	retries := s.cfg.Retries
	if retries <= 0 {
		retries = config.DefaultPullRetries
	}
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		n, err := s.download(ctx, desc)
		if err == nil {
			return n, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return 0, err
		}
		log.WithError(err).WithFields(logrus.Fields{
			"file":    desc.Name,
			"attempt": attempt,
		}).Warn("Download attempt failed")
	}
	return 0, lastErr
}

// download streams one file to `<received>/<pv>/.<name>.part`, verifies size
// and sha256, then renames to the final name. The rename makes re-downloads
// after a lost confirm idempotent.
func (s *Service) download(ctx context.Context, desc FileDescriptor) (int64, error) {
	dir := filepath.Join(s.receivedDir(), desc.PV)
	if err := file.MkdirAll(dir); err != nil {
		return 0, errors.Wrap(err, "could not create download directory")
	}
	part := filepath.Join(dir, "."+desc.Name+".part")
	final := filepath.Join(dir, desc.Name)

	f, err := os.OpenFile(part, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return 0, errors.Wrap(err, "could not create partial file")
	}
	n, copyErr := s.client.Download(ctx, desc, f)
	if closeErr := f.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		removePartial(part)
		return 0, copyErr
	}

	if n != desc.Size {
		removePartial(part)
		return 0, errors.Errorf("size mismatch for %s: got %d bytes, want %d", desc.Name, n, desc.Size)
	}
	if s.cfg.VerifySHA256 && desc.SHA256 != "" {
		hash, err := file.HashFile(part)
		if err != nil {
			removePartial(part)
			return 0, errors.Wrap(err, "could not hash downloaded file")
		}
		if hash != desc.SHA256 {
			removePartial(part)
			return 0, errors.Errorf("sha256 mismatch for %s", desc.Name)
		}
	}
	if err := os.Rename(part, final); err != nil {
		removePartial(part)
		return 0, errors.Wrap(err, "could not finalize download")
	}
	log.WithFields(logrus.Fields{
		"file": desc.Name,
		"pv":   desc.PV,
		"size": humanize.Bytes(uint64(n)),
	}).Info("Child file received")
	return n, nil
}

func removePartial(part string) {
	if err := os.Remove(part); err != nil && !os.IsNotExist(err) {
		log.WithError(err).WithField("file", part).Warn("Could not remove partial download")
	}
}

// LastRun returns the most recent pull summary and whether a cycle is in
// flight.
func (s *Service) LastRun() (*RunResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.running
}

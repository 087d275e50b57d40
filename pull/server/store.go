package server

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/netunna/splitter/io/file"
	"github.com/netunna/splitter/splitter/layout"
)

var (
	// ErrUnknownLease is returned when a confirm names a lease id the store
	// never granted.
	ErrUnknownLease = errors.New("unknown lease")
	// ErrLeaseConflict is returned when a closed lease is replayed with a
	// different outcome.
	ErrLeaseConflict = errors.New("conflicting confirm outcome")
)

// FileStatus is the delivery state of one child file.
type FileStatus string

// FileStatus values. Downloaded is terminal; failed may be re-leased by an
// operator retry.
const (
	StatusPending    FileStatus = "pending"
	StatusLeased     FileStatus = "leased"
	StatusDownloaded FileStatus = "downloaded"
	StatusFailed     FileStatus = "failed"
)

// FileState tracks one child file through the pull protocol.
type FileState struct {
	ID           string     `json:"id"`
	PV           string     `json:"pv"`
	Name         string     `json:"name"`
	Lote         string     `json:"lote"`
	Path         string     `json:"path"`
	Size         int64      `json:"size"`
	SHA256       string     `json:"sha256"`
	Status       FileStatus `json:"status"`
	LeaseID      string     `json:"lease_id,omitempty"`
	Deadline     time.Time  `json:"deadline,omitempty"`
	RegisteredAt time.Time  `json:"registered_at"`
}

// LeaseStatus is the lifecycle state of a lease.
type LeaseStatus string

// Lease lifecycle. Closed and expired are terminal.
const (
	LeaseOpen    LeaseStatus = "open"
	LeaseClosed  LeaseStatus = "closed"
	LeaseExpired LeaseStatus = "expired"
)

// Lease is a time-bounded reservation of a set of file ids for one agent.
// The confirm outcome is stored on the lease so replays can be answered
// idempotently.
type Lease struct {
	ID        string      `json:"id"`
	FileIDs   []string    `json:"file_ids"`
	Deadline  time.Time   `json:"deadline"`
	Status    LeaseStatus `json:"status"`
	OKIDs     []string    `json:"ok_ids,omitempty"`
	FailIDs   []string    `json:"fail_ids,omitempty"`
	Confirmed int         `json:"confirmed,omitempty"`
	Rejected  int         `json:"rejected,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Store persists file states and leases in a single bbolt database. Every
// mutation runs inside one Update transaction, which serializes lease,
// confirm and sweep per file id.
type Store struct {
	db           *bolt.DB
	databasePath string
}

// NewStore opens (or creates) the pull-state database at the given file path.
func NewStore(path string) (*Store, error) {
	if err := file.MkdirAll(filepath.Dir(path)); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, err
	}
	s := &Store{db: db, databasePath: path}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{filesBucket, leasesBucket, filePathIndexBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DatabasePath at which this store writes its file.
func (s *Store) DatabasePath() string {
	return s.databasePath
}

func putFile(tx *bolt.Tx, fs *FileState) error {
	enc, err := json.Marshal(fs)
	if err != nil {
		return errors.Wrap(err, "could not encode file state")
	}
	if err := tx.Bucket(filesBucket).Put([]byte(fs.ID), enc); err != nil {
		return err
	}
	return tx.Bucket(filePathIndexBucket).Put([]byte(fs.Path), []byte(fs.ID))
}

func getFile(tx *bolt.Tx, id string) (*FileState, error) {
	enc := tx.Bucket(filesBucket).Get([]byte(id))
	if enc == nil {
		return nil, nil
	}
	fs := &FileState{}
	if err := json.Unmarshal(enc, fs); err != nil {
		return nil, errors.Wrap(err, "could not decode file state")
	}
	return fs, nil
}

func putLease(tx *bolt.Tx, l *Lease) error {
	enc, err := json.Marshal(l)
	if err != nil {
		return errors.Wrap(err, "could not encode lease")
	}
	return tx.Bucket(leasesBucket).Put([]byte(l.ID), enc)
}

func getLease(tx *bolt.Tx, id string) (*Lease, error) {
	enc := tx.Bucket(leasesBucket).Get([]byte(id))
	if enc == nil {
		return nil, nil
	}
	l := &Lease{}
	if err := json.Unmarshal(enc, l); err != nil {
		return nil, errors.Wrap(err, "could not decode lease")
	}
	return l, nil
}

// RegisterFile records a child file, computing its size and sha256. A path
// already known keeps its id; a changed hash resets the state to pending so
// the new content ships again. Returns true when the state changed.
func (s *Store) RegisterFile(path, pv, lote string) (bool, error) {
	size, err := file.Size(path)
	if err != nil {
		return false, errors.Wrapf(err, "could not stat %s", path)
	}
	hash, err := file.HashFile(path)
	if err != nil {
		return false, errors.Wrapf(err, "could not hash %s", path)
	}

	changed := false
	err = s.db.Update(func(tx *bolt.Tx) error {
		if idRaw := tx.Bucket(filePathIndexBucket).Get([]byte(path)); idRaw != nil {
			fs, err := getFile(tx, string(idRaw))
			if err != nil {
				return err
			}
			if fs != nil {
				if fs.SHA256 == hash && fs.Size == size {
					return nil
				}
				// Content was regenerated; never steal a file out of an
				// active lease mid-flight.
				if fs.Status == StatusLeased {
					return nil
				}
				fs.SHA256 = hash
				fs.Size = size
				fs.Status = StatusPending
				fs.LeaseID = ""
				fs.Deadline = time.Time{}
				changed = true
				return putFile(tx, fs)
			}
		}
		fs := &FileState{
			ID:           uuid.NewString(),
			PV:           pv,
			Name:         filepath.Base(path),
			Lote:         lote,
			Path:         path,
			Size:         size,
			SHA256:       hash,
			Status:       StatusPending,
			RegisteredAt: time.Now().UTC(),
		}
		changed = true
		return putFile(tx, fs)
	})
	return changed, err
}

// RegisterOutputs walks `<root>/NSA_*/` and registers every child file found.
// Returns how many states were created or refreshed.
func (s *Store) RegisterOutputs(root string) (int, error) {
	exists, err := file.HasDir(root)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	lotes, err := os.ReadDir(root)
	if err != nil {
		return 0, errors.Wrap(err, "could not list output root")
	}
	registered := 0
	for _, lote := range lotes {
		if !lote.IsDir() || !strings.HasPrefix(lote.Name(), "NSA_") {
			continue
		}
		dir := filepath.Join(root, lote.Name())
		children, err := os.ReadDir(dir)
		if err != nil {
			return registered, errors.Wrapf(err, "could not list %s", dir)
		}
		for _, child := range children {
			if child.IsDir() {
				continue
			}
			if _, err := layout.KindFromFilename(child.Name()); err != nil {
				continue
			}
			changed, err := s.RegisterFile(filepath.Join(dir, child.Name()), pvFromChildName(child.Name()), lote.Name())
			if err != nil {
				return registered, err
			}
			if changed {
				registered++
			}
		}
	}
	return registered, nil
}

// pvFromChildName extracts the PV prefix of `<PV>_<DDMMAA>_<NSA>_<KIND>.txt`.
func pvFromChildName(name string) string {
	if i := strings.IndexByte(name, '_'); i > 0 {
		return name[:i]
	}
	return name
}

// Lease atomically selects up to limit leasable files, stable-ordered by
// (pv, name), and reserves them under a fresh lease. Files whose previous
// lease deadline has already passed are leasable again; their old lease is
// marked expired in the same transaction.
func (s *Store) Lease(limit int, lotes []string, ttl time.Duration) (*Lease, []*FileState, error) {
	if limit <= 0 {
		return nil, nil, errors.New("lease limit must be positive")
	}
	if ttl <= 0 {
		return nil, nil, errors.New("lease ttl must be positive")
	}
	now := time.Now().UTC()
	lease := &Lease{
		ID:        uuid.NewString(),
		Deadline:  now.Add(ttl),
		Status:    LeaseOpen,
		CreatedAt: now,
	}
	var leased []*FileState

	err := s.db.Update(func(tx *bolt.Tx) error {
		candidates, err := leasableFiles(tx, lotes, now)
		if err != nil {
			return err
		}
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		for _, fs := range candidates {
			if fs.Status == StatusLeased {
				if err := expireLease(tx, fs.LeaseID); err != nil {
					return err
				}
			}
			fs.Status = StatusLeased
			fs.LeaseID = lease.ID
			fs.Deadline = lease.Deadline
			if err := putFile(tx, fs); err != nil {
				return err
			}
			lease.FileIDs = append(lease.FileIDs, fs.ID)
			leased = append(leased, fs)
		}
		return putLease(tx, lease)
	})
	if err != nil {
		return nil, nil, err
	}
	leasesGrantedTotal.Inc()
	filesLeasedTotal.Add(float64(len(leased)))
	return lease, leased, nil
}

func leasableFiles(tx *bolt.Tx, lotes []string, now time.Time) ([]*FileState, error) {
	var out []*FileState
	err := tx.Bucket(filesBucket).ForEach(func(_, enc []byte) error {
		fs := &FileState{}
		if err := json.Unmarshal(enc, fs); err != nil {
			return errors.Wrap(err, "could not decode file state")
		}
		leasable := fs.Status == StatusPending ||
			(fs.Status == StatusLeased && now.After(fs.Deadline))
		if !leasable || !loteMatches(fs.Lote, lotes) {
			return nil
		}
		out = append(out, fs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PV != out[j].PV {
			return out[i].PV < out[j].PV
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func loteMatches(lote string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f != "" && strings.HasPrefix(lote, f) {
			return true
		}
	}
	return false
}

func expireLease(tx *bolt.Tx, leaseID string) error {
	if leaseID == "" {
		return nil
	}
	l, err := getLease(tx, leaseID)
	if err != nil || l == nil {
		return err
	}
	if l.Status == LeaseOpen {
		l.Status = LeaseExpired
		return putLease(tx, l)
	}
	return nil
}

// Confirm applies a lease outcome: ok ids become downloaded, fail ids become
// failed, ids outside the lease are counted as rejected. Replaying a closed
// lease with the same outcome returns the original counts; a conflicting
// replay returns ErrLeaseConflict.
func (s *Store) Confirm(leaseID string, okIDs, failIDs []string) (confirmed, rejected int, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		lease, err := getLease(tx, leaseID)
		if err != nil {
			return err
		}
		if lease == nil {
			return errors.Wrap(ErrUnknownLease, leaseID)
		}
		if lease.Status == LeaseClosed {
			if sameIDs(lease.OKIDs, okIDs) && sameIDs(lease.FailIDs, failIDs) {
				confirmed, rejected = lease.Confirmed, lease.Rejected
				return nil
			}
			return errors.Wrap(ErrLeaseConflict, leaseID)
		}

		owned := make(map[string]bool, len(lease.FileIDs))
		for _, id := range lease.FileIDs {
			owned[id] = true
		}
		apply := func(ids []string, to FileStatus) error {
			for _, id := range ids {
				fs, err := getFile(tx, id)
				if err != nil {
					return err
				}
				if fs == nil || !owned[id] || fs.LeaseID != leaseID {
					rejected++
					continue
				}
				fs.Status = to
				fs.LeaseID = ""
				fs.Deadline = time.Time{}
				if err := putFile(tx, fs); err != nil {
					return err
				}
				confirmed++
			}
			return nil
		}
		if err := apply(okIDs, StatusDownloaded); err != nil {
			return err
		}
		if err := apply(failIDs, StatusFailed); err != nil {
			return err
		}

		lease.Status = LeaseClosed
		lease.OKIDs = append([]string(nil), okIDs...)
		lease.FailIDs = append([]string(nil), failIDs...)
		lease.Confirmed = confirmed
		lease.Rejected = rejected
		return putLease(tx, lease)
	})
	if err != nil {
		return 0, 0, err
	}
	filesConfirmedTotal.WithLabelValues("ok").Add(float64(len(okIDs)))
	filesConfirmedTotal.WithLabelValues("failed").Add(float64(len(failIDs)))
	return confirmed, rejected, nil
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// SweepExpired releases leased files whose deadline has passed, returning
// them to pending, and marks their leases expired. Returns how many files
// were released.
func (s *Store) SweepExpired(now time.Time) (int, error) {
	released := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		var expired []*FileState
		err := tx.Bucket(filesBucket).ForEach(func(_, enc []byte) error {
			fs := &FileState{}
			if err := json.Unmarshal(enc, fs); err != nil {
				return errors.Wrap(err, "could not decode file state")
			}
			if fs.Status == StatusLeased && now.After(fs.Deadline) {
				expired = append(expired, fs)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, fs := range expired {
			if err := expireLease(tx, fs.LeaseID); err != nil {
				return err
			}
			fs.Status = StatusPending
			fs.LeaseID = ""
			fs.Deadline = time.Time{}
			if err := putFile(tx, fs); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if released > 0 {
		leaseExpiredTotal.Add(float64(released))
		log.WithField("released", released).Info("Expired leases swept")
	}
	return released, nil
}

// File loads one file state by id, nil when unknown.
func (s *Store) File(id string) (*FileState, error) {
	var fs *FileState
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		fs, err = getFile(tx, id)
		return err
	})
	return fs, err
}

// Files lists file states, optionally filtered by status, stable-ordered by
// (pv, name).
func (s *Store) Files(status FileStatus) ([]*FileState, error) {
	var out []*FileState
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(filesBucket).ForEach(func(_, enc []byte) error {
			fs := &FileState{}
			if err := json.Unmarshal(enc, fs); err != nil {
				return errors.Wrap(err, "could not decode file state")
			}
			if status != "" && fs.Status != status {
				return nil
			}
			out = append(out, fs)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PV != out[j].PV {
			return out[i].PV < out[j].PV
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// LeaseByID loads one lease, nil when unknown.
func (s *Store) LeaseByID(id string) (*Lease, error) {
	var l *Lease
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		l, err = getLease(tx, id)
		return err
	})
	return l, err
}

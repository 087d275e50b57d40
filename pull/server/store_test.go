package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/netunna/splitter/testing/assert"
	"github.com/netunna/splitter/testing/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "splitter.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func writeOutput(t *testing.T, root, lote, name, content string) string {
	t.Helper()
	dir := filepath.Join(root, lote)
	require.NoError(t, os.MkdirAll(dir, 0700))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func seedOutputs(t *testing.T, s *Store) string {
	t.Helper()
	root := t.TempDir()
	writeOutput(t, root, "NSA_041", "020770677_051025_041_EEVC.txt", "child A\n")
	writeOutput(t, root, "NSA_041", "020770678_051025_041_EEVC.txt", "child B\n")
	writeOutput(t, root, "NSA_042", "020770679_061025_042_EEFI.txt", "child C\n")
	// Not a child file, must be ignored.
	writeOutput(t, root, "NSA_042", "notes.log", "noise\n")
	n, err := s.RegisterOutputs(root)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	return root
}

func TestStore_RegisterOutputs(t *testing.T) {
	s := newTestStore(t)
	root := seedOutputs(t, s)

	files, err := s.Files(StatusPending)
	require.NoError(t, err)
	require.Equal(t, 3, len(files))
	// Stable (pv, name) ordering.
	assert.Equal(t, "020770677", files[0].PV)
	assert.Equal(t, "020770678", files[1].PV)
	assert.Equal(t, "020770679", files[2].PV)
	assert.Equal(t, "NSA_041", files[0].Lote)
	assert.Equal(t, int64(8), files[0].Size)
	assert.NotEqual(t, "", files[0].SHA256)

	// A second scan finds nothing new.
	n, err := s.RegisterOutputs(root)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStore_RegisterFile_ContentChangeResetsState(t *testing.T) {
	s := newTestStore(t)
	root := t.TempDir()
	path := writeOutput(t, root, "NSA_041", "020770677_051025_041_EEVC.txt", "v1\n")

	changed, err := s.RegisterFile(path, "020770677", "NSA_041")
	require.NoError(t, err)
	require.Equal(t, true, changed)

	lease, files, err := s.Lease(10, nil, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, len(files))
	_, _, err = s.Confirm(lease.ID, []string{files[0].ID}, nil)
	require.NoError(t, err)

	// Regenerated content sends the file back to pending under the same id.
	require.NoError(t, os.WriteFile(path, []byte("v2\n"), 0600))
	changed, err = s.RegisterFile(path, "020770677", "NSA_041")
	require.NoError(t, err)
	require.Equal(t, true, changed)

	pending, err := s.Files(StatusPending)
	require.NoError(t, err)
	require.Equal(t, 1, len(pending))
	assert.Equal(t, files[0].ID, pending[0].ID)
}

func TestStore_LeaseLimitAndOrder(t *testing.T) {
	s := newTestStore(t)
	seedOutputs(t, s)

	lease, files, err := s.Lease(2, nil, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, len(files))
	assert.Equal(t, "020770677", files[0].PV)
	assert.Equal(t, "020770678", files[1].PV)
	assert.Equal(t, 2, len(lease.FileIDs))

	// The remaining file is still leasable; the first two are not.
	_, rest, err := s.Lease(10, nil, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, len(rest))
	assert.Equal(t, "020770679", rest[0].PV)
}

func TestStore_LeaseLoteFilter(t *testing.T) {
	s := newTestStore(t)
	seedOutputs(t, s)

	_, files, err := s.Lease(10, []string{"NSA_042"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, len(files))
	assert.Equal(t, "NSA_042", files[0].Lote)
}

func TestStore_ConfirmTransitions(t *testing.T) {
	s := newTestStore(t)
	seedOutputs(t, s)

	lease, files, err := s.Lease(10, nil, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 3, len(files))

	confirmed, rejected, err := s.Confirm(lease.ID,
		[]string{files[0].ID, files[1].ID},
		[]string{files[2].ID},
	)
	require.NoError(t, err)
	assert.Equal(t, 3, confirmed)
	assert.Equal(t, 0, rejected)

	downloaded, err := s.Files(StatusDownloaded)
	require.NoError(t, err)
	assert.Equal(t, 2, len(downloaded))
	failed, err := s.Files(StatusFailed)
	require.NoError(t, err)
	require.Equal(t, 1, len(failed))
	assert.Equal(t, "", failed[0].LeaseID)

	// Downloaded is terminal: nothing left to lease.
	_, none, err := s.Lease(10, []string{"NSA_041"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, len(none))
}

func TestStore_ConfirmIdempotence(t *testing.T) {
	s := newTestStore(t)
	seedOutputs(t, s)

	lease, files, err := s.Lease(10, nil, time.Minute)
	require.NoError(t, err)
	ok := []string{files[0].ID, files[1].ID, files[2].ID}

	confirmed, rejected, err := s.Confirm(lease.ID, ok, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, confirmed)

	// Same outcome replayed returns the original counts.
	confirmed, rejected, err = s.Confirm(lease.ID, ok, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, confirmed)
	assert.Equal(t, 0, rejected)

	// A conflicting outcome is rejected.
	_, _, err = s.Confirm(lease.ID, ok[:2], []string{ok[2]})
	require.ErrorContains(t, "conflicting confirm outcome", err)
}

func TestStore_ConfirmUnknownLease(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Confirm("no-such-lease", nil, nil)
	require.ErrorContains(t, "unknown lease", err)
}

func TestStore_ConfirmForeignIDsRejected(t *testing.T) {
	s := newTestStore(t)
	seedOutputs(t, s)

	lease, files, err := s.Lease(1, nil, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, len(files))

	confirmed, rejected, err := s.Confirm(lease.ID, []string{files[0].ID, "stranger"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, 1, rejected)
}

func TestStore_SweepExpired(t *testing.T) {
	s := newTestStore(t)
	seedOutputs(t, s)

	lease, files, err := s.Lease(10, nil, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 3, len(files))

	// Nothing expires before the deadline.
	released, err := s.SweepExpired(time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0, released)

	released, err = s.SweepExpired(time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 3, released)

	l, err := s.LeaseByID(lease.ID)
	require.NoError(t, err)
	assert.Equal(t, LeaseExpired, l.Status)

	// Released files are leasable again.
	_, again, err := s.Lease(10, nil, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, len(again))
}

func TestStore_LeaseTakesOverExpiredLease(t *testing.T) {
	s := newTestStore(t)
	root := t.TempDir()
	path := writeOutput(t, root, "NSA_041", "020770677_051025_041_EEVC.txt", "child\n")
	_, err := s.RegisterFile(path, "020770677", "NSA_041")
	require.NoError(t, err)

	stale, files, err := s.Lease(1, nil, time.Nanosecond)
	require.NoError(t, err)
	require.Equal(t, 1, len(files))
	time.Sleep(5 * time.Millisecond)

	// Without an intervening sweep, a new lease may claim the expired
	// reservation; the stale lease is marked expired in the same transaction.
	fresh, files, err := s.Lease(1, nil, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, len(files))
	assert.NotEqual(t, stale.ID, fresh.ID)

	l, err := s.LeaseByID(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, LeaseExpired, l.Status)

	// Confirming against the stale lease no longer touches the file.
	confirmed, rejected, err := s.Confirm(stale.ID, []string{files[0].ID}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, confirmed)
	assert.Equal(t, 1, rejected)
}

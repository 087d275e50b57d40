package agent

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/netunna/splitter/config"
	"github.com/netunna/splitter/testing/assert"
	"github.com/netunna/splitter/testing/require"
)

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestPullOnce_ZipMode(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"020770677/020770677_051025_041_EEVC.txt": "child A\n",
		"020770678/020770678_051025_041_EEVC.txt": "child B\n",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	a, err := NewService(context.Background(), &config.Agent{
		DownloadMode: config.ModeZip,
		ZipURL:       srv.URL + "/download",
		BaseDir:      t.TempDir(),
		LeaseTTL:     time.Minute,
	})
	require.NoError(t, err)

	res, err := a.PullOnce(context.Background(), PullOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Downloaded)
	assert.Equal(t, int64(len(payload)), res.Bytes)

	got, err := os.ReadFile(filepath.Join(a.receivedDir(), "020770677", "020770677_051025_041_EEVC.txt"))
	require.NoError(t, err)
	assert.Equal(t, "child A\n", string(got))
}

func TestPullOnce_ZipModeRequiresURL(t *testing.T) {
	a, err := NewService(context.Background(), &config.Agent{
		DownloadMode: config.ModeZip,
		BaseDir:      t.TempDir(),
	})
	require.NoError(t, err)
	_, err = a.PullOnce(context.Background(), PullOptions{})
	require.ErrorContains(t, "SPLITTER_API_DOWNLOAD", err)
}

func TestExtractZip_SkipsEscapingEntries(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"../evil.txt":  "nope",
		"ok/child.txt": "fine",
	})
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "batch.zip")
	require.NoError(t, os.WriteFile(zipPath, payload, 0600))

	dest := filepath.Join(dir, "out")
	extracted, err := extractZip(zipPath, dest)
	require.NoError(t, err)
	assert.Equal(t, 1, extracted)

	_, err = os.Stat(filepath.Join(dir, "evil.txt"))
	assert.Equal(t, true, os.IsNotExist(err))
	got, err := os.ReadFile(filepath.Join(dest, "ok", "child.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fine", string(got))
}

func TestSafeJoin(t *testing.T) {
	if _, err := safeJoin("/root/out", "../escape"); err == nil {
		t.Error("expected traversal to be rejected")
	}
	if _, err := safeJoin("/root/out", "/abs/path"); err == nil {
		t.Error("expected absolute path to be rejected")
	}
	got, err := safeJoin("/root/out", "pv/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/root/out", "pv", "file.txt"), got)
}

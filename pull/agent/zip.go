package agent

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/netunna/splitter/io/file"
)

// runZip is the legacy download mode: fetch one consolidated zip and extract
// it under the received directory. There is no lease and no confirm; the zip
// endpoint is expected to serve everything currently available.
func (s *Service) runZip(ctx context.Context, res *RunResult) error {
	if s.cfg.ZipURL == "" {
		return errors.New("SPLITTER_API_DOWNLOAD is required in zip mode")
	}
	tmp, err := os.CreateTemp("", "splitter-*.zip")
	if err != nil {
		return errors.Wrap(err, "could not create temporary zip file")
	}
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil {
			log.WithError(err).Debug("Could not remove temporary zip")
		}
	}()

	n, err := s.client.FetchZip(ctx, s.cfg.ZipURL, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	res.Bytes = n

	extracted, err := extractZip(tmp.Name(), s.receivedDir())
	if err != nil {
		return err
	}
	res.Leased = extracted
	res.Downloaded = extracted
	return nil
}

// extractZip unpacks every regular entry under destRoot, refusing paths that
// escape it.
func extractZip(zipPath, destRoot string) (int, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, errors.Wrap(err, "could not open zip archive")
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.WithError(err).Debug("Could not close zip archive")
		}
	}()

	extracted := 0
	for _, entry := range r.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		dest, err := safeJoin(destRoot, entry.Name)
		if err != nil {
			log.WithError(err).WithField("entry", entry.Name).Warn("Skipping zip entry")
			continue
		}
		if err := file.MkdirAll(filepath.Dir(dest)); err != nil {
			return extracted, err
		}
		if err := extractEntry(entry, dest); err != nil {
			return extracted, err
		}
		extracted++
	}
	return extracted, nil
}

func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", errors.Errorf("zip entry %q escapes the destination", name)
	}
	return filepath.Join(root, cleaned), nil
}

func extractEntry(entry *zip.File, dest string) error {
	src, err := entry.Open()
	if err != nil {
		return errors.Wrapf(err, "could not open zip entry %s", entry.Name)
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.WithError(err).Debug("Could not close zip entry")
		}
	}()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return errors.Wrapf(err, "could not create %s", dest)
	}
	_, copyErr := io.Copy(out, src)
	if closeErr := out.Close(); copyErr == nil {
		copyErr = closeErr
	}
	return errors.Wrapf(copyErr, "could not extract %s", entry.Name)
}

package server

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/netunna/splitter/io/file"
	"github.com/netunna/splitter/splitter/layout"
)

// watchOutputs registers children as they appear under the output root. The
// splitter writes children atomically (temp file + rename), so a create event
// always carries complete content. New NSA directories are added to the watch
// as they show up.
func (s *Service) watchOutputs() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Error("Could not start output watcher")
		return
	}
	defer func() {
		if err := w.Close(); err != nil {
			log.WithError(err).Debug("Could not close output watcher")
		}
	}()

	if err := w.Add(s.cfg.OutputRoot); err != nil {
		log.WithError(err).WithField("dir", s.cfg.OutputRoot).Error("Could not watch output root")
		return
	}
	entries, err := os.ReadDir(s.cfg.OutputRoot)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() && strings.HasPrefix(entry.Name(), "NSA_") {
				if err := w.Add(filepath.Join(s.cfg.OutputRoot, entry.Name())); err != nil {
					log.WithError(err).WithField("dir", entry.Name()).Warn("Could not watch lote directory")
				}
			}
		}
	}
	log.WithField("root", s.cfg.OutputRoot).Info("Watching output root")

	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			s.handleOutputEvent(w, event.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("Output watcher error")
		}
	}
}

func (s *Service) handleOutputEvent(w *fsnotify.Watcher, path string) {
	if isDir, err := file.HasDir(path); err == nil && isDir {
		if strings.HasPrefix(filepath.Base(path), "NSA_") {
			if err := w.Add(path); err != nil {
				log.WithError(err).WithField("dir", path).Warn("Could not watch new lote directory")
			}
		}
		return
	}
	name := filepath.Base(path)
	if _, err := layout.KindFromFilename(name); err != nil {
		return
	}
	lote := filepath.Base(filepath.Dir(path))
	if !strings.HasPrefix(lote, "NSA_") {
		return
	}
	changed, err := s.store.RegisterFile(path, pvFromChildName(name), lote)
	if err != nil {
		log.WithError(err).WithField("file", name).Warn("Could not register new child file")
		return
	}
	if changed {
		log.WithField("file", name).WithField("lote", lote).Info("New child file registered")
		s.updatePendingGauge()
	}
}

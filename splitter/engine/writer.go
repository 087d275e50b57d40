package engine

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/netunna/splitter/io/file"
	"github.com/netunna/splitter/splitter/layout"
)

// childName builds `<PV>_<DDMMAA>_<NSA>_<KIND>.txt`.
func childName(pv string, meta motherMeta, kind layout.FileKind) string {
	return fmt.Sprintf("%s_%s_%s_%s.txt", pv, meta.date, meta.nsa, kind)
}

// outputDir resolves and creates `<output_root>/NSA_<nsa>/`.
func (e *Engine) outputDir(meta motherMeta) (string, error) {
	dir := filepath.Join(e.cfg.OutputRoot, "NSA_"+meta.nsa)
	if err := file.MkdirAll(dir); err != nil {
		return "", errors.Wrap(err, "could not create output directory")
	}
	return dir, nil
}

// writeChild persists one child file atomically with LF terminators. Child
// bytes are emitted exactly as routed, so the source encoding (latin-1 for
// EEVC, UTF-8 elsewhere) is preserved without transcoding.
func (e *Engine) writeChild(dir, name string, lines []string) (string, error) {
	path := filepath.Join(dir, name)
	data := strings.Join(lines, "\n") + "\n"
	if err := file.WriteFileAtomic(path, []byte(data)); err != nil {
		return "", errors.Wrapf(err, "could not write child %s", name)
	}
	log.WithFields(logrus.Fields{
		"child": name,
		"dir":   dir,
		"lines": len(lines),
	}).Info("Child file written")
	return path, nil
}

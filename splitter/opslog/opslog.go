// Package opslog appends one line per processed mother file to the
// semicolon-separated operation log read by the back office.
package opslog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "opslog")

var header = []string{"data_hora", "arquivo", "tipo", "total_trailer", "total_processado", "status", "detalhe"}

// Entry is one operation-log line.
type Entry struct {
	Time           time.Time
	File           string
	Kind           string
	TotalTrailer   int64
	TotalProcessed int64
	Status         string
	Detail         string
}

// Statuses recorded in the log.
const (
	StatusOK         = "OK"
	StatusDivergence = "DIVERGENCIA"
	StatusError      = "ERRO"
)

// Logger appends entries to a single CSV file. Appends are serialized so
// parallel mother-file workers can share one logger.
type Logger struct {
	mu   sync.Mutex
	path string
}

// New creates the log directory eagerly so the first append cannot fail on a
// missing parent.
func New(path string) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errors.Wrap(err, "could not create operation log directory")
		}
	}
	return &Logger{path: path}, nil
}

// Append writes one entry, creating the file with its header on first use.
func (l *Logger) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, statErr := os.Stat(l.path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return errors.Wrap(err, "could not open operation log")
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Error("Could not close operation log")
		}
	}()

	w := csv.NewWriter(f)
	w.Comma = ';'
	if fresh {
		if err := w.Write(header); err != nil {
			return errors.Wrap(err, "could not write operation log header")
		}
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	row := []string{
		e.Time.Format("2006-01-02 15:04:05"),
		e.File,
		e.Kind,
		formatCents(e.TotalTrailer),
		formatCents(e.TotalProcessed),
		e.Status,
		e.Detail,
	}
	if err := w.Write(row); err != nil {
		return errors.Wrap(err, "could not write operation log entry")
	}
	w.Flush()
	return errors.Wrap(w.Error(), "could not flush operation log")
}

// formatCents renders integer cents as a decimal value with two places, the
// format the back-office spreadsheet imports.
func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

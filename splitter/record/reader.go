package record

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/netunna/splitter/splitter/layout"
)

// maxLineBytes bounds a single record line. The widest REDE record is 400
// bytes; the margin tolerates padded exports.
const maxLineBytes = 64 * 1024

// Reader streams classified records from a mother file in source order.
type Reader struct {
	kind    layout.FileKind
	scanner *bufio.Scanner
	line    int
	first   bool
}

// NewReader wraps r for the given kind. The first record returned must be the
// kind's header or Next fails with ErrMalformedHeader.
func NewReader(r io.Reader, kind layout.FileKind) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	return &Reader{kind: kind, scanner: sc, first: true}
}

// Next returns the next non-blank record, or io.EOF when the input is
// exhausted. Line terminators are stripped; all other bytes are preserved.
func (r *Reader) Next() (*Record, error) {
	for r.scanner.Scan() {
		r.line++
		raw := strings.TrimRight(r.scanner.Text(), "\r\n")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		rec := &Record{
			Kind: r.kind,
			Type: Classify(r.kind, raw),
			Raw:  raw,
			Line: r.line,
		}
		if r.kind.Delimited() {
			parts := strings.Split(raw, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			rec.fields = parts
		}
		if r.first {
			r.first = false
			if rec.Type != HeaderType(r.kind) {
				return nil, errors.Wrapf(ErrMalformedHeader, "%s file opens with record type %q, want %q",
					r.kind, rec.Type, HeaderType(r.kind))
			}
		}
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// ReadAll drains the reader into a slice, preserving source order.
func ReadAll(r io.Reader, kind layout.FileKind) ([]*Record, error) {
	rd := NewReader(r, kind)
	var out []*Record
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(ErrMalformedHeader, "%s file is empty", kind)
	}
	return out, nil
}

// ReadFile loads and classifies a mother file from disk.
func ReadFile(path string, kind layout.FileKind) ([]*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).WithField("path", path).Error("Could not close mother file")
		}
	}()
	return ReadAll(f, kind)
}

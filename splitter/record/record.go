// Package record streams and classifies lines of a REDE settlement file.
// Lines are kept byte-for-byte as read; positional slicing always happens on
// the raw bytes so that children reproduce the mother's records exactly.
package record

import (
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/charmap"

	"github.com/netunna/splitter/splitter/layout"
)

var (
	// ErrMalformedHeader is returned when the first record of a mother file
	// is not the kind's header type.
	ErrMalformedHeader = errors.New("malformed header record")
	// ErrTruncatedLine is returned when a field slice exceeds the line length.
	ErrTruncatedLine = errors.New("record line truncated")
	// ErrUnknownType marks a record whose type code is not referenced by the
	// kind's layout while inside a PV bucket.
	ErrUnknownType = errors.New("unknown record type")
	// ErrMissingMotherTrailer is returned when the mother file carries no
	// trailer record to reconcile against.
	ErrMissingMotherTrailer = errors.New("missing mother trailer")
)

// Record is one classified line of a mother or child file.
type Record struct {
	Kind layout.FileKind
	Type string
	Raw  string
	Line int

	fields []string
}

// Fields returns the comma-separated fields of a delimited record. For
// fixed-width kinds it returns nil.
func (r *Record) Fields() []string {
	return r.fields
}

// FieldAt returns the trimmed delimited field at index i, or empty when the
// record is shorter. Acquirer files routinely omit trailing fields.
func (r *Record) FieldAt(i int) string {
	if i < 0 || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

// Slice extracts a positional field from the raw line.
func (r *Record) Slice(f layout.Field) (string, error) {
	if len(r.Raw) < f.End {
		return "", errors.Wrapf(ErrTruncatedLine, "line %d: %s field %s wants [%d,%d), line has %d bytes",
			r.Line, r.Type, f.Name, f.Start, f.End, len(r.Raw))
	}
	return r.Raw[f.Start:f.End], nil
}

// SliceTrimmed extracts a positional field with surrounding spaces removed.
func (r *Record) SliceTrimmed(f layout.Field) (string, error) {
	s, err := r.Slice(f)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// Cents extracts a money field as integer cents.
func (r *Record) Cents(f layout.Field) (int64, error) {
	s, err := r.Slice(f)
	if err != nil {
		return 0, err
	}
	return layout.ParseCents(s), nil
}

// CentsAt extracts a delimited money field as integer cents.
func (r *Record) CentsAt(i int) int64 {
	return layout.ParseCents(r.FieldAt(i))
}

// Text returns a printable form of the raw line: latin-1 transcoded for EEVC,
// lossy UTF-8 replacement elsewhere. Used for log output only.
func (r *Record) Text() string {
	if r.Kind == layout.EEVC {
		if decoded, err := charmap.ISO8859_1.NewDecoder().String(r.Raw); err == nil {
			return decoded
		}
	}
	if utf8.ValidString(r.Raw) {
		return r.Raw
	}
	return strings.ToValidUTF8(r.Raw, string(utf8.RuneError))
}

// Classify derives the type code of a raw line for the given kind: the first
// comma-separated field for EEVD, the leading three characters otherwise.
func Classify(kind layout.FileKind, raw string) string {
	if kind.Delimited() {
		if i := strings.IndexByte(raw, ','); i >= 0 {
			return strings.TrimSpace(raw[:i])
		}
		return strings.TrimSpace(raw)
	}
	if len(raw) < 3 {
		return raw
	}
	return raw[:3]
}

// HeaderType returns the record type a kind's mother file must open with.
func HeaderType(kind layout.FileKind) string {
	switch kind {
	case layout.EEVC:
		return layout.EEVCHeader
	case layout.EEVD:
		return layout.EEVDHeader
	case layout.EEFI:
		return layout.EEFIHeader
	}
	return ""
}

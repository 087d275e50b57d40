// Package layout holds the frozen positional maps for the REDE settlement
// file kinds (EEVC, EEVD, EEFI). Positions come from the acquirer's record
// manuals and are 0-based, end-exclusive.
package layout

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FileKind identifies one of the supported mother-file layouts. It is chosen
// once at entry and carried through every component.
type FileKind int

const (
	// EEVC is the credit sales extract (fixed width, latin-1).
	EEVC FileKind = iota
	// EEVD is the debit sales extract (comma delimited).
	EEVD
	// EEFI is the financial extract (fixed width, two sub-layouts).
	EEFI
)

// ErrUnknownKind is returned when a file name matches none of the kinds.
var ErrUnknownKind = errors.New("unknown settlement file kind")

// String implements fmt.Stringer.
func (k FileKind) String() string {
	switch k {
	case EEVC:
		return "EEVC"
	case EEVD:
		return "EEVD"
	case EEFI:
		return "EEFI"
	}
	return "UNKNOWN"
}

// Delimited reports whether records of this kind are comma separated rather
// than positionally sliced.
func (k FileKind) Delimited() bool {
	return k == EEVD
}

// KindFromFilename resolves the file kind from the mother-file name, accepting
// both the full kind token and the short _VC_/_VD_/_FI_ markers used by some
// acquirer deliveries.
func KindFromFilename(name string) (FileKind, error) {
	upper := strings.ToUpper(name)
	switch {
	case strings.Contains(upper, "EEVC") || strings.Contains(upper, "_VC_"):
		return EEVC, nil
	case strings.Contains(upper, "EEVD") || strings.Contains(upper, "_VD_"):
		return EEVD, nil
	case strings.Contains(upper, "EEFI") || strings.Contains(upper, "_FI_"):
		return EEFI, nil
	}
	return 0, errors.Wrap(ErrUnknownKind, name)
}

// FieldKind describes how a field's bytes are interpreted.
type FieldKind int

const (
	// Alphanumeric fields are taken as-is (trailing spaces trimmed on read).
	Alphanumeric FieldKind = iota
	// Numeric fields are unsigned integers, zero padded on write.
	Numeric
	// Money fields are integer cents, unsigned, zero padded on write.
	Money
)

// Field is one positional slice of a fixed-width record.
type Field struct {
	Name  string
	Start int
	End   int
	Kind  FieldKind
}

// Width returns the number of bytes the field occupies.
func (f Field) Width() int {
	return f.End - f.Start
}

// RecordLayout is the ordered field list for one record type.
type RecordLayout struct {
	Type   string
	Fields []Field

	byName map[string]Field
}

func newRecordLayout(recordType string, fields ...Field) *RecordLayout {
	rl := &RecordLayout{Type: recordType, Fields: fields, byName: make(map[string]Field, len(fields))}
	for _, f := range fields {
		rl.byName[f.Name] = f
	}
	return rl
}

// Field looks up a field descriptor by name.
func (rl *RecordLayout) Field(name string) (Field, bool) {
	f, ok := rl.byName[name]
	return f, ok
}

// Registry is the frozen table for one file kind.
type Registry struct {
	Kind    FileKind
	records map[string]*RecordLayout
}

func newRegistry(kind FileKind, layouts ...*RecordLayout) *Registry {
	r := &Registry{Kind: kind, records: make(map[string]*RecordLayout, len(layouts))}
	for _, rl := range layouts {
		r.records[rl.Type] = rl
	}
	return r
}

// Record returns the layout for a record type code, if registered.
func (r *Registry) Record(recordType string) (*RecordLayout, bool) {
	rl, ok := r.records[recordType]
	return rl, ok
}

// ForKind returns the registry for the given fixed-width kind. EEVD is
// delimited and uses the index tables in eevd.go instead.
func ForKind(kind FileKind) *Registry {
	switch kind {
	case EEVC:
		return eevcRegistry
	case EEFI:
		return eefiRegistry
	}
	return nil
}

// ParseCents extracts the digits of a money field and interprets them as
// integer cents. Non-digit bytes (spaces, separators) are ignored, matching
// the acquirer's 9(15)V99 convention.
func ParseCents(s string) int64 {
	var b strings.Builder
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	v, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// FormatCents renders integer cents zero padded to the given width, unsigned
// and without a decimal point. Debits are written as positive magnitudes in
// their own field.
func FormatCents(cents int64, width int) string {
	if cents < 0 {
		cents = -cents
	}
	return PadNumber(cents, width)
}

// PadNumber renders a non-negative integer right aligned, zero padded. Values
// wider than the field are truncated to their rightmost digits, preserving
// the on-wire width.
func PadNumber(n int64, width int) string {
	s := strconv.FormatInt(n, 10)
	if len(s) >= width {
		return s[len(s)-width:]
	}
	return strings.Repeat("0", width-len(s)) + s
}

// PadPV normalizes a merchant identifier to the canonical 9-digit form.
func PadPV(pv string) string {
	pv = strings.TrimSpace(pv)
	if len(pv) >= 9 {
		return pv
	}
	return strings.Repeat("0", 9-len(pv)) + pv
}

// Overwrite returns line with the field's byte range replaced by s. The
// replacement is clipped to the field width; lines shorter than the field are
// space extended first so header rewrites never truncate.
func Overwrite(line string, f Field, s string) string {
	if len(line) < f.End {
		line += strings.Repeat(" ", f.End-len(line))
	}
	if len(s) > f.Width() {
		s = s[:f.Width()]
	} else if len(s) < f.Width() {
		s += strings.Repeat(" ", f.Width()-len(s))
	}
	return line[:f.Start] + s + line[f.End:]
}

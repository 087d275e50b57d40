package record

import (
	"regexp"

	"github.com/netunna/splitter/splitter/layout"
)

var nineDigitsRe = regexp.MustCompile(`\d{9}`)

// EEFIPV extracts a nine-digit PV from a 040/045 record: the declared range
// first, then the known alternative slices, then the first nine-digit run
// within the leading 60 bytes. Returns empty when nothing resolves.
func EEFIPV(reg *layout.Registry, r *Record) string {
	if rl, ok := reg.Record(r.Type); ok {
		if f, ok := rl.Field("pv"); ok {
			if pv, err := r.SliceTrimmed(f); err == nil && len(pv) == 9 && allDigits(pv) {
				return pv
			}
		}
	}
	for _, f := range layout.EEFIPVFallbacks {
		if pv, err := r.SliceTrimmed(f); err == nil && len(pv) == 9 && allDigits(pv) {
			return pv
		}
	}
	head := r.Raw
	if len(head) > 60 {
		head = head[:60]
	}
	return nineDigitsRe.FindString(head)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}

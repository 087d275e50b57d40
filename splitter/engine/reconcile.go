package engine

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/netunna/splitter/splitter/layout"
)

// Dimension is one reconciled total: the mother trailer's declared value
// against the sum computed from the routed records.
type Dimension struct {
	Name     string
	Expected int64
	Computed int64
}

// Delta returns computed minus expected, in cents.
func (d Dimension) Delta() int64 {
	return d.Computed - d.Expected
}

// OK reports whether the dimension reconciles within the tolerance.
func (d Dimension) OK(tolerance int64) bool {
	delta := d.Delta()
	if delta < 0 {
		delta = -delta
	}
	return delta <= tolerance
}

// Status renders the per-dimension verdict text.
func (d Dimension) Status(tolerance int64) string {
	if d.OK(tolerance) {
		return "OK"
	}
	delta := d.Delta()
	direction := "high"
	if delta < 0 {
		delta = -delta
		direction = "low"
	}
	return fmt.Sprintf("divergence of %d cents (%s)", delta, direction)
}

// Verdict is the reconciliation outcome for one mother file. A divergence is
// never fatal: children are produced regardless.
type Verdict struct {
	Kind       layout.FileKind
	Tolerance  int64
	Dimensions []Dimension
}

// OK reports whether every dimension reconciles.
func (v *Verdict) OK() bool {
	for _, d := range v.Dimensions {
		if !d.OK(v.Tolerance) {
			return false
		}
	}
	return true
}

// TotalExpected sums the declared values across dimensions, for the
// operation log.
func (v *Verdict) TotalExpected() int64 {
	var sum int64
	for _, d := range v.Dimensions {
		sum += d.Expected
	}
	return sum
}

// TotalComputed sums the computed values across dimensions.
func (v *Verdict) TotalComputed() int64 {
	var sum int64
	for _, d := range v.Dimensions {
		sum += d.Computed
	}
	return sum
}

// Detail renders the textual summary surfaced to callers and the operation
// log.
func (v *Verdict) Detail() string {
	parts := make([]string, 0, len(v.Dimensions))
	for _, d := range v.Dimensions {
		parts = append(parts, fmt.Sprintf("%s: %s", d.Name, d.Status(v.Tolerance)))
	}
	return strings.Join(parts, " | ")
}

// reconcile builds a verdict from (name, expected, computed) triples.
func (e *Engine) reconcile(kind layout.FileKind, dims ...Dimension) *Verdict {
	v := &Verdict{Kind: kind, Tolerance: e.cfg.ToleranceCents, Dimensions: dims}
	for _, d := range v.Dimensions {
		if !d.OK(v.Tolerance) {
			log.WithFields(logrus.Fields{
				"kind":      kind.String(),
				"dimension": d.Name,
				"expected":  d.Expected,
				"computed":  d.Computed,
			}).Warn("Reconciliation divergence")
		}
	}
	return v
}

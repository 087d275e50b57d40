// Package integrity re-scans a mother file and the children produced for it
// and compares per-PV record-type counts. It runs independently of the split:
// both sides are counted from the files on disk, so the check also covers
// children written by earlier runs.
package integrity

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/netunna/splitter/splitter/layout"
	"github.com/netunna/splitter/splitter/record"
)

var log = logrus.WithField("prefix", "integrity")

// Row statuses. A child may only legitimately differ on regenerated trailer
// types, which are excluded from counting.
const (
	StatusOK      = "OK"
	StatusMissing = "FALTANTE"
	StatusExtra   = "EXCEDENTE"
)

// Row is one (PV, record type) comparison.
type Row struct {
	PV          string
	Type        string
	MotherCount int
	ChildCount  int
	Status      string
}

// Report is the outcome of one integrity check.
type Report struct {
	Kind layout.FileKind
	Rows []Row
}

// OK reports whether every row reconciled.
func (r *Report) OK() bool {
	for _, row := range r.Rows {
		if row.Status != StatusOK {
			return false
		}
	}
	return true
}

// Divergent returns the rows that did not reconcile.
func (r *Report) Divergent() []Row {
	var out []Row
	for _, row := range r.Rows {
		if row.Status != StatusOK {
			out = append(out, row)
		}
	}
	return out
}

// WriteCSV renders the report in the semicolon-separated operational format.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write([]string{"PV", "Tipo", "Qtd_Mae", "Qtd_Filho", "Status"}); err != nil {
		return errors.Wrap(err, "could not write report header")
	}
	for _, row := range r.Rows {
		rec := []string{row.PV, row.Type, fmt.Sprintf("%d", row.MotherCount), fmt.Sprintf("%d", row.ChildCount), row.Status}
		if err := cw.Write(rec); err != nil {
			return errors.Wrap(err, "could not write report row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "could not flush report")
}

// countedTypes lists the detail types whose occurrences must match between the
// mother and its children. Headers and trailers are regenerated per child and
// never compared.
func countedTypes(kind layout.FileKind) map[string]bool {
	switch kind {
	case layout.EEVC:
		counted := map[string]bool{layout.EEVCPVOpen: true}
		for t := range layout.EEVCRVTypes {
			counted[t] = true
		}
		for t := range layout.EEVCCarriedTypes {
			counted[t] = true
		}
		return counted
	case layout.EEVD:
		counted := make(map[string]bool, len(layout.EEVDMovementTypes))
		for t := range layout.EEVDMovementTypes {
			counted[t] = true
		}
		return counted
	case layout.EEFI:
		counted := map[string]bool{
			layout.EEFIPVHeader:     true,
			layout.EEFISimplified:   true,
			layout.EEFICancellation: true,
		}
		for t := range layout.EEFICurrentPVTypes {
			counted[t] = true
		}
		return counted
	}
	return nil
}

// counter attributes counted records to PVs with the same routing rules the
// split uses: block state for the fixed-width kinds, field indexes for EEVD.
type counter struct {
	kind    layout.FileKind
	counted map[string]bool
	reg     *layout.Registry

	current string
	rvToPV  map[string]string
	counts  map[string]map[string]int
}

func newCounter(kind layout.FileKind) *counter {
	return &counter{
		kind:    kind,
		counted: countedTypes(kind),
		reg:     layout.ForKind(kind),
		rvToPV:  make(map[string]string),
		counts:  make(map[string]map[string]int),
	}
}

func (c *counter) bump(pv, recordType string) {
	if pv == "" {
		return
	}
	m, ok := c.counts[pv]
	if !ok {
		m = make(map[string]int)
		c.counts[pv] = m
	}
	m[recordType]++
}

func (c *counter) add(rec *record.Record) {
	if !c.counted[rec.Type] {
		return
	}
	c.bump(c.pvFor(rec), rec.Type)
}

func (c *counter) pvFor(rec *record.Record) string {
	switch c.kind {
	case layout.EEVC:
		if rec.Type == layout.EEVCPVOpen {
			rl, _ := c.reg.Record(layout.EEVCPVOpen)
			f, _ := rl.Field("pv")
			pv, err := rec.SliceTrimmed(f)
			if err != nil {
				c.current = ""
				return ""
			}
			c.current = layout.PadPV(pv)
		}
		return c.current
	case layout.EEVD:
		if rec.Type == "20" {
			rv := rec.FieldAt(3)
			if rv == "" {
				rv = rec.FieldAt(2)
			}
			return c.rvToPV[rv]
		}
		pv := rec.FieldAt(layout.EEVDPVIndex[rec.Type])
		if pv == "" {
			return ""
		}
		pv = layout.PadPV(pv)
		if rec.Type == layout.EEVDDetail {
			if rv := rec.FieldAt(layout.EEVDDetailRV); rv != "" {
				c.rvToPV[rv] = pv
			}
		}
		return pv
	case layout.EEFI:
		switch {
		case rec.Type == layout.EEFIPVHeader:
			rl, _ := c.reg.Record(layout.EEFIPVHeader)
			f, _ := rl.Field("pv")
			pv, err := rec.SliceTrimmed(f)
			if err != nil {
				c.current = ""
				return ""
			}
			c.current = layout.PadPV(pv)
			return c.current
		case rec.Type == layout.EEFISimplified || rec.Type == layout.EEFICancellation:
			return record.EEFIPV(c.reg, rec)
		default:
			return c.current
		}
	}
	return ""
}

func countFile(path string, kind layout.FileKind, c *counter) error {
	records, err := record.ReadFile(path, kind)
	if err != nil {
		return err
	}
	for _, rec := range records {
		c.add(rec)
	}
	return nil
}

// Check compares a mother file against its children. The kind is derived from
// the mother's file name.
func Check(motherPath string, childPaths []string) (*Report, error) {
	kind, err := layout.KindFromFilename(motherPath)
	if err != nil {
		return nil, err
	}
	return CheckKind(motherPath, childPaths, kind)
}

// CheckKind compares a mother file of a known kind against its children.
func CheckKind(motherPath string, childPaths []string, kind layout.FileKind) (*Report, error) {
	mother := newCounter(kind)
	if err := countFile(motherPath, kind, mother); err != nil {
		return nil, errors.Wrap(err, "could not count mother records")
	}

	children := newCounter(kind)
	for _, child := range childPaths {
		if err := countFile(child, kind, children); err != nil {
			return nil, errors.Wrapf(err, "could not count records of %s", child)
		}
	}

	report := &Report{Kind: kind, Rows: buildRows(mother.counts, children.counts)}
	if !report.OK() {
		for _, row := range report.Divergent() {
			log.WithFields(logrus.Fields{
				"pv":     row.PV,
				"type":   row.Type,
				"mother": row.MotherCount,
				"child":  row.ChildCount,
				"status": row.Status,
			}).Warn("Integrity divergence")
		}
	}
	return report, nil
}

// CheckDir compares a mother file against every child of the same kind found
// in dir, matched by the `_<KIND>.txt` naming convention.
func CheckDir(motherPath, dir string) (*Report, error) {
	kind, err := layout.KindFromFilename(motherPath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "could not list children")
	}
	var children []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if k, err := layout.KindFromFilename(entry.Name()); err == nil && k == kind {
			children = append(children, filepath.Join(dir, entry.Name()))
		}
	}
	return CheckKind(motherPath, children, kind)
}

func buildRows(mother, children map[string]map[string]int) []Row {
	keys := make(map[string]map[string]bool)
	merge := func(counts map[string]map[string]int) {
		for pv, types := range counts {
			if keys[pv] == nil {
				keys[pv] = make(map[string]bool)
			}
			for t := range types {
				keys[pv][t] = true
			}
		}
	}
	merge(mother)
	merge(children)

	pvs := make([]string, 0, len(keys))
	for pv := range keys {
		pvs = append(pvs, pv)
	}
	sort.Strings(pvs)

	var rows []Row
	for _, pv := range pvs {
		types := make([]string, 0, len(keys[pv]))
		for t := range keys[pv] {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			row := Row{PV: pv, Type: t, MotherCount: mother[pv][t], ChildCount: children[pv][t]}
			switch {
			case row.ChildCount < row.MotherCount:
				row.Status = StatusMissing
			case row.ChildCount > row.MotherCount:
				row.Status = StatusExtra
			default:
				row.Status = StatusOK
			}
			rows = append(rows, row)
		}
	}
	return rows
}

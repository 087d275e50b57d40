package engine

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/netunna/splitter/splitter/layout"
	"github.com/netunna/splitter/splitter/record"
)

// processEEVC splits a credit-sales mother file. Each 004 record opens a PV
// bucket; RV records {006,010,016,022} carry the valor líquido summed into
// the 028 reconciliation; {008,012,014,018,024} are carried without summing.
func (e *Engine) processEEVC(ctx context.Context, path string, records []*record.Record) (*Result, error) {
	reg := layout.ForKind(layout.EEVC)
	pvOpen, _ := reg.Record(layout.EEVCPVOpen)
	pvField, _ := pvOpen.Field("pv")

	var header, motherTrailer *record.Record
	buckets := newBucketSet()
	var current *bucket

	for _, rec := range records {
		switch {
		case rec.Type == layout.EEVCHeader:
			header = rec
		case rec.Type == layout.EEVCPVOpen:
			pv, err := rec.SliceTrimmed(pvField)
			if err != nil {
				log.WithError(err).WithField("line", rec.Line).Warn("Skipping unreadable 004 record")
				current = nil
				continue
			}
			current = buckets.get(layout.PadPV(pv))
			current.add(rec)
		case layout.EEVCRVTypes[rec.Type]:
			if current == nil {
				log.WithField("line", rec.Line).WithField("type", rec.Type).Warn("RV record outside a PV block, skipping")
				continue
			}
			rl, _ := reg.Record(rec.Type)
			valField, _ := rl.Field("valor_liquido")
			cents, err := rec.Cents(valField)
			if err != nil {
				log.WithError(err).WithField("line", rec.Line).Warn("Skipping unreadable RV record")
				continue
			}
			current.totalLiquido += cents
			current.movement = true
			current.add(rec)
		case layout.EEVCCarriedTypes[rec.Type]:
			if current == nil {
				continue
			}
			current.movement = true
			current.add(rec)
		case rec.Type == layout.EEVCChildTrailer:
			// The synthesized 026 replaces the mother's; the record closes
			// the current bucket.
			current = nil
		case rec.Type == layout.EEVCMotherTrailer:
			motherTrailer = rec
		default:
			if current != nil {
				log.WithError(record.ErrUnknownType).WithFields(logrus.Fields{
					"type": rec.Type,
					"line": rec.Line,
				}).Warn("Carrying unreferenced record inside PV block")
				current.add(rec)
			}
			// Outside a bucket, acquirer sentinel lines are skipped silently.
		}
	}
	if motherTrailer == nil {
		return nil, errors.Wrap(record.ErrMissingMotherTrailer, "EEVC 028 not found")
	}

	headerLayout, _ := reg.Record(layout.EEVCHeader)
	dateField, _ := headerLayout.Field("data_emissao")
	seqField, _ := headerLayout.Field("sequencia")
	pvGrupoField, _ := headerLayout.Field("pv_grupo")
	dateRaw, _ := header.SliceTrimmed(dateField)
	nsaRaw, _ := header.SliceTrimmed(seqField)
	meta := metaFromHeader(dateRaw, nsaRaw, filepath.Base(path))

	dir, err := e.outputDir(meta)
	if err != nil {
		return nil, err
	}

	trailerLayout, _ := reg.Record(layout.EEVCMotherTrailer)
	totalField, _ := trailerLayout.Field("valor_total_liquido")
	expected, err := motherTrailer.Cents(totalField)
	if err != nil {
		return nil, errors.Wrap(err, "could not read 028 total")
	}

	res := &Result{File: filepath.Base(path), Kind: layout.EEVC, NSA: meta.nsa, Date: meta.date, OutputDir: dir}
	var computed int64
	for _, b := range buckets.all() {
		computed += b.totalLiquido
		if !b.movement && !e.cfg.EmitEmptyBuckets {
			log.WithField("pv", b.pv).Debug("Skipping PV without movement")
			continue
		}
		lines := make([]string, 0, len(b.records)+3)
		lines = append(lines, layout.Overwrite(header.Raw, pvGrupoField, layout.PadPV(b.pv)))
		for _, rec := range b.records {
			lines = append(lines, rec.Raw)
		}
		lines = append(lines, synthEEVC026(b.pv, b.totalLiquido))
		// The mother 028 is appended verbatim for downstream reference.
		lines = append(lines, motherTrailer.Raw)

		child, err := e.writeChild(dir, childName(b.pv, meta, layout.EEVC), lines)
		if err != nil {
			return nil, err
		}
		res.Children = append(res.Children, child)
	}

	res.Verdict = e.reconcile(layout.EEVC, Dimension{Name: "liquido", Expected: expected, Computed: computed})
	return res, nil
}

// synthEEVC026 rebuilds the per-PV 026 trailer: type + PV + zero filler with
// the total líquido pinned at [124,138), total width 138.
func synthEEVC026(pv string, totalLiquido int64) string {
	var b strings.Builder
	b.WriteString(layout.EEVCChildTrailer)
	b.WriteString(layout.PadPV(pv))
	b.WriteString(strings.Repeat("0", 124-12))
	b.WriteString(layout.FormatCents(totalLiquido, 14))
	return b.String()
}

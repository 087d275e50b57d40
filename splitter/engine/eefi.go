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

// processEEFI splits a financial-extract mother file. The complete sub-layout
// carries 032 PV headers that set the current PV; the simplified sub-layout
// has per-record PVs on the 040 summaries.
func (e *Engine) processEEFI(ctx context.Context, path string, records []*record.Record) (*Result, error) {
	reg := layout.ForKind(layout.EEFI)
	header := records[0]

	headerLayout, _ := reg.Record(layout.EEFIHeader)
	dateField, _ := headerLayout.Field("data")
	seqField, _ := headerLayout.Field("sequencia")
	pvGrupoField, _ := headerLayout.Field("pv_grupo")
	dateRaw, _ := header.SliceTrimmed(dateField)
	nsaRaw, _ := header.SliceTrimmed(seqField)
	meta := metaFromHeader(dateRaw, nsaRaw, filepath.Base(path))

	complete := false
	for _, rec := range records {
		if rec.Type == layout.EEFIPVHeader {
			complete = true
			break
		}
	}

	var motherTrailer *record.Record
	buckets := newBucketSet()
	var current *bucket

	pvHeaderLayout, _ := reg.Record(layout.EEFIPVHeader)
	pvHeaderField, _ := pvHeaderLayout.Field("pv")

	for _, rec := range records[1:] {
		switch {
		case rec.Type == layout.EEFIPVHeader:
			pv, err := rec.SliceTrimmed(pvHeaderField)
			if err != nil {
				log.WithError(err).WithField("line", rec.Line).Warn("Skipping unreadable 032 record")
				current = nil
				continue
			}
			current = buckets.get(layout.PadPV(pv))
			current.add(rec)
		case layout.EEFICurrentPVTypes[rec.Type]:
			if current == nil {
				log.WithFields(logrus.Fields{"type": rec.Type, "line": rec.Line}).Warn("Financial record without a preceding 032, skipping")
				continue
			}
			if err := e.aggregateEEFI(reg, rec, current); err != nil {
				log.WithError(err).WithField("line", rec.Line).Warn("Skipping unreadable financial record")
				continue
			}
			current.add(rec)
		case rec.Type == layout.EEFISimplified || rec.Type == layout.EEFICancellation:
			pv := record.EEFIPV(reg, rec)
			if pv == "" {
				log.WithFields(logrus.Fields{"type": rec.Type, "line": rec.Line}).Warn("Record without resolvable PV, skipping")
				continue
			}
			b := buckets.get(pv)
			rl, _ := reg.Record(rec.Type)
			valField, _ := rl.Field("valor")
			cents, err := rec.Cents(valField)
			if err != nil {
				log.WithError(err).WithField("line", rec.Line).Warn("Skipping unreadable record")
				continue
			}
			if rec.Type == layout.EEFICancellation {
				// Cancellations debit the PV regardless of sub-layout.
				b.qtdAjDeb++
				b.ajusteDeb += cents
			} else if !complete {
				b.qtdCredNorm++
				b.credNorm += cents
			}
			b.movement = true
			b.add(rec)
		case rec.Type == layout.EEFITrailer:
			motherTrailer = rec
		default:
			// 050 matrix trailers are regenerated; other types are acquirer
			// sentinels, skipped silently.
		}
	}
	if motherTrailer == nil {
		return nil, errors.Wrap(record.ErrMissingMotherTrailer, "EEFI 052 not found")
	}

	trailerLayout, _ := reg.Record(layout.EEFITrailer)
	expected := int64(0)
	for _, spec := range []struct {
		field string
		sign  int64
	}{
		{"valor_rv", 1}, {"valor_ant", 1}, {"valor_aj_cred", 1}, {"valor_aj_deb", -1},
	} {
		f, _ := trailerLayout.Field(spec.field)
		cents, err := motherTrailer.Cents(f)
		if err != nil {
			return nil, errors.Wrapf(err, "could not read 052 %s", spec.field)
		}
		expected += spec.sign * cents
	}

	dir, err := e.outputDir(meta)
	if err != nil {
		return nil, err
	}
	res := &Result{File: filepath.Base(path), Kind: layout.EEFI, NSA: meta.nsa, Date: meta.date, OutputDir: dir}

	var computed int64
	for _, b := range buckets.all() {
		computed += b.eefiTotal()
		if !b.movement && !e.cfg.EmitEmptyBuckets {
			log.WithField("pv", b.pv).Debug("Skipping PV without movement")
			continue
		}
		lines := make([]string, 0, len(b.records)+2)
		lines = append(lines, layout.Overwrite(header.Raw, pvGrupoField, layout.PadPV(b.pv)))
		for _, rec := range b.records {
			lines = append(lines, rec.Raw)
		}
		lines = append(lines, synthEEFI052(trailerLayout, b, len(lines)))

		child, err := e.writeChild(dir, childName(b.pv, meta, layout.EEFI), lines)
		if err != nil {
			return nil, err
		}
		res.Children = append(res.Children, child)
	}

	res.Verdict = e.reconcile(layout.EEFI, Dimension{Name: "total", Expected: expected, Computed: computed})
	return res, nil
}

// aggregateEEFI applies the sign/inclusion rules for the complete sub-layout:
// 034 credits, 036 advances, 043 credit adjustments, 035/038 debits.
func (e *Engine) aggregateEEFI(reg *layout.Registry, rec *record.Record, b *bucket) error {
	rl, _ := reg.Record(rec.Type)
	valField, _ := rl.Field("valor")
	cents, err := rec.Cents(valField)
	if err != nil {
		return err
	}
	switch rec.Type {
	case "034":
		b.qtdCredNorm++
		b.credNorm += cents
	case "036":
		b.qtdAnt++
		b.antecipacao += cents
	case "043":
		b.qtdAjCred++
		b.ajusteCred += cents
	case "035", "038":
		b.qtdAjDeb++
		b.ajusteDeb += cents
	}
	b.movement = true
	return nil
}

// synthEEFI052 rebuilds the per-PV 052 trailer in the canonical 400-char,
// space-padded form. lineCount covers the child's header plus detail lines;
// the trailer itself is added on top.
func synthEEFI052(trailerLayout *layout.RecordLayout, b *bucket, lineCount int) string {
	line := layout.EEFITrailer + strings.Repeat(" ", layout.EEFITrailerWidth-3)
	write := func(name, value string) {
		f, _ := trailerLayout.Field(name)
		line = layout.Overwrite(line, f, value)
	}
	write("qtde_matrizes", layout.PadNumber(1, 4))
	write("qtde_registros", layout.PadNumber(int64(lineCount+1), 6))
	write("pv_solicitante", layout.PadPV(b.pv))
	write("qtd_cred_norm", layout.PadNumber(int64(b.qtdCredNorm), 4))
	write("valor_rv", layout.FormatCents(b.credNorm, 15))
	write("qtd_ant", layout.PadNumber(int64(b.qtdAnt), 6))
	write("valor_ant", layout.FormatCents(b.antecipacao, 15))
	write("qtd_aj_cred", layout.PadNumber(int64(b.qtdAjCred), 4))
	write("valor_aj_cred", layout.FormatCents(b.ajusteCred, 15))
	write("qtd_aj_deb", layout.PadNumber(int64(b.qtdAjDeb), 4))
	write("valor_aj_deb", layout.FormatCents(b.ajusteDeb, 15))
	return line
}

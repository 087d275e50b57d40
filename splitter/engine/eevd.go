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

// processEEVD splits a debit-sales mother file. Records are comma delimited;
// each detail type locates its PV through the index table, and recharge CVs
// (type 20) are routed through the RV→PV map built from the 01 records.
func (e *Engine) processEEVD(ctx context.Context, path string, records []*record.Record) (*Result, error) {
	header := records[0]
	matrixPV := header.FieldAt(layout.EEVDHeaderPV)
	meta := metaFromHeader(header.FieldAt(layout.EEVDHeaderDate), header.FieldAt(layout.EEVDHeaderNSA), filepath.Base(path))

	// The last 04 record is the mother trailer; everything between it and the
	// header is detail.
	trailerIdx := -1
	for i := len(records) - 1; i > 0; i-- {
		if records[i].Type == layout.EEVDFileTrailer {
			trailerIdx = i
			break
		}
	}
	if trailerIdx < 0 {
		return nil, errors.Wrap(record.ErrMissingMotherTrailer, "EEVD 04 not found")
	}
	motherTrailer := records[trailerIdx]

	buckets := newBucketSet()
	rvToPV := make(map[string]string)

	for _, rec := range records[1:trailerIdx] {
		switch rec.Type {
		case layout.EEVDDetail:
			pv := rec.FieldAt(layout.EEVDDetailPV)
			if pv == "" {
				log.WithField("line", rec.Line).Warn("01 record without PV, skipping")
				continue
			}
			if rv := rec.FieldAt(layout.EEVDDetailRV); rv != "" {
				rvToPV[rv] = pv
			}
			b := buckets.get(pv)
			b.qtdRV++
			b.qtdCV += int(layout.ParseCents(rec.FieldAt(layout.EEVDDetailQtdCV)))
			bruto := rec.CentsAt(layout.EEVDDetailBruto)
			desconto := rec.CentsAt(layout.EEVDDetailDesconto)
			liquido := rec.CentsAt(layout.EEVDDetailLiquido)
			b.bruto += bruto
			b.desconto += desconto
			b.liquido += liquido
			if strings.EqualFold(rec.FieldAt(layout.EEVDDetailPreDated), "P") {
				b.brutoPre += bruto
				b.descontoPre += desconto
				b.liquidoPre += liquido
			}
			b.movement = true
			b.add(rec)
		case layout.EEVDCancellation:
			// Carried into the child and counted, but never summed into the
			// mother-trailer reconciliation.
			pv := rec.FieldAt(layout.EEVDDetailPV)
			if pv == "" {
				continue
			}
			b := buckets.get(pv)
			b.qtdCV++
			b.movement = true
			b.add(rec)
		case "012", "013":
			pv := rec.FieldAt(layout.EEVDDetailPV)
			if pv == "" {
				continue
			}
			b := buckets.get(pv)
			b.bruto += rec.CentsAt(layout.EEVDDetailBruto)
			b.desconto += rec.CentsAt(layout.EEVDDetailDesconto)
			b.liquido += rec.CentsAt(layout.EEVDDetailLiquido)
			b.movement = true
			b.add(rec)
		case "05", "13":
			pv := rec.FieldAt(layout.EEVDPVIndex[rec.Type])
			if pv == "" {
				continue
			}
			b := buckets.get(pv)
			b.qtdCV++
			b.movement = true
			b.add(rec)
		case "20":
			b := e.routeRecharge(rec, rvToPV, buckets)
			if b == nil {
				continue
			}
			b.qtdCV++
			b.movement = true
			b.add(rec)
		case "08", "09", "11", "17", "18", "19":
			pv := rec.FieldAt(layout.EEVDPVIndex[rec.Type])
			if pv == "" {
				log.WithFields(logrus.Fields{"type": rec.Type, "line": rec.Line}).Warn("Detail record without PV, skipping")
				continue
			}
			b := buckets.get(pv)
			b.movement = true
			b.add(rec)
		default:
			// 02/03/04 trailer copies and sentinel lines are regenerated or
			// irrelevant; skip silently.
		}
	}

	dir, err := e.outputDir(meta)
	if err != nil {
		return nil, err
	}
	res := &Result{File: filepath.Base(path), Kind: layout.EEVD, NSA: meta.nsa, Date: meta.date, OutputDir: dir}

	var sumBruto, sumDesconto, sumLiquido int64
	for _, b := range buckets.all() {
		sumBruto += b.bruto
		sumDesconto += b.desconto
		sumLiquido += b.liquido
	}

	if buckets.len() == 0 {
		// Mother with no real movement (00 + 04 only).
		if e.cfg.EmitEmptyBuckets {
			child, err := e.writeEEVDNoMovement(dir, header, matrixPV, meta)
			if err != nil {
				return nil, err
			}
			res.Children = append(res.Children, child)
		} else {
			log.WithField("file", res.File).Info("Mother file without movement, no children emitted")
		}
	}

	for _, b := range buckets.all() {
		if b.pv == matrixPV && !b.movement {
			log.WithField("pv", b.pv).Debug("Skipping matrix PV without own movement")
			continue
		}
		headerFields := append([]string(nil), header.Fields()...)
		if len(headerFields) > layout.EEVDHeaderPV {
			headerFields[layout.EEVDHeaderPV] = layout.PadPV(b.pv)
		}
		lines := make([]string, 0, len(b.records)+4)
		lines = append(lines, strings.Join(headerFields, ","))
		for _, rec := range b.records {
			lines = append(lines, rec.Raw)
		}
		lines = append(lines, synthEEVDTrailers(matrixPV, b, len(lines))...)

		child, err := e.writeChild(dir, childName(layout.PadPV(b.pv), meta, layout.EEVD), lines)
		if err != nil {
			return nil, err
		}
		res.Children = append(res.Children, child)
	}

	res.Verdict = e.reconcile(layout.EEVD,
		Dimension{Name: "bruto", Expected: motherTrailer.CentsAt(layout.EEVDTrailerBruto), Computed: sumBruto},
		Dimension{Name: "desconto", Expected: motherTrailer.CentsAt(layout.EEVDTrailerDesconto), Computed: sumDesconto},
		Dimension{Name: "liquido", Expected: motherTrailer.CentsAt(layout.EEVDTrailerLiquido), Computed: sumLiquido},
	)
	return res, nil
}

// routeRecharge resolves the bucket for a type-20 recharge CV: by the RV→PV
// map first, then the single existing PV, otherwise the record is dropped.
func (e *Engine) routeRecharge(rec *record.Record, rvToPV map[string]string, buckets *bucketSet) *bucket {
	rv := rec.FieldAt(3)
	if rv == "" {
		rv = rec.FieldAt(2)
	}
	if pv, ok := rvToPV[rv]; ok {
		return buckets.get(pv)
	}
	if b, ok := buckets.single(); ok {
		return b
	}
	log.WithFields(logrus.Fields{"rv": rv, "line": rec.Line}).Warn("Recharge CV with unknown RV, dropping")
	return nil
}

// synthEEVDTrailers rebuilds the three child trailers: 02 (per PV), 03
// (matrix copy) and 04 (file level). The trailer id is always the mother's
// matrix PV. detailCount covers header plus detail lines already emitted.
func synthEEVDTrailers(matrixPV string, b *bucket, detailCount int) []string {
	money := func(v int64) string { return layout.FormatCents(v, layout.EEVDMoneyWidth) }

	reg02 := []string{
		layout.EEVDPVTrailer, matrixPV,
		layout.PadNumber(int64(b.qtdRV), 3), layout.PadNumber(int64(b.qtdCV), 6),
		money(b.bruto), money(b.desconto), money(b.liquido),
		money(b.brutoPre), money(b.descontoPre), money(b.liquidoPre),
	}
	reg03 := append([]string(nil), reg02...)
	reg03[0] = layout.EEVDMatrixTrailer

	totalRecords := detailCount + 3
	reg04 := []string{
		layout.EEVDFileTrailer, matrixPV,
		layout.PadNumber(int64(b.qtdRV), 6), layout.PadNumber(int64(b.qtdCV), 6),
		money(b.bruto), money(b.desconto), money(b.liquido),
		money(b.brutoPre), money(b.descontoPre), money(b.liquidoPre),
		layout.PadNumber(int64(totalRecords), 6),
	}
	return []string{strings.Join(reg02, ","), strings.Join(reg03, ","), strings.Join(reg04, ",")}
}

// writeEEVDNoMovement emits the SEM_MOV child: the mother header plus a
// zeroed 04 trailer.
func (e *Engine) writeEEVDNoMovement(dir string, header *record.Record, matrixPV string, meta motherMeta) (string, error) {
	zeros := layout.FormatCents(0, layout.EEVDMoneyWidth)
	trailer := []string{
		layout.EEVDFileTrailer, matrixPV,
		layout.PadNumber(0, 6), layout.PadNumber(0, 6),
		zeros, zeros, zeros, zeros, zeros, zeros,
		layout.PadNumber(2, 6),
	}
	name := "SEM_MOV_" + meta.date + "_" + meta.nsa + "_EEVD.txt"
	return e.writeChild(dir, name, []string{header.Raw, strings.Join(trailer, ",")})
}

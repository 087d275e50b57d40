// Package engine implements the split-and-reconcile core: it routes the
// records of a mother settlement file into per-PV buckets, aggregates
// integer-cent totals, synthesizes the per-PV trailers, writes the child
// files and reconciles the result against the mother trailer.
package engine

import (
	"context"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/netunna/splitter/config"
	"github.com/netunna/splitter/splitter/layout"
	"github.com/netunna/splitter/splitter/record"
)

var log = logrus.WithField("prefix", "engine")

// Engine splits mother files according to its configuration. It is safe for
// concurrent use: each Process call carries its own state.
type Engine struct {
	cfg *config.Engine
}

// New constructs an engine from an explicit configuration record.
func New(cfg *config.Engine) *Engine {
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = config.DefaultOutputRoot
	}
	return &Engine{cfg: cfg}
}

// Result summarizes one processed mother file.
type Result struct {
	File      string
	Kind      layout.FileKind
	NSA       string
	Date      string
	OutputDir string
	Children  []string
	Verdict   *Verdict
}

// Process detects the kind from the file name and splits the mother file.
func (e *Engine) Process(ctx context.Context, path string) (*Result, error) {
	kind, err := layout.KindFromFilename(filepath.Base(path))
	if err != nil {
		return nil, err
	}
	return e.ProcessKind(ctx, path, kind)
}

// ProcessKind splits a mother file of a known kind. Reading, routing,
// aggregating and writing are sequential for a single file because record
// order carries state.
func (e *Engine) ProcessKind(ctx context.Context, path string, kind layout.FileKind) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := record.ReadFile(path, kind)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"file":    filepath.Base(path),
		"kind":    kind.String(),
		"records": len(records),
	}).Info("Processing mother file")

	switch kind {
	case layout.EEVC:
		return e.processEEVC(ctx, path, records)
	case layout.EEVD:
		return e.processEEVD(ctx, path, records)
	case layout.EEFI:
		return e.processEEFI(ctx, path, records)
	}
	return nil, errors.Wrapf(layout.ErrUnknownKind, "kind %d", kind)
}

// ProcessAll splits several mother files in parallel. Files are independent:
// they share only the read-only layout registry and the output root, and each
// writes into its own NSA directory.
func (e *Engine) ProcessAll(ctx context.Context, paths []string, workers int) ([]*Result, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]*Result, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			res, err := e.Process(gctx, p)
			if err != nil {
				return errors.Wrap(err, filepath.Base(p))
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// motherMeta carries the naming inputs extracted from the header: the
// emission date reduced to DDMMAA and the 3 significant NSA digits.
type motherMeta struct {
	date string
	nsa  string
}

var (
	fileDateRe = regexp.MustCompile(`(\d{6,8})`)
	fileNSARe  = regexp.MustCompile(`(\d{3})\D*\.[0-9]+$`)
	extNSARe   = regexp.MustCompile(`\.(\d{3})\D*$`)
)

// shortDate reduces DDMMAAAA to DDMMAA.
func shortDate(raw string) string {
	if len(raw) == 8 {
		return raw[:4] + raw[6:8]
	}
	return raw
}

// metaFromHeader derives date and NSA from header values, falling back to the
// mother file name when the header fields are blank or non-numeric.
func metaFromHeader(dateRaw, nsaRaw, filename string) motherMeta {
	m := motherMeta{date: "000000", nsa: "000"}
	if isDigits(dateRaw) && len(dateRaw) == 8 {
		m.date = shortDate(dateRaw)
	}
	if isDigits(nsaRaw) && nsaRaw != "" {
		if len(nsaRaw) > 3 {
			nsaRaw = nsaRaw[len(nsaRaw)-3:]
		}
		m.nsa = layout.PadNumber(int64(layout.ParseCents(nsaRaw)), 3)
	}
	if m.date == "000000" {
		if g := fileDateRe.FindString(filename); g != "" {
			if len(g) > 6 {
				g = g[len(g)-6:]
			}
			m.date = g
		}
	}
	if m.nsa == "000" {
		if g := extNSARe.FindStringSubmatch(filename); g != nil {
			m.nsa = g[1]
		} else if g := fileNSARe.FindStringSubmatch(filename); g != nil {
			m.nsa = g[1]
		}
	}
	return m
}

func isDigits(s string) bool {
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

// bucket accumulates one PV's records and totals during routing.
type bucket struct {
	pv         string
	records    []*record.Record
	typeCounts map[string]int
	movement   bool

	// EEVD dimensions.
	qtdRV, qtdCV                      int
	bruto, desconto, liquido          int64
	brutoPre, descontoPre, liquidoPre int64
	// EEVC dimension.
	totalLiquido int64
	// EEFI dimensions.
	qtdCredNorm, qtdAnt, qtdAjCred, qtdAjDeb     int
	credNorm, antecipacao, ajusteCred, ajusteDeb int64
}

func newBucket(pv string) *bucket {
	return &bucket{pv: pv, typeCounts: make(map[string]int)}
}

func (b *bucket) add(rec *record.Record) {
	b.records = append(b.records, rec)
	b.typeCounts[rec.Type]++
}

// eefiTotal is the signed per-PV total used for EEFI reconciliation.
func (b *bucket) eefiTotal() int64 {
	return b.credNorm + b.antecipacao + b.ajusteCred - b.ajusteDeb
}

// bucketSet keeps buckets keyed by PV in first-appearance order so children
// are emitted deterministically.
type bucketSet struct {
	byPV  map[string]*bucket
	order []string
}

func newBucketSet() *bucketSet {
	return &bucketSet{byPV: make(map[string]*bucket)}
}

func (s *bucketSet) get(pv string) *bucket {
	if b, ok := s.byPV[pv]; ok {
		return b
	}
	b := newBucket(pv)
	s.byPV[pv] = b
	s.order = append(s.order, pv)
	return b
}

func (s *bucketSet) len() int {
	return len(s.order)
}

// single returns the only bucket when exactly one PV exists.
func (s *bucketSet) single() (*bucket, bool) {
	if len(s.order) != 1 {
		return nil, false
	}
	return s.byPV[s.order[0]], true
}

func (s *bucketSet) all() []*bucket {
	out := make([]*bucket, 0, len(s.order))
	for _, pv := range s.order {
		out = append(out, s.byPV[pv])
	}
	return out
}

package engine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/netunna/splitter/config"
	"github.com/netunna/splitter/splitter/layout"
	"github.com/netunna/splitter/testing/assert"
	"github.com/netunna/splitter/testing/require"
)

func eefiHeaderLine() string {
	header := at(padTo("030", 90), 3, "05102025")
	header = at(header, 75, "000041")
	return at(header, 81, "999999999")
}

func eefiCredit(pv string) string {
	return at(at(padTo("034", 46), 3, pv), 31, "000000000000100")
}

func eefiDebit(pv string) string {
	return at(at(padTo("035", 44), 3, pv), 29, "000000000000050")
}

func eefiTrailerLine(valorRV, valorAjDeb int64) string {
	reg := layout.ForKind(layout.EEFI)
	trailer, _ := reg.Record(layout.EEFITrailer)
	line := layout.EEFITrailer + strings.Repeat(" ", layout.EEFITrailerWidth-3)
	write := func(name, value string) {
		f, _ := trailer.Field(name)
		line = layout.Overwrite(line, f, value)
	}
	write("valor_rv", layout.FormatCents(valorRV, 15))
	write("valor_ant", layout.FormatCents(0, 15))
	write("valor_aj_cred", layout.FormatCents(0, 15))
	write("valor_aj_deb", layout.FormatCents(valorAjDeb, 15))
	return line
}

// eefiMotherLines builds a complete-sub-layout mother: two 032 blocks, each
// with one 034 credit of 100 cents and one 035 debit of 50 cents, reconciling
// against a 052 of valor_rv 200 / valor_aj_deb 100.
func eefiMotherLines() []string {
	return []string{
		eefiHeaderLine(),
		at(padTo("032", 12), 3, "020770677"),
		eefiCredit("020770677"),
		eefiDebit("020770677"),
		at(padTo("032", 12), 3, "020770678"),
		eefiCredit("020770678"),
		eefiDebit("020770678"),
		eefiTrailerLine(200, 100),
	}
}

func TestProcessEEFI_Complete(t *testing.T) {
	e := newTestEngine(t)
	path := writeMother(t, t.TempDir(), "extrato_EEFI.041", eefiMotherLines())

	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, layout.EEFI, res.Kind)
	require.Equal(t, 2, len(res.Children))
	assert.Equal(t, "020770677_051025_041_EEFI.txt", filepath.Base(res.Children[0]))
	assert.Equal(t, "020770678_051025_041_EEFI.txt", filepath.Base(res.Children[1]))

	for i, pv := range []string{"020770677", "020770678"} {
		lines := readChild(t, res.Children[i])
		// Header, 032, 034, 035, synthesized 052.
		require.Equal(t, 5, len(lines), "child %s", pv)
		assert.Equal(t, pv, lines[0][81:90])
		assert.Equal(t, "032", lines[1][:3])

		trailer := lines[4]
		require.Equal(t, layout.EEFITrailerWidth, len(trailer))
		assert.Equal(t, "052", trailer[:3])
		assert.Equal(t, "0001", trailer[3:7])
		assert.Equal(t, "000005", trailer[7:13])
		assert.Equal(t, pv, trailer[13:22])
		assert.Equal(t, "0001", trailer[22:26])
		assert.Equal(t, "000000000000100", trailer[26:41])
		assert.Equal(t, "0001", trailer[81:85])
		assert.Equal(t, "000000000000050", trailer[85:100])
	}

	require.Equal(t, 1, len(res.Verdict.Dimensions))
	assert.Equal(t, int64(100), res.Verdict.Dimensions[0].Expected)
	assert.Equal(t, int64(100), res.Verdict.Dimensions[0].Computed)
	assert.Equal(t, true, res.Verdict.OK())
}

// Children must themselves reconcile when re-processed: the 052 synthesized
// for a child matches the totals recomputed from its records.
func TestProcessEEFI_ChildRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	path := writeMother(t, t.TempDir(), "extrato_EEFI.041", eefiMotherLines())
	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, len(res.Children))

	resplit := New(&config.Engine{OutputRoot: filepath.Join(t.TempDir(), "resplit")})
	for _, child := range res.Children {
		childRes, err := resplit.ProcessKind(context.Background(), child, layout.EEFI)
		require.NoError(t, err)
		assert.Equal(t, true, childRes.Verdict.OK(), "round trip for %s", filepath.Base(child))
		require.Equal(t, 1, len(childRes.Children))
		assert.DeepEqual(t, readChild(t, child), readChild(t, childRes.Children[0]))
	}
}

func TestProcessEEFI_Simplified(t *testing.T) {
	e := newTestEngine(t)
	lines := []string{
		eefiHeaderLine(),
		// 040 summaries carry their own PV; no 032 in sight.
		at(at(padTo("040", 27), 3, "020770677"), 12, "000000000000300"),
		at(at(padTo("040", 27), 3, "020770678"), 12, "000000000000200"),
		// A cancellation debits its PV in either sub-layout.
		at(at(padTo("045", 27), 3, "020770677"), 12, "000000000000100"),
		eefiTrailerLine(500, 100),
	}
	path := writeMother(t, t.TempDir(), "extrato_EEFI.041", lines)

	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, len(res.Children))

	first := readChild(t, res.Children[0])
	// Header, 040, 045, 052.
	require.Equal(t, 4, len(first))
	trailer := first[3]
	assert.Equal(t, "000000000000300", trailer[26:41])
	assert.Equal(t, "000000000000100", trailer[85:100])

	assert.Equal(t, int64(400), res.Verdict.Dimensions[0].Expected)
	assert.Equal(t, int64(400), res.Verdict.Dimensions[0].Computed)
	assert.Equal(t, true, res.Verdict.OK())
}

func TestProcessEEFI_CancellationInCompleteMode(t *testing.T) {
	e := newTestEngine(t)
	lines := []string{
		eefiHeaderLine(),
		at(padTo("032", 12), 3, "020770677"),
		eefiCredit("020770677"),
		// In complete mode a 045 still debits, routed by its own PV.
		at(at(padTo("045", 27), 3, "020770677"), 12, "000000000000040"),
		eefiTrailerLine(100, 40),
	}
	path := writeMother(t, t.TempDir(), "extrato_EEFI.041", lines)

	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 1, len(res.Children))
	assert.Equal(t, int64(60), res.Verdict.Dimensions[0].Computed)
	assert.Equal(t, true, res.Verdict.OK())
}

func TestProcessEEFI_MissingMotherTrailer(t *testing.T) {
	e := newTestEngine(t)
	lines := eefiMotherLines()
	path := writeMother(t, t.TempDir(), "extrato_EEFI.041", lines[:len(lines)-1])

	_, err := e.Process(context.Background(), path)
	require.ErrorContains(t, "missing mother trailer", err)
}

func TestProcessEEFI_RecordWithout032Skipped(t *testing.T) {
	e := newTestEngine(t)
	lines := []string{
		eefiHeaderLine(),
		// A 034 before any 032 has no PV to attach to.
		eefiCredit("020770677"),
		at(padTo("032", 12), 3, "020770677"),
		eefiCredit("020770677"),
		eefiTrailerLine(100, 0),
	}
	path := writeMother(t, t.TempDir(), "extrato_EEFI.041", lines)

	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 1, len(res.Children))
	assert.Equal(t, 4, len(readChild(t, res.Children[0])))
	assert.Equal(t, int64(100), res.Verdict.Dimensions[0].Computed)
}

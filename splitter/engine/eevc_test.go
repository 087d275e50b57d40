package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/netunna/splitter/splitter/layout"
	"github.com/netunna/splitter/testing/assert"
	"github.com/netunna/splitter/testing/require"
)

// eevcMotherLines builds a credit mother: one PV block with two summed RV
// records (12345 + 23456 cents) and one carried record, reconciling against a
// 028 total of 35801.
func eevcMotherLines() []string {
	header := at(padTo("002", 90), 3, "05102025")
	header = at(header, 75, "000041")
	header = at(header, 81, "999999999")

	open := at(padTo("004", 12), 3, "020770677")
	rv006 := at(padTo("006", 129), 114, "000000000012345")
	rv010 := at(padTo("010", 129), 114, "000000000023456")
	carried := padTo("008", 40)
	mother026 := at(padTo("026", 138), 3, "020770677")
	trailer := at(padTo("028", 148), 133, "000000000035801")
	return []string{header, open, rv006, rv010, carried, mother026, trailer}
}

func TestProcessEEVC(t *testing.T) {
	e := newTestEngine(t)
	path := writeMother(t, t.TempDir(), "movimento_EEVC.041", eevcMotherLines())

	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, layout.EEVC, res.Kind)
	assert.Equal(t, "041", res.NSA)
	assert.Equal(t, "051025", res.Date)
	require.Equal(t, 1, len(res.Children))
	assert.Equal(t, filepath.Join(res.OutputDir, "020770677_051025_041_EEVC.txt"), res.Children[0])

	lines := readChild(t, res.Children[0])
	require.Equal(t, 7, len(lines))

	// Header is carried with the group PV rewritten to the child's PV.
	assert.Equal(t, "020770677", lines[0][81:90])
	assert.Equal(t, "05102025", lines[0][3:11])

	// Detail records are byte-identical to the mother's.
	assert.Equal(t, at(padTo("006", 129), 114, "000000000012345"), lines[2])

	// The synthesized 026 pins the total at [124,138).
	synth := lines[5]
	require.Equal(t, layout.EEVCTrailerWidth, len(synth))
	assert.Equal(t, "026", synth[:3])
	assert.Equal(t, "020770677", synth[3:12])
	assert.Equal(t, "00000000035801", synth[124:138])

	// The mother 028 closes the child verbatim.
	assert.Equal(t, "028", lines[6][:3])
	assert.Equal(t, "000000000035801", lines[6][133:148])

	require.NotNil(t, res.Verdict)
	assert.Equal(t, true, res.Verdict.OK())
	require.Equal(t, 1, len(res.Verdict.Dimensions))
	assert.Equal(t, int64(35801), res.Verdict.Dimensions[0].Expected)
	assert.Equal(t, int64(35801), res.Verdict.Dimensions[0].Computed)
}

func TestProcessEEVC_Divergence(t *testing.T) {
	e := newTestEngine(t)
	lines := eevcMotherLines()
	lines[len(lines)-1] = at(padTo("028", 148), 133, "000000000035901")
	path := writeMother(t, t.TempDir(), "movimento_EEVC.041", lines)

	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	// A divergence never suppresses the children.
	require.Equal(t, 1, len(res.Children))
	assert.Equal(t, false, res.Verdict.OK())
	assert.Equal(t, "liquido: divergence of 100 cents (low)", res.Verdict.Detail())
}

func TestProcessEEVC_Tolerance(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.ToleranceCents = 100
	lines := eevcMotherLines()
	lines[len(lines)-1] = at(padTo("028", 148), 133, "000000000035901")
	path := writeMother(t, t.TempDir(), "movimento_EEVC.041", lines)

	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, true, res.Verdict.OK())
}

func TestProcessEEVC_MissingMotherTrailer(t *testing.T) {
	e := newTestEngine(t)
	lines := eevcMotherLines()
	path := writeMother(t, t.TempDir(), "movimento_EEVC.041", lines[:len(lines)-1])

	_, err := e.Process(context.Background(), path)
	require.ErrorContains(t, "missing mother trailer", err)
}

func TestProcessEEVC_UnknownTypeCarried(t *testing.T) {
	e := newTestEngine(t)
	lines := eevcMotherLines()
	// Splice an unreferenced type inside the PV block; it must be carried
	// into the child untouched.
	stray := padTo("099", 30)
	lines = append(lines[:4:4], append([]string{stray}, lines[4:]...)...)
	path := writeMother(t, t.TempDir(), "movimento_EEVC.041", lines)

	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 1, len(res.Children))
	child := readChild(t, res.Children[0])
	assert.Equal(t, stray, child[4])
	assert.Equal(t, true, res.Verdict.OK())
}

func TestProcessEEVC_RVOutsideBlockSkipped(t *testing.T) {
	e := newTestEngine(t)
	lines := eevcMotherLines()
	// An RV record before any 004 is dropped and must not reach a child or
	// the computed total.
	orphan := at(padTo("006", 129), 114, "000000000099999")
	lines = append([]string{lines[0], orphan}, lines[1:]...)
	path := writeMother(t, t.TempDir(), "movimento_EEVC.041", lines)

	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 1, len(res.Children))
	assert.Equal(t, 7, len(readChild(t, res.Children[0])))
	assert.Equal(t, int64(35801), res.Verdict.Dimensions[0].Computed)
}

func TestProcessEEVC_MultiplePVs(t *testing.T) {
	e := newTestEngine(t)
	header := eevcMotherLines()[0]
	block := func(pv, cents string) []string {
		return []string{
			at(padTo("004", 12), 3, pv),
			at(padTo("006", 129), 114, cents),
			at(padTo("026", 138), 3, pv),
		}
	}
	lines := []string{header}
	lines = append(lines, block("020770677", "000000000010000")...)
	lines = append(lines, block("020770678", "000000000020000")...)
	lines = append(lines, at(padTo("028", 148), 133, "000000000030000"))
	path := writeMother(t, t.TempDir(), "movimento_EEVC.041", lines)

	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, len(res.Children))
	assert.Equal(t, "020770677_051025_041_EEVC.txt", filepath.Base(res.Children[0]))
	assert.Equal(t, "020770678_051025_041_EEVC.txt", filepath.Base(res.Children[1]))
	assert.Equal(t, true, res.Verdict.OK())

	second := readChild(t, res.Children[1])
	assert.Equal(t, "020770678", second[0][81:90])
	assert.Equal(t, "00000000020000", second[2][124:138])
}

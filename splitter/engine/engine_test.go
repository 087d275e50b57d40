package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/netunna/splitter/config"
	"github.com/netunna/splitter/splitter/layout"
	"github.com/netunna/splitter/testing/assert"
	"github.com/netunna/splitter/testing/require"
)

// padTo extends s with spaces up to width.
func padTo(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// at overwrites line content starting at a byte offset, extending with spaces
// when needed.
func at(line string, start int, content string) string {
	return layout.Overwrite(line, layout.Field{Start: start, End: start + len(content)}, content)
}

func writeMother(t *testing.T, dir, name string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600))
	return path
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(&config.Engine{OutputRoot: filepath.Join(t.TempDir(), "output")})
}

func readChild(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestMetaFromHeader(t *testing.T) {
	m := metaFromHeader("05102025", "000041", "EEFI_mother.txt")
	assert.Equal(t, "051025", m.date)
	assert.Equal(t, "041", m.nsa)

	// Fallback to the file name when header fields are blank.
	m = metaFromHeader("", "", "movimento_07102025.043")
	assert.Equal(t, "102025", m.date)
	assert.Equal(t, "043", m.nsa)
}

func TestProcess_UnknownKind(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Process(context.Background(), "extrato.txt")
	require.ErrorContains(t, "unknown settlement file kind", err)
}

func TestProcessAll(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()

	m1 := writeMother(t, dir, "lote_EEVC.041", eevcMotherLines())
	m2 := writeMother(t, dir, "lote_EEFI.041", eefiMotherLines())

	results, err := e.ProcessAll(context.Background(), []string{m1, m2}, 2)
	require.NoError(t, err)
	require.Equal(t, 2, len(results))
	assert.Equal(t, layout.EEVC, results[0].Kind)
	assert.Equal(t, layout.EEFI, results[1].Kind)
	for _, res := range results {
		assert.Equal(t, true, res.Verdict.OK(), "verdict for %s", res.File)
	}
}

func TestProcessAll_PropagatesFailure(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	good := writeMother(t, dir, "lote_EEVC.041", eevcMotherLines())
	_, err := e.ProcessAll(context.Background(), []string{good, filepath.Join(dir, "missing_EEFI.txt")}, 2)
	require.NotNil(t, err)
	assert.ErrorContains(t, "missing_EEFI", err)
}

func TestVerdictDetail(t *testing.T) {
	v := &Verdict{Kind: layout.EEVD, Dimensions: []Dimension{
		{Name: "bruto", Expected: 1000, Computed: 900},
		{Name: "liquido", Expected: 500, Computed: 500},
	}}
	assert.Equal(t, false, v.OK())
	assert.Equal(t, "bruto: divergence of 100 cents (low) | liquido: OK", v.Detail())

	v.Tolerance = 100
	assert.Equal(t, true, v.OK())
}

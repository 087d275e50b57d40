package integrity

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/netunna/splitter/config"
	"github.com/netunna/splitter/splitter/engine"
	"github.com/netunna/splitter/testing/assert"
	"github.com/netunna/splitter/testing/require"
)

func fixed(recordType string, width int, slices map[int]string) string {
	line := recordType + strings.Repeat(" ", width-len(recordType))
	for start, content := range slices {
		line = line[:start] + content + line[start+len(content):]
	}
	return line
}

func eevcMother() []string {
	return []string{
		fixed("002", 90, map[int]string{3: "05102025", 75: "000041", 81: "999999999"}),
		fixed("004", 12, map[int]string{3: "020770677"}),
		fixed("006", 129, map[int]string{114: "000000000012345"}),
		fixed("008", 40, nil),
		fixed("026", 138, map[int]string{3: "020770677"}),
		fixed("004", 12, map[int]string{3: "020770678"}),
		fixed("006", 129, map[int]string{114: "000000000023456"}),
		fixed("026", 138, map[int]string{3: "020770678"}),
		fixed("028", 148, map[int]string{133: "000000000035801"}),
	}
}

func writeLines(t *testing.T, dir, name string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600))
	return path
}

func splitMother(t *testing.T, mother string) []string {
	t.Helper()
	e := engine.New(&config.Engine{OutputRoot: filepath.Join(t.TempDir(), "output")})
	res, err := e.Process(context.Background(), mother)
	require.NoError(t, err)
	return res.Children
}

func TestCheck_SplitIsComplete(t *testing.T) {
	mother := writeLines(t, t.TempDir(), "movimento_EEVC.041", eevcMother())
	children := splitMother(t, mother)
	require.Equal(t, 2, len(children))

	report, err := Check(mother, children)
	require.NoError(t, err)
	assert.Equal(t, true, report.OK())

	// One 004 and one 006 per PV, one 008 for the first.
	require.Equal(t, 5, len(report.Rows))
	for _, row := range report.Rows {
		assert.Equal(t, StatusOK, row.Status, "row %s/%s", row.PV, row.Type)
		assert.Equal(t, row.MotherCount, row.ChildCount)
	}
}

func TestCheck_MissingChildRecords(t *testing.T) {
	mother := writeLines(t, t.TempDir(), "movimento_EEVC.041", eevcMother())
	children := splitMother(t, mother)

	report, err := Check(mother, children[:1])
	require.NoError(t, err)
	assert.Equal(t, false, report.OK())

	divergent := report.Divergent()
	require.Equal(t, 2, len(divergent))
	for _, row := range divergent {
		assert.Equal(t, "020770678", row.PV)
		assert.Equal(t, StatusMissing, row.Status)
		assert.Equal(t, 0, row.ChildCount)
	}
}

func TestCheck_ExtraChildRecords(t *testing.T) {
	dir := t.TempDir()
	mother := writeLines(t, dir, "movimento_EEVC.041", eevcMother())
	children := splitMother(t, mother)

	// Duplicate a child to force an excess on its PV.
	duplicate := writeLines(t, dir, "dup_EEVC.041", func() []string {
		data, err := os.ReadFile(children[0])
		require.NoError(t, err)
		return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	}())

	report, err := Check(mother, append(children, duplicate))
	require.NoError(t, err)
	assert.Equal(t, false, report.OK())
	for _, row := range report.Divergent() {
		assert.Equal(t, "020770677", row.PV)
		assert.Equal(t, StatusExtra, row.Status)
	}
}

func TestCheck_EEVD(t *testing.T) {
	lines := []string{
		"00,020770677,07102025,REDE,,,,000043",
		"01,020770677,05102025,07102025,1234567,001,000000000010000,000000000000000,000000000010000,N",
		"01,020770678,05102025,07102025,7654321,001,000000000020000,000000000000000,000000000020000,N",
		"20,,,1234567,XYZ",
		"04,020770677,000002,000003,000000000030000,000000000000000,000000000030000,0,0,0,000009",
	}
	mother := writeLines(t, t.TempDir(), "movimento_EEVD.043", lines)
	children := splitMother(t, mother)
	require.Equal(t, 2, len(children))

	report, err := Check(mother, children)
	require.NoError(t, err)
	assert.Equal(t, true, report.OK(), "rows: %v", report.Rows)
	// The recharge CV must be attributed to the first PV on both sides.
	found := false
	for _, row := range report.Rows {
		if row.Type == "20" {
			found = true
			assert.Equal(t, "020770677", row.PV)
			assert.Equal(t, 1, row.MotherCount)
			assert.Equal(t, 1, row.ChildCount)
		}
	}
	assert.Equal(t, true, found)
}

func TestCheckDir(t *testing.T) {
	mother := writeLines(t, t.TempDir(), "movimento_EEVC.041", eevcMother())
	children := splitMother(t, mother)
	require.Equal(t, 2, len(children))

	report, err := CheckDir(mother, filepath.Dir(children[0]))
	require.NoError(t, err)
	assert.Equal(t, true, report.OK())
}

func TestReport_WriteCSV(t *testing.T) {
	report := &Report{Rows: []Row{
		{PV: "020770677", Type: "006", MotherCount: 2, ChildCount: 2, Status: StatusOK},
		{PV: "020770678", Type: "004", MotherCount: 1, ChildCount: 0, Status: StatusMissing},
	}}

	var buf bytes.Buffer
	require.NoError(t, report.WriteCSV(&buf))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Equal(t, 3, len(lines))
	assert.Equal(t, "PV;Tipo;Qtd_Mae;Qtd_Filho;Status", lines[0])
	assert.Equal(t, "020770677;006;2;2;OK", lines[1])
	assert.Equal(t, "020770678;004;1;0;FALTANTE", lines[2])
}

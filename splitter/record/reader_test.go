package record

import (
	"io"
	"strings"
	"testing"

	"github.com/netunna/splitter/splitter/layout"
	"github.com/netunna/splitter/testing/assert"
	"github.com/netunna/splitter/testing/require"
)

func TestReader_FixedWidth(t *testing.T) {
	input := "030" + strings.Repeat(" ", 100) + "\n" +
		"032020770677NOME DO LOJISTA\n" +
		"\n" +
		"034020770677" + strings.Repeat("0", 50) + "\n"
	rd := NewReader(strings.NewReader(input), layout.EEFI)

	rec, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, "030", rec.Type)
	assert.Equal(t, 1, rec.Line)

	rec, err = rd.Next()
	require.NoError(t, err)
	assert.Equal(t, "032", rec.Type)

	// Blank lines are skipped, not returned.
	rec, err = rd.Next()
	require.NoError(t, err)
	assert.Equal(t, "034", rec.Type)
	assert.Equal(t, 4, rec.Line)

	_, err = rd.Next()
	require.Equal(t, io.EOF, err)
}

func TestReader_Delimited(t *testing.T) {
	input := "00,020770677,07102025,REDE,,,,000043\n" +
		"01, 020770677 ,X,Y,12345,2,300.00,1.00,299.00,D\n"
	rd := NewReader(strings.NewReader(input), layout.EEVD)

	rec, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, "00", rec.Type)
	assert.Equal(t, "020770677", rec.FieldAt(layout.EEVDHeaderPV))
	assert.Equal(t, "000043", rec.FieldAt(layout.EEVDHeaderNSA))

	rec, err = rd.Next()
	require.NoError(t, err)
	assert.Equal(t, "01", rec.Type)
	assert.Equal(t, "020770677", rec.FieldAt(layout.EEVDDetailPV))
	assert.Equal(t, int64(30000), rec.CentsAt(layout.EEVDDetailBruto))
	assert.Equal(t, int64(29900), rec.CentsAt(layout.EEVDDetailLiquido))
	assert.Equal(t, "", rec.FieldAt(42), "out-of-range fields read as empty")
}

func TestReader_MalformedHeader(t *testing.T) {
	rd := NewReader(strings.NewReader("034020770677\n"), layout.EEFI)
	_, err := rd.Next()
	require.ErrorContains(t, "malformed header", err)

	_, err = ReadAll(strings.NewReader(""), layout.EEVC)
	require.ErrorContains(t, "malformed header", err)
}

func TestRecord_SliceTruncated(t *testing.T) {
	rec := &Record{Kind: layout.EEFI, Type: "034", Raw: "034short", Line: 7}
	_, err := rec.Slice(layout.Field{Name: "valor", Start: 31, End: 46, Kind: layout.Money})
	require.ErrorContains(t, "truncated", err)
	assert.ErrorContains(t, "line 7", err)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "026", Classify(layout.EEVC, "026020770677"))
	assert.Equal(t, "011", Classify(layout.EEVD, "011,020770677,1"))
	assert.Equal(t, "04", Classify(layout.EEVD, "04"))
}

package layout

// EEVD is comma delimited; fields are addressed by index rather than byte
// position. Index tables below mirror the acquirer's debit-extract manual.
const (
	EEVDHeader        = "00"
	EEVDDetail        = "01"
	EEVDCancellation  = "011"
	EEVDPVTrailer     = "02"
	EEVDMatrixTrailer = "03"
	EEVDFileTrailer   = "04"
)

// Header "00" field indexes.
const (
	EEVDHeaderPV   = 1
	EEVDHeaderDate = 2
	EEVDHeaderNSA  = 7
)

// Detail "01" field indexes.
const (
	EEVDDetailPV       = 1
	EEVDDetailRV       = 4
	EEVDDetailQtdCV    = 5
	EEVDDetailBruto    = 6
	EEVDDetailDesconto = 7
	EEVDDetailLiquido  = 8
	EEVDDetailPreDated = 9
)

// Trailer "04" field indexes.
const (
	EEVDTrailerQtdRV    = 2
	EEVDTrailerQtdCV    = 3
	EEVDTrailerBruto    = 4
	EEVDTrailerDesconto = 5
	EEVDTrailerLiquido  = 6
	EEVDTrailerBrutoPre = 7
	EEVDTrailerDescPre  = 8
	EEVDTrailerLiqPre   = 9
)

// EEVDMoneyWidth is the 9(15)V99 money field width in synthesized trailers.
const EEVDMoneyWidth = 15

// EEVDPVIndex maps each routable detail type to the field carrying its PV.
// Type 20 (recharge CV) is absent: it is routed through the RV→PV map built
// from previously seen 01 records.
var EEVDPVIndex = map[string]int{
	"01":  1,
	"011": 1,
	"012": 1,
	"013": 1,
	"05":  1,
	"13":  1,
	"08":  1,
	"09":  1,
	"11":  2,
	"17":  5,
	"18":  2,
	"19":  2,
}

// EEVDSummedTypes contribute bruto/desconto/líquido to the per-PV totals and
// the reconciliation sum. Cancellations (011) are carried and counted but
// excluded from the sums.
var EEVDSummedTypes = map[string]bool{
	"01":  true,
	"012": true,
	"013": true,
}

// EEVDMovementTypes mark a bucket as having real movement; a child is only
// emitted when at least one of these is present.
var EEVDMovementTypes = map[string]bool{
	"01": true, "011": true, "012": true, "013": true,
	"05": true, "13": true, "20": true,
	"08": true, "09": true, "11": true, "17": true, "18": true, "19": true,
}

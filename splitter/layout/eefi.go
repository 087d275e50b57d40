package layout

// EEFI (financial extract) record types.
const (
	EEFIHeader       = "030"
	EEFIPVHeader     = "032"
	EEFITrailer      = "052"
	EEFISimplified   = "040"
	EEFICancellation = "045"
	EEFITrailerWidth = 400
)

// EEFICurrentPVTypes attach to the PV opened by the preceding 032 record in
// the complete sub-layout.
var EEFICurrentPVTypes = map[string]bool{
	"034": true,
	"035": true,
	"036": true,
	"038": true,
	"043": true,
}

// EEFIPVFallbacks are the alternative slices the robust PV extractor tries
// for 040/045 records before scanning for a 9-digit run.
var EEFIPVFallbacks = []Field{
	{Name: "pv", Start: 12, End: 21, Kind: Numeric},
	{Name: "pv", Start: 13, End: 22, Kind: Numeric},
	{Name: "pv", Start: 22, End: 31, Kind: Numeric},
	{Name: "pv", Start: 3, End: 12, Kind: Numeric},
}

var eefiRegistry = newRegistry(EEFI,
	newRecordLayout(EEFIHeader,
		Field{Name: "data", Start: 3, End: 11, Kind: Numeric},
		Field{Name: "sequencia", Start: 75, End: 81, Kind: Numeric},
		Field{Name: "pv_grupo", Start: 81, End: 90, Kind: Numeric},
	),
	newRecordLayout(EEFIPVHeader,
		Field{Name: "pv", Start: 3, End: 12, Kind: Numeric},
	),
	newRecordLayout("034",
		Field{Name: "pv", Start: 3, End: 12, Kind: Numeric},
		Field{Name: "valor", Start: 31, End: 46, Kind: Money},
	),
	newRecordLayout("035",
		Field{Name: "pv", Start: 3, End: 12, Kind: Numeric},
		Field{Name: "valor", Start: 29, End: 44, Kind: Money},
	),
	newRecordLayout("036",
		Field{Name: "pv", Start: 3, End: 12, Kind: Numeric},
		Field{Name: "valor", Start: 31, End: 46, Kind: Money},
	),
	newRecordLayout("038",
		Field{Name: "pv", Start: 3, End: 12, Kind: Numeric},
		Field{Name: "valor", Start: 31, End: 46, Kind: Money},
	),
	newRecordLayout("043",
		Field{Name: "pv", Start: 3, End: 12, Kind: Numeric},
		Field{Name: "valor", Start: 48, End: 63, Kind: Money},
	),
	newRecordLayout(EEFISimplified,
		Field{Name: "pv", Start: 3, End: 12, Kind: Numeric},
		Field{Name: "valor", Start: 12, End: 27, Kind: Money},
	),
	newRecordLayout(EEFICancellation,
		Field{Name: "pv", Start: 3, End: 12, Kind: Numeric},
		Field{Name: "valor", Start: 12, End: 27, Kind: Money},
	),
	newRecordLayout(EEFITrailer,
		Field{Name: "qtde_matrizes", Start: 3, End: 7, Kind: Numeric},
		Field{Name: "qtde_registros", Start: 7, End: 13, Kind: Numeric},
		Field{Name: "pv_solicitante", Start: 13, End: 22, Kind: Numeric},
		Field{Name: "qtd_cred_norm", Start: 22, End: 26, Kind: Numeric},
		Field{Name: "valor_rv", Start: 26, End: 41, Kind: Money},
		Field{Name: "qtd_ant", Start: 41, End: 47, Kind: Numeric},
		Field{Name: "valor_ant", Start: 47, End: 62, Kind: Money},
		Field{Name: "qtd_aj_cred", Start: 62, End: 66, Kind: Numeric},
		Field{Name: "valor_aj_cred", Start: 66, End: 81, Kind: Money},
		Field{Name: "qtd_aj_deb", Start: 81, End: 85, Kind: Numeric},
		Field{Name: "valor_aj_deb", Start: 85, End: 100, Kind: Money},
	),
)

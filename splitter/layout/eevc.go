package layout

// EEVC (credit sales) record types.
const (
	EEVCHeader        = "002"
	EEVCPVOpen        = "004"
	EEVCChildTrailer  = "026"
	EEVCMotherTrailer = "028"
)

// EEVCRVTypes are the resumo-de-venda records whose valor líquido feeds the
// 028 reconciliation sum. 008/012/014/018/024 are carried into the child but
// do not contribute.
var EEVCRVTypes = map[string]bool{
	"006": true,
	"010": true,
	"016": true,
	"022": true,
}

// EEVCCarriedTypes are detail records copied into the child without summing.
var EEVCCarriedTypes = map[string]bool{
	"008": true,
	"012": true,
	"014": true,
	"018": true,
	"024": true,
}

// EEVCTrailerWidth is the synthesized 026 record width: type(3) + pv(9) +
// zero filler + total líquido at [124,138).
const EEVCTrailerWidth = 138

var eevcRegistry = newRegistry(EEVC,
	newRecordLayout(EEVCHeader,
		Field{Name: "data_emissao", Start: 3, End: 11, Kind: Numeric},
		Field{Name: "sequencia", Start: 75, End: 81, Kind: Numeric},
		Field{Name: "pv_grupo", Start: 81, End: 90, Kind: Numeric},
	),
	newRecordLayout(EEVCPVOpen,
		Field{Name: "pv", Start: 3, End: 12, Kind: Numeric},
	),
	newRecordLayout("006",
		Field{Name: "valor_liquido", Start: 114, End: 129, Kind: Money},
	),
	newRecordLayout("010",
		Field{Name: "valor_liquido", Start: 114, End: 129, Kind: Money},
	),
	newRecordLayout("016",
		Field{Name: "valor_liquido", Start: 114, End: 129, Kind: Money},
	),
	newRecordLayout("022",
		Field{Name: "valor_liquido", Start: 114, End: 129, Kind: Money},
	),
	newRecordLayout(EEVCChildTrailer,
		Field{Name: "pv", Start: 3, End: 12, Kind: Numeric},
		Field{Name: "total_liquido", Start: 124, End: 138, Kind: Money},
	),
	newRecordLayout(EEVCMotherTrailer,
		Field{Name: "valor_total_liquido", Start: 133, End: 148, Kind: Money},
	),
)

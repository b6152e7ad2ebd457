package market

// Instrument holds static contract metadata used for P&L accounting.
type Instrument struct {
	Symbol     string
	Exchange   string
	Multiplier float64 // contract point value (e.g. $5/point for MES)
	TickSize   float64
	TickValue  float64
}

// Instruments is the registry of known futures contracts.
var Instruments = map[string]Instrument{
	"MES": {Symbol: "MES", Exchange: "CME", Multiplier: 5.0, TickSize: 0.25, TickValue: 1.25},
	"ES":  {Symbol: "ES", Exchange: "CME", Multiplier: 50.0, TickSize: 0.25, TickValue: 12.50},
	"MNQ": {Symbol: "MNQ", Exchange: "CME", Multiplier: 2.0, TickSize: 0.25, TickValue: 0.50},
	"NQ":  {Symbol: "NQ", Exchange: "CME", Multiplier: 20.0, TickSize: 0.25, TickValue: 5.00},
}

// Lookup returns the instrument metadata for symbol, falling back to a
// multiplier of 1 for unknown symbols so that P&L math stays defined.
func Lookup(symbol string) Instrument {
	if inst, ok := Instruments[symbol]; ok {
		return inst
	}
	return Instrument{Symbol: symbol, Multiplier: 1.0, TickSize: 0.01, TickValue: 0.01}
}

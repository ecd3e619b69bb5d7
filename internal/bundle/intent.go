package bundle

// Intent classifies what a query is after. It steers policy defaults,
// seed weights, and packing boosts throughout the pipeline.
type Intent string

const (
	// IntentSymbol looks for a named definition (function, class, type).
	IntentSymbol Intent = "symbol"
	// IntentConfig looks for configuration files and keys.
	IntentConfig Intent = "config"
	// IntentAPI looks for route handlers and endpoint wiring.
	IntentAPI Intent = "api"
	// IntentIncident investigates an error, exception, or failure.
	IntentIncident Intent = "incident"
	// IntentSearch is the general fallback when nothing scores higher.
	IntentSearch Intent = "search"
)

// Intents lists every intent in a stable order.
var Intents = []Intent{IntentSymbol, IntentConfig, IntentAPI, IntentIncident, IntentSearch}

// Valid reports whether i is a known intent.
func (i Intent) Valid() bool {
	switch i {
	case IntentSymbol, IntentConfig, IntentAPI, IntentIncident, IntentSearch:
		return true
	default:
		return false
	}
}

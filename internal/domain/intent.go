package domain

// IntentKind tags the variants of Intent.
type IntentKind string

const (
	// IntentNone means the inbound text was not a signal. Silent drop.
	IntentNone IntentKind = "NONE"
	// IntentOpen opens a position on every configured account.
	IntentOpen IntentKind = "OPEN"
	// IntentClose closes the position for a symbol.
	IntentClose IntentKind = "CLOSE"
	// IntentCommand is a per-user command scoped to the sender's account.
	IntentCommand IntentKind = "COMMAND"
)

// CloseScope says whether a close intent targets all accounts or one user.
type CloseScope string

const (
	CloseAll     CloseScope = "ALL"
	ClosePerUser CloseScope = "PER_USER"
)

// Intent is the canonical interpretation of one inbound text line.
// Exactly one interpretation exists per line; everything downstream
// switches on Kind and never re-parses text.
type Intent struct {
	Kind   IntentKind
	Side   PositionSide // IntentOpen only
	Symbol string       // normalized tradable symbol, e.g. "BTC-USDT"
	Scope  CloseScope   // IntentClose only
	User   string       // IntentCommand and per-user closes: sender identity
	Verb   string       // IntentCommand only, lowercase without leading slash
	Args   []string     // IntentCommand only
}

// NoIntent is the sentinel result for unparsable lines.
var NoIntent = Intent{Kind: IntentNone}

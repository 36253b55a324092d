// Package signal maps inbound text lines to canonical intents.
// Interpretation is pure: unmatched text is not a signal and not an error.
package signal

import (
	"regexp"
	"strings"

	"neptunebot/internal/domain"
)

// QuoteSuffix is the quote asset appended to bare tickers to form the
// tradable symbol.
const QuoteSuffix = "-USDT"

var signalPattern = regexp.MustCompile(`^(BUY|SELL|CLOSE)\s+([A-Z0-9:._-]+)$`)

var commandVerbs = map[string]bool{
	"balance":   true,
	"positions": true,
	"close":     true,
	"help":      true,
}

// Interpret maps one inbound line to its single canonical Intent.
// Lines that match none of the recognized forms yield domain.NoIntent;
// callers drop those silently.
func Interpret(sender, text string) domain.Intent {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return domain.NoIntent
	}

	if strings.HasPrefix(trimmed, "/") {
		return interpretCommand(sender, trimmed)
	}

	m := signalPattern.FindStringSubmatch(strings.ToUpper(trimmed))
	if m == nil {
		return domain.NoIntent
	}
	symbol := NormalizeSymbol(m[2])

	switch m[1] {
	case "BUY":
		return domain.Intent{Kind: domain.IntentOpen, Side: domain.Long, Symbol: symbol}
	case "SELL":
		return domain.Intent{Kind: domain.IntentOpen, Side: domain.Short, Symbol: symbol}
	case "CLOSE":
		return domain.Intent{Kind: domain.IntentClose, Scope: domain.CloseAll, Symbol: symbol}
	}
	return domain.NoIntent
}

func interpretCommand(sender, trimmed string) domain.Intent {
	fields := strings.Fields(trimmed)
	verb := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if !commandVerbs[verb] {
		return domain.NoIntent
	}
	args := fields[1:]
	for i, a := range args {
		args[i] = NormalizeSymbol(a)
	}
	return domain.Intent{
		Kind: domain.IntentCommand,
		User: sender,
		Verb: verb,
		Args: args,
	}
}

// NormalizeSymbol turns a ticker as charting tools emit it ("btc",
// "BINANCE:ETHUSDT", "SOL-USDT") into the engine's tradable form
// ("BTC-USDT"): exchange prefix stripped, uppercased, quote suffix appended.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	if strings.HasSuffix(s, QuoteSuffix) {
		return s
	}
	quote := strings.TrimPrefix(QuoteSuffix, "-")
	if strings.HasSuffix(s, quote) && len(s) > len(quote) {
		s = strings.TrimSuffix(s, quote)
		s = strings.TrimSuffix(s, "-")
	}
	return s + QuoteSuffix
}

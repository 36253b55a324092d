package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"neptunebot/internal/domain"
)

func TestInterpret_Signals(t *testing.T) {
	tests := []struct {
		name string
		text string
		want domain.Intent
	}{
		{
			name: "buy bare ticker",
			text: "BUY BTC",
			want: domain.Intent{Kind: domain.IntentOpen, Side: domain.Long, Symbol: "BTC-USDT"},
		},
		{
			name: "sell lowercase",
			text: "sell eth",
			want: domain.Intent{Kind: domain.IntentOpen, Side: domain.Short, Symbol: "ETH-USDT"},
		},
		{
			name: "close mixed case with extra whitespace",
			text: "  Close   sol  ",
			want: domain.Intent{Kind: domain.IntentClose, Scope: domain.CloseAll, Symbol: "SOL-USDT"},
		},
		{
			name: "exchange prefix stripped",
			text: "BUY BINANCE:ETHUSDT",
			want: domain.Intent{Kind: domain.IntentOpen, Side: domain.Long, Symbol: "ETH-USDT"},
		},
		{
			name: "usdt suffix collapsed",
			text: "sell BTCUSDT",
			want: domain.Intent{Kind: domain.IntentOpen, Side: domain.Short, Symbol: "BTC-USDT"},
		},
		{
			name: "already tradable form",
			text: "buy BTC-USDT",
			want: domain.Intent{Kind: domain.IntentOpen, Side: domain.Long, Symbol: "BTC-USDT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Interpret("someone", tt.text)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInterpret_NoIntent(t *testing.T) {
	for _, text := range []string{
		"",
		"   ",
		"hello there",
		"BUY",
		"BUY BTC ETH",
		"HOLD BTC",
		"buy btc now",
		"/unknown",
		"/fly BTC",
	} {
		t.Run(text, func(t *testing.T) {
			assert.Equal(t, domain.NoIntent, Interpret("someone", text))
		})
	}
}

func TestInterpret_Commands(t *testing.T) {
	tests := []struct {
		name string
		text string
		want domain.Intent
	}{
		{
			name: "balance",
			text: "/balance",
			want: domain.Intent{Kind: domain.IntentCommand, User: "alice", Verb: "balance", Args: []string{}},
		},
		{
			name: "positions uppercase",
			text: "/POSITIONS",
			want: domain.Intent{Kind: domain.IntentCommand, User: "alice", Verb: "positions", Args: []string{}},
		},
		{
			name: "close with symbol",
			text: "/close btc",
			want: domain.Intent{Kind: domain.IntentCommand, User: "alice", Verb: "close", Args: []string{"BTC-USDT"}},
		},
		{
			name: "help",
			text: "/help",
			want: domain.Intent{Kind: domain.IntentCommand, User: "alice", Verb: "help", Args: []string{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Interpret("alice", tt.text))
		})
	}
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "BTC-USDT", NormalizeSymbol("btc"))
	assert.Equal(t, "BTC-USDT", NormalizeSymbol("BTCUSDT"))
	assert.Equal(t, "BTC-USDT", NormalizeSymbol("BTC-USDT"))
	assert.Equal(t, "ETH-USDT", NormalizeSymbol("BINANCE:ETHUSDT"))
	assert.Equal(t, "1000PEPE-USDT", NormalizeSymbol("1000pepeusdt"))
}

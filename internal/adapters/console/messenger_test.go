package console

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neptunebot/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func TestListen_DeliversLinesInOrder(t *testing.T) {
	in := strings.NewReader("BUY BTC\n\n  \n1001> /balance\nCLOSE ETH\n")
	m, err := New(in, &bytes.Buffer{}, nopLogger{})
	require.NoError(t, err)

	var got []ports.InboundMessage
	err = m.Listen(context.Background(), func(msg ports.InboundMessage) {
		got = append(got, msg)
	})
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, "console", got[0].Sender)
	assert.Equal(t, "BUY BTC", got[0].Text)
	assert.Equal(t, "1001", got[1].Sender)
	assert.Equal(t, "/balance", got[1].Text)
	assert.Equal(t, "CLOSE ETH", got[2].Text)
}

func TestReplyAndBroadcast(t *testing.T) {
	var out bytes.Buffer
	m, err := New(strings.NewReader(""), &out, nopLogger{})
	require.NoError(t, err)

	require.NoError(t, m.Reply(context.Background(), "1001", "balance: 42.00 USDT"))
	require.NoError(t, m.Broadcast(context.Background(), "BUY BTC-USDT: 2/2 accounts"))

	assert.Contains(t, out.String(), "[1001] balance: 42.00 USDT")
	assert.Contains(t, out.String(), "BUY BTC-USDT: 2/2 accounts")
}

func TestParseLine_PrefixRules(t *testing.T) {
	tests := []struct {
		line   string
		sender string
		text   string
	}{
		{"BUY BTC", "console", "BUY BTC"},
		{"1001> BUY BTC", "1001", "BUY BTC"},
		{"alice> /positions", "alice", "/positions"},
		// a ">" inside signal text is not a prefix
		{"a b> text", "console", "a b> text"},
		{"> text", "console", "> text"},
	}
	for _, tt := range tests {
		msg := parseLine(tt.line)
		assert.Equal(t, tt.sender, msg.Sender, tt.line)
		assert.Equal(t, tt.text, msg.Text, tt.line)
	}
}

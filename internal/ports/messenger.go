package ports

import (
	"context"
	"time"
)

// InboundMessage is one text line delivered by the messaging transport.
type InboundMessage struct {
	Sender     string // opaque sender identity
	Text       string
	ReceivedAt time.Time
}

// Messenger is the messaging transport collaborator: it delivers inbound
// lines from the monitored channel and carries status text back out.
// The transport's mechanics (Telegram, chat bridge, test harness) are
// adapter concerns.
type Messenger interface {
	// Listen invokes handler for each inbound message, one at a time, in
	// arrival order, until ctx is done or the transport fails.
	Listen(ctx context.Context, handler func(msg InboundMessage)) error
	// Reply sends text to a single identity.
	Reply(ctx context.Context, recipient, text string) error
	// Broadcast sends text to the monitored channel.
	Broadcast(ctx context.Context, text string) error
}

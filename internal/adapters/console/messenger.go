// Package console is a line-oriented ports.Messenger over stdin/stdout,
// used for local operation and smoke testing. Lines are signal or command
// text; an "identity>" prefix attributes the line to a specific account
// identity, e.g. "1001> /balance".
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"neptunebot/internal/ports"
)

const defaultSender = "console"

// Messenger reads inbound lines from in and writes replies to out.
type Messenger struct {
	in     io.Reader
	out    io.Writer
	logger ports.Logger
}

// New creates a console messenger.
func New(in io.Reader, out io.Writer, logger ports.Logger) (*Messenger, error) {
	if in == nil || out == nil {
		return nil, fmt.Errorf("console messenger requires input and output streams")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for console messenger")
	}
	return &Messenger{in: in, out: out, logger: logger}, nil
}

// Listen delivers each non-empty input line to handler until ctx is done or
// the input stream ends.
func (m *Messenger) Listen(ctx context.Context, handler func(msg ports.InboundMessage)) error {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(m.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return fmt.Errorf("console input failed: %w", err)
		case line, ok := <-lines:
			if !ok {
				m.logger.Info(ctx, "Console input closed", nil)
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			handler(parseLine(line))
		}
	}
}

// Reply writes text addressed to one identity.
func (m *Messenger) Reply(ctx context.Context, recipient, text string) error {
	_, err := fmt.Fprintf(m.out, "[%s] %s\n", recipient, text)
	return err
}

// Broadcast writes text for everyone watching the console.
func (m *Messenger) Broadcast(ctx context.Context, text string) error {
	_, err := fmt.Fprintln(m.out, text)
	return err
}

// parseLine splits an optional "identity>" prefix off the message text.
func parseLine(line string) ports.InboundMessage {
	sender := defaultSender
	text := line
	if idx := strings.Index(line, ">"); idx > 0 {
		prefix := strings.TrimSpace(line[:idx])
		rest := strings.TrimSpace(line[idx+1:])
		if prefix != "" && rest != "" && !strings.ContainsAny(prefix, " \t") {
			sender = prefix
			text = rest
		}
	}
	return ports.InboundMessage{Sender: sender, Text: text, ReceivedAt: time.Now().UTC()}
}

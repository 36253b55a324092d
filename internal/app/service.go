// Package app wires the messaging loop to the dispatcher: inbound lines are
// interpreted one at a time, fanned out across all accounts, and the
// aggregated outcome is reported back over the messenger. Per-user commands
// are routed to the single account owning the sender's identity.
package app

import (
	"context"
	"fmt"
	"strings"

	"neptunebot/internal/dispatch"
	"neptunebot/internal/domain"
	"neptunebot/internal/executor"
	"neptunebot/internal/monitor"
	"neptunebot/internal/ports"
	"neptunebot/internal/signal"
)

const helpText = `commands:
  /balance          show your account's margin balance
  /positions        list your account's open positions
  /close <symbol>   close your account's position in a symbol
  /help             show this text
signals: BUY <ticker>, SELL <ticker>, CLOSE <ticker>`

// Service is the engine's top-level loop.
type Service struct {
	messenger  ports.Messenger
	dispatcher *dispatch.Dispatcher
	monitor    *monitor.Monitor // nil disables reconciliation
	logger     ports.Logger
}

// Config holds the dependencies required by the application service.
type Config struct {
	Messenger  ports.Messenger
	Dispatcher *dispatch.Dispatcher
	Monitor    *monitor.Monitor
	Logger     ports.Logger
}

// New creates the application service.
func New(cfg Config) (*Service, error) {
	if cfg.Messenger == nil {
		return nil, fmt.Errorf("messenger is required for app service")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required for app service")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for app service")
	}
	return &Service{
		messenger:  cfg.Messenger,
		dispatcher: cfg.Dispatcher,
		monitor:    cfg.Monitor,
		logger:     cfg.Logger,
	}, nil
}

// Run starts the monitor and blocks processing inbound messages, one at a
// time in arrival order, until ctx is cancelled or the transport fails.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info(ctx, "Engine started", map[string]interface{}{"accounts": len(s.dispatcher.Executors())})
	if s.monitor != nil {
		go s.monitor.Run(ctx)
	}
	err := s.messenger.Listen(ctx, func(msg ports.InboundMessage) {
		s.handle(ctx, msg)
	})
	if err != nil && ctx.Err() != nil {
		// Shutdown, not a transport failure.
		err = nil
	}
	s.logger.Info(ctx, "Engine stopped", nil)
	return err
}

func (s *Service) handle(ctx context.Context, msg ports.InboundMessage) {
	intent := signal.Interpret(msg.Sender, msg.Text)
	switch intent.Kind {
	case domain.IntentNone:
		s.logger.Debug(ctx, "Dropping unrecognized line", map[string]interface{}{"sender": msg.Sender, "text": msg.Text})

	case domain.IntentCommand:
		s.handleCommand(ctx, intent)

	case domain.IntentOpen, domain.IntentClose:
		s.logger.Info(ctx, "Dispatching intent", map[string]interface{}{
			"kind": intent.Kind, "symbol": intent.Symbol, "side": intent.Side, "sender": msg.Sender,
		})
		results := s.dispatcher.Dispatch(ctx, intent)
		if err := s.messenger.Broadcast(ctx, statusReport(intent, results)); err != nil {
			s.logger.Warn(ctx, "Status broadcast failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (s *Service) handleCommand(ctx context.Context, intent domain.Intent) {
	exec := s.dispatcher.ByIdentity(intent.User)
	if exec == nil {
		s.reply(ctx, intent.User, "unrecognized user")
		return
	}

	switch intent.Verb {
	case "balance":
		balance, err := exec.Balance(ctx)
		if err != nil {
			s.reply(ctx, intent.User, "balance unavailable")
			return
		}
		s.reply(ctx, intent.User, fmt.Sprintf("balance: %.2f available / %.2f total USDT", balance.Available, balance.Total))

	case "positions":
		snapshots, err := exec.Positions(ctx)
		if err != nil {
			s.reply(ctx, intent.User, "positions unavailable")
			return
		}
		if len(snapshots) == 0 {
			s.reply(ctx, intent.User, "no open positions")
			return
		}
		var b strings.Builder
		for i, p := range snapshots {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%s %s qty %g entry %.4f mark %.4f pnl %+.2f", p.Symbol, p.Side, p.Quantity, p.EntryPrice, p.MarkPrice, p.UnrealizedPnL)
		}
		s.reply(ctx, intent.User, b.String())

	case "close":
		if len(intent.Args) == 0 {
			s.reply(ctx, intent.User, "usage: /close <symbol>")
			return
		}
		res := exec.ExecuteClose(ctx, domain.Intent{
			Kind:   domain.IntentClose,
			Scope:  domain.ClosePerUser,
			Symbol: intent.Args[0],
		})
		s.reply(ctx, intent.User, res.Message)

	case "help":
		s.reply(ctx, intent.User, helpText)
	}
}

func (s *Service) reply(ctx context.Context, recipient, text string) {
	if err := s.messenger.Reply(ctx, recipient, text); err != nil {
		s.logger.Warn(ctx, "Command reply failed", map[string]interface{}{"recipient": recipient, "error": err.Error()})
	}
}

// statusReport aggregates per-account results into the broadcast text:
// a "succeeded/total accounts" header followed by one line per account in
// configuration order.
func statusReport(intent domain.Intent, results []executor.Result) string {
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}

	var header string
	switch intent.Kind {
	case domain.IntentOpen:
		header = fmt.Sprintf("%s %s", intent.Side, intent.Symbol)
	default:
		header = fmt.Sprintf("CLOSE %s", intent.Symbol)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d/%d accounts", header, succeeded, len(results))
	for _, r := range results {
		fmt.Fprintf(&b, "\n%s: %s", r.User, r.Message)
	}
	return b.String()
}

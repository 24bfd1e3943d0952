// Package notify delivers formatted messages to subscribers, pacing sends
// so bursts of slot notifications stay inside the chat API's rate budget.
package notify

import (
	"context"

	"golang.org/x/time/rate"

	kit "slotwatch/internal/transport"
	logx "slotwatch/pkg/logx"
)

// Sender is the slice of the transport adapter the notifier needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Config struct {
	// RatePerSec caps outgoing messages per second (token bucket).
	RatePerSec int
}

type Service struct {
	sender  Sender
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	per := cfg.RatePerSec
	if per <= 0 {
		per = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		sender: sender,
		// burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(per), per),
		log:     log,
	}
}

// Apply swaps the rate limit at runtime (config hot reload).
func (s *Service) Apply(cfg Config) {
	per := cfg.RatePerSec
	if per <= 0 {
		per = 3
	}
	s.limiter.SetLimit(rate.Limit(per))
	s.limiter.SetBurst(per)
}

// Send delivers one message, waiting on the rate limiter first.
func (s *Service) Send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	if opt == nil {
		opt = &kit.SendOptions{DisablePreview: true}
	}
	_, err := s.sender.SendText(ctx, to, text, opt)
	if err != nil {
		s.log.Warn("send failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
		return err
	}
	s.log.Debug("sent", logx.Int64("chat_id", to.ChatID))
	return nil
}

// SendMarkdown delivers one MarkdownV2 message.
func (s *Service) SendMarkdown(ctx context.Context, to kit.ChatTarget, text string) error {
	return s.Send(ctx, to, text, &kit.SendOptions{
		ParseMode:      kit.ParseModeMarkdownV2,
		DisablePreview: true,
	})
}

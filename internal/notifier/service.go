package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"seatwatch/internal/eventbus"
	kit "seatwatch/internal/transport"
	"seatwatch/pkg/logx"
)

var ErrEmpty = errors.New("notifier: empty message")

// Service implements agent.Notifier. It is safe for concurrent use.
type Service struct {
	log    logx.Logger
	sender kit.Sender
	bus    eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{log: log, sender: sender, bus: bus}
	s.Apply(cfg)
	return s
}

// Apply swaps rate, timeout and retry settings; in-flight sends keep theirs.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	burst := max(int(cfg.RatePerSec), 1)
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	} else {
		s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
		s.limiter.SetBurst(burst)
	}
	if s.cfg.HistorySize != cfg.HistorySize {
		s.hmu.Lock()
		if len(s.history) > cfg.HistorySize {
			s.history = s.history[len(s.history)-cfg.HistorySize:]
		}
		s.hmu.Unlock()
	}
	s.cfg = cfg
}

// Notify delivers text to the configured chat, retrying transient failures
// until the retry budget or ctx runs out. A retry resumes after the parts
// that already went out; permanent failures are not retried.
func (s *Service) Notify(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmpty
	}
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	start := time.Now()
	var (
		ref      kit.MessageRef
		err      error
		attempts int
		sent     int
	)
	for attempts = 1; attempts <= 1+cfg.RetryMax; attempts++ {
		if err = lim.Wait(ctx); err != nil {
			err = fmt.Errorf("rate limit wait: %w", err)
			break
		}
		actx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		ref, err = s.sender.SendText(actx, cfg.Target, text, &kit.SendOptions{DisablePreview: true, SkipParts: sent})
		cancel()
		sent = max(sent, ref.Parts)
		if err == nil {
			break
		}
		s.log.Debug("notify attempt failed", logx.Int("attempt", attempts), logx.Int("parts_sent", sent), logx.Err(err))
		if attempts > cfg.RetryMax || errors.Is(err, kit.ErrPermanent) {
			break
		}
		if werr := sleep(ctx, retryDelay(cfg, attempts)); werr != nil {
			break
		}
	}
	attempts = min(attempts, 1+cfg.RetryMax)

	ev := NotificationEvent{
		ChatID:   cfg.Target.ChatID,
		ThreadID: cfg.Target.ThreadID,
		Attempts: attempts,
		Took:     time.Since(start),
	}
	item := HistoryItem{At: start, Text: text, Parts: sent}
	if err != nil {
		ev.Error, item.Error = err.Error(), err.Error()
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifyFailed, Time: time.Now(), Data: ev})
		s.appendHistory(item, cfg.HistorySize)
		return fmt.Errorf("notify after %d attempt(s): %w", attempts, err)
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifySent, Time: time.Now(), Data: ev})
	s.appendHistory(item, cfg.HistorySize)
	s.log.Info("notification sent", logx.Int("attempts", attempts), logx.Int("parts", sent))
	return nil
}

// History returns recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem, size int) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

// retryDelay is base*2^(attempt-1) capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package adapter implements transport.Adapter on top of telebot.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "seatwatch/internal/transport"
	rtsup "seatwatch/internal/runtime/supervisor"
	"seatwatch/pkg/logx"
)

// TextLimit is Telegram's maximum message length in characters.
const TextLimit = 4096

type Config struct {
	Token       string
	PollTimeout time.Duration // long-poll timeout; default 10s
	// RequestTimeout caps one Bot API request. It must outlast a long poll;
	// default PollTimeout+10s.
	RequestTimeout time.Duration
	// URL overrides the Bot API endpoint.
	URL string
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	out     atomic.Pointer[chan<- kit.Message]
	dropped atomic.Uint64
	me      atomic.Pointer[tele.User]

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= cfg.PollTimeout {
		cfg.RequestTimeout = cfg.PollTimeout + 10*time.Second
	}
	// Offline: getMe runs later in the poll task, so an unreachable API
	// never fails construction.
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Client:  &http.Client{Timeout: cfg.RequestTimeout},
		Offline: true,
		OnError: func(err error, _ tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	b.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.forward(kit.Message{
			ID:           m.ID,
			ChatID:       m.Chat.ID,
			ThreadID:     m.ThreadID,
			FromID:       m.Sender.ID,
			FromUsername: m.Sender.Username,
			Text:         m.Text,
		})
		return nil
	})
	return a, nil
}

func (a *Adapter) forward(m kit.Message) {
	p := a.out.Load()
	if p == nil || *p == nil {
		return
	}
	select {
	case *p <- m:
	default:
		a.dropped.Add(1)
	}
}

// Start begins long polling; incoming text messages go to out.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Message) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.out.Store(&out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))))
	sup := a.sup

	sup.Go("updates.drop_report", func(c context.Context) error {
		t := time.NewTicker(30 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return nil
			case <-t.C:
				if n := a.dropped.Swap(0); n > 0 {
					a.log.Warn("incoming messages dropped (channel full)", logx.Int64("count", int64(n)))
				}
			}
		}
	})
	// telebot's Start blocks until Stop; restart it if it returns early.
	// Until getMe succeeds the task fails and retries with backoff.
	sup.GoRestart("telebot.poll", a.poll,
		rtsup.WithRestartBackoff(time.Second, time.Minute),
		rtsup.WithRestartOnCleanExit(true),
	)
	return nil
}

func (a *Adapter) poll(ctx context.Context) error {
	if err := a.identify(ctx); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.bot.Stop()
		<-done
		return nil
	}
}

// identify fetches the bot's own account once. Polling needs the username
// to route "/cmd@bot" commands.
func (a *Adapter) identify(ctx context.Context) error {
	if a.me.Load() != nil {
		return nil
	}
	raw, err := await(ctx, func() ([]byte, error) { return a.bot.Raw("getMe", nil) })
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	var resp struct {
		Result *tele.User `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	if resp.Result == nil {
		return errors.New("telegram getMe: empty result")
	}
	// safe: polling has not started yet
	a.bot.Me = resp.Result
	a.me.Store(resp.Result)
	a.log.Info("telegram connected", logx.String("bot", resp.Result.Username))
	return nil
}

// Me returns the bot account once getMe has succeeded, nil before.
func (a *Adapter) Me() *tele.User { return a.me.Load() }

// Stop ends polling. It never blocks shutdown for more than a couple of
// seconds on an in-flight getUpdates.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	wasRunning := a.running
	a.sup, a.running = nil, false
	a.out.Store(nil)
	a.runMu.Unlock()
	if !wasRunning || sup == nil {
		return nil
	}

	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		a.log.Warn("telegram stop timed out", logx.Err(err))
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := SplitText(text, TextLimit)
	chat := &tele.Chat{ID: to.ChatID}

	skip := min(max(opt.SkipParts, 0), len(chunks))
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, Parts: skip}
	for i := skip; i < len(chunks); i++ {
		if err := ctx.Err(); err != nil {
			return ref, err
		}
		sopt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		msg, err := await(ctx, func() (*tele.Message, error) { return a.bot.Send(chat, chunks[i], sopt) })
		if err != nil {
			return ref, fmt.Errorf("telegram send part %d/%d: %w", i+1, len(chunks), classify(err))
		}
		if ref.MessageID == 0 {
			ref.MessageID = msg.ID
		}
		ref.Parts = i + 1
	}
	return ref, nil
}

// classify marks 4xx Bot API rejections as permanent. Network failures,
// 5xx and flood control (429) stay retryable.
func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return err
	}
	var api *tele.Error
	if errors.As(err, &api) && api.Code >= 400 && api.Code < 500 && api.Code != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", kit.ErrPermanent, err)
	}
	return err
}

// await runs fn but returns as soon as ctx is done. telebot requests carry
// no context; the abandoned call ends at the client timeout.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

// SetCommands publishes the bot command menu.
func (a *Adapter) SetCommands(ctx context.Context, cmds []kit.BotCommand) error {
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		out = append(out, tele.Command{Text: c.Command, Description: d})
	}
	if _, err := await(ctx, func() (struct{}, error) { return struct{}{}, a.bot.SetCommands(out) }); err != nil {
		return fmt.Errorf("telegram setMyCommands: %w", err)
	}
	return nil
}

// SplitText splits s into chunks of at most limit runes, cutting after a
// newline when one exists in the window.
func SplitText(s string, limit int) []string {
	if limit <= 0 {
		limit = TextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		if chunk := strings.TrimRight(string(rs[start:end]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		start = end
	}
	return out
}

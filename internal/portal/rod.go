package portal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"seatwatch/pkg/logx"
)

// rodSession drives one stealth page in a dedicated browser.
type rodSession struct {
	browser *rod.Browser
	page    *rod.Page
	lnch    *launcher.Launcher // nil when connected to a remote browser
	log     logx.Logger
}

func launchRod(ctx context.Context, cfg Config, log logx.Logger) (session, error) {
	s := &rodSession{log: log}

	wsURL := cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Context(ctx).
			Headless(cfg.Headless).
			NoSandbox(true).
			Set("disable-gpu").
			Set("window-size", "1920,1080").
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		s.lnch = l
		wsURL = u
		log.Debug("launched local chrome", logx.String("url", wsURL))
	} else {
		log.Debug("connecting to remote chrome", logx.String("url", wsURL))
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		s.cleanupLauncher()
		return nil, fmt.Errorf("connect: %w", err)
	}
	s.browser = b

	p, err := stealth.Page(b)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	s.page = p
	return s, nil
}

func (s *rodSession) Open(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("load %s: %w", url, err)
	}
	return nil
}

func (s *rodSession) Fill(ctx context.Context, selector, value string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("find %s: %w", selector, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("input %s: %w", selector, err)
	}
	return nil
}

func (s *rodSession) Click(ctx context.Context, selector string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("find %s: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (s *rodSession) WaitURLContains(ctx context.Context, substr string) error {
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		info, err := s.page.Context(ctx).Info()
		if err == nil && strings.Contains(info.URL, substr) {
			return nil
		}
		select {
		case <-ctx.Done():
			last := ""
			if info != nil {
				last = info.URL
			}
			return fmt.Errorf("url never contained %q (last %q): %w", substr, last, ctx.Err())
		case <-tick.C:
		}
	}
}

func (s *rodSession) Options(ctx context.Context, selector string) ([]string, error) {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", selector, err)
	}
	opts, err := el.Elements("option")
	if err != nil {
		return nil, fmt.Errorf("options of %s: %w", selector, err)
	}
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		v, err := o.Attribute("value")
		if err != nil {
			return nil, fmt.Errorf("option value: %w", err)
		}
		if v != nil {
			out = append(out, *v)
		}
	}
	return out, nil
}

// Choose selects value in the dropdown. The page posts back on change, so the
// element is looked up again every time.
func (s *rodSession) Choose(ctx context.Context, selector, value string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("find %s: %w", selector, err)
	}
	opt := fmt.Sprintf(`option[value=%q]`, value)
	if err := el.Select([]string{opt}, true, rod.SelectorTypeCSSSector); err != nil {
		return fmt.Errorf("select %s: %w", value, err)
	}
	return nil
}

func (s *rodSession) RowTexts(ctx context.Context) ([]string, error) {
	p := s.page.Context(ctx)
	if err := p.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	rows, err := p.Elements("tr")
	if err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		txt, err := r.Text()
		if err != nil {
			// row replaced mid-read; skip it
			continue
		}
		out = append(out, txt)
	}
	return out, nil
}

func (s *rodSession) Close() error {
	var err error
	if s.page != nil {
		err = s.page.Close()
	}
	// a remote browser outlives us; only our page is closed
	if s.browser != nil && s.lnch != nil {
		err = s.browser.Close()
	}
	s.cleanupLauncher()
	return err
}

func (s *rodSession) cleanupLauncher() {
	if s.lnch != nil {
		s.lnch.Kill()
		s.lnch.Cleanup()
		s.lnch = nil
	}
}

package portal

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"seatwatch/internal/detect"
	"seatwatch/pkg/logx"
)

type fakeSession struct {
	calls   []string
	options []string
	rows    map[string][]string // per slot
	chosen  string
	failOn  string
	loginOK bool
	closed  bool
}

func (f *fakeSession) step(name string) error {
	f.calls = append(f.calls, name)
	if f.failOn != "" && strings.HasPrefix(name, f.failOn) {
		return errors.New("element not found")
	}
	return nil
}

func (f *fakeSession) Open(_ context.Context, url string) error { return f.step("open " + url) }
func (f *fakeSession) Fill(_ context.Context, sel, _ string) error {
	return f.step("fill " + sel)
}
func (f *fakeSession) Click(_ context.Context, sel string) error { return f.step("click " + sel) }

func (f *fakeSession) WaitURLContains(ctx context.Context, substr string) error {
	if err := f.step("waiturl " + substr); err != nil {
		return err
	}
	if !f.loginOK {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeSession) Options(_ context.Context, sel string) ([]string, error) {
	if err := f.step("options " + sel); err != nil {
		return nil, err
	}
	return f.options, nil
}

func (f *fakeSession) Choose(_ context.Context, sel, v string) error {
	f.chosen = v
	return f.step("choose " + v)
}

func (f *fakeSession) RowTexts(context.Context) ([]string, error) {
	if err := f.step("rows"); err != nil {
		return nil, err
	}
	return f.rows[f.chosen], nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func testObserver(fs *fakeSession, launchErr error) *Observer {
	o := New(Config{
		LoginURL:    "https://portal/Login.aspx",
		EnrollURL:   "https://portal/StudentPortal/Enrollment.aspx",
		Username:    "u",
		Password:    "p",
		Prefix:      "CSA07",
		WaitTimeout: 50 * time.Millisecond,
	}, logx.Nop())
	o.launch = func(context.Context, Config, logx.Logger) (session, error) {
		if launchErr != nil {
			return nil, launchErr
		}
		return fs, nil
	}
	o.sleep = func(context.Context, time.Duration) error { return nil }
	return o
}

func TestObserveWalksEverySlot(t *testing.T) {
	t.Parallel()
	fs := &fakeSession{
		loginOK: true,
		options: []string{"", "A", "B"},
		rows: map[string][]string{
			"A": {"Code Name Seats", "CSA0701 Algorithms 10"},
			"B": {"CSA0702 Compilers 0", "CSA0701 Algorithms 8", "ECE0101 Other 3"},
		},
	}
	snap, err := testObserver(fs, nil).Observe(context.Background())
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	want := detect.NewSnapshot(
		detect.Item{Code: "CSA0701", Quantity: 8},
		detect.Item{Code: "CSA0702", Quantity: 0},
	)
	if !reflect.DeepEqual(snap.Items(), want.Items()) {
		t.Fatalf("snapshot = %+v", snap.Items())
	}
	if !fs.closed {
		t.Fatal("session not closed")
	}
	wantCalls := []string{
		"open https://portal/Login.aspx",
		"fill #txtusername",
		"fill #txtpassword",
		"click #btnlogin",
		"waiturl StudentPortal",
		"open https://portal/StudentPortal/Enrollment.aspx",
		"options #cphbody_ddlslot",
		"choose A", "rows",
		"choose B", "rows",
	}
	if !reflect.DeepEqual(fs.calls, wantCalls) {
		t.Fatalf("calls = %q", fs.calls)
	}
}

func TestObserveStageErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		fs        *fakeSession
		launchErr error
		want      Stage
	}{
		{"launch", &fakeSession{}, errors.New("chrome missing"), StageLaunch},
		{"login field missing", &fakeSession{failOn: "fill"}, nil, StageLogin},
		{"login rejected", &fakeSession{}, nil, StageLogin},
		{"enroll page", &fakeSession{loginOK: true, failOn: "open https://portal/StudentPortal"}, nil, StageNavigate},
		{"no dropdown", &fakeSession{loginOK: true, failOn: "options"}, nil, StageSlots},
		{"rows", &fakeSession{loginOK: true, options: []string{"A"}, failOn: "rows"}, nil, StageScan},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := testObserver(tt.fs, tt.launchErr).Observe(context.Background())
			var pe *Error
			if !errors.As(err, &pe) || pe.Stage != tt.want {
				t.Fatalf("err = %v, want stage %s", err, tt.want)
			}
			if tt.launchErr == nil && !tt.fs.closed {
				t.Fatal("session not closed after failure")
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	if err := (Config{}).Validate(); err == nil {
		t.Fatal("empty config accepted")
	}
	ok := Config{LoginURL: "a", EnrollURL: "b", Username: "u", Password: "p", Prefix: "CSA07"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

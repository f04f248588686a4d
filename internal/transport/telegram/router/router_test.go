package router

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	kit "seatwatch/internal/transport"
	"seatwatch/pkg/logx"
)

type recordSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *recordSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return kit.MessageRef{}, nil
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		name string
		args []string
		ok   bool
	}{
		{"/status", "status", []string{}, true},
		{"  /Items@SeatBot   all ", "items", []string{"all"}, true},
		{"status", "", nil, false},
		{"/", "", nil, false},
		{"/@bot", "", nil, false},
	}
	for _, tt := range tests {
		name, args, ok := ParseCommand(tt.in)
		if ok != tt.ok || name != tt.name || (ok && !reflect.DeepEqual(args, tt.args)) {
			t.Errorf("ParseCommand(%q) = %q,%q,%v", tt.in, name, args, ok)
		}
	}
}

func TestDispatchAccess(t *testing.T) {
	t.Parallel()
	snd := &recordSender{}
	r := New(snd, logx.Nop(), []int64{42})
	r.Register(
		Command{Name: "status", Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "ok")
		}},
		Command{Name: "ping", Access: AccessEveryone, Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "pong")
		}},
		Command{Name: "boom", Handle: func(context.Context, *Request) error { panic("x") }},
		Command{Name: "fail", Handle: func(context.Context, *Request) error { return errors.New("store down") }},
	)
	ctx := context.Background()

	r.Dispatch(ctx, kit.Message{FromID: 7, Text: "/status"})  // stranger: silent
	r.Dispatch(ctx, kit.Message{FromID: 7, Text: "/nope"})    // stranger: silent
	r.Dispatch(ctx, kit.Message{FromID: 7, Text: "/ping"})    // public
	r.Dispatch(ctx, kit.Message{FromID: 42, Text: "/status"}) // owner
	r.Dispatch(ctx, kit.Message{FromID: 42, Text: "/nope"})
	r.Dispatch(ctx, kit.Message{FromID: 42, Text: "/boom"})
	r.Dispatch(ctx, kit.Message{FromID: 42, Text: "/fail"})
	r.Dispatch(ctx, kit.Message{FromID: 42, Text: "hello"})

	want := []string{
		"pong",
		"ok",
		"unknown command, try /help",
		"command failed: panic: x",
		"command failed: store down",
	}
	if !reflect.DeepEqual(snd.sent, want) {
		t.Fatalf("sent = %q", snd.sent)
	}
}

func TestCommandsSorted(t *testing.T) {
	t.Parallel()
	r := New(&recordSender{}, logx.Nop(), nil)
	r.Register(Command{Name: "status", Description: "s"}, Command{Name: "items", Description: "i"})
	got := r.Commands()
	if len(got) != 2 || got[0].Command != "items" || got[1].Command != "status" {
		t.Fatalf("commands = %+v", got)
	}
}

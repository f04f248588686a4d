// Package router dispatches Telegram slash commands to handlers.
package router

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	kit "seatwatch/internal/transport"
	"seatwatch/pkg/logx"
)

type Access int

const (
	AccessOwnerOnly Access = iota
	AccessEveryone
)

type Command struct {
	Name        string
	Description string
	Access      Access
	Timeout     time.Duration // default 10s
	Handle      HandlerFunc
}

type Request struct {
	Message kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string

	sender kit.Sender
}

// Reply sends text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

type Router struct {
	log    logx.Logger
	sender kit.Sender

	mu     sync.RWMutex
	cmds   map[string]Command
	owners []int64
}

func New(sender kit.Sender, log logx.Logger, owners []int64) *Router {
	return &Router{
		log:    log,
		sender: sender,
		cmds:   map[string]Command{},
		owners: append([]int64(nil), owners...),
	}
}

func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		r.cmds[strings.ToLower(c.Name)] = c
	}
}

func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = append([]int64(nil), owners...)
	r.mu.Unlock()
}

func (r *Router) ownersSnapshot() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners
}

// Commands lists registered commands by name (for the bot menu and /help).
func (r *Router) Commands() []kit.BotCommand {
	r.mu.RLock()
	out := make([]kit.BotCommand, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Run dispatches messages until ctx is done or in is closed. Commands run
// one at a time; they only read status.
func (r *Router) Run(ctx context.Context, in <-chan kit.Message) error {
	r.log.Info("command dispatcher started")
	defer r.log.Info("command dispatcher stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-in:
			if !ok {
				return nil
			}
			r.Dispatch(ctx, m)
		}
	}
}

// Dispatch handles one message. Non-command text is ignored.
func (r *Router) Dispatch(ctx context.Context, m kit.Message) {
	name, args, ok := ParseCommand(m.Text)
	if !ok {
		return
	}
	r.mu.RLock()
	cmd, found := r.cmds[name]
	r.mu.RUnlock()

	req := &Request{
		Message: m,
		Chat:    kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID},
		FromID:  m.FromID,
		Command: name,
		Args:    args,
		sender:  r.sender,
	}
	if !found {
		// strangers get silence
		if slices.Contains(r.ownersSnapshot(), m.FromID) {
			_ = req.Reply(ctx, "unknown command, try /help")
		}
		return
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	mws := []Middleware{MWRequestLog(r.log), MWPanicRecover(r.log), MWTimeout(timeout)}
	if cmd.Access == AccessOwnerOnly {
		mws = append(mws, MWOwnerOnly(r.ownersSnapshot))
	}
	err := Chain(cmd.Handle, mws...)(ctx, req)
	if err != nil && !errors.Is(err, ErrForbidden) {
		_ = req.Reply(ctx, "command failed: "+err.Error())
	}
}

// ParseCommand splits "/name@bot arg1 arg2" into a lower-case name and args.
func ParseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	name = strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), parts[1:], true
}

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"seatwatch/internal/transport/telegram/router"
)

func (a *App) registerCommands() {
	a.router.Register(
		router.Command{Name: "status", Description: "agent state and next check", Handle: a.cmdStatus},
		router.Command{Name: "items", Description: "items seen in the last successful check", Handle: a.cmdItems},
		router.Command{Name: "history", Description: "recent notifications", Handle: a.cmdHistory},
		router.Command{Name: "help", Description: "list commands", Access: router.AccessEveryone, Handle: a.cmdHelp},
	)
}

func (a *App) cmdStatus(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, formatStatus(a.agent.Status(), time.Now()))
}

func (a *App) cmdItems(ctx context.Context, req *router.Request) error {
	st := a.agent.Status()
	if len(st.KnownItems) == 0 {
		return req.Reply(ctx, "no items known yet")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d item(s):\n", len(st.KnownItems))
	for _, it := range st.KnownItems {
		fmt.Fprintf(&b, "%s: %d\n", it.Code, it.Quantity)
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func (a *App) cmdHistory(ctx context.Context, req *router.Request) error {
	h := a.notif.History()
	if len(h) == 0 {
		return req.Reply(ctx, "no notifications sent yet")
	}
	const show = 5
	if len(h) > show {
		h = h[len(h)-show:]
	}
	var b strings.Builder
	for i := len(h) - 1; i >= 0; i-- {
		it := h[i]
		result := "sent"
		if it.Error != "" {
			result = "failed: " + it.Error
		}
		fmt.Fprintf(&b, "%s %s\n%s\n\n", it.At.Format(time.DateTime), result, it.Text)
	}
	return req.Reply(ctx, strings.TrimSpace(b.String()))
}

func (a *App) cmdHelp(ctx context.Context, req *router.Request) error {
	var b strings.Builder
	for _, c := range a.router.Commands() {
		fmt.Fprintf(&b, "/%s - %s\n", c.Command, c.Description)
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

// Package transport holds the messaging types shared by the notifier and the
// command router, independent of the chat platform.
package transport

import (
	"context"
	"errors"
)

// ErrPermanent marks a send failure that a retry cannot fix, such as a
// blocked bot or an unknown chat.
var ErrPermanent = errors.New("permanent send failure")

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic; 0 if none
	FromID       int64
	FromUsername string
	Text         string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
	Parts     int // chunks delivered so far, counting skipped ones
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// SkipParts resumes a split message after its first n chunks were
	// already delivered.
	SkipParts int
}

// Sender delivers text to a chat. On error the returned ref still reports
// how many parts went out.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is a Sender that can also poll for incoming messages.
type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error
}

// BotCommand is one entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

package notifier

import (
	"context"

	kit "seatwatch/internal/transport"
	"seatwatch/pkg/logx"
)

// LogSender writes messages to the log instead of a chat (notifier.driver: log).
type LogSender struct {
	log logx.Logger
}

func NewLogSender(log logx.Logger) *LogSender { return &LogSender{log: log} }

func (l *LogSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	l.log.Info("notification (dry run)", logx.Int64("chat_id", to.ChatID), logx.String("text", text))
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, Parts: 1}, nil
}

package notifier

import (
	"time"

	kit "seatwatch/internal/transport"
)

type Config struct {
	Target        kit.ChatTarget
	RatePerSec    float64       // default 1
	Timeout       time.Duration // per send attempt; default 10s
	RetryMax      int           // extra attempts after the first; default 2, <0 disables
	RetryBase     time.Duration // default 1s
	RetryMaxDelay time.Duration // default 5s
	HistorySize   int           // default 50
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RetryMax == 0 {
		c.RetryMax = 2
	} else if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 50
	}
	return c
}

type HistoryItem struct {
	At    time.Time `json:"at"`
	Text  string    `json:"text"`
	Parts int       `json:"parts,omitempty"`
	Error string    `json:"error,omitempty"`
}

// NotificationEvent is published on the event bus after every delivery attempt chain.
type NotificationEvent struct {
	ChatID   int64         `json:"chat_id"`
	ThreadID int           `json:"thread_id,omitempty"`
	Attempts int           `json:"attempts"`
	Took     time.Duration `json:"took"`
	Error    string        `json:"error,omitempty"`
}

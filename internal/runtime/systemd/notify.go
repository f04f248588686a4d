// Package systemd reports service state to systemd via sd_notify.
// Outside systemd (no NOTIFY_SOCKET) every call is a no-op.
package systemd

import (
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"seatwatch/pkg/logx"
)

type Notifier struct {
	log    logx.Logger
	notify func(state string) (bool, error)

	mu       sync.Mutex
	lastPing time.Time
	interval time.Duration // watchdog interval; 0 when disabled
}

func New(log logx.Logger) *Notifier {
	n := &Notifier{
		log:    log,
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
	if d, err := daemon.SdWatchdogEnabled(false); err == nil {
		n.interval = d
	} else {
		log.Warn("watchdog env invalid", logx.Err(err))
	}
	return n
}

// WatchdogInterval is WATCHDOG_USEC, or 0 when the watchdog is off.
func (n *Notifier) WatchdogInterval() time.Duration { return n.interval }

func (n *Notifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("sd_notify", logx.String("state", state))
	}
}

func (n *Notifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Status sets the free-form STATUS= line shown by systemctl status.
func (n *Notifier) Status(format string, args ...any) {
	n.send("STATUS=" + fmt.Sprintf(format, args...))
}

// Ping sends WATCHDOG=1. Calls closer together than a quarter of the
// watchdog interval are coalesced.
func (n *Notifier) Ping() {
	n.mu.Lock()
	now := time.Now()
	if n.interval > 0 && now.Sub(n.lastPing) < n.interval/4 {
		n.mu.Unlock()
		return
	}
	n.lastPing = now
	n.mu.Unlock()
	n.send(daemon.SdNotifyWatchdog)
}

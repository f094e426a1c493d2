// Package systemd reports daemon state to the service manager. Every call is
// a no-op when the process was not started by systemd.
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "admind/pkg/logx"
)

// Notifier wraps sd_notify.
type Notifier struct {
	log      logx.Logger
	unsetEnv bool
	notify   func(unsetEnvironment bool, state string) (bool, error)
	watchdog func(unsetEnvironment bool) (time.Duration, error)
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{log: log, notify: daemon.SdNotify, watchdog: daemon.SdWatchdogEnabled}
}

// WatchdogInterval returns the configured watchdog timeout, or 0.
func (n *Notifier) WatchdogInterval() time.Duration {
	d, err := n.watchdog(n.unsetEnv)
	if err != nil {
		n.log.Debug("sd watchdog lookup failed", logx.Err(err))
		return 0
	}
	return d
}

func (n *Notifier) Ready(status string) {
	n.send(daemon.SdNotifyReady, status)
}

// Tick feeds the watchdog and updates the status line.
func (n *Notifier) Tick(status string) {
	n.send(daemon.SdNotifyWatchdog, status)
}

// Watchdog sends WATCHDOG=1 every interval/2 until ctx is done. It returns
// at once when interval is not positive.
func (n *Notifier) Watchdog(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(max(interval/2, time.Millisecond))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog, "")
		}
	}
}

func (n *Notifier) Stopping() {
	n.send(daemon.SdNotifyStopping, "")
}

func (n *Notifier) send(state, status string) {
	if status != "" {
		state = fmt.Sprintf("%s\nSTATUS=%s", state, status)
	}
	sent, err := n.notify(n.unsetEnv, state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("sd_notify", logx.String("state", state))
	}
}

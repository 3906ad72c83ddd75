package telemetry

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "rtpulse/pkg/logx"
)

// Notifier speaks the sd_notify protocol. Outside systemd (no NOTIFY_SOCKET)
// every call is a no-op.
type Notifier struct {
	log      logx.Logger
	enabled  bool
	notify   func(state string) (bool, error)
	interval func() (time.Duration, error)
}

type NotifierOption func(*Notifier)

// WithNotifyFunc replaces daemon.SdNotify, for tests.
func WithNotifyFunc(fn func(state string) (bool, error)) NotifierOption {
	return func(n *Notifier) { n.notify = fn }
}

// WithWatchdogInterval replaces daemon.SdWatchdogEnabled, for tests.
func WithWatchdogInterval(fn func() (time.Duration, error)) NotifierOption {
	return func(n *Notifier) { n.interval = fn }
}

func NewNotifier(enabled bool, log logx.Logger, opts ...NotifierOption) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{
		log:      log.With(logx.String("comp", "systemd")),
		enabled:  enabled,
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		interval: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

func (n *Notifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(s string) { n.send("STATUS=" + s) }

func (n *Notifier) send(state string) bool {
	if n == nil || !n.enabled {
		return false
	}
	sent, err := n.notify(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return sent
}

// Watchdog pings systemd at half the unit's WatchdogSec while progress keeps
// increasing. A stalled task stops the pings so systemd restarts the unit.
// Returns immediately when the watchdog is not enabled.
func (n *Notifier) Watchdog(ctx context.Context, progress func() uint64) error {
	if n == nil || !n.enabled {
		return nil
	}
	every, err := n.interval()
	if err != nil {
		return err
	}
	if every <= 0 {
		return nil
	}
	tick := time.NewTicker(every / 2)
	defer tick.Stop()
	n.log.Debug("watchdog enabled", logx.Duration("interval", every))

	last := progress()
	stalled := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
		cur := progress()
		if cur == last {
			if !stalled {
				n.log.Warn("task not progressing; withholding watchdog ping", logx.Uint64("iterations", cur))
				stalled = true
			}
			continue
		}
		last, stalled = cur, false
		n.send(daemon.SdNotifyWatchdog)
	}
}

package systemd

import (
	"fmt"
	"net"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
)

// Socket names expected in dwell.socket via FileDescriptorName=.
const (
	BridgeSocket  = "bridge"
	MetricsSocket = "metrics"
)

// Listeners holds all systemd-activated listeners
type Listeners struct {
	Bridge    net.Listener
	Metrics   net.Listener
	Activated bool
}

// GetListeners retrieves systemd socket-activated file descriptors
// Returns nil listeners if not running under socket activation
func GetListeners() (*Listeners, error) {
	// Names come from FileDescriptorName= (requires systemd 227+). Without
	// LISTEN_FDS the map is empty.
	listenersMap, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("failed to get systemd listeners: %w", err)
	}

	return fromNamed(listenersMap), nil
}

func fromNamed(named map[string][]net.Listener) *Listeners {
	listeners := &Listeners{}
	if lns, ok := named[BridgeSocket]; ok && len(lns) > 0 {
		listeners.Bridge = lns[0]
		listeners.Activated = true
	}
	if lns, ok := named[MetricsSocket]; ok && len(lns) > 0 {
		listeners.Metrics = lns[0]
		listeners.Activated = true
	}
	return listeners
}

// NotifyReady sends READY=1 notification to systemd
func NotifyReady() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		return fmt.Errorf("failed to send sd_notify: %w", err)
	}
	return nil
}

// NotifyStopping sends STOPPING=1 notification to systemd
func NotifyStopping() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		return fmt.Errorf("failed to send sd_notify stopping: %w", err)
	}
	return nil
}

// NotifyWatchdog sends WATCHDOG=1 notification to systemd
func NotifyWatchdog() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
		return fmt.Errorf("failed to send sd_notify watchdog: %w", err)
	}
	return nil
}

// WatchdogInterval returns how often keepalives should be sent, or zero when
// the unit has no WatchdogSec= configured.
func WatchdogInterval() time.Duration {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return 0
	}
	return interval / 2
}

// RunWatchdog sends keepalives every interval until stop is closed. It
// returns immediately when interval is zero.
func RunWatchdog(interval time.Duration, stop <-chan struct{}, onError func(error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := NotifyWatchdog(); err != nil && onError != nil {
				onError(err)
			}
		case <-stop:
			return
		}
	}
}

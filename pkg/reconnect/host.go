package reconnect

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/juanpablocruz/actionsync/pkg/transport"
)

// HostSignal is a host-environment lifecycle transition a Supervisor
// reacts to. Browsers deliver these as visibilitychange/online/resume/
// freeze events; a Go process has no direct equivalent, so callers
// embedding a Supervisor in something host-aware (a desktop tray app, a
// mobile bridge, a process manager) translate their own signals into
// this small enum instead.
type HostSignal int

const (
	// SignalHidden means the host became backgrounded: pause retries
	// without tearing down an already-live connection.
	SignalHidden HostSignal = iota
	// SignalVisible means the host came back to the foreground: resume
	// paused retries and, if currently disconnected, attempt immediately.
	SignalVisible
	// SignalOnline means the host regained network reachability.
	SignalOnline
	// SignalFreeze means the host is about to be suspended: disconnect
	// now and stay paused until the next Visible or Online signal.
	SignalFreeze
)

// Signal applies a host lifecycle transition to the supervisor's retry
// state.
func (s *Supervisor) Signal(sig HostSignal) {
	switch sig {
	case SignalHidden:
		s.mu.Lock()
		s.paused = true
		s.stopTimerLocked()
		s.mu.Unlock()

	case SignalVisible, SignalOnline:
		s.mu.Lock()
		s.paused = false
		reconnecting := s.reconnecting
		connected := s.connected
		ctx := s.lastCtx
		s.mu.Unlock()
		if reconnecting && !connected {
			go func() { _ = s.doConnect(ctx) }()
		}

	case SignalFreeze:
		s.mu.Lock()
		s.paused = true
		s.stopTimerLocked()
		s.mu.Unlock()
		_ = s.conn.Disconnect(transport.ReasonFreeze)
	}
}

// WatchOSSignals wires SIGUSR1/SIGUSR2 to Freeze/Online, a convenience
// for daemons run under a process supervisor that can pause and resume
// reconnection around a maintenance window without restarting the
// process. It returns an unbind func that stops watching; the caller
// must arrange to call it (or cancel ctx) to release the signal channel.
func (s *Supervisor) WatchOSSignals(ctx context.Context) (unbind func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGUSR2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-ch:
				if !ok {
					return
				}
				switch sig {
				case syscall.SIGUSR1:
					s.Signal(SignalFreeze)
				case syscall.SIGUSR2:
					s.Signal(SignalOnline)
				}
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(ch)
		<-done
	}
}

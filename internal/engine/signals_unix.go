//go:build unix

package engine

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/MrSnakeDoc/chiron/internal/coordinator"
)

// NotifySignals relays SIGUSR1 (focus) and SIGCONT (visible, sent when a
// stopped terminal job resumes). Call the returned func to stop relaying.
func NotifySignals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGCONT)
	return ch, func() { signal.Stop(ch) }
}

func signalReason(sig os.Signal) (coordinator.Reason, bool) {
	switch sig {
	case syscall.SIGUSR1:
		return coordinator.ReasonFocus, true
	case syscall.SIGCONT:
		return coordinator.ReasonVisible, true
	}
	return "", false
}

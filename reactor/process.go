package reactor

import (
	"syscall"

	"launchd-go/logging"
)

// Wait4Loop blocks in wait4(2) for any child (pid -1) and posts each reaped
// child through the reactor's exit channel, one at a time, until stop
// is closed. It must run in its own goroutine: wait4 cannot be multiplexed
// by epoll, so this is the one piece of the supervisor that blocks outside
// the reactor's main loop (§4.B "process exit" is delivered, not polled).
func (r *Reactor) Wait4Loop(stop <-chan struct{}) {
	for {
		var ws syscall.WaitStatus
		var ru syscall.Rusage
		pid, err := syscall.Wait4(-1, &ws, 0, &ru)
		select {
		case <-stop:
			return
		default:
		}
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			if err == syscall.ECHILD {
				// No children currently outstanding; avoid a busy spin by
				// waiting for the next registration indirectly - the
				// supervisor re-invokes Wait4Loop's caller on each Start.
				return
			}
			logging.Error("reactor: wait4 failed", "error", err)
			return
		}
		r.postProcessExit(pid, ws)
	}
}

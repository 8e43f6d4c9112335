package registry

import (
	"io"
	"os"
	"syscall"
	"time"

	"launchd-go/logging"
	"launchd-go/reactor"
)

// onExecPipeReadable handles §4.C "FdReadable(execspair.parent)": the
// child either wrote an errno (exec failed) or closed the fd on
// successful exec (read returns EOF with zero bytes).
func (s *Supervisor) onExecPipeReadable(job *Job, f *os.File) {
	buf := make([]byte, 256)
	n, err := f.Read(buf)
	if n == 0 || err == io.EOF {
		// Exec succeeded; nothing further to do here. The descriptor
		// is unregistered and closed once, from the reap path, to
		// avoid touching job state from two different fd callbacks.
		return
	}
	logging.Error("job exec failed", "label", job.Label, "detail", string(buf[:n]))
}

// onProcessExit implements §4.C "Reap algorithm" and the restart fitness
// test. It is invoked once per child, from the reactor's dispatch under
// the reactor's own lock; it takes the supervisor lock itself since it
// mutates job/registry state.
func (s *Supervisor) onProcessExit(job *Job, ev reactor.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ExecPipeFd >= 0 {
		s.reactor.UnregisterFd(job.ExecPipeFd)
		syscall.Close(job.ExecPipeFd)
		job.ExecPipeFd = -1
	}

	job.State = StateReaping

	ran := time.Since(job.StartTime)
	bad := classifyWaitStatus(ev.Status)

	if !job.OnDemand {
		if ran < MinRunTime {
			job.Throttled = true
			bad = true
		} else {
			job.Throttled = false
		}
		if ran >= RewardTime {
			job.FailedExits = 0
		}
	}
	if bad {
		job.FailedExits++
	}

	job.Pid = 0

	removed := job.removalRequested
	if job.FailedExits >= FailureThreshold {
		logging.Error("job exceeded failure threshold, removing", "label", job.Label, "failed_exits", job.FailedExits)
		removed = true
	}

	if removed {
		s.trigger.Disarm(job)
		delete(s.jobs, job.Id)
		delete(s.labels, job.Label)
		job.State = StateRemoved
		if job.Firstborn {
			s.ShuttingDown = true
		}
		return
	}

	if job.Firstborn {
		s.ShuttingDown = true
		job.State = StateLoaded
		return
	}

	if !s.restartFit(job) {
		job.State = StateLoaded
		s.settleIdleState(job)
		return
	}

	if job.Throttled {
		s.armThrottledRestart(job)
		job.State = StateScheduled
		return
	}

	if err := s.startLocked(job); err != nil {
		logging.Error("job restart failed", "label", job.Label, "error", err)
		job.State = StateLoaded
		s.settleIdleState(job)
	}
}

// restartFit implements §4.C "Restart fitness test": the job is restarted
// iff it is not firstborn (handled by the caller separately), ServiceIPC is
// not required or the job checked in, failed_exits is under threshold, and
// the job is neither OnDemand nor the supervisor shutting down.
func (s *Supervisor) restartFit(job *Job) bool {
	if job.ServiceIPC && !job.CheckedIn {
		return false
	}
	if job.FailedExits >= FailureThreshold {
		return false
	}
	if job.OnDemand || s.ShuttingDown {
		return false
	}
	return true
}

// armThrottledRestart defers a restart by MinRunTime via a one-shot timer
// (§4.C "If throttled, the restart is deferred by MinRunTime"). Caller
// holds s.mu.
func (s *Supervisor) armThrottledRestart(job *Job) {
	// High bit reserved for throttle-restart timers so their ids never
	// collide with the trigger engine's own per-job timer id space.
	id := uint64(job.Id) | (1 << 63)
	deadline := time.Now().Add(MinRunTime)
	t, err := s.reactor.ArmTimer(id, deadline)
	if err != nil {
		logging.Error("failed to arm throttle timer", "label", job.Label, "error", err)
		return
	}
	s.pendingThrottle[id] = &throttleWait{job: job, timer: t}
}

// completeThrottledRestart runs once the throttle timer fires, outside
// s.mu (called from the reactor's async dispatch).
func (s *Supervisor) completeThrottledRestart(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Throttled = false
	if err := s.startLocked(job); err != nil {
		logging.Error("throttled restart failed", "label", job.Label, "error", err)
	}
}

// classifyWaitStatus reports whether the exit should count against
// failed_exits (§4.C "Reap algorithm" exit classification): a zero exit is
// good; a non-zero exit or an abnormal signal is bad. SIGTERM/SIGKILL are
// treated as an intentional stop (not counted), since Remove's own SIGTERM
// must not look like a crash.
func classifyWaitStatus(ws syscall.WaitStatus) bool {
	switch {
	case ws.Exited():
		return ws.ExitStatus() != 0
	case ws.Signaled():
		sig := ws.Signal()
		return sig != syscall.SIGTERM && sig != syscall.SIGKILL
	default:
		return false
	}
}

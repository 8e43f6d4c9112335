package registry

import (
	"sync"

	"launchd-go/errors"
	"launchd-go/logging"
	"launchd-go/reactor"
	"launchd-go/value"
)

// TriggerEngine is the interface the registry calls to arm and disarm a
// job's triggers (§2 "Data flow": "C... ask D to arm triggers"). The
// `trigger` package implements this; `registry` depends only on the
// interface so the two packages don't form an import cycle with the
// concrete reactor/socket types.
type TriggerEngine interface {
	// Arm binds sockets, opens watch paths/queue directories, and arms
	// interval/calendar timers for job, mutating its Description in
	// place (the "distill" step, §4.F) and populating its fd maps.
	Arm(job *Job) error
	// Disarm tears down everything Arm created for job.
	Disarm(job *Job)
}

// ConnAdopter is notified when a ServiceIPC job's trusted control-plane
// connection comes into existence, so the control package can accept
// CheckIn on it without the client having to authenticate (§4.E "CheckIn
// binding"). registry depends only on this interface for the same reason
// it depends only on TriggerEngine: control/conn handling belongs to the
// `control` package, not here.
type ConnAdopter interface {
	// AdoptTrusted registers fd as the supervisor-side end of job's
	// pre-opened control connection. The control package owns fd from
	// this point on (framing, dispatch, eventual close).
	AdoptTrusted(job *Job, fd int)
}

// Supervisor is the single owning value for all process-wide mutable state
// (§9 "Global mutable state"): the job list, connection list (owned by the
// control package, referenced here only by the CheckIn mechanism), and
// trigger-backed timer ids. It replaces the would-be globals of the
// original design; every handler receives it by reference.
type Supervisor struct {
	mu sync.Mutex

	reactor     *reactor.Reactor
	trigger     TriggerEngine
	connAdopter ConnAdopter

	nextId JobId
	jobs   map[JobId]*Job
	labels map[string]JobId

	// ShuttingDown is set once a firstborn job exits or Shutdown is
	// requested; it suppresses restarts for OnDemand-false jobs per the
	// restart fitness test (§4.C).
	ShuttingDown bool

	// pendingThrottle holds the one-shot timers armed by
	// armThrottledRestart, keyed by the id passed to reactor.ArmTimer.
	pendingThrottle map[uint64]*throttleWait

	// globalEnv holds the SetUserEnv override set (§4.E), merged into
	// every job's environment at start time.
	globalEnv map[string]string
}

// throttleWait pairs a job with the reactor timer handle backing its
// deferred restart, so the timer can be disarmed (closed) once it fires.
type throttleWait struct {
	job   *Job
	timer *reactor.Timer
}

// New constructs a Supervisor bound to r for event registration and te for
// trigger arming.
func New(r *reactor.Reactor, te TriggerEngine) *Supervisor {
	s := &Supervisor{
		reactor:         r,
		trigger:         te,
		jobs:            make(map[JobId]*Job),
		labels:          make(map[string]JobId),
		pendingThrottle: make(map[uint64]*throttleWait),
		globalEnv:       make(map[string]string),
	}
	r.RegisterAsyncHandler(s.onAsyncEvent)
	return s
}

// BindConnAdopter supplies the collaborator that accepts ServiceIPC jobs'
// trusted control connections. Like trigger.Engine's BindSupervisor, this is
// set after construction: the `control` package's server needs a
// *Supervisor to dispatch verbs against, so it cannot be built before New
// returns, and New cannot take a not-yet-built ConnAdopter.
func (s *Supervisor) BindConnAdopter(a ConnAdopter) {
	s.connAdopter = a
}

// onAsyncEvent is the registry's single sink on the reactor's secondary
// queue (§4.B), handling only the throttle-restart timers it itself arms;
// calendar/interval/vnode events are handled by the trigger engine's own
// sink registered separately.
func (s *Supervisor) onAsyncEvent(ev reactor.Event) {
	if ev.Kind != reactor.EventTimer {
		return
	}
	s.mu.Lock()
	tw, ok := s.pendingThrottle[ev.TimerID]
	if ok {
		delete(s.pendingThrottle, ev.TimerID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.reactor.Disarm(tw.timer)
	s.completeThrottledRestart(tw.job)
}

// Submit validates desc, creates a Job entry, arms its triggers, and starts
// it immediately if RunAtLoad is set (§4.C "submit").
func (s *Supervisor) Submit(desc value.Value) (JobId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	label, ok := desc.GetString("Label")
	if !ok || label == "" {
		return 0, errors.ErrInvalidLabel
	}
	if _, ok := desc.Get("Program"); !ok {
		if arr, ok2 := desc.Get("ProgramArguments"); !ok2 || arr.Kind() != value.KindArray || arr.Len() == 0 {
			return 0, errors.ErrNoProgram
		}
	}
	if _, exists := s.labels[label]; exists {
		return 0, errors.ErrJobExists
	}

	s.nextId++
	id := s.nextId
	job := newJobFromDescription(id, desc)

	if err := s.trigger.Arm(job); err != nil {
		return 0, errors.WrapWithJob(err, errors.ErrResource, "submit", label)
	}

	s.jobs[id] = job
	s.labels[label] = id
	job.State = StateLoaded
	s.settleIdleState(job)

	runAtLoad, _ := desc.GetBool("RunAtLoad")
	if runAtLoad && !job.Disabled {
		if err := s.startLocked(job); err != nil {
			logging.Error("submit: RunAtLoad start failed", "label", label, "error", err)
		}
	}

	return id, nil
}

// settleIdleState moves a loaded, non-running job into the state that best
// describes why it's idle, for introspection purposes only (§3 lifecycle).
func (s *Supervisor) settleIdleState(job *Job) {
	if job.Running() {
		return
	}
	switch {
	case job.CalendarTimerId != nil || job.IntervalTimerId != nil:
		job.State = StateScheduled
	case len(job.WatchPathFds) > 0 || len(job.QueueDirFds) > 0:
		job.State = StateWatching
	default:
		job.State = StateIdle
	}
}

// Remove stops the job (if running) and disarms/frees all resources
// (§4.C "remove"). If the child is still alive, removal completes
// asynchronously: the entry is marked removalRequested and erased from the
// label index immediately, but the Job struct lingers (referenced by
// JobId) until Reap runs.
func (s *Supervisor) Remove(label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.labels[label]
	if !ok {
		return errors.ErrJobNotFound
	}
	job := s.jobs[id]
	delete(s.labels, label)

	if job.Running() {
		job.removalRequested = true
		if err := signalTerm(job.Pid); err != nil {
			logging.Error("remove: SIGTERM failed", "label", label, "pid", job.Pid, "error", err)
		}
		return nil
	}

	s.trigger.Disarm(job)
	delete(s.jobs, id)
	job.State = StateRemoved
	return nil
}

// Start manually kicks a job's lifecycle (§4.C "start").
func (s *Supervisor) Start(label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.lookupLocked(label)
	if !ok {
		return errors.ErrJobNotFound
	}
	if job.Running() {
		return errors.ErrJobAlreadyRunning
	}
	return s.startLocked(job)
}

// Stop manually stops a running job by sending SIGTERM (§4.C "stop").
func (s *Supervisor) Stop(label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.lookupLocked(label)
	if !ok {
		return errors.ErrJobNotFound
	}
	if !job.Running() {
		return errors.ErrJobNotRunning
	}
	return signalTerm(job.Pid)
}

// TriggerStart starts the job identified by id in response to a fired
// trigger (socket readability, watch-path change, queue-directory
// non-empty probe, interval/calendar timer). Unlike Start, firing while the
// job is already running is a no-op rather than ErrJobAlreadyRunning: a
// trigger racing with an in-flight instance should not be treated as a
// caller mistake.
func (s *Supervisor) TriggerStart(id JobId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return errors.ErrJobNotFound
	}
	if job.Running() || job.Disabled {
		return nil
	}
	return s.startLocked(job)
}

// Lookup returns the job for label.
func (s *Supervisor) Lookup(label string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(label)
}

func (s *Supervisor) lookupLocked(label string) (*Job, bool) {
	id, ok := s.labels[label]
	if !ok {
		return nil, false
	}
	return s.jobs[id], true
}

// IterateAll calls fn for every loaded job in an unspecified order,
// stopping early if fn returns false.
func (s *Supervisor) IterateAll(fn func(*Job) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if !fn(job) {
			return
		}
	}
}

// SetUserEnv merges vars into the global environment override set applied
// to every job's environment from its next start onward (§4.E "SetUserEnv").
func (s *Supervisor) SetUserEnv(vars map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range vars {
		s.globalEnv[k] = v
	}
}

// UnsetUserEnv removes keys from the global environment override set
// (§4.E "UnsetUserEnv").
func (s *Supervisor) UnsetUserEnv(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.globalEnv, k)
	}
}

// GetUserEnv returns a copy of the global environment override set (§4.E
// "GetUserEnv").
func (s *Supervisor) GetUserEnv() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.globalEnv))
	for k, v := range s.globalEnv {
		out[k] = v
	}
	return out
}

// CheckIn marks label's job as checked in and returns its merged
// description augmented with a minimum-run-time hint (§4.C "checkin").
func (s *Supervisor) CheckIn(label string) (value.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.lookupLocked(label)
	if !ok {
		return value.Value{}, errors.ErrJobNotFound
	}
	job.CheckedIn = true
	augmented := job.Description.DeepCopy().RevokeFds()
	augmented = augmented.Set("MinRunTimeHint", value.NewInteger(int64(MinRunTime/1000_000_000)))
	return augmented, nil
}

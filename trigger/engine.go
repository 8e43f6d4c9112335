// Package trigger implements §4.D: binding listening sockets from a job's
// Sockets declaration, arming watch-path/queue-directory vnode watches, and
// arming interval and calendar timers. It is the concrete implementation of
// registry.TriggerEngine; registry depends only on that interface, so this
// package is free to import registry fully.
package trigger

import (
	"sync"

	"launchd-go/reactor"
	"launchd-go/registry"
)

// Rendezvous is the narrow interface the external name-server collaborator
// satisfies (§1 "out of scope... abstracted as a name-server collaborator",
// §4.D "Rendezvous registration"). Register publishes name as a Bonjour-
// style service and returns a notification descriptor; Unregister withdraws
// it.
type Rendezvous interface {
	Register(name, proto string) (fd int, err error)
	Unregister(name, proto string)
}

// Engine binds sockets, arms watch paths/queue directories, and arms
// interval/calendar timers for jobs, implementing registry.TriggerEngine.
// One Engine is shared by every job. Per-job trigger state is recorded on
// the *registry.Job passed to Arm/Disarm (its ListeningFds/WatchPathFds/
// QueueDirFds/IntervalTimerId/CalendarTimerId fields), while the armed
// reactor timer and watch handles are kept in the Engine's own timers and
// watches maps (§2 "D... arm triggers").
type Engine struct {
	reactor    *reactor.Reactor
	supervisor *registry.Supervisor
	rendezvous Rendezvous

	mu      sync.Mutex
	timers  map[uint64]*armedTimer
	watches map[uint64][]*armedWatch
}

type armedTimer struct {
	jobId    registry.JobId
	timer    *reactor.Timer
	calendar *calendarTimer // nil for a plain interval timer
}

type armedWatch struct {
	jobId    registry.JobId
	path     string
	watch    *reactor.VnodeWatch
	queueDir bool
}

// New constructs an Engine bound to r for event registration and rv for
// Bonjour-style rendezvous registration (pass a no-op implementation if the
// collaborator is absent). The owning Supervisor is supplied afterward via
// BindSupervisor: registry.New itself requires a TriggerEngine, so the two
// constructors cannot take each other's result directly.
func New(r *reactor.Reactor, rv Rendezvous) *Engine {
	e := &Engine{
		reactor:    r,
		rendezvous: rv,
		timers:     make(map[uint64]*armedTimer),
		watches:    make(map[uint64][]*armedWatch),
	}
	r.RegisterAsyncHandler(e.onAsyncEvent)
	return e
}

// BindSupervisor completes construction by supplying the Supervisor that
// owns the jobs this Engine arms triggers for. Must be called once, before
// any job is submitted.
func (e *Engine) BindSupervisor(s *registry.Supervisor) {
	e.supervisor = s
}

// onAsyncEvent is the engine's single sink on the reactor's secondary queue,
// handling Timer events for its own armed timers (ignoring registry's
// throttle-restart timers, distinguished by the reserved high bit) and
// VnodeChange events for its own armed watches.
func (e *Engine) onAsyncEvent(ev reactor.Event) {
	switch ev.Kind {
	case reactor.EventTimer:
		e.onTimer(ev.TimerID)
	case reactor.EventVnodeChange:
		e.onVnodeChange(ev.VnodePath, ev.VnodeFlags)
	}
}

// Arm implements registry.TriggerEngine. It binds sockets (mutating job's
// Description to distill Sockets into bound fd arrays per §4.F), arms watch
// paths/queue directories, and arms StartInterval/StartCalendarInterval
// timers, in that order.
func (e *Engine) Arm(job *registry.Job) error {
	if err := e.armSockets(job); err != nil {
		return err
	}
	if err := e.armWatchPaths(job); err != nil {
		return err
	}
	if err := e.armQueueDirectories(job); err != nil {
		return err
	}
	if err := e.armInterval(job); err != nil {
		return err
	}
	if err := e.armCalendar(job); err != nil {
		return err
	}
	return nil
}

// Disarm implements registry.TriggerEngine, tearing down everything Arm
// created: closes listening/watch descriptors, disarms timers, and
// withdraws any rendezvous registration.
func (e *Engine) Disarm(job *registry.Job) {
	e.disarmSockets(job)
	e.disarmWatches(job)
	e.disarmTimers(job)
}

// Package reactor implements the single-threaded event multiplexer described
// in §4.B: one kernel-queue handle (epoll on Linux) that delivers descriptor
// readability, process exits, signals, vnode changes, and timers, with a
// secondary queue for batch-controllable async events (§4.E "BatchControl").
package reactor

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"launchd-go/logging"
)

// EventKind tags a delivered Event (§4.B).
type EventKind int

const (
	EventFdReadable EventKind = iota
	EventFdWritable
	EventProcessExit
	EventSignal
	EventVnodeChange
	EventTimer
	EventFilesystemMount
)

// Vnode change flags (§4.B), matching the WRITE|EXTEND|DELETE|RENAME|
// REVOKE|ATTRIB|LINK vocabulary.
const (
	VnodeWrite  uint32 = 1 << iota
	VnodeExtend
	VnodeDelete
	VnodeRename
	VnodeRevoke
	VnodeAttrib
	VnodeLink
)

// Event is the single delivered notification for one wakeup (§4.B
// "Ordering: within one wakeup, exactly one event is delivered").
type Event struct {
	Kind EventKind

	Fd int // EventFdReadable / EventFdWritable

	Pid    int // EventProcessExit
	Status syscall.WaitStatus

	Signal syscall.Signal // EventSignal

	VnodePath  string // EventVnodeChange
	VnodeFlags uint32

	TimerID uint64 // EventTimer
}

// Handler processes one Event. Handlers run to completion under the
// reactor's global exclusion (§4.B "Scheduling model") and must not block on
// external I/O; a handler that needs to retry a write registers for
// EventFdWritable instead (§4.B "Suspension").
type Handler func(Event)

// registration tracks one armed fd-readiness subscription.
type registration struct {
	fd      int
	handler Handler
	writ    bool // true if armed for writability rather than readability
}

// Reactor is the single-threaded supervisor event loop (§4.B, §5). All
// exported methods except Run must be called from within a Handler (i.e.
// while the reactor's lock is held) or before Run starts; Run itself is the
// only blocking point and releases the lock only while parked in
// epoll_wait.
type Reactor struct {
	mu sync.Mutex

	epfd int

	fdRegs map[int]*registration

	// process exit bookkeeping: reaped via a dedicated goroutine that
	// blocks in wait4 and posts results through exitCh (shared with
	// signals and not gated by batch control), since wait4 cannot be
	// multiplexed by epoll directly.
	procHandlers map[int]Handler
	exitCh       chan Event

	sigHandler    Handler
	sigCh         chan os.Signal
	asyncHandlers []Handler

	secondary     chan Event
	batchDisabled int // ref-counted; >0 suppresses delivery of Timer/Vnode

	quit chan struct{}
	once sync.Once
}

// New creates a Reactor with its epoll instance open. Fatal errors here
// (§4.B "Fatal errors abort the process") are returned rather than causing
// an os.Exit, leaving that call to the supervisor's main entry point.
func New() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	r := &Reactor{
		epfd:         epfd,
		fdRegs:       make(map[int]*registration),
		procHandlers: make(map[int]Handler),
		exitCh:       make(chan Event, 64),
		sigCh:        make(chan os.Signal, 16),
		secondary:    make(chan Event, 256),
		quit:         make(chan struct{}),
	}
	return r, nil
}

// Close releases the epoll instance. Callers must stop Run first.
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}

// RegisterFdReadable arms EventFdReadable delivery for fd. The registration
// persists until UnregisterFd is called (§4.B "Cancellation: every armed
// event must have a symmetric unarm").
func (r *Reactor) RegisterFdReadable(fd int, h Handler) error {
	return r.registerFd(fd, h, false)
}

// RegisterFdWritable arms a one-shot-per-call EventFdWritable delivery,
// used when a send would block (§4.B "Suspension", §5 "Socket send may be
// short").
func (r *Reactor) RegisterFdWritable(fd int, h Handler) error {
	return r.registerFd(fd, h, true)
}

func (r *Reactor) registerFd(fd int, h Handler, writable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev := unix.EPOLLIN
	if writable {
		ev = unix.EPOLLOUT
	}
	reg := &registration{fd: fd, handler: h, writ: writable}
	r.fdRegs[fd] = reg

	eev := unix.EpollEvent{Events: uint32(ev), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &eev); err != nil {
		if err == unix.EEXIST {
			return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &eev)
		}
		delete(r.fdRegs, fd)
		return fmt.Errorf("reactor: epoll_ctl add fd %d: %w", fd, err)
	}
	return nil
}

// UnregisterFd disarms any EventFdReadable/EventFdWritable registration for
// fd. It does not close fd; ownership of the descriptor remains with the
// caller (§9 "descriptor inheritance").
func (r *Reactor) UnregisterFd(fd int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fdRegs[fd]; !ok {
		return
	}
	delete(r.fdRegs, fd)
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// RegisterProcessExit arms EventProcessExit delivery for pid. The handler is
// invoked exactly once, from the reactor loop, when the child is reaped.
func (r *Reactor) RegisterProcessExit(pid int, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procHandlers[pid] = h
}

// postProcessExit is called by the wait4 goroutine (see Wait4Loop) to
// deliver a reaped child's status through the exit channel so it is
// handled under the reactor's lock on the next wakeup.
func (r *Reactor) postProcessExit(pid int, status syscall.WaitStatus) {
	select {
	case r.exitCh <- Event{Kind: EventProcessExit, Pid: pid, Status: status}:
	case <-r.quit:
	}
}

// PostSignal delivers a Signal event through the exit channel. Signals
// never execute user code on a signal stack (§5): the supervisor's main
// package subscribes with signal.Notify into a channel and forwards here.
func (r *Reactor) PostSignal(sig syscall.Signal) {
	select {
	case r.exitCh <- Event{Kind: EventSignal, Signal: sig}:
	case <-r.quit:
	}
}

// postAsync enqueues a Timer/Vnode/FilesystemMount event onto the secondary
// queue (§4.B "asynchronous events are multiplexed through a secondary
// queue"). It blocks while the queue is full (for example while batching
// is disabled and nothing drains it) and returns without enqueueing once
// Stop has been called; an event is never dropped otherwise.
func (r *Reactor) postAsync(ev Event) {
	select {
	case r.secondary <- ev:
	case <-r.quit:
	}
}

// SetBatchDisabled ref-counts disabling of the secondary queue's Timer and
// Vnode delivery (§4.E "BatchControl"). Process-exit and signal events are
// unaffected, per §5 "Ordering".
func (r *Reactor) SetBatchDisabled(disabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if disabled {
		r.batchDisabled++
	} else if r.batchDisabled > 0 {
		r.batchDisabled--
	}
}

func (r *Reactor) batchingDisabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batchDisabled > 0
}

// Stop causes Run to return after its current wakeup.
func (r *Reactor) Stop() {
	r.once.Do(func() { close(r.quit) })
}

// Run is the reactor loop (§4.B). It blocks the calling goroutine until
// Stop is called (returning nil) or epoll_wait fails with an error other
// than EINTR (returning that error). Run is the single
// suspension point: the lock is held for the duration of event dispatch and
// released only while blocked in epoll_wait or the secondary-queue select.
func (r *Reactor) Run() error {
	const maxEvents = 64
	epollEvents := make([]unix.EpollEvent, maxEvents)

	for {
		select {
		case <-r.quit:
			return nil
		case ev := <-r.exitCh:
			r.dispatch(ev)
			continue
		default:
		}

		if !r.batchingDisabled() {
			select {
			case ev := <-r.secondary:
				r.dispatch(ev)
				continue
			default:
			}
		}

		n, err := unix.EpollWait(r.epfd, epollEvents, 50)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			logging.Error("reactor: epoll_wait failed, aborting", "error", err)
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			r.mu.Lock()
			reg, ok := r.fdRegs[fd]
			r.mu.Unlock()
			if !ok {
				continue
			}
			kind := EventFdReadable
			if reg.writ {
				kind = EventFdWritable
			}
			r.dispatch(Event{Kind: kind, Fd: fd})
		}
	}
}

// dispatch runs the handler for ev under the reactor's lock (§4.B "Handlers
// run to completion under a global exclusion").
func (r *Reactor) dispatch(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case EventProcessExit:
		h, ok := r.procHandlers[ev.Pid]
		if !ok {
			logging.Bug("process exit for unregistered pid", "pid", ev.Pid)
			return
		}
		delete(r.procHandlers, ev.Pid)
		h(ev)
	case EventSignal:
		if r.sigHandler != nil {
			r.sigHandler(ev)
		}
	case EventFdReadable, EventFdWritable:
		reg, ok := r.fdRegs[ev.Fd]
		if !ok {
			return
		}
		reg.handler(ev)
	default:
		// Timer / VnodeChange / FilesystemMount: fanned out to every
		// sink registered via RegisterAsyncHandler. Each sink is
		// expected to ignore events it doesn't recognize (by TimerID
		// or VnodePath), so independent subsystems (registry's
		// throttle timers, trigger's calendar/interval/vnode events)
		// can share the one secondary queue.
		for _, h := range r.asyncHandlers {
			h(ev)
		}
	}
}

// RegisterAsyncHandler adds a sink for secondary-queue events
// (Timer/VnodeChange/FilesystemMount). Multiple subsystems may each
// register their own sink; every sink sees every such event and must
// filter by id/path itself.
func (r *Reactor) RegisterAsyncHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asyncHandlers = append(r.asyncHandlers, h)
}

// RegisterSignalHandler installs the sink for EventSignal.
func (r *Reactor) RegisterSignalHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sigHandler = h
}

// PostTimer delivers a Timer event for id through the secondary queue.
func (r *Reactor) PostTimer(id uint64) {
	r.postAsync(Event{Kind: EventTimer, TimerID: id})
}

// PostVnodeChange delivers a VnodeChange event through the secondary queue.
func (r *Reactor) PostVnodeChange(path string, flags uint32) {
	r.postAsync(Event{Kind: EventVnodeChange, VnodePath: path, VnodeFlags: flags})
}

// PostFilesystemMount delivers a FilesystemMount event through the
// secondary queue.
func (r *Reactor) PostFilesystemMount() {
	r.postAsync(Event{Kind: EventFilesystemMount})
}

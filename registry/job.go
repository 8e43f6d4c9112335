// Package registry implements the job model, lifecycle state machine, and
// the start/reap/restart-fitness algorithms (§3, §4.C). It owns no I/O of
// its own beyond process control: triggers are armed by the caller (the
// trigger engine) and handed to the registry as already-bound descriptors
// or timer ids.
package registry

import (
	"time"

	"launchd-go/value"
)

// JobId is a stable arena-style handle (§9 "Cyclic back-references"):
// triggers and reactor handlers reference a job by JobId rather than by
// pointer, so a removed job can never be dereferenced after the fact.
type JobId uint64

// State is a position in the job lifecycle state machine (§3):
//
//	Created -> Loaded -> (Idle | Watching | Scheduled) -> Running -> (Reaping) -> (Loaded | Removed)
type State int

const (
	StateCreated State = iota
	StateLoaded
	StateIdle
	StateWatching
	StateScheduled
	StateRunning
	StateReaping
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLoaded:
		return "loaded"
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	case StateReaping:
		return "reaping"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Numeric constants governing restart throttling (§4.C "Numeric
// constants").
const (
	MinRunTime       = 10 * time.Second
	RewardTime       = 60 * time.Second
	FailureThreshold = 10
)

// Job is a registry entry: a JobDescription plus runtime state (§3 "Job
// (registry entry)").
type Job struct {
	Id    JobId
	Label string

	// Description is the normalized value tree this job was submitted
	// with, including the Sockets->fd-array distillation the trigger
	// engine performs during Submit.
	Description value.Value

	State State

	Pid       int
	StartTime time.Time

	FailedExits int
	Throttled   bool
	CheckedIn   bool
	Firstborn   bool

	OnDemand  bool
	Disabled  bool
	ServiceIPC bool

	// ListeningFds maps a Sockets entry name to its bound descriptors,
	// mirroring the distilled `name -> [Fd]` shape in the description.
	ListeningFds map[string][]int

	// WatchPathFds / QueueDirFds record, keyed by path, the
	// WatchPaths/QueueDirectories entries that have an armed watch; the
	// value is always 1, and the watch handles themselves are kept by the
	// trigger engine.
	WatchPathFds map[string]int
	QueueDirFds  map[string]int

	IntervalTimerId *uint64
	CalendarTimerId *uint64

	// ExecPipeFd is the read end the supervisor watches for an
	// exec-failure errno from the child (§4.C "Start algorithm" step 2).
	ExecPipeFd int

	// IPCConnFd, when ServiceIPC is set, is the supervisor-side end of
	// the control-plane connection pre-opened for this job's child.
	IPCConnFd int

	// removalRequested marks a job mid-shutdown so a concurrent reap
	// does not attempt a restart (§4.C "Restart fitness test").
	removalRequested bool
}

// newJobFromDescription constructs a Job in StateCreated from a validated
// description. Defaults mirror §3's JobDescription optional-key table.
func newJobFromDescription(id JobId, desc value.Value) *Job {
	label, _ := desc.GetString("Label")

	onDemand := true
	if v, ok := desc.GetBool("OnDemand"); ok {
		onDemand = v
	}

	disabled := false
	if v, ok := desc.Get("Disabled"); ok && v.Kind() == value.KindBool {
		disabled = v.Bool()
	}

	serviceIPC, _ := desc.GetBool("ServiceIPC")
	if _, ok := desc.Get("InetdCompatibility"); ok {
		serviceIPC = true
	}

	return &Job{
		Id:           id,
		Label:        label,
		Description:  desc,
		State:        StateCreated,
		OnDemand:     onDemand,
		Disabled:     disabled,
		ServiceIPC:   serviceIPC,
		ListeningFds: make(map[string][]int),
		WatchPathFds: make(map[string]int),
		QueueDirFds:  make(map[string]int),
		ExecPipeFd:   -1,
		IPCConnFd:    -1,
	}
}

// Running reports whether the job currently has a live child (§3 invariant
// "pid != 0 <=> Running or Reaping").
func (j *Job) Running() bool {
	return j.State == StateRunning || j.State == StateReaping
}

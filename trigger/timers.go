package trigger

import (
	"time"

	"launchd-go/calendar"
	"launchd-go/errors"
	"launchd-go/logging"
	"launchd-go/registry"
	"launchd-go/value"
)

// calendarTimer retains what's needed to re-arm the next occurrence once the
// current one-shot fires (§4.D "Calendar alarm": "re-compute and re-arm on
// fire").
type calendarTimer struct {
	spec calendar.Spec
	loc  *time.Location
}

// Timer ids share one flat uint64 namespace with registry's throttle-restart
// timers (registry reserves the top bit, uint64(JobId)|1<<63). A job can
// have an interval timer and a calendar timer armed simultaneously, so the
// two kinds need distinct ids too; the low bit distinguishes them and the
// id is built by shifting JobId up rather than OR-ing it with a reserved
// bit, so collisions would require an implausibly large JobId to reach
// bit 63.
const (
	timerKindInterval = 0
	timerKindCalendar = 1
)

func timerId(jobId registry.JobId, kind uint64) uint64 {
	return uint64(jobId)<<1 | kind
}

// armInterval implements §4.D "Interval timer": arm a periodic timer from a
// job's StartInterval (seconds). A zero or missing StartInterval leaves the
// job without an interval trigger.
func (e *Engine) armInterval(job *registry.Job) error {
	seconds, ok := job.Description.GetInteger("StartInterval")
	if !ok || seconds <= 0 {
		return nil
	}

	id := timerId(job.Id, timerKindInterval)
	t, err := e.reactor.ArmInterval(id, time.Duration(seconds)*time.Second)
	if err != nil {
		return errors.WrapWithJob(err, errors.ErrResource, "arm-interval", job.Label)
	}

	e.mu.Lock()
	e.timers[id] = &armedTimer{jobId: job.Id, timer: t}
	e.mu.Unlock()

	job.IntervalTimerId = &id
	return nil
}

// armCalendar implements §4.D "Calendar alarm": parse StartCalendarInterval
// (a dictionary, or an array of dictionaries — only the first entry is
// armed per job since reactor.Timer is single-shot-per-id; additional
// entries would need their own ids, left as a known limitation) and arm an
// absolute one-shot timer for the next matching instant.
func (e *Engine) armCalendar(job *registry.Job) error {
	specVal, ok := job.Description.Get("StartCalendarInterval")
	if !ok {
		return nil
	}
	if specVal.Kind() == value.KindArray {
		arr := specVal.Array()
		if len(arr) == 0 {
			return nil
		}
		specVal = arr[0]
	}
	if specVal.Kind() != value.KindDict {
		return nil
	}

	spec := parseCalendarSpec(specVal)
	loc := time.Local
	return e.armCalendarNext(job, spec, loc)
}

func (e *Engine) armCalendarNext(job *registry.Job, spec calendar.Spec, loc *time.Location) error {
	next := calendar.Next(spec, time.Now(), loc)

	id := timerId(job.Id, timerKindCalendar)
	t, err := e.reactor.ArmTimer(id, next)
	if err != nil {
		return errors.WrapWithJob(err, errors.ErrResource, "arm-calendar", job.Label)
	}

	e.mu.Lock()
	e.timers[id] = &armedTimer{jobId: job.Id, timer: t, calendar: &calendarTimer{spec: spec, loc: loc}}
	e.mu.Unlock()

	job.CalendarTimerId = &id
	return nil
}

func parseCalendarSpec(v value.Value) calendar.Spec {
	return calendar.Spec{
		Month:   calendarField(v, "Month"),
		Day:     calendarField(v, "Day"),
		Hour:    calendarField(v, "Hour"),
		Minute:  calendarField(v, "Minute"),
		Weekday: calendarField(v, "Weekday"),
	}
}

func calendarField(v value.Value, key string) int {
	n, ok := v.GetInteger(key)
	if !ok {
		return -1
	}
	return int(n)
}

// onTimer fires TriggerStart for the job owning id, re-arming calendar
// timers for their next occurrence (interval timers are already periodic
// via reactor.ArmInterval and need no re-arming).
func (e *Engine) onTimer(id uint64) {
	e.mu.Lock()
	at, ok := e.timers[id]
	if ok && at.calendar != nil {
		delete(e.timers, id)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	if at.calendar != nil {
		job, found := e.jobById(at.jobId)
		if found {
			if err := e.armCalendarNext(job, at.calendar.spec, at.calendar.loc); err != nil {
				logging.Error("re-arm calendar timer failed", "label", job.Label, "error", err)
			}
		}
	}

	if err := e.supervisor.TriggerStart(at.jobId); err != nil {
		logging.Error("trigger start from timer failed", "error", err)
	}
}

func (e *Engine) jobById(id registry.JobId) (*registry.Job, bool) {
	var found *registry.Job
	e.supervisor.IterateAll(func(j *registry.Job) bool {
		if j.Id == id {
			found = j
			return false
		}
		return true
	})
	return found, found != nil
}

// disarmTimers disarms and removes both of job's timers, if armed.
func (e *Engine) disarmTimers(job *registry.Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if job.IntervalTimerId != nil {
		if at, ok := e.timers[*job.IntervalTimerId]; ok {
			e.reactor.Disarm(at.timer)
			delete(e.timers, *job.IntervalTimerId)
		}
		job.IntervalTimerId = nil
	}
	if job.CalendarTimerId != nil {
		if at, ok := e.timers[*job.CalendarTimerId]; ok {
			e.reactor.Disarm(at.timer)
			delete(e.timers, *job.CalendarTimerId)
		}
		job.CalendarTimerId = nil
	}
}

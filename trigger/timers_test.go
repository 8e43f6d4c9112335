package trigger

import (
	"testing"
	"time"

	"launchd-go/calendar"
	"launchd-go/registry"
	"launchd-go/value"
)

func TestArmIntervalSetsTimerIdAndSkipsZero(t *testing.T) {
	_, _, sup := newTestEngine(t)

	desc := value.NewDict()
	desc = desc.Set("Label", value.NewString("com.example.intervaljob"))
	desc = desc.Set("Program", value.NewString("/bin/true"))
	desc = desc.Set("StartInterval", value.NewInteger(5))

	if _, err := sup.Submit(desc); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	job, _ := sup.Lookup("com.example.intervaljob")
	if job.IntervalTimerId == nil {
		t.Fatalf("expected IntervalTimerId to be set")
	}
	if *job.IntervalTimerId&1 != timerKindInterval {
		t.Fatalf("expected interval timer id's low bit to be %d, got id %d", timerKindInterval, *job.IntervalTimerId)
	}

	desc2 := value.NewDict()
	desc2 = desc2.Set("Label", value.NewString("com.example.zerointerval"))
	desc2 = desc2.Set("Program", value.NewString("/bin/true"))
	desc2 = desc2.Set("StartInterval", value.NewInteger(0))
	if _, err := sup.Submit(desc2); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	job2, _ := sup.Lookup("com.example.zerointerval")
	if job2.IntervalTimerId != nil {
		t.Fatalf("expected no interval timer for StartInterval=0")
	}

	sup.Remove("com.example.intervaljob")
	sup.Remove("com.example.zerointerval")
}

func TestArmCalendarComputesNextAndDistinctIdFromInterval(t *testing.T) {
	e, _, sup := newTestEngine(t)

	calSpec := value.NewDict()
	calSpec = calSpec.Set("Hour", value.NewInteger(3))
	calSpec = calSpec.Set("Minute", value.NewInteger(15))

	desc := value.NewDict()
	desc = desc.Set("Label", value.NewString("com.example.caljob"))
	desc = desc.Set("Program", value.NewString("/bin/true"))
	desc = desc.Set("StartCalendarInterval", calSpec)
	desc = desc.Set("StartInterval", value.NewInteger(30))

	if _, err := sup.Submit(desc); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	job, _ := sup.Lookup("com.example.caljob")
	if job.CalendarTimerId == nil || job.IntervalTimerId == nil {
		t.Fatalf("expected both calendar and interval timer ids to be set")
	}
	if *job.CalendarTimerId == *job.IntervalTimerId {
		t.Fatalf("calendar and interval timer ids must not collide: both %d", *job.CalendarTimerId)
	}
	if *job.CalendarTimerId&1 != timerKindCalendar {
		t.Fatalf("expected calendar timer id's low bit to be %d", timerKindCalendar)
	}

	e.mu.Lock()
	at, ok := e.timers[*job.CalendarTimerId]
	e.mu.Unlock()
	if !ok || at.calendar == nil {
		t.Fatalf("expected an armed calendar timer entry")
	}
	if at.calendar.spec.Hour != 3 || at.calendar.spec.Minute != 15 {
		t.Fatalf("unexpected calendar spec: %+v", at.calendar.spec)
	}

	sup.Remove("com.example.caljob")
}

func TestOnTimerReArmsCalendar(t *testing.T) {
	e, _, sup := newTestEngine(t)

	desc := value.NewDict()
	desc = desc.Set("Label", value.NewString("com.example.rearmjob"))
	desc = desc.Set("Program", value.NewString("/bin/true"))
	desc = desc.Set("StartCalendarInterval", value.NewDict())

	if _, err := sup.Submit(desc); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	job, _ := sup.Lookup("com.example.rearmjob")
	firstId := *job.CalendarTimerId

	// Mark the job as already running so onTimer's TriggerStart is a no-op
	// instead of actually forking a child (registry.Supervisor.Running).
	job.State = registry.StateRunning
	job.Pid = 99999

	e.onTimer(firstId)

	job, _ = sup.Lookup("com.example.rearmjob")
	if job.CalendarTimerId == nil {
		t.Fatalf("expected calendar timer to be re-armed after fire")
	}
	if *job.CalendarTimerId != firstId {
		t.Fatalf("expected calendar timer id to stay stable across re-arm, got %d want %d", *job.CalendarTimerId, firstId)
	}

	e.mu.Lock()
	_, stillArmed := e.timers[firstId]
	e.mu.Unlock()
	if !stillArmed {
		t.Fatalf("expected re-armed timer to still be tracked")
	}

	sup.Remove("com.example.rearmjob")
}

func TestCalendarNextDirectly(t *testing.T) {
	spec := calendar.Spec{Month: -1, Day: -1, Hour: 3, Minute: 15, Weekday: -1}
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	next := calendar.Next(spec, now, time.UTC)
	if next.Hour() != 3 || next.Minute() != 15 {
		t.Fatalf("unexpected next fire time: %v", next)
	}
	if !next.After(now) {
		t.Fatalf("expected next fire time to be after now, got %v <= %v", next, now)
	}
}

package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Timer is one armed timerfd, identified by the id given to ArmTimer so the
// trigger engine can correlate a delivered Event.TimerID back to a job's
// StartInterval or StartCalendarInterval (§4.D).
type Timer struct {
	id uint64
	fd int
}

// ArmTimer creates a timerfd that fires once at deadline (absolute,
// CLOCK_REALTIME so it tracks wall-clock adjustments the way a calendar
// alarm must) and registers it with the reactor. The returned Timer must be
// passed to Disarm when the job is torn down or the alarm is rearmed.
func (r *Reactor) ArmTimer(id uint64, deadline time.Time) (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_REALTIME, unix.TFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: timerfd_create: %w", err)
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(deadline.UnixNano()),
	}
	if err := unix.TimerfdSettime(fd, unix.TFD_TIMER_ABSTIME, &spec, nil); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reactor: timerfd_settime: %w", err)
	}

	t := &Timer{id: id, fd: fd}
	err = r.RegisterFdReadable(fd, func(Event) {
		var buf [8]byte
		unix.Read(fd, buf[:]) // drain the expiration counter
		r.PostTimer(id)
	})
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return t, nil
}

// ArmInterval is ArmTimer's periodic sibling, used for StartInterval
// (§4.D "Interval timer"): it fires every period starting one period from
// now and keeps firing until Disarm.
func (r *Reactor) ArmInterval(id uint64, period time.Duration) (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: timerfd_create: %w", err)
	}
	ts := unix.NsecToTimespec(period.Nanoseconds())
	spec := unix.ItimerSpec{Value: ts, Interval: ts}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reactor: timerfd_settime: %w", err)
	}

	t := &Timer{id: id, fd: fd}
	err = r.RegisterFdReadable(fd, func(Event) {
		var buf [8]byte
		unix.Read(fd, buf[:])
		r.PostTimer(id)
	})
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return t, nil
}

// Disarm unregisters and closes the timer's fd.
func (r *Reactor) Disarm(t *Timer) {
	if t == nil {
		return
	}
	r.UnregisterFd(t.fd)
	unix.Close(t.fd)
}

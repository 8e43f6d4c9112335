package reactor

import (
	"syscall"
	"testing"
	"time"
)

func newTestReactor(t *testing.T) *Reactor {
	t.Helper()
	r, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestFdReadableFiresOnWrite(t *testing.T) {
	r := newTestReactor(t)

	fds := make([]int, 2)
	if err := syscall.Pipe(fds); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer syscall.Close(fds[0])
	defer syscall.Close(fds[1])

	done := make(chan struct{})
	if err := r.RegisterFdReadable(fds[0], func(ev Event) {
		if ev.Kind != EventFdReadable || ev.Fd != fds[0] {
			t.Errorf("unexpected event %+v", ev)
		}
		close(done)
		r.Stop()
	}); err != nil {
		t.Fatalf("RegisterFdReadable: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		syscall.Write(fds[1], []byte("x"))
	}()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- r.Run() }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for readable event")
	}
	if err := <-runErrCh; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestUnregisterFdStopsDelivery(t *testing.T) {
	r := newTestReactor(t)

	fds := make([]int, 2)
	if err := syscall.Pipe(fds); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer syscall.Close(fds[0])
	defer syscall.Close(fds[1])

	fired := false
	if err := r.RegisterFdReadable(fds[0], func(Event) { fired = true }); err != nil {
		t.Fatalf("RegisterFdReadable: %v", err)
	}
	r.UnregisterFd(fds[0])

	syscall.Write(fds[1], []byte("x"))
	time.Sleep(20 * time.Millisecond)

	go r.Run()
	time.Sleep(60 * time.Millisecond)
	r.Stop()

	if fired {
		t.Fatal("handler fired after UnregisterFd")
	}
}

func TestBatchDisableSuppressesSecondaryDrain(t *testing.T) {
	r := newTestReactor(t)

	var delivered int
	r.RegisterAsyncHandler(func(ev Event) {
		if ev.Kind == EventTimer {
			delivered++
		}
	})

	r.SetBatchDisabled(true)
	r.PostTimer(1)

	go r.Run()
	time.Sleep(80 * time.Millisecond)
	r.Stop()

	if delivered != 0 {
		t.Fatalf("delivered = %d while batching disabled, want 0", delivered)
	}
}

func TestBatchEnableFlushesQueuedTimer(t *testing.T) {
	r := newTestReactor(t)

	done := make(chan struct{})
	r.RegisterAsyncHandler(func(ev Event) {
		if ev.Kind == EventTimer && ev.TimerID == 42 {
			close(done)
		}
	})

	r.SetBatchDisabled(true)
	r.PostTimer(42)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- r.Run() }()

	time.Sleep(30 * time.Millisecond)
	r.SetBatchDisabled(false)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queued timer event after re-enable")
	}
	r.Stop()
	<-runErrCh
}

func TestProcessExitDeliversOnce(t *testing.T) {
	r := newTestReactor(t)

	done := make(chan struct{})
	var calls int
	r.RegisterProcessExit(1234, func(ev Event) {
		calls++
		if ev.Pid != 1234 {
			t.Errorf("Pid = %d, want 1234", ev.Pid)
		}
		close(done)
	})

	r.postProcessExit(1234, syscall.WaitStatus(0))

	go r.Run()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for process exit event")
	}
	r.Stop()

	if calls != 1 {
		t.Fatalf("handler called %d times, want 1", calls)
	}
}

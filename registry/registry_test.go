package registry

import (
	"syscall"
	"testing"

	"launchd-go/errors"
	"launchd-go/reactor"
	"launchd-go/value"
)

type fakeTriggers struct {
	armErr   error
	armed    []string
	disarmed []string
}

func (f *fakeTriggers) Arm(job *Job) error {
	if f.armErr != nil {
		return f.armErr
	}
	f.armed = append(f.armed, job.Label)
	return nil
}

func (f *fakeTriggers) Disarm(job *Job) {
	f.disarmed = append(f.disarmed, job.Label)
}

func newTestSupervisor(t *testing.T) (*Supervisor, *fakeTriggers) {
	t.Helper()
	r, err := reactor.New()
	if err != nil {
		t.Fatalf("reactor.New() error = %v", err)
	}
	t.Cleanup(func() { r.Close() })
	ft := &fakeTriggers{}
	return New(r, ft), ft
}

func basicDescription(label string) value.Value {
	d := value.NewDict()
	d = d.Set("Label", value.NewString(label))
	d = d.Set("Program", value.NewString("/bin/true"))
	return d
}

func TestSubmitRejectsMissingLabel(t *testing.T) {
	s, _ := newTestSupervisor(t)
	d := value.NewDict()
	d = d.Set("Program", value.NewString("/bin/true"))
	_, err := s.Submit(d)
	if !errors.Is(err, errors.ErrInvalidLabel) {
		t.Fatalf("Submit() error = %v, want ErrInvalidLabel", err)
	}
}

func TestSubmitRejectsMissingProgram(t *testing.T) {
	s, _ := newTestSupervisor(t)
	d := value.NewDict()
	d = d.Set("Label", value.NewString("svc"))
	_, err := s.Submit(d)
	if !errors.Is(err, errors.ErrNoProgram) {
		t.Fatalf("Submit() error = %v, want ErrNoProgram", err)
	}
}

func TestSubmitRejectsDuplicateLabel(t *testing.T) {
	s, _ := newTestSupervisor(t)
	if _, err := s.Submit(basicDescription("svc")); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if _, err := s.Submit(basicDescription("svc")); !errors.Is(err, errors.ErrJobExists) {
		t.Fatalf("second Submit() error = %v, want ErrJobExists", err)
	}
}

func TestSubmitArmsTriggersAndLooksUp(t *testing.T) {
	s, ft := newTestSupervisor(t)
	if _, err := s.Submit(basicDescription("svc")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(ft.armed) != 1 || ft.armed[0] != "svc" {
		t.Fatalf("armed = %v, want [svc]", ft.armed)
	}
	job, ok := s.Lookup("svc")
	if !ok {
		t.Fatal("Lookup() ok = false, want true")
	}
	if job.State != StateIdle {
		t.Fatalf("State = %v, want idle", job.State)
	}
	if !job.OnDemand {
		t.Fatal("OnDemand default should be true")
	}
}

func TestRemoveDisarmsIdleJob(t *testing.T) {
	s, ft := newTestSupervisor(t)
	s.Submit(basicDescription("svc"))

	if err := s.Remove("svc"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if len(ft.disarmed) != 1 || ft.disarmed[0] != "svc" {
		t.Fatalf("disarmed = %v, want [svc]", ft.disarmed)
	}
	if _, ok := s.Lookup("svc"); ok {
		t.Fatal("Lookup() ok = true after Remove, want false")
	}
}

func TestRemoveUnknownLabel(t *testing.T) {
	s, _ := newTestSupervisor(t)
	if err := s.Remove("nope"); !errors.Is(err, errors.ErrJobNotFound) {
		t.Fatalf("Remove() error = %v, want ErrJobNotFound", err)
	}
}

func TestIterateAllVisitsEveryJob(t *testing.T) {
	s, _ := newTestSupervisor(t)
	s.Submit(basicDescription("a"))
	s.Submit(basicDescription("b"))

	seen := make(map[string]bool)
	s.IterateAll(func(j *Job) bool {
		seen[j.Label] = true
		return true
	})
	if !seen["a"] || !seen["b"] {
		t.Fatalf("seen = %v, want both a and b", seen)
	}
}

func TestCheckInMarksCheckedInAndAddsMinRunTimeHint(t *testing.T) {
	s, _ := newTestSupervisor(t)
	s.Submit(basicDescription("svc"))

	augmented, err := s.CheckIn("svc")
	if err != nil {
		t.Fatalf("CheckIn() error = %v", err)
	}
	job, _ := s.Lookup("svc")
	if !job.CheckedIn {
		t.Fatal("job.CheckedIn = false after CheckIn")
	}
	if _, ok := augmented.Get("MinRunTimeHint"); !ok {
		t.Fatal("augmented description missing MinRunTimeHint")
	}
}

func TestClassifyWaitStatusZeroExitIsGood(t *testing.T) {
	ws := syscall.WaitStatus(0) // exited, status 0
	if classifyWaitStatus(ws) {
		t.Fatal("classifyWaitStatus(exit 0) = bad, want good")
	}
}

func TestRestartFitRequiresCheckInForServiceIPC(t *testing.T) {
	s, _ := newTestSupervisor(t)
	job := &Job{ServiceIPC: true, CheckedIn: false}
	if s.restartFit(job) {
		t.Fatal("restartFit() = true for un-checked-in ServiceIPC job, want false")
	}
	job.CheckedIn = true
	if !s.restartFit(job) {
		t.Fatal("restartFit() = false after CheckIn, want true")
	}
}

func TestRestartFitRejectsOverThreshold(t *testing.T) {
	s, _ := newTestSupervisor(t)
	job := &Job{FailedExits: FailureThreshold}
	if s.restartFit(job) {
		t.Fatal("restartFit() = true at FailureThreshold, want false")
	}
}

func TestRestartFitRejectsOnDemandDuringShutdown(t *testing.T) {
	s, _ := newTestSupervisor(t)
	s.ShuttingDown = true
	job := &Job{OnDemand: true}
	if s.restartFit(job) {
		t.Fatal("restartFit() = true for OnDemand job while shutting down, want false")
	}
}

func TestRestartFitRejectsOnDemandNotShuttingDown(t *testing.T) {
	s, _ := newTestSupervisor(t)
	job := &Job{OnDemand: true}
	if s.restartFit(job) {
		t.Fatal("restartFit() = true for OnDemand job, want false (OnDemand alone must block restart)")
	}
}

func TestRestartFitRejectsNonOnDemandDuringShutdown(t *testing.T) {
	s, _ := newTestSupervisor(t)
	s.ShuttingDown = true
	job := &Job{OnDemand: false}
	if s.restartFit(job) {
		t.Fatal("restartFit() = true while shutting down, want false (shutdown alone must block restart)")
	}
}

func TestRestartFitAllowsNonOnDemandNotShuttingDown(t *testing.T) {
	s, _ := newTestSupervisor(t)
	job := &Job{OnDemand: false}
	if !s.restartFit(job) {
		t.Fatal("restartFit() = false for non-OnDemand job not shutting down, want true")
	}
}

func TestSettleIdleStateReflectsTriggers(t *testing.T) {
	s, _ := newTestSupervisor(t)
	job := &Job{}
	s.settleIdleState(job)
	if job.State != StateIdle {
		t.Fatalf("State = %v, want idle with no triggers", job.State)
	}

	job.WatchPathFds = map[string]int{"/tmp/x": 3}
	s.settleIdleState(job)
	if job.State != StateWatching {
		t.Fatalf("State = %v, want watching", job.State)
	}
}

package trigger

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"launchd-go/reactor"
	"launchd-go/registry"
	"launchd-go/value"
)

func newTestEngine(t *testing.T) (*Engine, *reactor.Reactor, *registry.Supervisor) {
	t.Helper()
	r, err := reactor.New()
	if err != nil {
		t.Fatalf("reactor.New() error = %v", err)
	}
	t.Cleanup(func() { r.Close() })

	e := New(r, NoopRendezvous{})
	sup := registry.New(r, e)
	e.BindSupervisor(sup)
	return e, r, sup
}

func TestArmSocketsBindsUnixListener(t *testing.T) {
	_, _, sup := newTestEngine(t)

	dir := t.TempDir()
	sockPath := filepath.Join(dir, "test.sock")

	sockSpec := value.NewDict()
	sockSpec = sockSpec.Set("SockType", value.NewString("stream"))
	sockSpec = sockSpec.Set("SockPathName", value.NewString(sockPath))

	sockets := value.NewDict().Set("Listener", sockSpec)

	desc := value.NewDict()
	desc = desc.Set("Label", value.NewString("com.example.sockjob"))
	desc = desc.Set("Program", value.NewString("/bin/true"))
	desc = desc.Set("Sockets", sockets)

	id, err := sup.Submit(desc)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if _, err := os.Stat(sockPath); err != nil {
		t.Fatalf("expected socket file at %s: %v", sockPath, err)
	}

	job, ok := sup.Lookup("com.example.sockjob")
	if !ok {
		t.Fatalf("job not found after submit")
	}
	if job.Id != id {
		t.Fatalf("job id mismatch: got %v want %v", job.Id, id)
	}
	if len(job.ListeningFds["Listener"]) != 1 {
		t.Fatalf("expected one listening fd, got %d", len(job.ListeningFds["Listener"]))
	}
	if job.State != registry.StateIdle {
		t.Fatalf("expected job to stay idle until connection, got %v", job.State)
	}

	distilled, ok := job.Description.Get("Sockets")
	if !ok {
		t.Fatalf("Sockets missing from distilled description")
	}
	entry, ok := distilled.Get("Listener")
	if !ok || entry.Kind() != value.KindArray || entry.Len() != 1 {
		t.Fatalf("expected distilled Sockets.Listener to be a one-element fd array, got %#v", entry)
	}

	listenerFds := job.ListeningFds["Listener"]
	if err := sup.Remove("com.example.sockjob"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	for _, fd := range listenerFds {
		if err := unix.Close(fd); err == nil {
			t.Fatalf("fd %d should already be closed by disarmSockets", fd)
		}
	}
}

func TestSecureSocketInjectsEnvVar(t *testing.T) {
	_, _, sup := newTestEngine(t)

	sockSpec := value.NewDict()
	sockSpec = sockSpec.Set("SockType", value.NewString("stream"))
	sockSpec = sockSpec.Set("SecureSocketWithKey", value.NewString("MY_SOCK"))

	sockets := value.NewDict().Set("Secure", sockSpec)

	desc := value.NewDict()
	desc = desc.Set("Label", value.NewString("com.example.securejob"))
	desc = desc.Set("Program", value.NewString("/bin/true"))
	desc = desc.Set("Sockets", sockets)

	if _, err := sup.Submit(desc); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	job, _ := sup.Lookup("com.example.securejob")
	env, ok := job.Description.Get("UserEnvironmentVariables")
	if !ok {
		t.Fatalf("expected UserEnvironmentVariables to be set")
	}
	path, ok := env.GetString("MY_SOCK")
	if !ok || path == "" {
		t.Fatalf("expected MY_SOCK to hold a socket path, got %q ok=%v", path, ok)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected secure socket at %s: %v", path, err)
	}

	sup.Remove("com.example.securejob")
}

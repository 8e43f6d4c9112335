package trigger

import (
	"os"
	"path/filepath"
	"testing"

	"launchd-go/registry"
	"launchd-go/value"
)

func TestArmWatchPathsTracksPathAndSettlesWatching(t *testing.T) {
	_, _, sup := newTestEngine(t)

	dir := t.TempDir()
	watched := filepath.Join(dir, "config.txt")
	if err := os.WriteFile(watched, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	desc := value.NewDict()
	desc = desc.Set("Label", value.NewString("com.example.watchjob"))
	desc = desc.Set("Program", value.NewString("/bin/true"))
	desc = desc.Set("WatchPaths", value.NewArray(value.NewString(watched)))

	if _, err := sup.Submit(desc); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	job, ok := sup.Lookup("com.example.watchjob")
	if !ok {
		t.Fatalf("job not found")
	}
	if _, ok := job.WatchPathFds[watched]; !ok {
		t.Fatalf("expected %s to be tracked in WatchPathFds", watched)
	}
	if job.State != registry.StateWatching {
		t.Fatalf("expected a watch-only job to settle into StateWatching, got %v", job.State)
	}

	sup.Remove("com.example.watchjob")
	job2, _ := sup.Lookup("com.example.watchjob")
	if job2 != nil {
		t.Fatalf("expected job to be removed once disarmed")
	}
}

func TestArmQueueDirectoriesProbesNonEmpty(t *testing.T) {
	_, _, sup := newTestEngine(t)

	dir := t.TempDir()

	desc := value.NewDict()
	desc = desc.Set("Label", value.NewString("com.example.queuejob"))
	desc = desc.Set("Program", value.NewString("/bin/true"))
	desc = desc.Set("QueueDirectories", value.NewArray(value.NewString(dir)))

	if _, err := sup.Submit(desc); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	job, _ := sup.Lookup("com.example.queuejob")
	if _, ok := job.QueueDirFds[dir]; !ok {
		t.Fatalf("expected %s to be tracked in QueueDirFds", dir)
	}

	empty, err := directoryNonEmpty(dir)
	if err != nil {
		t.Fatalf("directoryNonEmpty() error = %v", err)
	}
	if empty {
		t.Fatalf("expected freshly created temp dir to be empty")
	}

	if err := os.WriteFile(filepath.Join(dir, "work-item"), []byte("y"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	nonEmpty, err := directoryNonEmpty(dir)
	if err != nil {
		t.Fatalf("directoryNonEmpty() error = %v", err)
	}
	if !nonEmpty {
		t.Fatalf("expected directory with a work item to be reported non-empty")
	}

	sup.Remove("com.example.queuejob")
}

func TestDisarmWatchesClearsJobState(t *testing.T) {
	e, _, sup := newTestEngine(t)

	dir := t.TempDir()
	desc := value.NewDict()
	desc = desc.Set("Label", value.NewString("com.example.disarmjob"))
	desc = desc.Set("Program", value.NewString("/bin/true"))
	desc = desc.Set("WatchPaths", value.NewArray(value.NewString(dir)))

	if _, err := sup.Submit(desc); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	job, _ := sup.Lookup("com.example.disarmjob")

	e.disarmWatches(job)

	if len(job.WatchPathFds) != 0 {
		t.Fatalf("expected WatchPathFds to be cleared, got %v", job.WatchPathFds)
	}
	e.mu.Lock()
	_, stillTracked := e.watches[watchId(job.Id, dir, false)]
	e.mu.Unlock()
	if stillTracked {
		t.Fatalf("expected watch to be untracked after disarm")
	}
}

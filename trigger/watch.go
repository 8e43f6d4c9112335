package trigger

import (
	"os"
	"sort"

	"launchd-go/errors"
	"launchd-go/logging"
	"launchd-go/reactor"
	"launchd-go/registry"
	"launchd-go/value"
)

// armWatchPaths implements §4.D "Watch paths": arm a vnode watch on every
// WatchPaths entry. After DELETE|RENAME|REVOKE onVnodeChange closes the
// watch; it is not re-opened.
func (e *Engine) armWatchPaths(job *registry.Job) error {
	paths := stringArray(job.Description, "WatchPaths")
	sort.Strings(paths)
	for _, p := range paths {
		if err := e.armOneWatch(job, p, false); err != nil {
			return err
		}
	}
	return nil
}

// armQueueDirectories implements §4.D "Queue directories": same arming as
// watch paths but probed on fire rather than starting unconditionally.
func (e *Engine) armQueueDirectories(job *registry.Job) error {
	paths := stringArray(job.Description, "QueueDirectories")
	sort.Strings(paths)
	for _, p := range paths {
		if err := e.armOneWatch(job, p, true); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) armOneWatch(job *registry.Job, path string, queueDir bool) error {
	vw, err := e.reactor.WatchPath(path)
	if err != nil {
		return errors.WrapWithJob(err, errors.ErrResource, "watch-path", job.Label)
	}

	id := watchId(job.Id, path, queueDir)
	e.mu.Lock()
	e.watches[id] = append(e.watches[id], &armedWatch{jobId: job.Id, path: path, watch: vw, queueDir: queueDir})
	e.mu.Unlock()

	if queueDir {
		job.QueueDirFds[path] = 1
	} else {
		job.WatchPathFds[path] = 1
	}
	return nil
}

// onVnodeChange dispatches a fired vnode-change event to the watch it
// belongs to and probes queue directories before starting the job (§4.D
// "on fire, probe the directory"). A DELETE|RENAME|REVOKE event does not
// start the job: a watch path's watch is closed and not re-opened, and a
// queue directory's event is ignored.
func (e *Engine) onVnodeChange(path string, flags uint32) {
	e.mu.Lock()
	var matched *armedWatch
	for _, ws := range e.watches {
		for _, w := range ws {
			if w.path == path {
				matched = w
				break
			}
		}
		if matched != nil {
			break
		}
	}
	e.mu.Unlock()
	if matched == nil {
		return
	}

	invalidated := flags&(reactor.VnodeDelete|reactor.VnodeRename|reactor.VnodeRevoke) != 0
	if matched.queueDir {
		if invalidated {
			return
		}
		nonEmpty, err := directoryNonEmpty(path)
		if err != nil {
			logging.Error("queue directory probe failed", "path", path, "error", err)
			return
		}
		if !nonEmpty {
			return
		}
	} else if invalidated {
		matched.watch.Close()
		return
	}

	if err := e.supervisor.TriggerStart(matched.jobId); err != nil {
		logging.Error("trigger start from watch failed", "path", path, "error", err)
	}
}

func directoryNonEmpty(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	names, err := f.Readdirnames(3)
	if err != nil && len(names) == 0 {
		return false, nil
	}
	for _, n := range names {
		if n != "." && n != ".." {
			return true, nil
		}
	}
	return false, nil
}

// disarmWatches closes every vnode watch armWatchPaths/armQueueDirectories
// opened for job.
func (e *Engine) disarmWatches(job *registry.Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ws := range e.watches {
		kept := ws[:0]
		for _, w := range ws {
			if w.jobId == job.Id {
				w.watch.Close()
				continue
			}
			kept = append(kept, w)
		}
		if len(kept) == 0 {
			delete(e.watches, id)
		} else {
			e.watches[id] = kept
		}
	}
	for p := range job.WatchPathFds {
		delete(job.WatchPathFds, p)
	}
	for p := range job.QueueDirFds {
		delete(job.QueueDirFds, p)
	}
}

func watchId(jobId registry.JobId, path string, queueDir bool) uint64 {
	// Not used for lookup (onVnodeChange matches by path string since
	// fsnotify events carry no job context); kept as the watches map's key
	// purely to group a job's own watch handles for Disarm, so collisions
	// across jobs are harmless.
	h := uint64(jobId) << 1
	if queueDir {
		h |= 1
	}
	return h
}

func stringArray(desc value.Value, key string) []string {
	v, ok := desc.Get(key)
	if !ok || v.Kind() != value.KindArray {
		return nil
	}
	var out []string
	for _, e := range v.Array() {
		if e.Kind() == value.KindString {
			out = append(out, e.String())
		}
	}
	return out
}

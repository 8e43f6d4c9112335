package reactor

import (
	"fmt"

	"github.com/fsnotify/fsnotify"

	"launchd-go/logging"
)

// VnodeWatch is one fsnotify watch backing a WatchPaths or QueueDirectories
// entry (§4.D "Vnode watch"). Linux has no native vnode-change kqueue
// filter, so this is implemented on inotify via fsnotify, translating its
// Op bitmask into the WRITE|EXTEND|DELETE|RENAME|ATTRIB vocabulary the
// trigger engine expects.
type VnodeWatch struct {
	path    string
	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// WatchPath arms a vnode-change watch on path and posts VnodeChange events
// through the reactor's secondary queue as they occur. The watch remains
// armed until Close is called.
func (r *Reactor) WatchPath(path string) (*VnodeWatch, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("reactor: fsnotify.NewWatcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("reactor: watch %s: %w", path, err)
	}

	vw := &VnodeWatch{path: path, watcher: w, stop: make(chan struct{})}
	go vw.pump(r)
	return vw, nil
}

func (vw *VnodeWatch) pump(r *Reactor) {
	for {
		select {
		case <-vw.stop:
			return
		case ev, ok := <-vw.watcher.Events:
			if !ok {
				return
			}
			r.PostVnodeChange(ev.Name, translateOp(ev.Op))
		case err, ok := <-vw.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("reactor: vnode watch error", "path", vw.path, "error", err)
		}
	}
}

func translateOp(op fsnotify.Op) uint32 {
	var flags uint32
	if op&fsnotify.Write != 0 {
		flags |= VnodeWrite
	}
	if op&fsnotify.Create != 0 {
		flags |= VnodeExtend
	}
	if op&fsnotify.Remove != 0 {
		flags |= VnodeDelete
	}
	if op&fsnotify.Rename != 0 {
		flags |= VnodeRename
	}
	if op&fsnotify.Chmod != 0 {
		flags |= VnodeAttrib
	}
	return flags
}

// Close stops the watch and releases its inotify descriptor.
func (vw *VnodeWatch) Close() error {
	close(vw.stop)
	return vw.watcher.Close()
}

package control

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"launchd-go/logging"
	"launchd-go/reactor"
	"launchd-go/registry"
)

// Environment variables the control plane publishes to jobs (§6.3); the
// third, <TRUSTED_FD_ENV>, is set directly by registry.startLocked under
// the name registry.TrustedFdEnv, since it's a per-job value the registry
// already computes while building ExtraFiles.
const (
	// SocketEnv names the environment variable holding the control
	// socket path a client should dial (§6.3 "<SOCKET_ENV>").
	SocketEnv = "LAUNCHD_GO_SOCKET"
	// KeepContextEnv, when set in a client's environment, tells an
	// asuser-style front-end to leave the current socket alone rather
	// than switching contexts (§6.3 "<KEEP_CONTEXT_ENV>").
	KeepContextEnv = "LAUNCHD_GO_KEEP_CONTEXT"
)

// DefaultPrefix is the root directory session sockets are rooted under
// when the caller doesn't supply one, analogous to launchd's /var/run — on
// Linux the per-user XDG runtime directory is the idiomatic equivalent.
func DefaultPrefix() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "launchd-go")
}

// Server owns the listening control socket, the set of live connections,
// and the process-wide state the control verbs expose (global environment
// overrides, umask, log mask) that has no natural home on a *Job (§4.E).
type Server struct {
	sup      *registry.Supervisor
	reactor  *reactor.Reactor
	listener *net.UnixListener
	dirFile  *os.File // holds the exclusive flock on the session directory for the server's lifetime
	path     string

	mu    sync.Mutex
	conns map[string]*conn

	logMask atomic.Int32
	batch   batchTracker

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// NewServer constructs a Server bound to sup. Listen must be called before
// Serve. Like trigger.Engine and registry.Supervisor, Server needs a
// *registry.Supervisor that already exists, and registry.Supervisor's
// ConnAdopter is bound to this Server only after NewServer returns — the
// same two-step construction order used throughout this codebase.
func NewServer(sup *registry.Supervisor, r *reactor.Reactor) *Server {
	s := &Server{
		sup:     sup,
		reactor: r,
		conns:   make(map[string]*conn),
		done:    make(chan struct{}),
	}
	s.batch.apply = r.SetBatchDisabled
	sup.BindConnAdopter(s)
	return s
}

// socketDir returns the session directory path for uid, rooted at prefix
// (§6.1 "<prefix>/<uid>/sock", or the session-scoped variant when pid != 0).
func socketDir(prefix string, uid, pid int) string {
	name := strconv.Itoa(uid)
	if pid != 0 {
		name = fmt.Sprintf("%d.%d", uid, pid)
	}
	return filepath.Join(prefix, name)
}

// DefaultSocketPath returns the control socket path Listen will bind to for
// the invoking user under prefix, so a client can derive the same path
// without having to replicate socketDir's naming scheme.
func DefaultSocketPath(prefix string, pid int) string {
	return filepath.Join(socketDir(prefix, os.Getuid(), pid), "sock")
}

// Listen creates (mode 0700) the session directory under prefix for the
// invoking user, takes an exclusive flock on it to enforce a single live
// supervisor per (uid, session) (§6.1), and binds the control socket under
// umask 077. pid should be 0 for a per-user instance, or the session pid
// for a session-scoped instance.
func (s *Server) Listen(prefix string, pid int) (string, error) {
	uid := os.Getuid()
	dir := socketDir(prefix, uid, pid)

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("control: create session directory %s: %w", dir, err)
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return "", fmt.Errorf("control: chmod session directory %s: %w", dir, err)
	}

	dirFile, err := os.Open(dir)
	if err != nil {
		return "", fmt.Errorf("control: open session directory %s: %w", dir, err)
	}
	if err := unix.Flock(int(dirFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		dirFile.Close()
		return "", fmt.Errorf("control: another supervisor already holds %s: %w", dir, err)
	}

	sockPath := filepath.Join(dir, "sock")
	os.Remove(sockPath)

	oldUmask := unix.Umask(0077)
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: sockPath, Net: "unix"})
	unix.Umask(oldUmask)
	if err != nil {
		dirFile.Close()
		return "", fmt.Errorf("control: bind %s: %w", sockPath, err)
	}

	s.dirFile = dirFile
	s.listener = ln
	s.path = sockPath
	return sockPath, nil
}

// Serve accepts connections until Shutdown is called, running each
// connection's dispatch loop in its own goroutine. Control-plane requests
// are handled as blocking reads on their own goroutine rather than through
// the single-threaded reactor (§9's "global lock" design note is satisfied
// here by registry.Supervisor's own mutex, which already serializes every
// Submit/Start/Stop/Remove call regardless of the calling goroutine).
func (s *Server) Serve() error {
	for {
		nc, err := s.listener.AcceptUnix()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return fmt.Errorf("control: accept: %w", err)
			}
		}
		c := newConn(s, nc, false)
		s.trackConn(c)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.serve()
		}()
	}
}

func (s *Server) trackConn(c *conn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
}

func (s *Server) untrackConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	s.batch.releaseAll(c)
}

// AdoptTrusted implements registry.ConnAdopter: it wraps a ServiceIPC job's
// pre-opened supervisor-side socketpair fd as a connection already bound to
// that job, so the job's own CheckIn call needs no separate authentication
// (§4.E "CheckIn binding").
func (s *Server) AdoptTrusted(job *registry.Job, fd int) {
	f := os.NewFile(uintptr(fd), fmt.Sprintf("trusted-conn-%s", job.Label))
	nc, err := net.FileConn(f)
	f.Close()
	if err != nil {
		logging.Error("control: adopt trusted connection failed", "label", job.Label, "error", err)
		unix.Close(fd)
		return
	}
	unc, ok := nc.(*net.UnixConn)
	if !ok {
		logging.Error("control: trusted connection is not a unix socket", "label", job.Label)
		nc.Close()
		return
	}

	c := newConn(s, unc, true)
	c.trustedLabel = job.Label
	s.trackConn(c)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.serve()
	}()
}

// Shutdown stops accepting new connections, closes every live connection,
// and waits for their goroutines to exit (§4.E Shutdown verb, §7
// "begins drain").
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Lock()
		conns := make([]*conn, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()
		for _, c := range conns {
			c.nc.Close()
		}
		s.wg.Wait()
		if s.dirFile != nil {
			unix.Flock(int(s.dirFile.Fd()), unix.LOCK_UN)
			s.dirFile.Close()
		}
	})
}

// GetUmask returns the process umask without changing it (there is no
// direct get-only syscall; this is the standard trick of setting then
// immediately restoring).
func (s *Server) GetUmask() int {
	old := unix.Umask(0)
	unix.Umask(old)
	return old
}

// SetUmask sets the process umask and returns the previous value.
func (s *Server) SetUmask(mask int) int {
	return unix.Umask(mask)
}

// GetLogMask returns the last value passed to SetLogMask (0 initially).
func (s *Server) GetLogMask() int32 {
	return s.logMask.Load()
}

// SetLogMask records mask for later retrieval via GetLogMask (§4.E
// "Get/SetLogMask"); the supervisor's own logger level is left under
// operator control (flags/config), so this call only tracks the value a
// client last requested.
func (s *Server) SetLogMask(mask int32) int32 {
	return s.logMask.Swap(mask)
}

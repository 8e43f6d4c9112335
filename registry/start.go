package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"launchd-go/errors"
	"launchd-go/logging"
	"launchd-go/reactor"
	"launchd-go/value"
)

// reexecSelf is the binary this package re-execs, with reexecArg as its
// first argument, to enter the child init path (see childinit.go).
// reexecSelf is set by cmd's bootstrap command at startup via
// SetReexecSelf.
var reexecSelf string
var reexecArg = "__job_init__"

// SetReexecSelf records the absolute path of the running binary so Start
// knows what to re-exec. Must be called once during supervisor startup
// before any job is started.
func SetReexecSelf(path string) { reexecSelf = path }

// startLocked implements the §4.C "Start algorithm". Caller holds s.mu.
func (s *Supervisor) startLocked(job *Job) error {
	if job.Pid != 0 {
		return nil // already running, no-op
	}
	if reexecSelf == "" {
		self, err := os.Executable()
		if err != nil {
			return errors.WrapWithJob(err, errors.ErrInternal, "start", job.Label)
		}
		reexecSelf = self
	}

	execR, execW, err := os.Pipe()
	if err != nil {
		return errors.WrapWithJob(err, errors.ErrResource, "start", job.Label)
	}
	releaseR, releaseW, err := os.Pipe()
	if err != nil {
		execR.Close()
		execW.Close()
		return errors.WrapWithJob(err, errors.ErrResource, "start", job.Label)
	}
	paramR, paramW, err := os.Pipe()
	if err != nil {
		execR.Close()
		execW.Close()
		releaseR.Close()
		releaseW.Close()
		return errors.WrapWithJob(err, errors.ErrResource, "start", job.Label)
	}

	params := s.buildChildSetupParams(job)

	extraFiles := []*os.File{paramR, releaseR, execW}
	params.ReleaseFd = 3 + 1 // paramFd=3, releaseFd=4
	params.ExecErrFd = 3 + 2 // execErrFd=5

	// Listening/IPC descriptors are duplicated (not handed over
	// directly) because os.NewFile attaches a GC finalizer that closes
	// the fd; the supervisor keeps the originals open for the job's
	// whole lifetime, so only throwaway dups may be wrapped for
	// ExtraFiles (closed again once dup2'd into the child, same as the
	// pipe ends below).
	var socketDups []*os.File
	params.ListeningFds = make(map[string][]int)
	for _, name := range sortedKeys(job.ListeningFds) {
		for _, fd := range job.ListeningFds[name] {
			dupFd, derr := unix.Dup(fd)
			if derr != nil {
				logging.Error("start: dup listening fd failed", "label", job.Label, "socket", name, "error", derr)
				continue
			}
			f := os.NewFile(uintptr(dupFd), fmt.Sprintf("socket-%s", name))
			pos := 3 + len(extraFiles)
			extraFiles = append(extraFiles, f)
			socketDups = append(socketDups, f)
			params.ListeningFds[name] = append(params.ListeningFds[name], pos)
		}
	}

	// ServiceIPC jobs get a pre-opened control-plane socketpair (§4.E
	// "CheckIn binding"): the supervisor keeps one end to register with
	// the control package, and the child inherits the other, named by
	// its fd position via TrustedFdEnv rather than by number, since that
	// position shifts with however many listening sockets preceded it.
	var ipcParentFd int
	if job.ServiceIPC {
		pair, perr := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
		if perr != nil {
			logging.Error("start: ServiceIPC socketpair failed", "label", job.Label, "error", perr)
		} else {
			ipcParentFd = pair[0]
			childFile := os.NewFile(uintptr(pair[1]), "trusted-conn")
			pos := 3 + len(extraFiles)
			extraFiles = append(extraFiles, childFile)
			socketDups = append(socketDups, childFile)
			params.TrustedConnFd = pos
		}
	}

	cmd := exec.Command(reexecSelf, reexecArg)
	cmd.ExtraFiles = extraFiles
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if params.TrustedConnFd != 0 {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", TrustedFdEnv, params.TrustedConnFd))
	}

	if err := cmd.Start(); err != nil {
		execR.Close()
		execW.Close()
		releaseR.Close()
		releaseW.Close()
		paramR.Close()
		paramW.Close()
		for _, f := range socketDups {
			f.Close()
		}
		if ipcParentFd != 0 {
			unix.Close(ipcParentFd)
		}
		return errors.WrapWithJob(err, errors.ErrInternal, "start", job.Label)
	}

	// These ends now live only in the child; the parent's copies would
	// otherwise leak and (for releaseR) prevent EOF-based teardown.
	paramR.Close()
	releaseR.Close()
	execW.Close()
	for _, f := range socketDups {
		f.Close()
	}

	job.Pid = cmd.Process.Pid
	job.StartTime = time.Now()
	job.State = StateRunning
	job.ExecPipeFd = int(execR.Fd())

	if ipcParentFd != 0 {
		job.IPCConnFd = ipcParentFd
		if s.connAdopter != nil {
			s.connAdopter.AdoptTrusted(job, ipcParentFd)
		}
	}

	// Ordering guarantee (§5 "Ordering"): register before releasing.
	pid := job.Pid
	s.reactor.RegisterProcessExit(pid, func(ev reactor.Event) {
		s.onProcessExit(job, ev)
	})
	_ = s.reactor.RegisterFdReadable(job.ExecPipeFd, func(ev reactor.Event) {
		s.onExecPipeReadable(job, execR)
	})

	enc := json.NewEncoder(paramW)
	if err := enc.Encode(params); err != nil {
		logging.Error("start: failed to write child params", "label", job.Label, "error", err)
	}
	paramW.Close()

	if _, err := releaseW.Write([]byte{0}); err != nil {
		logging.Error("start: failed to release child", "label", job.Label, "error", err)
	}
	releaseW.Close()

	return nil
}

// buildChildSetupParams gathers the JSON parameter blob for the child init
// process from a Job's normalized Description (§3 JobDescription keys),
// merging in the SetUserEnv global overrides (§4.E) behind any job-specific
// EnvironmentVariables entry of the same name.
func (s *Supervisor) buildChildSetupParams(job *Job) *childSetupParams {
	desc := job.Description
	p := &childSetupParams{
		Label:     job.Label,
		Firstborn: job.Firstborn,
	}

	if prog, ok := desc.GetString("Program"); ok {
		p.Program = prog
	}
	if args, ok := desc.Get("ProgramArguments"); ok && args.Kind() == value.KindArray {
		for _, e := range args.Array() {
			p.Args = append(p.Args, e.String())
		}
	}
	if p.Program == "" && len(p.Args) > 0 {
		p.Program = p.Args[0]
	}

	if env, ok := desc.Get("EnvironmentVariables"); ok && env.Kind() == value.KindDict {
		env.Each(func(k string, v value.Value) bool {
			p.Env = append(p.Env, fmt.Sprintf("%s=%s", k, v.String()))
			return true
		})
	}
	// Global overrides come after the job's own entries: since exec(3)
	// scans environ front-to-back for the first match, a job-specific
	// EnvironmentVariables entry shadows a same-named global override
	// rather than the other way around.
	for _, k := range sortedEnvKeys(s.globalEnv) {
		p.Env = append(p.Env, fmt.Sprintf("%s=%s", k, s.globalEnv[k]))
	}

	if wd, ok := desc.GetString("WorkingDirectory"); ok {
		p.WorkingDirectory = wd
	}
	if rd, ok := desc.GetString("RootDirectory"); ok {
		p.RootDirectory = rd
	}
	if um, ok := desc.GetInteger("Umask"); ok {
		v := int(um)
		p.Umask = &v
	}
	if un, ok := desc.GetString("UserName"); ok {
		p.UserName = un
	}
	if gn, ok := desc.GetString("GroupName"); ok {
		p.GroupName = gn
	}
	if ig, ok := desc.GetBool("InitGroups"); ok {
		p.InitGroups = ig
	}
	if sc, ok := desc.GetBool("SessionCreate"); ok {
		p.SessionCreate = sc
	}
	if n, ok := desc.GetInteger("Nice"); ok {
		v := int(n)
		p.Nice = &v
	}
	if lp, ok := desc.GetBool("LowPriorityIO"); ok {
		p.LowPriorityIO = lp
	}
	if sop, ok := desc.GetString("StandardOutPath"); ok {
		p.StandardOutPath = sop
	}
	if sep, ok := desc.GetString("StandardErrorPath"); ok {
		p.StandardErrPath = sep
	}

	p.SoftLimits = rlimitDict(desc, "SoftResourceLimits")
	p.HardLimits = rlimitDict(desc, "HardResourceLimits")

	return p
}

func sortedEnvKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string][]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func rlimitDict(desc value.Value, key string) map[string]uint64 {
	d, ok := desc.Get(key)
	if !ok || d.Kind() != value.KindDict {
		return nil
	}
	out := make(map[string]uint64)
	d.Each(func(k string, v value.Value) bool {
		if v.Kind() == value.KindInteger {
			out[k] = uint64(v.Integer())
		}
		return true
	})
	return out
}

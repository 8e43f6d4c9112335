package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"launchd-go/logging"
)

// RunChildInit is the entry point for the re-exec'd child process (§4.C
// "Child setup order"). It is invoked from cmd's hidden job-init subcommand
// before any other package initialization assumptions matter: by the time
// this runs, the process holds exactly the three inherited fds named in
// childSetupParams (param, release, exec-error) plus whatever listening/IPC
// descriptors were left open across the fork by the parent's ExtraFiles
// ordering, and stdio already pointed wherever the parent set it up.
//
// It never returns on success: the final step replaces the process image
// with the job's real program via syscall.Exec. On any fatal setup failure
// it writes the error to the exec-error pipe and exits(1), mirroring
// "child writes its errno to the exec pipe" (§7 "Child exec failure").
func RunChildInit() error {
	paramFile := os.NewFile(3, "job-init-param")
	var params childSetupParams
	dec := json.NewDecoder(paramFile)
	if err := dec.Decode(&params); err != nil {
		return fmt.Errorf("job-init: decode params: %w", err)
	}
	paramFile.Close()

	releaseFile := os.NewFile(uintptr(params.ReleaseFd), "job-init-release")
	execErrFile := os.NewFile(uintptr(params.ExecErrFd), "job-init-execerr")

	// Block until the parent has registered ProcessExit/FdReadable for
	// this child (§5 "Ordering": registration must precede exec).
	var relbuf [1]byte
	if _, err := releaseFile.Read(relbuf[:]); err != nil {
		fail(execErrFile, fmt.Errorf("wait for release: %w", err))
	}
	releaseFile.Close()

	if err := applyChildSetup(&params); err != nil {
		fail(execErrFile, err)
	}

	// FD_CLOEXEC on the exec-error fd: if exec succeeds, the descriptor
	// closes automatically and the parent's read of execPipeFd sees EOF
	// with no bytes, which is the success signal (§4.C step 2 comment:
	// "child writes errno on exec failure" — silence on success).
	flags, _ := unix.FcntlInt(execErrFile.Fd(), unix.F_GETFD, 0)
	unix.FcntlInt(execErrFile.Fd(), unix.F_SETFD, flags|unix.FD_CLOEXEC)

	env := params.Env
	if env == nil {
		env = os.Environ()
	} else if params.TrustedConnFd != 0 {
		env = append(env, fmt.Sprintf("%s=%d", TrustedFdEnv, params.TrustedConnFd))
	}
	if len(params.ListeningFds) > 0 {
		if encoded, err := json.Marshal(params.ListeningFds); err == nil {
			env = append(env, "LAUNCHD_GO_SOCKETS="+string(encoded))
		}
	}
	if err := syscall.Exec(params.Program, append([]string{params.Program}, params.Args...), env); err != nil {
		fail(execErrFile, fmt.Errorf("exec %s: %w", params.Program, err))
	}
	return nil // unreachable
}

func fail(execErr *os.File, err error) {
	execErr.WriteString(err.Error())
	os.Exit(1)
}

// applyChildSetup performs the ordered sequence in §4.C "Child setup
// order". Each step is fatal on failure except where noted.
func applyChildSetup(p *childSetupParams) error {
	if p.Firstborn {
		if err := syscall.Setpgid(0, 0); err != nil {
			return fmt.Errorf("setpgid: %w", err)
		}
	}

	if p.Nice != nil {
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, *p.Nice); err != nil {
			return fmt.Errorf("setpriority: %w", err)
		}
	}

	if err := applyRlimits(p.SoftLimits, p.HardLimits); err != nil {
		return err
	}

	if p.SessionCreate {
		// launchd_SessionCreate calls into a login-session registration
		// library distinct from setsid (the unconditional detach step
		// below); Linux has no equivalent, so this is logged best-effort
		// rather than guessed at.
		logging.Debug("job-init: SessionCreate has no Linux equivalent, skipping", "label", p.Label)
	}

	if p.LowPriorityIO {
		// Best-effort: Linux has no direct equivalent of the BSD
		// IOPOL_THROTTLE sysctl the original targets; ioprio_set via
		// raw syscall is the closest analogue but isn't always
		// permitted unprivileged, so a failure here is non-fatal.
		const ioprioWhoProcess = 1
		const ioprioClassIdle = 3 << 13
		unix.Syscall(unix.SYS_IOPRIO_SET, ioprioWhoProcess, 0, ioprioClassIdle)
	}

	if p.RootDirectory != "" {
		if err := syscall.Chroot(p.RootDirectory); err != nil {
			return fmt.Errorf("chroot %s: %w", p.RootDirectory, err)
		}
		if err := syscall.Chdir("/"); err != nil {
			return fmt.Errorf("chdir / after chroot: %w", err)
		}
	}

	if p.GroupName != "" {
		gid, err := resolveGroup(p.GroupName)
		if err != nil {
			return err
		}
		if err := syscall.Setgid(gid); err != nil {
			return fmt.Errorf("setgid %d: %w", gid, err)
		}
		if p.InitGroups {
			if err := unix.Initgroups(userNameOrGroup(p.UserName, p.GroupName), gid); err != nil {
				return fmt.Errorf("initgroups: %w", err)
			}
		}
	}

	if p.UserName != "" {
		uid, err := resolveUser(p.UserName)
		if err != nil {
			return err
		}
		if err := syscall.Setuid(uid); err != nil {
			return fmt.Errorf("setuid %d: %w", uid, err)
		}
	}

	if p.WorkingDirectory != "" {
		if err := syscall.Chdir(p.WorkingDirectory); err != nil {
			return fmt.Errorf("chdir %s: %w", p.WorkingDirectory, err)
		}
	}

	if p.Umask != nil {
		syscall.Umask(*p.Umask)
	}

	if err := redirectStdio(p.StandardOutPath, p.StandardErrPath); err != nil {
		return err
	}

	// Unconditional, regardless of SessionCreate above: every job detaches
	// from the supervisor's controlling terminal before exec.
	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("setsid: %w", err)
	}

	return nil
}

func applyRlimits(soft, hard map[string]uint64) error {
	for name, res := range rlimitNameToResource {
		s, hasSoft := soft[name]
		h, hasHard := hard[name]
		if !hasSoft && !hasHard {
			continue
		}
		var cur unix.Rlimit
		if err := unix.Getrlimit(res, &cur); err != nil {
			return fmt.Errorf("getrlimit %s: %w", name, err)
		}
		// Merge soft/hard independently, leaving the unspecified side
		// at its current value (§4.C "get current, merge soft/hard
		// independently").
		next := unix.Rlimit{Cur: cur.Cur, Max: cur.Max}
		if hasSoft {
			next.Cur = s
		}
		if hasHard {
			next.Max = h
		}
		if err := unix.Setrlimit(res, &next); err != nil {
			return fmt.Errorf("setrlimit %s: %w", name, err)
		}
	}
	return nil
}

func redirectStdio(stdoutPath, stderrPath string) error {
	if stdoutPath != "" {
		f, err := os.OpenFile(stdoutPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open StandardOutPath %s: %w", stdoutPath, err)
		}
		if err := unix.Dup2(int(f.Fd()), int(os.Stdout.Fd())); err != nil {
			return fmt.Errorf("dup2 stdout: %w", err)
		}
		f.Close()
	}
	if stderrPath != "" {
		f, err := os.OpenFile(stderrPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open StandardErrorPath %s: %w", stderrPath, err)
		}
		if err := unix.Dup2(int(f.Fd()), int(os.Stderr.Fd())); err != nil {
			return fmt.Errorf("dup2 stderr: %w", err)
		}
		f.Close()
	}
	return nil
}

func resolveUser(name string) (int, error) {
	if uid, err := strconv.Atoi(name); err == nil {
		return uid, nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		return 0, fmt.Errorf("resolve UserName %s: %w", name, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, fmt.Errorf("UserName %s uid %q not numeric: %w", name, u.Uid, err)
	}
	return uid, nil
}

func resolveGroup(name string) (int, error) {
	if gid, err := strconv.Atoi(name); err == nil {
		return gid, nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("resolve GroupName %s: %w", name, err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return 0, fmt.Errorf("GroupName %s gid %q not numeric: %w", name, g.Gid, err)
	}
	return gid, nil
}

func userNameOrGroup(userName, groupName string) string {
	if userName != "" {
		return userName
	}
	return groupName
}

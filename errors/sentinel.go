// Package errors provides predefined sentinel errors for common failure cases.
package errors

// Job lifecycle errors.
var (
	// ErrJobNotFound indicates the label is not loaded in the registry.
	ErrJobNotFound = &Error{
		Kind:   ErrNoSuchJob,
		Detail: "job not found",
	}

	// ErrJobExists indicates the label is already loaded.
	ErrJobExists = &Error{
		Kind:   ErrExists,
		Detail: "job already loaded",
	}

	// ErrJobAlreadyRunning indicates Start was called on a running job.
	ErrJobAlreadyRunning = &Error{
		Kind:   ErrInvalid,
		Detail: "job is already running",
	}

	// ErrJobNotRunning indicates a running-only operation was attempted on
	// an idle job.
	ErrJobNotRunning = &Error{
		Kind:   ErrInvalid,
		Detail: "job is not running",
	}

	// ErrInvalidLabel indicates the label is empty or otherwise malformed.
	ErrInvalidLabel = &Error{
		Kind:   ErrInvalid,
		Detail: "invalid or missing Label",
	}

	// ErrNoProgram indicates neither Program nor ProgramArguments was given.
	ErrNoProgram = &Error{
		Kind:   ErrInvalid,
		Detail: "neither Program nor ProgramArguments specified",
	}

	// ErrJobThrottled indicates a start was deferred by the restart
	// throttle and should be retried by the caller-visible timer, not
	// immediately.
	ErrJobThrottled = &Error{
		Kind:   ErrAgain,
		Detail: "job is throttled, restart deferred",
	}

	// ErrJobRemoved indicates the job exceeded FailureThreshold and was
	// removed from the registry.
	ErrJobRemoved = &Error{
		Kind:   ErrNoSuchJob,
		Detail: "job removed after exceeding failure threshold",
	}
)

// Socket/trigger binding errors.
var (
	// ErrInvalidSocketSpec indicates a SocketSpec is malformed.
	ErrInvalidSocketSpec = &Error{
		Kind:   ErrInvalid,
		Detail: "invalid socket specification",
	}

	// ErrSocketBindFailed indicates bind(2)/listen(2) failed.
	ErrSocketBindFailed = &Error{
		Kind:   ErrResource,
		Detail: "failed to bind socket",
	}

	// ErrWatchPathFailed indicates a watch-path/queue-directory open failed.
	ErrWatchPathFailed = &Error{
		Kind:   ErrResource,
		Detail: "failed to open watch path",
	}

	// ErrRendezvousFailed indicates the name-server collaborator rejected
	// or failed a Bonjour-style registration.
	ErrRendezvousFailed = &Error{
		Kind:   ErrResource,
		Detail: "rendezvous registration failed",
	}
)

// Control-plane errors.
var (
	// ErrUnknownVerb indicates the dispatched command name is not
	// recognized.
	ErrUnknownVerb = &Error{
		Kind:   ErrInvalid,
		Detail: "unknown command",
	}

	// ErrNotCheckedIn indicates CheckIn was issued on a connection that is
	// not bound to a ServiceIPC job.
	ErrNotCheckedIn = &Error{
		Kind:   ErrAccess,
		Detail: "connection is not bound to a checked-in job",
	}

	// ErrMalformedMessage indicates the wire frame could not be decoded.
	ErrMalformedMessage = &Error{
		Kind:   ErrInvalid,
		Detail: "malformed wire message",
	}
)

// Ingestion errors.
var (
	// ErrUnsafeDescriptionFile indicates a description file failed the
	// goodness check (writable by group/other, not owned by root/euid).
	ErrUnsafeDescriptionFile = &Error{
		Kind:   ErrAccess,
		Detail: "description file failed safety check",
	}

	// ErrNotAPlist indicates a candidate file did not match *.plist.
	ErrNotAPlist = &Error{
		Kind:   ErrInvalid,
		Detail: "not a .plist file",
	}
)

// Process errors.
var (
	// ErrForkFailed indicates fork/ForkExec failed.
	ErrForkFailed = &Error{
		Kind:   ErrInternal,
		Detail: "failed to fork child process",
	}

	// ErrExecFailed indicates the child reported an exec(3) failure over
	// the exec pipe.
	ErrExecFailed = &Error{
		Kind:   ErrInternal,
		Detail: "child exec failed",
	}

	// ErrSignalFailed indicates a signal delivery error.
	ErrSignalFailed = &Error{
		Kind:   ErrInternal,
		Detail: "failed to send signal",
	}
)

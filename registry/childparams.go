package registry

// childSetupParams is the JSON-encoded blob handed to the re-exec'd child
// init process over its param pipe. It carries exactly what the child needs
// to perform the setup order (§4.C "Child setup order") and exec the job's
// real program; everything else about the Job stays in the supervisor.
type childSetupParams struct {
	Label   string
	Program string
	Args    []string
	Env     []string

	Firstborn bool

	WorkingDirectory string
	RootDirectory    string
	Umask            *int

	UserName      string
	GroupName     string
	InitGroups    bool
	SessionCreate bool

	Nice          *int
	LowPriorityIO bool

	SoftLimits map[string]uint64
	HardLimits map[string]uint64

	StandardOutPath string
	StandardErrPath string

	// ListeningFds maps a Sockets entry name to the fd position(s) (in
	// the child's numbering, post-ExtraFiles) of its bound listening
	// descriptors, surfaced to the job program via an environment
	// variable (§3 "listening_fds").
	ListeningFds map[string][]int

	// ReleaseFd/ExecErrFd are fd numbers valid inside the child process
	// (positions assigned via ExtraFiles), not the parent's numbering.
	ReleaseFd int
	ExecErrFd int

	// TrustedConnFd is the child's fd position for its end of the
	// pre-opened control-plane socketpair, set only for ServiceIPC jobs
	// (§4.E "CheckIn binding"). Zero means the job has no trusted
	// connection.
	TrustedConnFd int
}

// TrustedFdEnv is the environment variable name a ServiceIPC job's child
// finds its pre-authenticated control connection's fd position under
// (§6.3 "<TRUSTED_FD_ENV>").
const TrustedFdEnv = "LAUNCHD_TRUSTED_FD"

// rlimitNameToResource maps the SoftResourceLimits/HardResourceLimits key
// vocabulary (§3) onto the RLIMIT_* constants.
var rlimitNameToResource = map[string]int{
	"Core":              4, // RLIMIT_CORE
	"CPU":               0, // RLIMIT_CPU
	"Data":              2, // RLIMIT_DATA
	"FileSize":          1, // RLIMIT_FSIZE
	"MemoryLock":        8, // RLIMIT_MEMLOCK
	"NumberOfFiles":     7, // RLIMIT_NOFILE
	"NumberOfProcesses": 6, // RLIMIT_NPROC
	"ResidentSetSize":   5, // RLIMIT_RSS
	"Stack":             3, // RLIMIT_STACK
}

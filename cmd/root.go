// Package cmd implements the launchctl-style command-line front end: a
// thin control-plane client plus the `bootstrap` subcommand that runs the
// supervisor itself. The front end is an out-of-scope collaborator (§1);
// this package exercises only the contract the core exposes (§6).
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"launchd-go/control"
	"launchd-go/logging"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

// Global flags.
var (
	globalSocket     string
	globalLog        string
	globalLogFormat  string
	globalDebug      bool
	globalForce      bool
	globalSessionPid int
)

var rootCmd = &cobra.Command{
	Use:   "launchd-go",
	Short: "user-space service manager and process supervisor",
	Long: `launchd-go accepts declarative service descriptions, starts them on
demand, supervises their lifetime, and exposes a control plane for loading,
unloading, starting, stopping, and introspecting them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalSocket, "socket", "", "control socket path (default: derived from the runtime directory)")
	rootCmd.PersistentFlags().StringVar(&globalLog, "log", "", "set the log file path")
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "set the format for log output (text or json)")
	rootCmd.PersistentFlags().BoolVar(&globalDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&globalForce, "force", "F", false, "bypass the goodness/Disabled checks on load")
	rootCmd.PersistentFlags().IntVar(&globalSessionPid, "session-pid", 0, "session pid for a session-scoped supervisor instance (0 selects the per-user instance)")
}

func setupLogging() {
	logOutput := os.Stderr
	if globalLog != "" {
		f, err := os.OpenFile(globalLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err == nil {
			logOutput = f
		}
	}

	logLevel := slog.LevelInfo
	if globalDebug {
		logLevel = slog.LevelDebug
	}

	logger := logging.NewLogger(logging.Config{
		Level:  logLevel,
		Format: globalLogFormat,
		Output: logOutput,
	})
	logging.SetDefault(logger)
}

// socketPath resolves the control socket to dial: the --socket flag, then
// LAUNCHD_GO_SOCKET (§6.3), then the default per-user/session path (§6.1).
func socketPath() string {
	if globalSocket != "" {
		return globalSocket
	}
	if env := os.Getenv(control.SocketEnv); env != "" {
		return env
	}
	return control.DefaultSocketPath(control.DefaultPrefix(), globalSessionPid)
}

// dial connects to the running supervisor's control socket.
func dial() (*control.Client, error) {
	path := socketPath()
	c, err := control.Dial(path)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w (is the supervisor running?)", path, err)
	}
	return c, nil
}

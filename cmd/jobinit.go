package cmd

import (
	"github.com/spf13/cobra"

	"launchd-go/registry"
)

// jobInitCmd is the hidden re-exec target registry.startLocked launches
// itself as (argv[1] == "__job_init__", matching registry/start.go's
// reexecArg) to perform privileged child setup between fork and exec
// without forking the whole supervisor's address space (§4.C).
var jobInitCmd = &cobra.Command{
	Use:    "__job_init__",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return registry.RunChildInit()
	},
}

func init() {
	rootCmd.AddCommand(jobInitCmd)
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"launchd-go/ingest"
)

var (
	loadEditOnDisk bool
	loadDisable    bool
)

var loadCmd = &cobra.Command{
	Use:   "load <path> [path...]",
	Short: "submit job descriptions to the running supervisor",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLoad,
}

func init() {
	loadCmd.Flags().BoolVarP(&loadEditOnDisk, "write", "w", false, "persist the Disabled override instead of submitting the job")
	loadCmd.Flags().BoolVar(&loadDisable, "disable", false, "with -w, mark the job Disabled rather than enabled")
	rootCmd.AddCommand(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	var roots, paths []string
	for _, a := range args {
		if isDir(a) {
			roots = append(roots, a)
		} else {
			paths = append(paths, a)
		}
	}

	results := ingest.Load(&remoteSubmitter{c: c}, nil, ingest.Options{
		Roots:      roots,
		Paths:      paths,
		Force:      globalForce,
		EditOnDisk: loadEditOnDisk,
		Disable:    loadDisable,
		Env:        ingest.DefaultEnvironment(),
	})

	var failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", res.Path, res.Err)
			continue
		}
		if res.Loaded {
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %s\n", res.Label)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d job(s) failed to load", failed, len(results))
	}
	return nil
}

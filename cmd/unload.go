package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"launchd-go/ingest"
)

var unloadCmd = &cobra.Command{
	Use:   "unload <label> [label...]",
	Short: "remove loaded jobs from the running supervisor",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runUnload,
}

func init() {
	rootCmd.AddCommand(unloadCmd)
}

func runUnload(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	results := ingest.Unload(&remoteSubmitter{c: c}, args)

	var failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", res.Label, res.Err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unloaded %s\n", res.Label)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d job(s) failed to unload", failed, len(results))
	}
	return nil
}

package cmd

import (
	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop <label>",
	Short: "stop a running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		return callSimple(c, "StopJob", args[0])
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

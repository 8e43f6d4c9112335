package cmd

import (
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <label>",
	Short: "force a loaded job to start now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		return callSimple(c, "StartJob", args[0])
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}

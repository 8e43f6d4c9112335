package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"launchd-go/value"
)

var listQuiet bool

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "list loaded jobs",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

func init() {
	listCmd.Flags().BoolVarP(&listQuiet, "quiet", "q", false, "display only job labels")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.Call("GetJobs", value.Value{})
	if err != nil {
		return fmt.Errorf("GetJobs: %w", err)
	}
	if resp.Kind() != value.KindDict {
		return fmt.Errorf("GetJobs: unexpected response shape")
	}

	labels := resp.Keys()
	sort.Strings(labels)

	if listQuiet {
		for _, label := range labels {
			fmt.Fprintln(cmd.OutOrStdout(), label)
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ON-DEMAND\tDISABLED\tLABEL")
	for _, label := range labels {
		desc, _ := resp.Get(label)
		onDemand, _ := desc.GetBool("OnDemand")
		disabled, _ := desc.GetBool("Disabled")
		fmt.Fprintf(w, "%t\t%t\t%s\n", onDemand, disabled, label)
	}
	return w.Flush()
}

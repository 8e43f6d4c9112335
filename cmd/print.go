package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"launchd-go/value"
)

var printCmd = &cobra.Command{
	Use:   "print <label>",
	Short: "print a loaded job's description as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrint,
}

func init() {
	rootCmd.AddCommand(printCmd)
}

func runPrint(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.Call("GetJob", value.NewString(args[0]))
	if err != nil {
		return fmt.Errorf("GetJob: %w", err)
	}
	if resp.Kind() == value.KindErrno {
		return fmt.Errorf("GetJob %s: %w", args[0], errnoError(resp))
	}

	raw, err := (value.JSONDecoder{}).Encode(resp)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), buf.String())
	return nil
}

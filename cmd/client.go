package cmd

import (
	"fmt"
	"os"
	"syscall"

	"launchd-go/control"
	"launchd-go/ingest"
	"launchd-go/registry"
	"launchd-go/value"
)

// isDir reports whether path names an existing directory.
func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// remoteSubmitter adapts a *control.Client to ingest.Submitter, so the same
// two-pass loader that the `bootstrap` subcommand runs in-process against a
// live *registry.Supervisor can also run out-of-process against a running
// supervisor over the control socket.
type remoteSubmitter struct {
	c *control.Client
}

func (r *remoteSubmitter) Submit(desc value.Value) (registry.JobId, error) {
	resp, err := r.c.Call("SubmitJob", desc)
	if err != nil {
		return 0, err
	}
	if err := errnoError(resp); err != nil {
		return 0, err
	}
	return 0, nil
}

func (r *remoteSubmitter) Remove(label string) error {
	resp, err := r.c.Call("RemoveJob", value.NewString(label))
	if err != nil {
		return err
	}
	return errnoError(resp)
}

// errnoError turns a control-plane Errno response into a Go error, or nil
// for Errno(0) (§4.E "response value even on error").
func errnoError(resp value.Value) error {
	if resp.Kind() != value.KindErrno {
		return nil
	}
	if resp.Errno() == 0 {
		return nil
	}
	return syscall.Errno(resp.Errno())
}

// callSimple issues verb with arg and turns a nonzero errno response into an
// error, discarding the response value otherwise. It's the common shape for
// the single-label client commands (start/stop).
func callSimple(c *control.Client, verb, label string) error {
	resp, err := c.Call(verb, value.NewString(label))
	if err != nil {
		return fmt.Errorf("%s %s: %w", verb, label, err)
	}
	if err := errnoError(resp); err != nil {
		return fmt.Errorf("%s %s: %w", verb, label, err)
	}
	return nil
}

var _ ingest.Submitter = (*remoteSubmitter)(nil)

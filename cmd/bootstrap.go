package cmd

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"launchd-go/control"
	"launchd-go/ingest"
	"launchd-go/logging"
	"launchd-go/reactor"
	"launchd-go/registry"
	"launchd-go/trigger"
)

var bootstrapLoadDirs []string

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "run the supervisor in the foreground",
	Long: `bootstrap starts the event reactor, job registry, trigger engine, and
control-plane listener, then blocks until it receives SIGTERM or SIGINT.`,
	RunE: runBootstrap,
}

func init() {
	bootstrapCmd.Flags().StringSliceVarP(&bootstrapLoadDirs, "load", "L", nil, "directories of job descriptions to load at startup")
	rootCmd.AddCommand(bootstrapCmd)
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("bootstrap: resolve self path: %w", err)
	}
	registry.SetReexecSelf(exe)

	r, err := reactor.New()
	if err != nil {
		return fmt.Errorf("bootstrap: start reactor: %w", err)
	}

	engine := trigger.New(r, trigger.NoopRendezvous{})
	sup := registry.New(r, engine)
	engine.BindSupervisor(sup)

	srv := control.NewServer(sup, r)
	sockPath, err := srv.Listen(control.DefaultPrefix(), globalSessionPid)
	if err != nil {
		r.Close()
		return fmt.Errorf("bootstrap: listen: %w", err)
	}
	os.Setenv(control.SocketEnv, sockPath)
	logging.Info("bootstrap: listening", "socket", sockPath)

	if len(bootstrapLoadDirs) > 0 {
		results := ingest.Load(sup, nil, ingest.Options{
			Roots: bootstrapLoadDirs,
			Force: globalForce,
			Env:   ingest.DefaultEnvironment(),
		})
		for _, res := range results {
			if res.Err != nil {
				logging.Warn("bootstrap: load failed", "path", res.Path, "error", res.Err)
			} else if res.Loaded {
				logging.Info("bootstrap: loaded job", "label", res.Label, "path", res.Path)
			}
		}
	}

	stop := make(chan struct{})

	shutdownSigs := make(chan os.Signal, 4)
	r.RegisterSignalHandler(func(ev reactor.Event) {
		if ev.Kind != reactor.EventSignal {
			return
		}
		switch ev.Signal {
		case syscall.SIGTERM, syscall.SIGINT:
			select {
			case shutdownSigs <- syscall.Signal(ev.Signal):
			default:
			}
		}
	})
	go r.SignalLoop(stop, syscall.SIGTERM, syscall.SIGINT)

	serveErrs := make(chan error, 1)
	go func() {
		serveErrs <- srv.Serve()
	}()

	runErrs := make(chan error, 1)
	go func() {
		runErrs <- r.Run()
	}()

	reactorDone := false
	select {
	case sig := <-shutdownSigs:
		logging.Info("bootstrap: shutting down", "signal", sig)
	case err := <-serveErrs:
		if err != nil {
			logging.Error("bootstrap: control server exited", "error", err)
		}
	case err := <-runErrs:
		reactorDone = true
		if err != nil {
			logging.Error("bootstrap: reactor exited", "error", err)
		}
	}

	close(stop)
	srv.Shutdown()
	r.Stop()
	if !reactorDone {
		<-runErrs
	}
	return nil
}

// launchd-go is a user-space service manager and process supervisor.
//
// Commands:
//
//	bootstrap  - run the supervisor in the foreground
//	load       - submit job descriptions to the running supervisor
//	unload     - remove loaded jobs
//	start      - force a loaded job to start now
//	stop       - stop a running job
//	list       - list loaded jobs
//	print      - print a loaded job's description
package main

import (
	"fmt"
	"os"

	"launchd-go/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "launchd-go: %v\n", err)
		os.Exit(1)
	}
}

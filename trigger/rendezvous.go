package trigger

import "launchd-go/logging"

// NoopRendezvous is the default Rendezvous used when no Bonjour-style
// name-server collaborator is configured (§1 "out of scope... abstracted as
// a name-server collaborator"). Register always fails softly — the caller
// already treats a registration failure as non-fatal, logging it and
// continuing to serve the underlying socket without advertisement.
type NoopRendezvous struct{}

func (NoopRendezvous) Register(name, proto string) (int, error) {
	logging.Debug("rendezvous registration skipped (no collaborator configured)", "name", name, "proto", proto)
	return -1, errRendezvousUnavailable
}

func (NoopRendezvous) Unregister(name, proto string) {}

type rendezvousUnavailableError struct{}

func (rendezvousUnavailableError) Error() string { return "rendezvous: no collaborator configured" }

var errRendezvousUnavailable error = rendezvousUnavailableError{}

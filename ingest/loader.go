package ingest

import (
	"os"

	"launchd-go/errors"
	"launchd-go/logging"
	"launchd-go/registry"
	"launchd-go/value"
)

// Submitter is the interface ingest dispatches finished job descriptions
// against; registry.Supervisor implements it. ingest depends only on this
// narrow interface so it can be tested without a live reactor, the same
// reason registry depends only on TriggerEngine rather than *trigger.Engine.
type Submitter interface {
	Submit(desc value.Value) (registry.JobId, error)
	Remove(label string) error
}

// Options configures one Load invocation (§4.F "Input").
type Options struct {
	// Roots are directories enumerated one level deep for candidate
	// description files (the LaunchDaemons/LaunchAgents convention).
	Roots []string
	// Paths are explicit file or directory paths in addition to Roots.
	Paths []string
	// Force bypasses the goodness check's writability/ownership
	// rejection and the Disabled exclusion (`-F`).
	Force bool
	// EditOnDisk requests the `-w` edit-on-disk behavior: flip Disabled
	// in the override DB (or, absent one, in the file itself) instead
	// of loading the job.
	EditOnDisk bool
	// Disable is the value EditOnDisk writes; ignored otherwise.
	Disable bool
	// Decoder parses a candidate file's bytes into a Value tree. The
	// real property-list grammar is out of scope (§1); callers not
	// using JSON-encoded descriptions substitute their own.
	Decoder value.Decoder
	// Env supplies the host/hardware/session facts used by the §4.F
	// step-5 predicates.
	Env Environment
}

// Result reports what Load did with each candidate file, for the cmd
// package's human-readable output.
type Result struct {
	Path   string
	Label  string
	Err    error
	Loaded bool
}

// Load walks opts.Roots and opts.Paths, applies the goodness check and the
// per-file pipeline (§4.F), and submits the surviving descriptions to sub
// in two dependency-ordered passes: pass 2 (any job with a truthy Bonjour
// socket entry) is submitted only after pass 1 has fully returned, giving
// a rendezvous-providing job in pass 1 time to register before a
// Bonjour-consuming job in pass 2 looks it up.
func Load(sub Submitter, db *OverrideDB, opts Options) []Result {
	decoder := opts.Decoder
	if decoder == nil {
		decoder = value.JSONDecoder{}
	}

	var results []Result
	var pass1, pass2 []namedDesc

	for _, path := range candidateFiles(opts.Roots, opts.Paths, opts.Force) {
		desc, label, err := loadOne(path, db, decoder, opts)
		if err != nil {
			results = append(results, Result{Path: path, Err: err})
			continue
		}
		if desc.Kind() != value.KindDict {
			// EditOnDisk request handled in loadOne; nothing to submit.
			results = append(results, Result{Path: path, Label: label, Loaded: false})
			continue
		}
		if !eligible(desc, opts.Env, opts.Force) {
			results = append(results, Result{Path: path, Label: label, Loaded: false})
			continue
		}

		nd := namedDesc{path: path, label: label, desc: desc}
		if hasBonjourSocket(desc) {
			pass2 = append(pass2, nd)
		} else {
			pass1 = append(pass1, nd)
		}
	}

	results = append(results, submitPass(sub, pass1)...)
	results = append(results, submitPass(sub, pass2)...)
	return results
}

// Unload sends RemoveJob for each of the given labels (§4.F "Unload").
func Unload(sub Submitter, labels []string) []Result {
	results := make([]Result, 0, len(labels))
	for _, label := range labels {
		err := sub.Remove(label)
		results = append(results, Result{Label: label, Err: err, Loaded: err == nil})
	}
	return results
}

type namedDesc struct {
	path  string
	label string
	desc  value.Value
}

func submitPass(sub Submitter, descs []namedDesc) []Result {
	results := make([]Result, 0, len(descs))
	for _, nd := range descs {
		_, err := sub.Submit(nd.desc)
		if err != nil {
			logging.Error("ingest: submit failed", "label", nd.label, "path", nd.path, "error", err)
		}
		results = append(results, Result{Path: nd.path, Label: nd.label, Err: err, Loaded: err == nil})
	}
	return results
}

// loadOne runs one candidate file through steps 1-4 of §4.F's per-file
// processing; the step-5 predicates are evaluated afterwards by Load via
// eligible. A zero Value (not a Dictionary) with a nil error means the file
// was handled by the EditOnDisk branch and has nothing left to submit.
func loadOne(path string, db *OverrideDB, decoder value.Decoder, opts Options) (value.Value, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return value.Value{}, "", errors.WrapWithDetail(err, errors.ErrResource, "ingest", path)
	}
	desc, err := decoder.Decode(raw)
	if err != nil {
		return value.Value{}, "", errors.WrapWithDetail(err, errors.ErrInvalid, "ingest", path)
	}

	desc = applyOverrides(db, desc)

	label, ok := desc.GetString("Label")
	if !ok || label == "" {
		return value.Value{}, "", errors.ErrInvalidLabel
	}

	if opts.EditOnDisk {
		if err := editOnDisk(path, label, db, decoder, opts.Disable); err != nil {
			return value.Value{}, label, err
		}
		return value.Value{}, label, nil
	}

	if _, hasProgram := desc.Get("Program"); !hasProgram {
		args, hasArgs := desc.Get("ProgramArguments")
		if !hasArgs || args.Kind() != value.KindArray || args.Len() == 0 {
			return value.Value{}, label, errors.ErrNoProgram
		}
	}

	return desc, label, nil
}

// editOnDisk implements §4.F step 3: flip Disabled in the override DB if
// one exists, otherwise rewrite the file itself.
func editOnDisk(path, label string, db *OverrideDB, decoder value.Decoder, disable bool) error {
	if db != nil {
		return db.SetDisabled(label, disable)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapWithDetail(err, errors.ErrResource, "edit-on-disk", path)
	}
	desc, err := decoder.Decode(raw)
	if err != nil {
		return errors.WrapWithDetail(err, errors.ErrInvalid, "edit-on-disk", path)
	}
	desc = desc.Set("Disabled", value.NewBool(disable))

	enc, ok := decoder.(value.Encoder)
	if !ok {
		return errors.New(errors.ErrInternal, "edit-on-disk", "decoder cannot re-encode descriptions")
	}
	out, err := enc.Encode(desc)
	if err != nil {
		return errors.WrapWithDetail(err, errors.ErrInternal, "edit-on-disk", path)
	}
	info, statErr := os.Stat(path)
	mode := os.FileMode(0644)
	if statErr == nil {
		mode = info.Mode()
	}
	if err := os.WriteFile(path, out, mode); err != nil {
		return errors.WrapWithDetail(err, errors.ErrResource, "edit-on-disk", path)
	}
	return nil
}

// hasBonjourSocket reports whether desc's Sockets dict contains any entry
// (or array of entries) with a truthy Bonjour key (§4.F step 6).
func hasBonjourSocket(desc value.Value) bool {
	sockets, ok := desc.Get("Sockets")
	if !ok || sockets.Kind() != value.KindDict {
		return false
	}
	found := false
	sockets.Each(func(_ string, spec value.Value) bool {
		if specHasBonjour(spec) {
			found = true
		}
		return true
	})
	return found
}

func specHasBonjour(spec value.Value) bool {
	if spec.Kind() == value.KindArray {
		for _, e := range spec.Array() {
			if specHasBonjour(e) {
				return true
			}
		}
		return false
	}
	if spec.Kind() != value.KindDict {
		return false
	}
	b, ok := spec.Get("Bonjour")
	if !ok {
		return false
	}
	switch b.Kind() {
	case value.KindBool:
		return b.Bool()
	case value.KindString:
		return b.String() != ""
	case value.KindArray:
		return b.Len() > 0
	default:
		return false
	}
}

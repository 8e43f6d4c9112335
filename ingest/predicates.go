package ingest

import (
	"os"
	"runtime"
	"strings"

	"launchd-go/logging"
	"launchd-go/value"
)

// Environment describes the host facts the §4.F predicates are evaluated
// against. Tests and alternate front-ends can substitute their own values
// instead of the real hostname/arch.
type Environment struct {
	// Hostname is compared case-insensitively against LimitLoadToHosts /
	// LimitLoadFromHosts.
	Hostname string
	// Hardware maps sysctl-equivalent hardware keys ("MachineType",
	// "ModelName", ...) to their value on this host, standing in for the
	// platform sysctl calls the original queries (§4.F "hardware
	// predicates (via platform sysctl equivalents)").
	Hardware map[string]string
	// SessionType identifies which session this process is managing
	// jobs for; defaults to "Aqua" to match "default session = Aqua
	// when the manager identifies itself as Aqua" (§4.F step 5).
	SessionType string
}

// DefaultEnvironment builds an Environment from the actual host: hostname
// via os.Hostname, hardware via runtime.GOARCH (the closest Linux-portable
// equivalent to a MachineType sysctl), and a session type of "Aqua".
func DefaultEnvironment() Environment {
	host, _ := os.Hostname()
	return Environment{
		Hostname: host,
		Hardware: map[string]string{
			"MachineType": runtime.GOARCH,
			"ModelName":   runtime.GOARCH,
		},
		SessionType: "Aqua",
	}
}

// eligible evaluates the §4.F step-5 predicates: host lists, hardware
// lists, session type, and Disabled. It returns false (meaning "skip") on
// any exclusion; force bypasses only the Disabled exclusion, matching
// "-F to bypass disabled".
func eligible(desc value.Value, env Environment, force bool) bool {
	if !hostAllowed(desc, env.Hostname) {
		return false
	}
	if !hardwareAllowed(desc, env.Hardware) {
		return false
	}
	if !sessionAllowed(desc, env.SessionType) {
		return false
	}
	if isDisabled(desc, env.Hardware) && !force {
		return false
	}
	return true
}

func hostAllowed(desc value.Value, hostname string) bool {
	if to, ok := desc.Get("LimitLoadToHosts"); ok && to.Kind() == value.KindArray {
		return containsFold(to, hostname)
	}
	if from, ok := desc.Get("LimitLoadFromHosts"); ok && from.Kind() == value.KindArray {
		return !containsFold(from, hostname)
	}
	return true
}

func containsFold(arr value.Value, needle string) bool {
	for _, e := range arr.Array() {
		if strings.EqualFold(e.String(), needle) {
			return true
		}
	}
	return false
}

func hardwareAllowed(desc value.Value, hw map[string]string) bool {
	if to, ok := desc.Get("LimitLoadToHardware"); ok && to.Kind() == value.KindDict {
		return hardwareDictMatches(to, hw)
	}
	if from, ok := desc.Get("LimitLoadFromHardware"); ok && from.Kind() == value.KindDict {
		return !hardwareDictMatches(from, hw)
	}
	return true
}

// hardwareDictMatches reports whether any key in spec matches the host's
// corresponding hardware value, where spec maps a hardware key to an array
// of allowed values.
func hardwareDictMatches(spec value.Value, hw map[string]string) bool {
	matched := false
	spec.Each(func(key string, allowed value.Value) bool {
		if allowed.Kind() != value.KindArray {
			return true
		}
		if containsFold(allowed, hw[key]) {
			matched = true
		}
		return true
	})
	return matched
}

func sessionAllowed(desc value.Value, session string) bool {
	spec, ok := desc.Get("LimitLoadToSessionType")
	if !ok {
		return true
	}
	switch spec.Kind() {
	case value.KindString:
		return strings.EqualFold(spec.String(), session)
	case value.KindArray:
		return containsFold(spec, session)
	default:
		return true
	}
}

// isDisabled implements §3's "Disabled (bool or dict; dict form disables by
// matching MachineType/ModelName)" and the §9/Open-Question resolution
// that other dict keys are logged and ignored.
func isDisabled(desc value.Value, hw map[string]string) bool {
	v, ok := desc.Get("Disabled")
	if !ok {
		return false
	}
	switch v.Kind() {
	case value.KindBool:
		return v.Bool()
	case value.KindDict:
		disabled := false
		v.Each(func(key string, val value.Value) bool {
			switch key {
			case "MachineType", "ModelName":
				if strings.EqualFold(val.String(), hw[key]) {
					disabled = true
				}
			default:
				logging.Warn("ingest: ignoring unknown Disabled key", "key", key)
			}
			return true
		})
		return disabled
	default:
		return false
	}
}

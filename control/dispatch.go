package control

import (
	"encoding/binary"
	"syscall"

	"launchd-go/errors"
	"launchd-go/registry"
	"launchd-go/value"
)

// dispatch handles one decoded request and always returns a response value,
// even on error (§7 "Propagation: control-plane handlers always produce a
// response value even on error").
func dispatch(c *conn, req value.Value) value.Value {
	cmd, arg, ok := requestCommand(req)
	if !ok {
		return errnoResponse(errors.ErrMalformedMessage)
	}

	switch cmd {
	case "SubmitJob":
		return dispatchSubmitJob(c, arg)
	case "StartJob":
		return errnoResponse(c.srv.sup.Start(arg.String()))
	case "StopJob":
		return errnoResponse(c.srv.sup.Stop(arg.String()))
	case "RemoveJob":
		return errnoResponse(c.srv.sup.Remove(arg.String()))
	case "GetJob":
		return dispatchGetJob(c, arg)
	case "GetJobs":
		return dispatchGetJobs(c)
	case "CheckIn":
		return dispatchCheckIn(c)
	case "SetUserEnv":
		c.srv.sup.SetUserEnv(dictToStringMap(arg))
		return errnoResponse(nil)
	case "UnsetUserEnv":
		c.srv.sup.UnsetUserEnv(arrayToStrings(arg))
		return errnoResponse(nil)
	case "GetUserEnv":
		return stringMapToDict(c.srv.sup.GetUserEnv())
	case "GetRUsageSelf":
		return dispatchRUsage(syscall.RUSAGE_SELF)
	case "GetRUsageChildren":
		return dispatchRUsage(syscall.RUSAGE_CHILDREN)
	case "GetResourceLimits":
		return getResourceLimits()
	case "SetResourceLimits":
		return setResourceLimits(arg)
	case "GetLogMask":
		return value.NewInteger(int64(c.srv.GetLogMask()))
	case "SetLogMask":
		return value.NewInteger(int64(c.srv.SetLogMask(int32(arg.Integer()))))
	case "GetUmask":
		return value.NewInteger(int64(c.srv.GetUmask()))
	case "SetUmask":
		return value.NewInteger(int64(c.srv.SetUmask(int(arg.Integer()))))
	case "Shutdown":
		go c.srv.Shutdown()
		return errnoResponse(nil)
	case "BatchControl":
		c.srv.batch.set(c, arg.Bool())
		return errnoResponse(nil)
	case "WorkaroundBonjour":
		return dispatchWorkaroundBonjour(c, arg)
	default:
		return errnoResponse(errors.ErrUnknownVerb)
	}
}

// errnoResponse renders err as the wire Errno the client expects (§4.E
// response column "errno"); nil becomes Errno(0).
func errnoResponse(err error) value.Value {
	return value.NewErrno(int32(errors.Errno(err)))
}

func dispatchSubmitJob(c *conn, arg value.Value) value.Value {
	if arg.Kind() == value.KindArray {
		results := make([]value.Value, 0, arg.Len())
		for _, desc := range arg.Array() {
			_, err := c.srv.sup.Submit(desc)
			results = append(results, errnoResponse(err))
		}
		return value.NewArray(results...)
	}
	_, err := c.srv.sup.Submit(arg)
	return errnoResponse(err)
}

func dispatchGetJob(c *conn, arg value.Value) value.Value {
	job, ok := c.srv.sup.Lookup(arg.String())
	if !ok {
		return errnoResponse(errors.ErrJobNotFound)
	}
	return job.Description.DeepCopy().RevokeFds()
}

func dispatchGetJobs(c *conn) value.Value {
	out := value.NewDict()
	c.srv.sup.IterateAll(func(j *registry.Job) bool {
		out = out.Set(j.Label, j.Description.DeepCopy().RevokeFds())
		return true
	})
	return out
}

func dispatchCheckIn(c *conn) value.Value {
	if !c.trusted {
		return errnoResponse(errors.ErrNotCheckedIn)
	}
	desc, err := c.srv.sup.CheckIn(c.trustedLabel)
	if err != nil {
		return errnoResponse(err)
	}
	return desc
}

// dispatchWorkaroundBonjour moves fd-carrying values out of the request and
// into the matching job's BonjourFDs entry, mirroring rendezvous
// registrations that arrive out-of-band from a separate process (§4.E
// "WorkaroundBonjour").
func dispatchWorkaroundBonjour(c *conn, arg value.Value) value.Value {
	if arg.Kind() != value.KindDict {
		return errnoResponse(errors.ErrInvalidSocketSpec)
	}
	var firstErr error
	arg.Each(func(label string, fdVal value.Value) bool {
		job, ok := c.srv.sup.Lookup(label)
		if !ok {
			if firstErr == nil {
				firstErr = errors.ErrJobNotFound
			}
			return true
		}
		existing, _ := job.Description.Get("BonjourFDs")
		if existing.Kind() != value.KindArray {
			existing = value.NewArray()
		}
		job.Description = job.Description.Set("BonjourFDs", existing.Append(fdVal))
		return true
	})
	return errnoResponse(firstErr)
}

func dictToStringMap(v value.Value) map[string]string {
	out := make(map[string]string)
	if v.Kind() != value.KindDict {
		return out
	}
	v.Each(func(k string, val value.Value) bool {
		out[k] = val.String()
		return true
	})
	return out
}

func stringMapToDict(m map[string]string) value.Value {
	d := value.NewDict()
	for k, v := range m {
		d = d.Set(k, value.NewString(v))
	}
	return d
}

func arrayToStrings(v value.Value) []string {
	if v.Kind() != value.KindArray {
		if v.Kind() == value.KindString {
			return []string{v.String()}
		}
		return nil
	}
	var out []string
	for _, e := range v.Array() {
		out = append(out, e.String())
	}
	return out
}

// dispatchRUsage encodes the kernel's rusage struct for who (RUSAGE_SELF or
// RUSAGE_CHILDREN) as an opaque byte blob of big-endian int64 fields, field
// order matching the fields slice below (§4.E "GetRUsageSelf/Children").
func dispatchRUsage(who int) value.Value {
	var ru syscall.Rusage
	if err := syscall.Getrusage(who, &ru); err != nil {
		return errnoResponse(errors.Wrap(err, errors.ErrResource, "getrusage"))
	}
	buf := make([]byte, 8*10)
	fields := []int64{
		int64(ru.Utime.Sec), int64(ru.Utime.Usec),
		int64(ru.Stime.Sec), int64(ru.Stime.Usec),
		ru.Maxrss, ru.Minflt, ru.Majflt,
		ru.Inblock, ru.Oublock, ru.Nvcsw,
	}
	for i, f := range fields {
		binary.BigEndian.PutUint64(buf[i*8:], uint64(f))
	}
	return value.NewOpaque(buf)
}

// rlimitTable lists the resource limits exposed over the control plane,
// each as {name, soft, hard} (§4.E "Get/SetResourceLimits": "opaque rlimit
// array"). Kept small and Linux-portable rather than mirroring every BSD
// RLIMIT_* the original exposes.
var rlimitTable = []struct {
	name string
	res  int
}{
	{"cpu", syscall.RLIMIT_CPU},
	{"fsize", syscall.RLIMIT_FSIZE},
	{"data", syscall.RLIMIT_DATA},
	{"stack", syscall.RLIMIT_STACK},
	{"core", syscall.RLIMIT_CORE},
	{"nofile", syscall.RLIMIT_NOFILE},
	{"as", syscall.RLIMIT_AS},
}

func getResourceLimits() value.Value {
	arr := make([]value.Value, 0, len(rlimitTable))
	for _, r := range rlimitTable {
		var rl syscall.Rlimit
		if err := syscall.Getrlimit(r.res, &rl); err != nil {
			continue
		}
		entry := value.NewDict().
			Set("name", value.NewString(r.name)).
			Set("soft", value.NewInteger(int64(rl.Cur))).
			Set("hard", value.NewInteger(int64(rl.Max)))
		arr = append(arr, entry)
	}
	return value.NewArray(arr...)
}

func setResourceLimits(arg value.Value) value.Value {
	if arg.Kind() != value.KindArray {
		return errnoResponse(errors.New(errors.ErrInvalid, "set-resource-limits", "expected an array argument"))
	}
	byName := make(map[string]int, len(rlimitTable))
	for _, r := range rlimitTable {
		byName[r.name] = r.res
	}
	for _, entry := range arg.Array() {
		name, _ := entry.GetString("name")
		res, ok := byName[name]
		if !ok {
			continue
		}
		soft, _ := entry.GetInteger("soft")
		hard, _ := entry.GetInteger("hard")
		rl := syscall.Rlimit{Cur: uint64(soft), Max: uint64(hard)}
		if err := syscall.Setrlimit(res, &rl); err != nil {
			return errnoResponse(errors.Wrap(err, errors.ErrResource, "setrlimit"))
		}
	}
	return getResourceLimits()
}

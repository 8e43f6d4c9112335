package trigger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	"launchd-go/errors"
	"launchd-go/logging"
	"launchd-go/registry"
	"launchd-go/value"
)

// socketSpec mirrors §3's SocketSpec dictionary.
type socketSpec struct {
	sockType    string // stream, dgram, seqpacket
	passive     bool
	pathName    string
	pathMode    *uint32
	secureKey   string
	nodeName    string
	serviceName string
	family      string // IPv4, IPv6
	protocol    string // TCP, UDP
	multicast   string
	bonjour     value.Value
}

func parseSocketSpec(v value.Value) socketSpec {
	s := socketSpec{sockType: "stream", passive: true}
	if t, ok := v.GetString("SockType"); ok {
		s.sockType = t
	}
	if p, ok := v.GetBool("SockPassive"); ok {
		s.passive = p
	}
	if p, ok := v.GetString("SockPathName"); ok {
		s.pathName = p
	}
	if m, ok := v.GetInteger("SockPathMode"); ok {
		mm := uint32(m)
		s.pathMode = &mm
	}
	if k, ok := v.GetString("SecureSocketWithKey"); ok {
		s.secureKey = k
	}
	if n, ok := v.GetString("SockNodeName"); ok {
		s.nodeName = n
	}
	if n, ok := v.GetString("SockServiceName"); ok {
		s.serviceName = n
	}
	if f, ok := v.GetString("SockFamily"); ok {
		s.family = f
	}
	if p, ok := v.GetString("SockProtocol"); ok {
		s.protocol = p
	}
	if m, ok := v.GetString("SockMulticastGroup"); ok {
		s.multicast = m
	}
	if b, ok := v.Get("Bonjour"); ok {
		s.bonjour = b
	}
	return s
}

func sockTypeConst(t string) int {
	switch t {
	case "dgram":
		return unix.SOCK_DGRAM
	case "seqpacket":
		return unix.SOCK_SEQPACKET
	default:
		return unix.SOCK_STREAM
	}
}

// armSockets implements §4.D "Socket binding": for each named Sockets entry
// (or each element of an array entry), bind a listening (or connecting)
// descriptor and register it under the socket name; rewrite the
// Description's Sockets dict into name -> [Fd] (the "distill" step, §4.F),
// and register each listening descriptor for FdReadable so an idle job
// starts on first connection attempt (scenario 1, §8).
func (e *Engine) armSockets(job *registry.Job) error {
	socketsVal, ok := job.Description.Get("Sockets")
	if !ok || socketsVal.Kind() != value.KindDict {
		return nil
	}

	distilled := value.NewDict()
	userEnv, hasUserEnv := job.Description.Get("UserEnvironmentVariables")
	if !hasUserEnv || userEnv.Kind() != value.KindDict {
		userEnv = value.NewDict()
	}

	var names []string
	socketsVal.Each(func(name string, _ value.Value) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)

	for _, name := range names {
		entry, _ := socketsVal.Get(name)
		var specs []value.Value
		if entry.Kind() == value.KindArray {
			specs = entry.Array()
		} else {
			specs = []value.Value{entry}
		}

		var fds []int
		for _, specVal := range specs {
			spec := parseSocketSpec(specVal)

			if spec.secureKey != "" {
				dir, err := os.MkdirTemp("", "launchd-go-secure-")
				if err != nil {
					return errors.WrapWithJob(err, errors.ErrResource, "bind-socket", job.Label)
				}
				if err := os.Chmod(dir, 0700); err != nil {
					return errors.WrapWithJob(err, errors.ErrResource, "bind-socket", job.Label)
				}
				spec.pathName = filepath.Join(dir, name)
				userEnv = userEnv.Set(spec.secureKey, value.NewString(spec.pathName))
			}

			var fd int
			var err error
			switch {
			case spec.pathName != "":
				fd, err = bindUnixSocket(spec)
			default:
				var socketFds []int
				socketFds, err = bindInetSockets(spec)
				if err == nil {
					fds = append(fds, socketFds...)
					continue
				}
			}
			if err != nil {
				return errors.WrapWithJob(err, errors.ErrResource, "bind-socket", job.Label)
			}
			fds = append(fds, fd)

			if spec.bonjour.IsValid() && isTruthyBonjour(spec.bonjour) {
				if err := e.registerRendezvous(job, name, spec); err != nil {
					logging.Error("rendezvous registration failed", "label", job.Label, "socket", name, "error", err)
				}
			}
		}

		job.ListeningFds[name] = fds
		var fdVals []value.Value
		for _, fd := range fds {
			fdVals = append(fdVals, value.NewFd(fd))
			e.reactor.RegisterFdReadable(fd, e.onSocketReadable(job.Id, name))
		}
		distilled = distilled.Set(name, value.NewArray(fdVals...))
	}

	job.Description = job.Description.Set("Sockets", distilled)
	if hasUserEnv || userEnv.DictLen() > 0 {
		job.Description = job.Description.Set("UserEnvironmentVariables", userEnv)
	}
	return nil
}

// onSocketReadable returns a reactor handler that starts jobId's job when
// its listening socket becomes accept-ready, unless it is already running
// (§8 scenario 1 "on client connect, job starts").
func (e *Engine) onSocketReadable(jobId registry.JobId, socketName string) reactor.Handler {
	return func(reactor.Event) {
		if err := e.supervisor.TriggerStart(jobId); err != nil {
			logging.Error("trigger start from socket failed", "socket", socketName, "error", err)
		}
	}
}

func isTruthyBonjour(v value.Value) bool {
	switch v.Kind() {
	case value.KindBool:
		return v.Bool()
	case value.KindString:
		return v.String() != ""
	case value.KindArray:
		return v.Len() > 0
	default:
		return false
	}
}

func (e *Engine) registerRendezvous(job *registry.Job, name string, spec socketSpec) error {
	if e.rendezvous == nil {
		return nil
	}
	proto := "tcp"
	if spec.sockType == "dgram" {
		proto = "udp"
	}
	fd, err := e.rendezvous.Register(name, proto)
	if err != nil {
		return err
	}
	bonjourFds, ok := job.Description.Get("BonjourFDs")
	if !ok || bonjourFds.Kind() != value.KindDict {
		bonjourFds = value.NewDict()
	}
	bonjourFds = bonjourFds.Set(name, value.NewFd(fd))
	job.Description = job.Description.Set("BonjourFDs", bonjourFds)
	return nil
}

// bindUnixSocket implements the UNIX-path branch of §4.D "Socket binding".
func bindUnixSocket(spec socketSpec) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, sockTypeConst(spec.sockType), 0)
	if err != nil {
		return -1, fmt.Errorf("socket(AF_UNIX): %w", err)
	}

	if spec.passive {
		if err := unix.Unlink(spec.pathName); err != nil && err != unix.ENOENT {
			unix.Close(fd)
			return -1, fmt.Errorf("unlink %s: %w", spec.pathName, err)
		}

		oldMask := unix.Umask(0077)
		err := unix.Bind(fd, &unix.SockaddrUnix{Name: spec.pathName})
		unix.Umask(oldMask)
		if err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("bind %s: %w", spec.pathName, err)
		}

		if spec.pathMode != nil {
			if err := os.Chmod(spec.pathName, os.FileMode(*spec.pathMode)); err != nil {
				unix.Close(fd)
				return -1, fmt.Errorf("chmod %s: %w", spec.pathName, err)
			}
		}

		if spec.sockType == "stream" || spec.sockType == "seqpacket" {
			if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
				unix.Close(fd)
				return -1, fmt.Errorf("listen %s: %w", spec.pathName, err)
			}
		}
		return fd, nil
	}

	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: spec.pathName}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("connect %s: %w", spec.pathName, err)
	}
	return fd, nil
}

// bindInetSockets implements the Internet branch of §4.D "Socket binding":
// resolve (node, service, family, protocol), then for each resolved address
// create/configure/bind (or connect) one descriptor.
func bindInetSockets(spec socketSpec) ([]int, error) {
	addrs, err := resolveInetAddrs(spec)
	if err != nil {
		return nil, err
	}

	var fds []int
	for _, addr := range addrs {
		fd, err := bindOneInetSocket(spec, addr)
		if err != nil {
			for _, f := range fds {
				unix.Close(f)
			}
			return nil, err
		}
		fds = append(fds, fd)
	}
	return fds, nil
}

func bindOneInetSocket(spec socketSpec, addr resolvedAddr) (int, error) {
	domain := unix.AF_INET
	if addr.v6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, sockTypeConst(spec.sockType), 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	if addr.v6 && spec.passive {
		unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
	}
	if spec.multicast != "" {
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	} else {
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}

	if spec.passive {
		if err := bindInetAddr(fd, addr); err != nil {
			unix.Close(fd)
			return -1, err
		}
		if spec.multicast != "" {
			if err := joinMulticast(fd, spec.multicast, addr.v6); err != nil {
				unix.Close(fd)
				return -1, err
			}
		}
		if spec.sockType == "stream" || spec.sockType == "seqpacket" {
			if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
				unix.Close(fd)
				return -1, fmt.Errorf("listen: %w", err)
			}
		}
		return fd, nil
	}

	if err := connectInetAddr(fd, addr); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func bindInetAddr(fd int, addr resolvedAddr) error {
	if addr.v6 {
		var a [16]byte
		copy(a[:], addr.ip.To16())
		return unix.Bind(fd, &unix.SockaddrInet6{Port: addr.port, Addr: a})
	}
	var a [4]byte
	copy(a[:], addr.ip.To4())
	return unix.Bind(fd, &unix.SockaddrInet4{Port: addr.port, Addr: a})
}

func connectInetAddr(fd int, addr resolvedAddr) error {
	if addr.v6 {
		var a [16]byte
		copy(a[:], addr.ip.To16())
		return unix.Connect(fd, &unix.SockaddrInet6{Port: addr.port, Addr: a})
	}
	var a [4]byte
	copy(a[:], addr.ip.To4())
	return unix.Connect(fd, &unix.SockaddrInet4{Port: addr.port, Addr: a})
}

func joinMulticast(fd int, group string, v6 bool) error {
	ip := parseIP(group)
	if ip == nil {
		return fmt.Errorf("invalid multicast group %q", group)
	}
	if v6 {
		var mreq unix.IPv6Mreq
		copy(mreq.Multiaddr[:], ip.To16())
		return unix.SetsockoptIPv6Mreq(fd, unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, &mreq)
	}
	var mreq unix.IPMreq
	copy(mreq.Multiaddr[:], ip.To4())
	return unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, &mreq)
}

// disarmSockets closes every listening descriptor and withdraws any
// rendezvous registration armSockets created.
func (e *Engine) disarmSockets(job *registry.Job) {
	for name, fds := range job.ListeningFds {
		for _, fd := range fds {
			e.reactor.UnregisterFd(fd)
			unix.Close(fd)
		}
		delete(job.ListeningFds, name)
		if e.rendezvous != nil {
			e.rendezvous.Unregister(name, "tcp")
		}
	}
}

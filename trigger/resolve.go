package trigger

import (
	"fmt"
	"net"
	"strconv"
)

// resolvedAddr is one address/port pair produced by resolving a SocketSpec's
// SockNodeName/SockServiceName/SockFamily (§4.D "resolve (node, service,
// family, protocol, AI_PASSIVE?)"). golang.org/x/sys/unix has no
// getaddrinfo wrapper, so resolution goes through net.LookupIP/LookupPort
// and the result is handed to raw unix.Sockaddr construction, which is how
// SO_REUSEPORT/IPV6_V6ONLY/multicast-join get expressed (net.Listen cannot
// set them).
type resolvedAddr struct {
	ip   net.IP
	port int
	v6   bool
}

func parseIP(s string) net.IP { return net.ParseIP(s) }

func resolveInetAddrs(spec socketSpec) ([]resolvedAddr, error) {
	port, err := resolvePort(spec)
	if err != nil {
		return nil, err
	}

	node := spec.nodeName
	if node == "" {
		if spec.passive {
			return wildcardAddrs(spec, port), nil
		}
		return nil, fmt.Errorf("SockNodeName required for a non-passive socket")
	}

	ips, err := net.LookupIP(node)
	if err != nil {
		return nil, fmt.Errorf("resolve SockNodeName %s: %w", node, err)
	}

	var out []resolvedAddr
	for _, ip := range ips {
		v6 := ip.To4() == nil
		if !familyMatches(spec.family, v6) {
			continue
		}
		out = append(out, resolvedAddr{ip: ip, port: port, v6: v6})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no addresses for %s matched SockFamily %q", node, spec.family)
	}
	return out, nil
}

func wildcardAddrs(spec socketSpec, port int) []resolvedAddr {
	switch spec.family {
	case "IPv6":
		return []resolvedAddr{{ip: net.IPv6zero, port: port, v6: true}}
	case "IPv4":
		return []resolvedAddr{{ip: net.IPv4zero, port: port, v6: false}}
	default:
		return []resolvedAddr{
			{ip: net.IPv4zero, port: port, v6: false},
			{ip: net.IPv6zero, port: port, v6: true},
		}
	}
}

func familyMatches(family string, v6 bool) bool {
	switch family {
	case "IPv4":
		return !v6
	case "IPv6":
		return v6
	default:
		return true
	}
}

func resolvePort(spec socketSpec) (int, error) {
	if spec.serviceName == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(spec.serviceName); err == nil {
		return n, nil
	}
	network := "tcp"
	if spec.protocol == "UDP" || spec.sockType == "dgram" {
		network = "udp"
	}
	port, err := net.LookupPort(network, spec.serviceName)
	if err != nil {
		return 0, fmt.Errorf("resolve SockServiceName %s: %w", spec.serviceName, err)
	}
	return port, nil
}

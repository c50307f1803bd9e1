package transport

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"

	"seedmesh/peerid"

	log "github.com/sirupsen/logrus"
)

var ErrNoPortAvailable = errors.New("no port available")

// CandidatePorts returns the ports to try when binding. A fixed port is
// tried alone. Otherwise up to attempts distinct random ports are drawn
// from [lo, hi]. With no range at all the OS picks (port 0).
func CandidatePorts(rng *rand.Rand, port, lo, hi, attempts int) []int {
	if port > 0 {
		return []int{port}
	}
	if lo <= 0 || hi < lo {
		return []int{0}
	}
	n := hi - lo + 1
	attempts = min(max(attempts, 1), n)

	ports := make([]int, 0, attempts)
	for _, off := range rng.Perm(n)[:attempts] {
		ports = append(ports, lo+off)
	}
	return ports
}

// ListenFirstAvailable binds the first free port out of ports.
func ListenFirstAvailable(host string, ports []int) (net.Listener, error) {
	var lastErr error
	for _, port := range ports {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return l, nil
		}
		log.Debugf("transport.ListenFirstAvailable: %s:%d: %v", host, port, err)
		lastErr = err
	}
	return nil, fmt.Errorf("%w: tried %d ports on %q: %v", ErrNoPortAvailable, len(ports), host, lastErr)
}

// AdvertiseAddr works out the PeerID others should use to reach listener.
// override wins when set. A listener bound to a specific IP advertises that
// IP, an unspecified one advertises the first non-loopback IPv4 address of
// an interface that is up, and 127.0.0.1 is the last resort.
func AdvertiseAddr(listener net.Listener, override string) (peerid.PeerID, error) {
	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		return peerid.PeerID{}, fmt.Errorf("transport.AdvertiseAddr: unsupported listener address %s", listener.Addr())
	}

	host := override
	if host == "" && tcpAddr.IP != nil && !tcpAddr.IP.IsUnspecified() {
		host = tcpAddr.IP.String()
	}
	if host == "" {
		host = interfaceIP()
	}
	if host == "" {
		log.Warnf("transport.AdvertiseAddr: no usable interface address, advertising loopback")
		host = "127.0.0.1"
	}

	id := peerid.New(host, tcpAddr.Port)
	return id, id.Validate()
}

func interfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		log.Errorf("transport.AdvertiseAddr: failed to get network interfaces: %v", err)
		return ""
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			log.Warnf("transport.AdvertiseAddr: could not get addresses for interface %s: %v", iface.Name, err)
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsUnspecified() || ip.IsLoopback() || ip.To4() == nil {
				continue
			}
			return ip.String()
		}
	}
	return ""
}

package dlnad

import (
	"errors"
	"net"
	"strings"
)

// probeAddr is never contacted; dialing UDP only selects the outbound route.
const probeAddr = "8.8.8.8:80"

// HostIP returns the local address of the default route.
func HostIP() (string, error) {
	return hostIPVia("udp", probeAddr, net.Dial)
}

func hostIPVia(network, addr string, dial func(string, string) (net.Conn, error)) (string, error) {
	conn, err := dial(network, addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	udp, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || udp.IP == nil || udp.IP.IsUnspecified() {
		return "", errors.New("no routable local address")
	}
	return udp.IP.String(), nil
}

// AdvertisedBase returns the http base URL renderers use to reach listen.
// A wildcard host in listen is replaced by hostIP.
func AdvertisedBase(listen, hostIP string) (string, error) {
	host, port, err := splitListen(listen)
	if err != nil {
		return "", err
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		if strings.TrimSpace(hostIP) == "" {
			return "", errors.New("host ip required for wildcard listen address")
		}
		host = hostIP
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

func splitListen(listen string) (string, string, error) {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", "", err
	}
	if port == "" {
		return "", "", errors.New("listen address needs a port")
	}
	return host, port, nil
}

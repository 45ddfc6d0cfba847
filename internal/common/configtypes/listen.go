package configtypes

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseListenAddress splits a listen spec into host and port. Accepted
// forms: ":3081" (all interfaces), "0.0.0.0:3081", "localhost:3081",
// "[::1]:3081", and a bare "3081".
func ParseListenAddress(listen string) (host string, port int, err error) {
	if listen == "" {
		return "", 0, fmt.Errorf("listen address is empty")
	}

	portStr := listen
	if strings.Contains(listen, ":") {
		if host, portStr, err = net.SplitHostPort(listen); err != nil {
			return "", 0, fmt.Errorf("invalid listen address %q: %w", listen, err)
		}
	}

	if port, err = strconv.Atoi(portStr); err != nil {
		return "", 0, fmt.Errorf("invalid port %q in listen address %q", portStr, listen)
	}
	return host, port, nil
}

// ValidateListenAddress rejects empty, unparseable and out-of-range specs.
func ValidateListenAddress(listen string) error {
	_, port, err := ParseListenAddress(listen)
	if err != nil {
		return err
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("listen port %d out of range 1-65535", port)
	}
	return nil
}

// GetPortFromListen extracts just the port number from a listen address.
func GetPortFromListen(listen string) (int, error) {
	_, port, err := ParseListenAddress(listen)
	return port, err
}

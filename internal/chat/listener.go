package chat

import (
	"fmt"
	"net"

	"github.com/disco-v8/chatd/internal/config"
)

// Listen binds the socket described by spec.
//
// A bare-port spec binds [::] on the "tcp" network; whether IPv4 peers can
// reach that same socket depends on the host's IPV6_V6ONLY default. An
// explicit [::] address carries the same caveat. IPv4 and IPv6 literals
// bind single-stack sockets.
func Listen(spec config.ListenSpec) (net.Listener, error) {
	ln, err := net.Listen(spec.Network, spec.Address)
	if err != nil {
		return nil, fmt.Errorf("bind %s %s: %w", spec.Network, spec.Address, err)
	}
	return ln, nil
}

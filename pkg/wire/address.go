package wire

import (
	"net"
	"strings"
)

// LocalAddress is recorded for console logins with no remote peer
const LocalAddress = "local"

// ClientAddress normalises the address a host reports for a login seat.
// Ports are stripped and anything that is not an IP address collapses to
// LocalAddress so free text never becomes part of a rate-limit key.
func ClientAddress(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return LocalAddress
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	raw = strings.Trim(raw, "[]")
	if ip := net.ParseIP(raw); ip != nil {
		return ip.String()
	}
	return LocalAddress
}

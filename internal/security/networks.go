package security

import "net"

// NetworkAllowlist restricts inbound connections to a set of CIDR ranges.
// An empty allowlist permits everything; relay clients normally come from
// the public internet, so the default is open.
type NetworkAllowlist struct {
	nets []*net.IPNet
}

// NewNetworkAllowlist parses a list of CIDR strings. Invalid entries are
// rejected by config validation before this is reached; they are skipped
// here rather than panicking.
func NewNetworkAllowlist(cidrs []string) *NetworkAllowlist {
	al := &NetworkAllowlist{}
	for _, c := range cidrs {
		if _, n, err := net.ParseCIDR(c); err == nil {
			al.nets = append(al.nets, n)
		}
	}
	return al
}

// Empty reports whether the allowlist has no ranges (allow everything).
func (al *NetworkAllowlist) Empty() bool {
	return len(al.nets) == 0
}

// Allowed checks whether the given address (host:port) falls inside one of
// the allowed ranges. An empty allowlist allows every address.
func (al *NetworkAllowlist) Allowed(addr string) bool {
	if al.Empty() {
		return true
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, n := range al.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

package security

import "testing"

func TestNetworkAllowlistEmpty(t *testing.T) {
	al := NewNetworkAllowlist(nil)

	if !al.Empty() {
		t.Error("nil CIDR list should be empty")
	}
	if !al.Allowed("203.0.113.7:12345") {
		t.Error("empty allowlist should allow everything")
	}
}

func TestNetworkAllowlistRanges(t *testing.T) {
	al := NewNetworkAllowlist([]string{"10.0.0.0/8", "192.168.1.0/24"})

	cases := []struct {
		addr string
		want bool
	}{
		{"10.1.2.3:9999", true},
		{"192.168.1.50:80", true},
		{"192.168.2.50:80", false},
		{"203.0.113.7:12345", false},
		{"no-port-here", false},
		{"not-an-ip:80", false},
	}
	for _, tc := range cases {
		if got := al.Allowed(tc.addr); got != tc.want {
			t.Errorf("Allowed(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestNetworkAllowlistIPv6(t *testing.T) {
	al := NewNetworkAllowlist([]string{"fd00::/8"})

	if !al.Allowed("[fd12::1]:8080") {
		t.Error("address inside IPv6 range rejected")
	}
	if al.Allowed("[2001:db8::1]:8080") {
		t.Error("address outside IPv6 range accepted")
	}
}

func TestNetworkAllowlistSkipsInvalidEntries(t *testing.T) {
	// Config validation rejects these earlier; the constructor just skips.
	al := NewNetworkAllowlist([]string{"bogus", "10.0.0.0/8"})

	if !al.Allowed("10.1.2.3:9999") {
		t.Error("valid range lost when an invalid entry precedes it")
	}
	if al.Allowed("203.0.113.7:12345") {
		t.Error("invalid entry widened the allowlist")
	}
}

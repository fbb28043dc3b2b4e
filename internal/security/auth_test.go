package security

import "testing"

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"Bearer ", ""},
		{"bearer abc123", ""}, // case-sensitive prefix
		{"Basic abc123", ""},
		{"", ""},
		{"abc123", ""},
	}
	for _, tc := range cases {
		if got := ExtractBearerToken(tc.header); got != tc.want {
			t.Errorf("ExtractBearerToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestTokenMatch(t *testing.T) {
	if !TokenMatch("secret", "secret") {
		t.Error("matching tokens rejected")
	}
	if TokenMatch("secret", "other") {
		t.Error("mismatched tokens accepted")
	}
	if TokenMatch("", "secret") {
		t.Error("empty provided token accepted")
	}
	if TokenMatch("secret", "") {
		t.Error("empty expected token accepted")
	}
	if TokenMatch("", "") {
		t.Error("two empty tokens accepted")
	}
}

package sanitize

import (
	"errors"
	"net/netip"
	"testing"
)

func TestSanitize_Accepts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
		kind Kind
	}{
		{in: "8.8.8.8", want: "8.8.8.8", kind: KindIPv4},
		{in: "  8.8.8.8\n", want: "8.8.8.8", kind: KindIPv4},
		{in: "2001:4860:4860::8888", want: "2001:4860:4860::8888", kind: KindIPv6},
		{in: "\t2001:DB8::1 ", want: "2001:DB8::1", kind: KindIPv6},
		{in: "::ffff:1.2.3.4", want: "::ffff:1.2.3.4", kind: KindIPv6},
		{in: "example.com", want: "example.com", kind: KindDomain},
		{in: "Mail.Example.CO.UK", want: "Mail.Example.CO.UK", kind: KindDomain},
		{in: "a-b.example.io", want: "a-b.example.io", kind: KindDomain},
		{in: "x.yz", want: "x.yz", kind: KindDomain},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			id, err := Sanitize(tc.in)
			if err != nil {
				t.Fatalf("Sanitize(%q): %v", tc.in, err)
			}
			if id.String() != tc.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tc.in, id.String(), tc.want)
			}
			if id.Kind() != tc.kind {
				t.Fatalf("Sanitize(%q) kind = %v, want %v", tc.in, id.Kind(), tc.kind)
			}
		})
	}
}

func TestSanitize_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"",
		"   ",
		"not a domain",
		"localhost",
		"a..b.com",
		"999.1.1.1",
		"999.999.1.1",
		"1.2.3",
		"-bad.example.com",
		"bad-.example.com",
		"example.c",
		"example.123",
		"http://example.com",
		"example.com/path",
		"fe80::1%eth0",
		"example.com.",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := Sanitize(in)
			if !errors.Is(err, ErrInvalidIdentifier) {
				t.Fatalf("Sanitize(%q): expected ErrInvalidIdentifier, got %v", in, err)
			}
		})
	}
}

func TestSanitize_LabelLength(t *testing.T) {
	t.Parallel()

	label := func(n int) string {
		b := make([]byte, n)
		for i := range b {
			b[i] = 'a'
		}
		return string(b)
	}

	if _, err := Sanitize(label(63) + ".com"); err != nil {
		t.Fatalf("63-char label should be accepted: %v", err)
	}
	if _, err := Sanitize(label(64) + ".com"); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("64-char label should be rejected, got %v", err)
	}
}

func TestIsPublic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"8.8.8.8", true},
		{"2606:4700:4700::1111", true},
		{"10.1.2.3", false},
		{"192.168.0.10", false},
		{"127.0.0.1", false},
		{"169.254.10.1", false},
		{"::1", false},
		{"::ffff:10.0.0.1", false},
		{"224.0.0.1", false},
		{"example.com", false},
	}
	for _, tc := range tests {
		if got := IsPublic(MustSanitize(tc.in)); got != tc.want {
			t.Fatalf("IsPublic(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestIdentifier_Addr(t *testing.T) {
	t.Parallel()

	id := MustSanitize("1.1.1.1")
	addr, ok := id.Addr()
	if !ok || addr != netip.MustParseAddr("1.1.1.1") {
		t.Fatalf("Addr() = %v, %v", addr, ok)
	}
	if _, ok := MustSanitize("example.com").Addr(); ok {
		t.Fatalf("domain should not expose an address")
	}
	if !(Identifier{}).IsZero() {
		t.Fatalf("zero identifier should report IsZero")
	}
}

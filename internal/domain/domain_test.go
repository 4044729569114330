package domain

import "testing"

func TestParseAccepts(t *testing.T) {
	cases := []string{
		"mastodon.social",
		"PLEROMA.EXAMPLE.COM",
		"misskey.io.",
		"sub.domain.example.org",
	}
	for _, c := range cases {
		if _, err := Parse(c); err != nil {
			t.Errorf("Parse(%q) = %v, want nil error", c, err)
		}
	}
}

func TestParseRejectsIPLiteralsAndNonHostnames(t *testing.T) {
	cases := []string{
		"192.0.2.1",
		"[2001:db8::1]",
		"2001:db8::1",
		"http://mastodon.social",
		"",
		"not a domain",
		"example",
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q) = nil error, want rejection", c)
		}
	}
}

func TestIsValid(t *testing.T) {
	if !IsValid("mastodon.social") {
		t.Error("expected mastodon.social to be valid")
	}
	if IsValid("256.256.256.256") {
		t.Error("expected malformed IP-like string handling")
	}
}

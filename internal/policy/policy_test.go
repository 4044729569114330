package policy

import "testing"

func TestNoPolicyAdmitsEverything(t *testing.T) {
	a, err := NewAdmitter("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, err := a.Admit("spam.example", SourcePeer)
	if err != nil || !ok {
		t.Fatalf("expected admit=true, nil, got %v, %v", ok, err)
	}
}

func TestPolicyRejectsMatchingSuffix(t *testing.T) {
	a, err := NewAdmitter(`!instance["hostname"].endsWith(".spam.example")`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, err := a.Admit("nodes.spam.example", SourcePeer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected spam subdomain to be rejected")
	}

	ok, err = a.Admit("mastodon.social", SourcePeer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected legitimate domain to be admitted")
	}
}

func TestBadExpressionFailsToCompile(t *testing.T) {
	if _, err := NewAdmitter("this is not cel("); err == nil {
		t.Error("expected compile error")
	}
}

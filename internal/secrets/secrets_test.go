package secrets

import "testing"

// keyring has no in-memory fake in the pack, and CI/sandboxed
// environments typically have no Secret Service/Keychain session, so
// each test below needs a live backend and skips itself when
// Available reports none.

func TestDeleteMissingKeyIsNotAnError(t *testing.T) {
	if !Available() {
		t.Skip("no OS keyring backend available in this environment")
	}
	if err := Delete("__definitely_not_set__"); err != nil {
		t.Errorf("Delete of a missing key should be a no-op, got %v", err)
	}
}

func TestGetMissingKeyReturnsEmpty(t *testing.T) {
	if !Available() {
		t.Skip("no OS keyring backend available in this environment")
	}
	if got := Get("__definitely_not_set__"); got != "" {
		t.Errorf("Get of a missing key = %q, want empty string", got)
	}
}

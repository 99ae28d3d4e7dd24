package utils

import "testing"

func TestConnSlotScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if connSlotAcquireScript == nil || connSlotReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestAcquireConnSlot_RejectsInvalidArgs(t *testing.T) {
	if _, err := AcquireConnSlot(nil, nil, "k", 1, 1); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

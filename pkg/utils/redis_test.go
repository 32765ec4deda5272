package utils

import (
	"context"
	"testing"
	"time"
)

func TestScriptsInitialized(t *testing.T) {
	if slotAcquireScript == nil || slotReleaseScript == nil || lockReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestAcquireSlot_ValidatesArgs(t *testing.T) {
	if _, err := AcquireSlot(context.Background(), nil, "k", 1, time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := ReleaseSlot(context.Background(), nil, "k"); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := TryLock(context.Background(), nil, "k", "t", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

package policy

import (
	"context"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func TestAllowAdminActions(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	for _, action := range []string{"start", "force_proceed", "cancel"} {
		allowed, err := engine.Allow(ctx, action, "admin")
		if err != nil {
			t.Fatalf("Allow(%s, admin) failed: %v", action, err)
		}
		if !allowed {
			t.Fatalf("expected admin allowed for %s", action)
		}

		allowed, err = engine.Allow(ctx, action, "participant")
		if err != nil {
			t.Fatalf("Allow(%s, participant) failed: %v", action, err)
		}
		if allowed {
			t.Fatalf("expected participant denied for %s", action)
		}
	}
}

func TestAllowNonAdminActions(t *testing.T) {
	engine := newTestEngine(t)

	allowed, err := engine.Allow(context.Background(), "submit_response", "participant")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !allowed {
		t.Fatalf("expected participant allowed to submit responses")
	}
}

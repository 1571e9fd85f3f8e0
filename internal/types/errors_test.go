package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewEventID(t *testing.T) {
	id := NewEventID()
	if id == "" {
		t.Error("expected non-empty EventID")
	}
	if len(string(id)) != 36 {
		t.Errorf("expected UUID format, got %s", id)
	}
}

func TestSessionKeyFormat(t *testing.T) {
	key := NewSessionKey("user-1", "project-a")
	expected := SessionKey("user-1\x1fproject-a")
	if key != expected {
		t.Errorf("expected %q, got %q", expected, key)
	}
}

func TestSessionKeySeparatorSafe(t *testing.T) {
	// Owner and context values containing structural characters must not
	// collide with a different pair.
	a := NewSessionKey("user:1", "proj")
	b := NewSessionKey("user", "1:proj")
	if a == b {
		t.Errorf("distinct pairs produced the same key: %q", a)
	}
}

func TestKindOf(t *testing.T) {
	err := E(KindThrottled, "owner %s over limit", "u1")
	if KindOf(err) != KindThrottled {
		t.Errorf("expected throttled kind, got %v", KindOf(err))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("expected empty kind for plain error")
	}
	if KindOf(nil) != "" {
		t.Error("expected empty kind for nil error")
	}
}

func TestKindOfWrapped(t *testing.T) {
	inner := E(KindStaleSession, "session gone")
	outer := fmt.Errorf("exchange failed: %w", inner)
	if !IsKind(outer, KindStaleSession) {
		t.Errorf("expected stale kind through wrapping, got %v", KindOf(outer))
	}
}

func TestWrapEUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapE(KindBackendUnavailable, cause, "backend down")
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to survive errors.Is")
	}
	if KindOf(err) != KindBackendUnavailable {
		t.Errorf("expected backend_unavailable, got %v", KindOf(err))
	}
}

func TestRetryable(t *testing.T) {
	retryable := []ErrorKind{KindBusy, KindBackendUnavailable, KindTimeout, KindThrottled}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("expected %v to be retryable", k)
		}
	}
	terminal := []ErrorKind{KindAuthFailure, KindPermissionDenied, KindBudgetExceeded, KindDuplicateEvent}
	for _, k := range terminal {
		if k.Retryable() {
			t.Errorf("expected %v to be terminal", k)
		}
	}
}

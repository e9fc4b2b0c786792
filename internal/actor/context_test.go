package actor

import (
	"context"
	"testing"
)

func TestSessionRoundTrip(t *testing.T) {
	ctx := WithSession(context.Background(), "user-42")
	if got := Session(ctx); got != "user-42" {
		t.Errorf("Session = %q", got)
	}
}

func TestEmptySessionLeavesContext(t *testing.T) {
	base := context.Background()
	if WithSession(base, "") != base {
		t.Error("empty id should return ctx unchanged")
	}
	if SessionOr(base, "default") != "default" {
		t.Error("SessionOr should use fallback")
	}
}

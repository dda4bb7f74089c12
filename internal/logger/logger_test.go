package logger

import (
	"context"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"prod", "local", "test"} {
		if _, err := NewLogger(env, ""); err != nil {
			t.Errorf("NewLogger(%q): %v", env, err)
		}
	}
	if _, err := NewLogger("dev", ""); err == nil {
		t.Error("expected error for unknown environment")
	}
	if _, err := NewLogger("local", "verbose"); err == nil {
		t.Error("expected error for invalid level")
	}

	l, err := NewLogger("prod", "warn")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if l.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info enabled despite warn override")
	}
}

func TestFromContextDefaultsToNop(t *testing.T) {
	if l := FromContext(context.Background()); l == nil {
		t.Fatal("nil logger")
	}
	l, _ := NewLogger("local", "")
	ctx := ContextWithLogger(context.Background(), l)
	if FromContext(ctx) != l {
		t.Error("attached logger not returned")
	}
}

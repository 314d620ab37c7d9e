package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLevel(t *testing.T) {
	l := New("debug", "test")
	if l.Level() != zapcore.DebugLevel {
		t.Errorf("unexpected level: %v", l.Level())
	}

	l = New("bogus", "test")
	if l.Level() != zapcore.InfoLevel {
		t.Errorf("invalid level should default to info, got: %v", l.Level())
	}
}

func TestSetLevel(t *testing.T) {
	l := New("info", "test")

	if !l.SetLevel("warn") {
		t.Fatalf("warn should be accepted")
	}
	if l.Level() != zapcore.WarnLevel {
		t.Errorf("unexpected level: %v", l.Level())
	}
	if l.Core().Enabled(zapcore.InfoLevel) {
		t.Errorf("info should be disabled at warn level")
	}

	if l.SetLevel("loud") {
		t.Errorf("invalid level should be rejected")
	}
	if l.Level() != zapcore.WarnLevel {
		t.Errorf("rejected level must not change current level: %v", l.Level())
	}
}

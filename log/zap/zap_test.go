package zap

import (
	"errors"
	"testing"

	"github.com/unkn0wn-root/querycache"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Debug("fetch issued", querycache.Fields{"ns": "pokemon-details", "key": "25", "token": uint64(3)})
	l.Warn("fetch failed", querycache.Fields{"err": errors.New("Not Found")})
	l.Info("no fields", nil)
	l.Error("boom", querycache.Fields{})

	entries := logs.AllUntimed()
	if len(entries) != 4 {
		t.Fatalf("entries=%d want 4", len(entries))
	}
	wantLevels := []zapcore.Level{zapcore.DebugLevel, zapcore.WarnLevel, zapcore.InfoLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		if e.Level != wantLevels[i] {
			t.Fatalf("entry %d level=%v want %v", i, e.Level, wantLevels[i])
		}
	}

	ctx := entries[0].ContextMap()
	if ctx["ns"] != "pokemon-details" || ctx["key"] != "25" || ctx["token"] != uint64(3) {
		t.Fatalf("fields=%v", ctx)
	}
	if got := entries[1].ContextMap()["err"]; got != "Not Found" {
		t.Fatalf("err field=%v", got)
	}
	if keys := []string{entries[0].Context[0].Key, entries[0].Context[1].Key, entries[0].Context[2].Key}; keys[0] != "key" || keys[1] != "ns" || keys[2] != "token" {
		t.Fatalf("fields not sorted: %v", keys)
	}
}

func TestNewNilIsNop(t *testing.T) {
	l := New(nil)
	l.Info("dropped", querycache.Fields{"k": 1})
}

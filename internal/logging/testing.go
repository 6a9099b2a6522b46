package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// Recorder is a Logger that keeps every entry in memory, down to trace.
type Recorder struct {
	*Logger
	Logs *observer.ObservedLogs
}

// NewRecorder returns a Recorder without redaction or sampling.
func NewRecorder() *Recorder {
	core, logs := observer.New(TraceLevel)
	return &Recorder{Logger: &Logger{z: zap.New(core)}, Logs: logs}
}

// RequireField fails tb unless some entry whose message contains msg
// carries key=want.
func (r *Recorder) RequireField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range r.Logs.All() {
		if !strings.Contains(e.Message, msg) {
			continue
		}
		if got, ok := e.ContextMap()[key]; ok && got == want {
			return
		}
	}
	tb.Fatalf("no %q entry with %s=%v among %d entries", msg, key, want, r.Logs.Len())
}

package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adsight/backfill/internal/upstream"
)

// MockSyncer is a scripted stand-in for the external window sync primitive.
// Outcomes are keyed by the window's "since..until" string; unkeyed windows
// fall back to the default outcome.
type MockSyncer struct {
	mu       sync.Mutex
	outcomes map[string][]Outcome
	fallback Outcome
	calls    []upstream.WindowRequest
}

// Outcome is one scripted SyncWindow result.
type Outcome struct {
	Records int
	Err     error
}

func NewMockSyncer() *MockSyncer {
	return &MockSyncer{
		outcomes: make(map[string][]Outcome),
		fallback: Outcome{Records: 10},
	}
}

// SetDefault sets the outcome for windows with no script.
func (m *MockSyncer) SetDefault(o Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = o
}

// Script queues outcomes for a window key ("2025-01-01..2025-01-30").
// Successive calls for the same window consume outcomes in order; the last
// outcome repeats once the script is exhausted.
func (m *MockSyncer) Script(windowKey string, outcomes ...Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[windowKey] = append(m.outcomes[windowKey], outcomes...)
}

func (m *MockSyncer) SyncWindow(_ context.Context, req upstream.WindowRequest) (upstream.WindowResult, error) {
	return m.serve(req)
}

func (m *MockSyncer) SyncBreakdown(_ context.Context, req upstream.WindowRequest) (upstream.WindowResult, error) {
	return m.serve(req)
}

func (m *MockSyncer) serve(req upstream.WindowRequest) (upstream.WindowResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	key := req.TimeRange.Since + ".." + req.TimeRange.Until
	if req.Breakdown != "" {
		key = key + "#" + req.Breakdown
	}

	script, ok := m.outcomes[key]
	if !ok || len(script) == 0 {
		if m.fallback.Err != nil {
			return upstream.WindowResult{}, m.fallback.Err
		}
		return upstream.WindowResult{RecordsImported: m.fallback.Records}, nil
	}

	next := script[0]
	if len(script) > 1 {
		m.outcomes[key] = script[1:]
	}
	if next.Err != nil {
		return upstream.WindowResult{}, next.Err
	}
	return upstream.WindowResult{RecordsImported: next.Records}, nil
}

// Calls returns a copy of every request received so far.
func (m *MockSyncer) Calls() []upstream.WindowRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]upstream.WindowRequest, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of sync calls received.
func (m *MockSyncer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MockClock provides controllable time for testing
type MockClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewMockClock(start time.Time) *MockClock {
	return &MockClock{
		current: start,
	}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
}

func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}

// SleepRecorder records requested sleep durations without actually sleeping.
// Inject as the engine's sleep function to keep pacing tests instant.
type SleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func NewSleepRecorder() *SleepRecorder {
	return &SleepRecorder{}
}

func (r *SleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return ctx.Err()
}

// Sleeps returns a copy of the recorded durations.
func (r *SleepRecorder) Sleeps() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]time.Duration, len(r.sleeps))
	copy(result, r.sleeps)
	return result
}

// Total returns the sum of recorded durations.
func (r *SleepRecorder) Total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total time.Duration
	for _, d := range r.sleeps {
		total += d
	}
	return total
}

// TestLogger provides a logger that captures logs for testing
type TestLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

func NewTestLogger() *TestLogger {
	return &TestLogger{
		entries: make([]LogEntry, 0),
	}
}

func (l *TestLogger) log(level, msg string, fields ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := LogEntry{
		Level:   level,
		Message: msg,
		Fields:  make(map[string]interface{}),
	}

	for i := 0; i < len(fields); i += 2 {
		if i+1 < len(fields) {
			key := fmt.Sprintf("%v", fields[i])
			entry.Fields[key] = fields[i+1]
		}
	}

	l.entries = append(l.entries, entry)
}

func (l *TestLogger) GetEntries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]LogEntry, len(l.entries))
	copy(result, l.entries)
	return result
}

func (l *TestLogger) GetEntriesByLevel(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]LogEntry, 0)
	for _, entry := range l.entries {
		if entry.Level == level {
			result = append(result, entry)
		}
	}
	return result
}

func (l *TestLogger) HasError() bool {
	return len(l.GetEntriesByLevel("ERROR")) > 0
}

func (l *TestLogger) HasWarning() bool {
	return len(l.GetEntriesByLevel("WARN")) > 0
}

// Logger returns a *slog.Logger that writes to this TestLogger
func (l *TestLogger) Logger() *slog.Logger {
	return slog.New(&testLogHandler{logger: l})
}

// testLogHandler implements slog.Handler for TestLogger
type testLogHandler struct {
	logger *TestLogger
	attrs  []slog.Attr
	groups []string
}

func (h *testLogHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *testLogHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String()
	msg := r.Message

	// Collect all attributes
	fields := make([]interface{}, 0, r.NumAttrs()*2)
	r.Attrs(func(a slog.Attr) bool {
		fields = append(fields, a.Key, a.Value.Any())
		return true
	})

	// Add handler-level attributes
	for _, attr := range h.attrs {
		fields = append(fields, attr.Key, attr.Value.Any())
	}

	h.logger.log(level, msg, fields...)
	return nil
}

func (h *testLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)
	return &testLogHandler{
		logger: h.logger,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *testLogHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups[len(h.groups)] = name
	return &testLogHandler{
		logger: h.logger,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// WaitFor waits for a condition to be true with timeout
func WaitFor(t TestingT, condition func() bool, timeout time.Duration, msgAndArgs ...interface{}) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}

		<-ticker.C
		if time.Now().After(deadline) {
			t.Errorf("timeout waiting for condition: %v", msgAndArgs)
			return false
		}
	}
}

// TestingT is a minimal interface for testing
type TestingT interface {
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

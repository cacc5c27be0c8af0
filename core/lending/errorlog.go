package lending

import "sync"

// errorLogCapacity bounds the in-memory ring of recent error contexts.
const errorLogCapacity = 100

// ErrorContext is the structured record attached to every engine error
// for analytics. Recovery fields are only meaningful for transient
// errors, where the engine attempts exactly one bounded recovery.
type ErrorContext struct {
	Principal         string `json:"principal,omitempty"`
	Function          string `json:"function"`
	Code              string `json:"code"`
	Class             string `json:"class"`
	Detail            string `json:"detail,omitempty"`
	Timestamp         uint64 `json:"timestamp"`
	RecoveryAttempted bool   `json:"recoveryAttempted"`
	RecoverySucceeded bool   `json:"recoverySucceeded"`
}

// ErrorSink receives every recorded error context, letting hosts persist
// the audit trail beyond the in-memory ring.
type ErrorSink interface {
	RecordError(ctx ErrorContext)
}

// ErrorAnalytics aggregates the recorded errors. RecoverySuccessRate is
// a plain percent over attempted recoveries, zero when none ran.
type ErrorAnalytics struct {
	TotalErrors         uint64            `json:"totalErrors"`
	ByCode              map[string]uint64 `json:"byCode"`
	ByClass             map[string]uint64 `json:"byClass"`
	RecoveryAttempts    uint64            `json:"recoveryAttempts"`
	RecoverySuccesses   uint64            `json:"recoverySuccesses"`
	RecoverySuccessRate uint64            `json:"recoverySuccessRate"`
	LastErrorTimestamp  uint64            `json:"lastErrorTimestamp"`
}

// errorLog keeps the bounded ring of recent contexts plus running
// aggregates.
type errorLog struct {
	mu      sync.Mutex
	entries []ErrorContext
	next    int
	full    bool

	total             uint64
	byCode            map[string]uint64
	byClass           map[string]uint64
	recoveryAttempts  uint64
	recoverySuccesses uint64
	lastErrorAt       uint64

	sink ErrorSink
}

func newErrorLog() *errorLog {
	return &errorLog{
		entries: make([]ErrorContext, errorLogCapacity),
		byCode:  make(map[string]uint64),
		byClass: make(map[string]uint64),
	}
}

func (l *errorLog) setSink(sink ErrorSink) {
	l.mu.Lock()
	l.sink = sink
	l.mu.Unlock()
}

// record stores the context, updates the aggregates and forwards to the
// sink outside the lock.
func (l *errorLog) record(ctx ErrorContext) {
	l.mu.Lock()
	l.entries[l.next] = ctx
	l.next = (l.next + 1) % errorLogCapacity
	if l.next == 0 {
		l.full = true
	}
	l.total++
	l.byCode[ctx.Code]++
	l.byClass[ctx.Class]++
	l.lastErrorAt = ctx.Timestamp
	if ctx.RecoveryAttempted {
		l.recoveryAttempts++
		if ctx.RecoverySucceeded {
			l.recoverySuccesses++
		}
	}
	sink := l.sink
	l.mu.Unlock()
	if sink != nil {
		sink.RecordError(ctx)
	}
}

// recent returns up to n contexts, newest first.
func (l *errorLog) recent(n int) []ErrorContext {
	l.mu.Lock()
	defer l.mu.Unlock()
	size := l.next
	if l.full {
		size = errorLogCapacity
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]ErrorContext, 0, n)
	for i := 0; i < n; i++ {
		idx := (l.next - 1 - i + errorLogCapacity) % errorLogCapacity
		out = append(out, l.entries[idx])
	}
	return out
}

func (l *errorLog) analytics() ErrorAnalytics {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := ErrorAnalytics{
		TotalErrors:        l.total,
		ByCode:             make(map[string]uint64, len(l.byCode)),
		ByClass:            make(map[string]uint64, len(l.byClass)),
		RecoveryAttempts:   l.recoveryAttempts,
		RecoverySuccesses:  l.recoverySuccesses,
		LastErrorTimestamp: l.lastErrorAt,
	}
	for k, v := range l.byCode {
		out.ByCode[k] = v
	}
	for k, v := range l.byClass {
		out.ByClass[k] = v
	}
	if l.recoveryAttempts > 0 {
		out.RecoverySuccessRate = l.recoverySuccesses * 100 / l.recoveryAttempts
	}
	return out
}

package store

// Logger is the host-logging collaborator the store treats as external.
// internal/logger provides a zerolog-backed implementation; tests and
// callers that don't care about logging use NopLogger.
type Logger interface {
	Debugf(format string, args ...any)
}

// Stats is the statistics-sink collaborator the store treats as
// external. internal/metrics provides a Prometheus-backed implementation.
type Stats interface {
	PageAllocated()
	PageFreed()
	CacheHit()
	CacheMiss()
	Flushed()
}

// NopLogger discards every message. The zero value is ready to use.
type NopLogger struct{}

func (NopLogger) Debugf(format string, args ...any) {}

// NopStats discards every observation. The zero value is ready to use.
type NopStats struct{}

func (NopStats) PageAllocated() {}
func (NopStats) PageFreed()     {}
func (NopStats) CacheHit()      {}
func (NopStats) CacheMiss()     {}
func (NopStats) Flushed()       {}

var (
	_ Logger = NopLogger{}
	_ Stats  = NopStats{}
)

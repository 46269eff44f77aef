package srt

import "log"

// connLog wraps the stdlib logger with the connection's trace id,
// following the root package's own log.Printf("context: %v", err)
// style rather than a structured logging library — no pack example
// pulls one in, and the teacher's own packages use plain stdlib log
// throughout.
type connLog struct {
	traceID string
}

func (l connLog) Printf(format string, args ...interface{}) {
	log.Printf("[srt %s] "+format, append([]interface{}{l.traceID}, args...)...)
}

package metrics

import "github.com/rs/zerolog"

// LogSink publishes snapshots through zerolog, one structured log
// line per Publish call. Used by the admin CLI and tests; a real
// deployment typically wires a statsd/Prometheus sink instead, which
// is out of this module's scope (spec.md §1).
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink returns a Sink that logs through log at Info level.
func NewLogSink(log zerolog.Logger) LogSink {
	return LogSink{log: log.With().Str("component", "metrics").Logger()}
}

func (s LogSink) Publish(snap Snapshot) {
	evt := s.log.Info()
	for name, v := range snap.Counters {
		evt = evt.Int64("counter."+name, v)
	}
	for name, v := range snap.Gauges {
		evt = evt.Int64("gauge."+name, v)
	}
	evt.Msg("metrics snapshot")
}

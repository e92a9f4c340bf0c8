// Package report emits the operator-facing audit trail of external calls
// and their outcomes.
package report

import (
	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// LogSink writes audit entries as structured log events. The engine only
// requires a fire-and-forget write; failures here must never affect a run.
type LogSink struct {
	log zerolog.Logger
}

var _ domain.ReportSink = (*LogSink)(nil)

// NewLogSink creates a zerolog-backed report sink.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("service", "report").Logger()}
}

// WriteBody records one audit entry.
func (s *LogSink) WriteBody(data interface{}, description string) {
	s.log.Info().
		Interface("body", data).
		Msg(description)
}

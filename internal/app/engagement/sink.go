package engagement

import (
	"context"

	"github.com/tandem-app/tandem/internal/domain"
	"github.com/tandem-app/tandem/internal/infra/logger"
)

// LogSink delivers alerts to the structured log. Used when no push
// channel is configured.
type LogSink struct {
	log *logger.Logger
}

var _ domain.DeliverySink = (*LogSink)(nil)

// NewLogSink creates a sink writing to log.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log.With("service", "DeliverySink")}
}

func (s *LogSink) Notify(ctx context.Context, title, body string, priority domain.Priority) error {
	s.log.Info("alert", "title", title, "body", body, "priority", priority)
	return nil
}

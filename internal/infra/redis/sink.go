package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tandem-app/tandem/internal/domain"
)

// Alert is the push payload published for device clients.
type Alert struct {
	Title    string          `json:"title"`
	Body     string          `json:"body"`
	Priority domain.Priority `json:"priority"`
	SentAt   time.Time       `json:"sent_at"`
}

// Sink publishes alerts to a Redis channel consumed by device clients.
type Sink struct {
	rdb     *goredis.Client
	channel string
}

var _ domain.DeliverySink = (*Sink)(nil)

// NewSink creates a sink publishing on channel (default "tandem:alerts").
func NewSink(rdb *goredis.Client, channel string) *Sink {
	if channel == "" {
		channel = "tandem:alerts"
	}
	return &Sink{rdb: rdb, channel: channel}
}

func (s *Sink) Notify(ctx context.Context, title, body string, priority domain.Priority) error {
	raw, err := json.Marshal(Alert{Title: title, Body: body, Priority: priority, SentAt: time.Now()})
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, s.channel, raw).Err()
}

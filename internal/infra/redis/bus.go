package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tandem-app/tandem/internal/domain"
	"github.com/tandem-app/tandem/internal/infra/logger"
)

// Bus carries snapshot-changed signals over Redis pub/sub.
type Bus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

var _ domain.ChangeBus = (*Bus)(nil)

// NewBus creates a bus on the given channel (default "tandem:changes").
func NewBus(rdb *goredis.Client, channel string, log *logger.Logger) *Bus {
	if channel == "" {
		channel = "tandem:changes"
	}
	return &Bus{log: log.With("service", "RedisChangeBus"), rdb: rdb, channel: channel}
}

func (b *Bus) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes and invokes onEvent for every decoded event
// until ctx is cancelled.
func (b *Bus) StartForwarder(ctx context.Context, onEvent func(ev domain.ChangeEvent)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var ev domain.ChangeEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("bad change event payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()

	return nil
}

// Close is a no-op; the client is owned by the caller.
func (b *Bus) Close() error { return nil }

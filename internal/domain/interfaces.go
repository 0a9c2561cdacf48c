package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// StateStore is the key-value contract the engine needs from persistence.
// Implemented by infra/sqlite, infra/redis, infra/postgres and infra/memory.
type StateStore interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a single value.
	Set(ctx context.Context, key string, value []byte) error

	// SetMany stores all entries atomically: either every key is written or none.
	SetMany(ctx context.Context, entries map[string][]byte) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the store.
	Close() error
}

// DeliverySink receives immediately-actionable alerts (toast/push).
type DeliverySink interface {
	Notify(ctx context.Context, title, body string, priority Priority) error
}

// ChangeBus carries snapshot-changed signals between devices.
type ChangeBus interface {
	Publish(ctx context.Context, ev ChangeEvent) error
	StartForwarder(ctx context.Context, onEvent func(ev ChangeEvent)) error
	Close() error
}

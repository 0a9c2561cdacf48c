// Package redis provides Redis-backed state storage, the snapshot-changed
// bus, and a push delivery sink. Both partners' devices can point at the
// same Redis so they share one GamificationState.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tandem-app/tandem/internal/domain"
)

// Options configures the Redis client.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // key prefix, e.g. "tandem:"
}

// Store implements domain.StateStore on Redis strings.
type Store struct {
	rdb    *goredis.Client
	prefix string
	owned  bool // Close closes rdb only when Open dialed it
}

var _ domain.StateStore = (*Store)(nil)

// NewClient dials Redis and verifies the connection.
func NewClient(opts Options) (*goredis.Client, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewStore wraps an existing client. The caller keeps ownership of rdb;
// Close leaves it open for the bus and sink sharing it.
func NewStore(rdb *goredis.Client, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

// Open dials Redis and returns a Store.
func Open(opts Options) (*Store, error) {
	rdb, err := NewClient(opts)
	if err != nil {
		return nil, err
	}
	s := NewStore(rdb, opts.Prefix)
	s.owned = true
	return s, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return domain.ErrInvalidKey
	}
	return s.rdb.Set(ctx, s.prefix+key, value, 0).Err()
}

// SetMany writes all entries inside MULTI/EXEC.
func (s *Store) SetMany(ctx context.Context, entries map[string][]byte) error {
	for k := range entries {
		if k == "" {
			return domain.ErrInvalidKey
		}
	}
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		for k, v := range entries {
			p.Set(ctx, s.prefix+k, v, 0)
		}
		return nil
	})
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}

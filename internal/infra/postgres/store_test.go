package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/tandem-app/tandem/internal/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TANDEM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TANDEM_TEST_POSTGRES_DSN not set")
	}
	s, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_MissingDSN(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Error("Open(\"\") should fail")
	}
}

func TestStore_SetGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	prefix := uuid.NewString() + ":"

	if _, ok, err := s.Get(ctx, prefix+"missing"); ok || err != nil {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}
	if err := s.Set(ctx, prefix+"a", []byte("1")); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := s.Set(ctx, prefix+"a", []byte("2")); err != nil {
		t.Fatalf("Set() overwrite error: %v", err)
	}
	v, ok, err := s.Get(ctx, prefix+"a")
	if err != nil || !ok || string(v) != "2" {
		t.Errorf("Get(a) = %q, %v, %v", v, ok, err)
	}
}

func TestStore_SetManyRollsBack(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	prefix := uuid.NewString() + ":"

	err := s.SetMany(ctx, map[string][]byte{prefix + "x": []byte("1"), "": []byte("bad")})
	if !errors.Is(err, domain.ErrInvalidKey) {
		t.Fatalf("SetMany() error = %v, want ErrInvalidKey", err)
	}
	if _, ok, _ := s.Get(ctx, prefix+"x"); ok {
		t.Error("partial SetMany write should have been rolled back")
	}
}

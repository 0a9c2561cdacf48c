package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/tandem-app/tandem/internal/domain"
)

func TestStore_GetSet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}
	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	v, ok, _ := s.Get(ctx, "k")
	if !ok || string(v) != "v" {
		t.Errorf("Get() = %q, %v", v, ok)
	}
}

func TestStore_ValuesAreCopied(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	buf := []byte("abc")
	_ = s.Set(ctx, "k", buf)
	buf[0] = 'x'

	v, _, _ := s.Get(ctx, "k")
	if string(v) != "abc" {
		t.Errorf("stored value mutated through caller slice: %q", v)
	}
}

func TestStore_SetManyRejectsEmptyKey(t *testing.T) {
	s := NewStore()
	err := s.SetMany(context.Background(), map[string][]byte{"a": nil, "": nil})
	if !errors.Is(err, domain.ErrInvalidKey) {
		t.Fatalf("SetMany() error = %v, want ErrInvalidKey", err)
	}
	if s.Len() != 0 {
		t.Errorf("partial write: %d keys stored", s.Len())
	}
}

func TestStore_Fail(t *testing.T) {
	s := NewStore()
	boom := errors.New("boom")
	s.Fail(boom)

	if err := s.Ping(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Ping() = %v, want boom", err)
	}
	if _, _, err := s.Get(context.Background(), "k"); !errors.Is(err, boom) {
		t.Errorf("Get() = %v, want boom", err)
	}

	s.Fail(nil)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() after restore = %v", err)
	}
}

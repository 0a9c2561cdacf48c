package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tandem-app/tandem/internal/infra/memory"
	"github.com/tandem-app/tandem/internal/infra/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// ─── Checker Tests ──────────────────────────────────────────────────────────

func TestNewChecker(t *testing.T) {
	c := NewChecker(newTestDB(t), t.TempDir())
	if c == nil {
		t.Fatal("NewChecker() returned nil")
	}
	if len(c.checks) != 2 {
		t.Errorf("checks = %d, want 2", len(c.checks))
	}
}

func TestNewChecker_ExtraChecks(t *testing.T) {
	extra := Check{Name: "change_bus", CheckFn: func(ctx context.Context) error { return nil }}
	c := NewChecker(newTestDB(t), t.TempDir(), extra)
	if len(c.checks) != 3 {
		t.Errorf("checks = %d, want 3", len(c.checks))
	}
}

func TestChecker_RunAllHealthy(t *testing.T) {
	c := NewChecker(newTestDB(t), t.TempDir())
	c.RunOnce(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("Statuses() = %d, want 2", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true")
	}
}

func TestChecker_StoreDown(t *testing.T) {
	store := memory.NewStore()
	store.Fail(errors.New("connection refused"))

	c := NewChecker(store, "")
	c.RunOnce(context.Background())

	if c.IsHealthy() {
		t.Error("IsHealthy() should be false when the store is down")
	}
	for _, s := range c.Statuses() {
		if s.Name == "state_store" && s.Error == "" {
			t.Error("state_store status should carry the error")
		}
	}
}

func TestChecker_DataDirRecovered(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	c := NewChecker(memory.NewStore(), dir)

	c.RunOnce(context.Background())
	if c.IsHealthy() {
		t.Fatal("missing data dir should be unhealthy on first run")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("recovery should create the data dir: %v", err)
	}

	c.RunOnce(context.Background())
	if !c.IsHealthy() {
		t.Error("data dir check should pass after recovery")
	}
}

func TestChecker_DataDirIsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(f, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := checkDataDir(f); err == nil {
		t.Error("checkDataDir(file) should fail")
	}
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	c := NewChecker(memory.NewStore(), "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
	if len(c.Statuses()) != 2 {
		t.Error("Run should complete an initial pass")
	}
}

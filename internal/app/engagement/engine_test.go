package engagement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tandem-app/tandem/internal/app/engagement"
	"github.com/tandem-app/tandem/internal/domain"
	"github.com/tandem-app/tandem/internal/infra/clock"
	"github.com/tandem-app/tandem/internal/infra/memory"
	"github.com/tandem-app/tandem/internal/infra/sqlite"
)

// testDB creates a temporary SQLite store for testing.
func testDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// recordingSink captures delivered alerts.
type recordingSink struct {
	mu     sync.Mutex
	titles []string
	fail   error
}

func (s *recordingSink) Notify(ctx context.Context, title, body string, priority domain.Priority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.titles)
}

// mutableClock lets a test move time forward.
type mutableClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}
func (c *mutableClock) Today() time.Time { return clock.Midnight(c.Now()) }
func (c *mutableClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newEngine(t *testing.T, store domain.StateStore, now time.Time, sink domain.DeliverySink) (*engagement.Engine, *mutableClock) {
	t.Helper()
	clk := &mutableClock{t: now}
	return engagement.New(engagement.Options{Store: store, Clock: clk, Sink: sink}), clk
}

func TestEngine_RecomputeIdempotent(t *testing.T) {
	ctx := context.Background()
	now := at(2025, 7, 1, 12)
	e, _ := newEngine(t, testDB(t), now, nil)

	due := now.Add(-24 * time.Hour)
	snap := domain.Snapshot{Actions: []domain.Action{
		completedAction("a1", "alex", now.Add(-time.Hour)),
		{ID: "a2", Title: "Budget talk", AssignedTo: "alex", CreatedAt: now.Add(-72 * time.Hour), CreatedBy: "sam", DueAt: &due},
	}}

	first, err := e.Recompute(ctx, "p1", "alex", snap)
	if err != nil {
		t.Fatalf("first recompute: %v", err)
	}
	if len(first.Unlocked) == 0 || len(first.NewChallenges) != 3 || len(first.NewNotifications) != 1 {
		t.Fatalf("first pass: %d unlocked, %d challenges, %d notifications",
			len(first.Unlocked), len(first.NewChallenges), len(first.NewNotifications))
	}

	second, err := e.Recompute(ctx, "p1", "alex", snap)
	if err != nil {
		t.Fatalf("second recompute: %v", err)
	}
	if len(second.Unlocked) != 0 || len(second.NewChallenges) != 0 ||
		len(second.CompletedChallenges) != 0 || len(second.NewNotifications) != 0 {
		t.Errorf("second pass should add nothing: %+v", second)
	}
	if second.State.TotalPoints != first.State.TotalPoints {
		t.Errorf("points changed on replay: %d -> %d", first.State.TotalPoints, second.State.TotalPoints)
	}
}

func TestEngine_StreakAcrossDays(t *testing.T) {
	ctx := context.Background()
	day1 := at(2025, 7, 1, 12)
	e, clk := newEngine(t, testDB(t), day1, nil)

	var actions []domain.Action
	for i, d := range []time.Time{day1, day1.AddDate(0, 0, 1), day1.AddDate(0, 0, 2)} {
		clk.Set(d)
		actions = append(actions, completedAction(string(rune('a'+i)), "alex", d))
		if _, err := e.Recompute(ctx, "p1", "alex", domain.Snapshot{Actions: actions}); err != nil {
			t.Fatalf("recompute day %d: %v", i, err)
		}
	}

	st, err := e.State(ctx, "p1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if got := st.Partner("alex").Streak.CurrentStreak; got != 3 {
		t.Errorf("expected partner streak 3, got %d", got)
	}
	if st.Streak.CurrentStreak != 3 {
		t.Errorf("expected partnership streak 3, got %d", st.Streak.CurrentStreak)
	}
	if st.Partner("sam").Streak.CurrentStreak != 0 {
		t.Error("only the acting partner's streak advances")
	}
	if !st.HasAchievement("streak-3") {
		t.Error("streak-3 should unlock on the third day")
	}
}

func TestEngine_MissingAndMalformedState(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	e, _ := newEngine(t, store, at(2025, 7, 1, 12), nil)

	if err := store.Set(ctx, engagement.Key("p1", "gamification_state"), []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	res, err := e.Recompute(ctx, "p1", "alex", domain.Snapshot{})
	if err != nil {
		t.Fatalf("malformed state should recover: %v", err)
	}
	found := false
	for _, k := range res.Recovered {
		if k == "gamification_state" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected gamification_state in recovered, got %v", res.Recovered)
	}

	settings, err := e.Settings(ctx, "p2")
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if settings != domain.DefaultNotificationSettings() {
		t.Errorf("missing settings should default, got %+v", settings)
	}
}

func TestEngine_StoreUnavailable(t *testing.T) {
	store := memory.NewStore()
	e, _ := newEngine(t, store, at(2025, 7, 1, 12), nil)
	store.Fail(errors.New("connection refused"))

	_, err := e.Recompute(context.Background(), "p1", "alex", domain.Snapshot{})
	if !errors.Is(err, domain.ErrStateUnavailable) {
		t.Errorf("expected ErrStateUnavailable, got %v", err)
	}
}

func TestEngine_MissingIDs(t *testing.T) {
	e, _ := newEngine(t, memory.NewStore(), at(2025, 7, 1, 12), nil)
	if _, err := e.Recompute(context.Background(), "", "alex", domain.Snapshot{}); !errors.Is(err, domain.ErrMissingPartnership) {
		t.Errorf("expected ErrMissingPartnership, got %v", err)
	}
	if _, err := e.Recompute(context.Background(), "p1", "", domain.Snapshot{}); !errors.Is(err, domain.ErrMissingPartner) {
		t.Errorf("expected ErrMissingPartner, got %v", err)
	}
}

func TestEngine_TwoDevicesConverge(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := at(2025, 7, 1, 12)
	alexDevice, _ := newEngine(t, store, now, nil)
	samDevice, _ := newEngine(t, store, now, nil)

	snap := domain.Snapshot{Actions: []domain.Action{
		completedAction("a1", "alex", now.Add(-time.Hour)),
		completedAction("s1", "sam", now.Add(-2*time.Hour)),
	}}

	var wg sync.WaitGroup
	for _, run := range []struct {
		e       *engagement.Engine
		partner string
	}{{alexDevice, "alex"}, {samDevice, "sam"}} {
		wg.Add(1)
		go func(e *engagement.Engine, partner string) {
			defer wg.Done()
			if _, err := e.Recompute(ctx, "p1", partner, snap); err != nil {
				t.Errorf("recompute %s: %v", partner, err)
			}
		}(run.e, run.partner)
	}
	wg.Wait()

	// A follow-up pass on each device reconciles any interleaving.
	if _, err := alexDevice.Recompute(ctx, "p1", "alex", snap); err != nil {
		t.Fatal(err)
	}
	if _, err := samDevice.Recompute(ctx, "p1", "sam", snap); err != nil {
		t.Fatal(err)
	}

	st, err := alexDevice.State(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if !st.HasAchievement("first-step") {
		t.Fatal("first-step should be unlocked")
	}
	n := 0
	for _, a := range st.Achievements {
		if a.DefinitionID == "first-step" {
			n++
		}
	}
	if n != 1 {
		t.Errorf("first-step instances = %d, want 1", n)
	}
	var sum int64
	for _, e := range st.Ledger {
		sum += e.Amount
	}
	if st.TotalPoints != sum {
		t.Errorf("total %d does not match ledger sum %d", st.TotalPoints, sum)
	}
	if st.Partner("alex").ActionsCompleted != 1 || st.Partner("sam").ActionsCompleted != 1 {
		t.Errorf("both partners' counters should survive: %+v", st.Partners)
	}
}

func TestEngine_DeliversHighPriorityOnce(t *testing.T) {
	ctx := context.Background()
	now := at(2025, 7, 1, 12)
	sink := &recordingSink{}
	e, _ := newEngine(t, testDB(t), now, sink)

	due := now.Add(-time.Hour)
	snap := domain.Snapshot{Actions: []domain.Action{{ID: "a1", Title: "Call the counselor", AssignedTo: "alex", DueAt: &due}}}

	res, err := e.Recompute(ctx, "p1", "alex", snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Delivered) != 1 || sink.count() != 1 {
		t.Fatalf("expected one delivery, got %v / %d", res.Delivered, sink.count())
	}

	if _, err := e.Recompute(ctx, "p1", "alex", snap); err != nil {
		t.Fatal(err)
	}
	if sink.count() != 1 {
		t.Errorf("notification delivered twice (%d)", sink.count())
	}
}

func TestEngine_QuietHoursDeferDelivery(t *testing.T) {
	ctx := context.Background()
	night := at(2025, 7, 1, 23)
	sink := &recordingSink{}
	e, clk := newEngine(t, testDB(t), night, sink)

	due := night.Add(-time.Hour)
	snap := domain.Snapshot{Actions: []domain.Action{{ID: "a1", Title: "Call the counselor", AssignedTo: "alex", DueAt: &due}}}

	res, err := e.Recompute(ctx, "p1", "alex", snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.NewNotifications) != 1 || sink.count() != 0 {
		t.Fatalf("quiet hours: recorded %d, delivered %d", len(res.NewNotifications), sink.count())
	}

	clk.Set(at(2025, 7, 2, 9))
	if _, err := e.Recompute(ctx, "p1", "alex", snap); err != nil {
		t.Fatal(err)
	}
	if sink.count() != 1 {
		t.Errorf("deferred notification should deliver after quiet hours, got %d", sink.count())
	}
}

func TestEngine_DeferredAlertDroppedOnceCleared(t *testing.T) {
	ctx := context.Background()
	night := at(2025, 7, 1, 23)
	sink := &recordingSink{}
	e, clk := newEngine(t, testDB(t), night, sink)

	due := night.Add(-time.Hour)
	pending := domain.Action{ID: "a1", Title: "Call the counselor", AssignedTo: "alex", DueAt: &due}
	res, err := e.Recompute(ctx, "p1", "alex", domain.Snapshot{Actions: []domain.Action{pending}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.NewNotifications) != 1 || sink.count() != 0 {
		t.Fatalf("quiet hours: recorded %d, delivered %d", len(res.NewNotifications), sink.count())
	}

	done := pending
	done.Status = domain.ActionCompleted
	done.CompletedAt = ptr(at(2025, 7, 2, 7))
	done.CompletedBy = "alex"

	clk.Set(at(2025, 7, 2, 9))
	res, err = e.Recompute(ctx, "p1", "alex", domain.Snapshot{Actions: []domain.Action{done}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Delivered) != 0 || sink.count() != 0 {
		t.Errorf("alert for a completed action was pushed: %v / %d", res.Delivered, sink.count())
	}
}

func TestEngine_StoredDayCreditedAtRollover(t *testing.T) {
	ctx := context.Background()
	day1 := at(2025, 7, 1, 12)
	e, clk := newEngine(t, testDB(t), day1, nil)

	actions := []domain.Action{completedAction("a", "alex", day1)}
	if _, err := e.Recompute(ctx, "p1", "alex", domain.Snapshot{Actions: actions}); err != nil {
		t.Fatal(err)
	}

	// Day two is only stored; the midnight rollover is the next recompute.
	day2 := day1.AddDate(0, 0, 1)
	clk.Set(day2)
	actions = append(actions, completedAction("b", "alex", day2))
	if err := e.StoreSnapshot(ctx, "p1", domain.Snapshot{Actions: actions}); err != nil {
		t.Fatal(err)
	}
	clk.Set(time.Date(2025, 7, 3, 0, 0, 1, 0, time.UTC))
	res, err := e.RecomputeStored(ctx, "p1", "alex")
	if err != nil {
		t.Fatal(err)
	}
	if s := res.State.Partner("alex").Streak; s.CurrentStreak != 2 || s.LastActivityDate != "2025-07-02" {
		t.Fatalf("after rollover: expected streak 2 through 2025-07-02, got %+v", s)
	}

	day3 := day1.AddDate(0, 0, 2)
	clk.Set(day3)
	actions = append(actions, completedAction("c", "alex", day3))
	res, err = e.Recompute(ctx, "p1", "alex", domain.Snapshot{Actions: actions})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.State.Partner("alex").Streak.CurrentStreak; got != 3 {
		t.Errorf("three consecutive active days, partner streak %d", got)
	}
	if res.State.Streak.CurrentStreak != 3 {
		t.Errorf("three consecutive active days, partnership streak %d", res.State.Streak.CurrentStreak)
	}
}

func TestEngine_FutureActivityNotCredited(t *testing.T) {
	ctx := context.Background()
	now := at(2025, 7, 1, 12)
	e, _ := newEngine(t, testDB(t), now, nil)

	skewed := completedAction("a", "alex", now.AddDate(0, 0, 2))
	skewed.CreatedAt = now.AddDate(0, 0, 2)
	res, err := e.Recompute(ctx, "p1", "alex", domain.Snapshot{Actions: []domain.Action{skewed}})
	if err != nil {
		t.Fatal(err)
	}
	if s := res.State.Partner("alex").Streak; s.CurrentStreak != 0 {
		t.Errorf("activity after today must wait, got %+v", s)
	}
}

func TestEngine_SinkFailureRetries(t *testing.T) {
	ctx := context.Background()
	now := at(2025, 7, 1, 12)
	sink := &recordingSink{fail: errors.New("push gateway down")}
	e, _ := newEngine(t, testDB(t), now, sink)

	due := now.Add(-time.Hour)
	snap := domain.Snapshot{Actions: []domain.Action{{ID: "a1", AssignedTo: "alex", DueAt: &due}}}
	if _, err := e.Recompute(ctx, "p1", "alex", snap); err != nil {
		t.Fatalf("sink failure must not fail recompute: %v", err)
	}

	sink.mu.Lock()
	sink.fail = nil
	sink.mu.Unlock()
	if _, err := e.Recompute(ctx, "p1", "alex", snap); err != nil {
		t.Fatal(err)
	}
	if sink.count() != 1 {
		t.Errorf("expected retry delivery, got %d", sink.count())
	}
}

func TestEngine_CompleteChallenge(t *testing.T) {
	ctx := context.Background()
	now := at(2025, 7, 1, 12)
	e, _ := newEngine(t, testDB(t), now, nil)

	if _, err := e.Recompute(ctx, "p1", "alex", domain.Snapshot{}); err != nil {
		t.Fatal(err)
	}
	challenges, err := e.Challenges(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}

	var manual *domain.ChallengeInstance
	for i := range challenges {
		if !challenges[i].Type.AutoTracked() {
			manual = &challenges[i]
			break
		}
	}
	if manual == nil {
		t.Skip("no manual challenge in today's batch")
	}

	pts, err := e.CompleteChallenge(ctx, "p1", "sam", manual.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	st, _ := e.State(ctx, "p1")
	if st.TotalPoints != pts || st.Partner("sam").Points != pts {
		t.Errorf("expected %d points credited to sam, got %+v", pts, st.Partners)
	}

	if _, err := e.CompleteChallenge(ctx, "p1", "alex", manual.ID); !errors.Is(err, domain.ErrChallengeCompleted) {
		t.Errorf("expected ErrChallengeCompleted, got %v", err)
	}
}

func TestEngine_DismissKeepsTombstone(t *testing.T) {
	ctx := context.Background()
	now := at(2025, 7, 1, 12)
	e, _ := newEngine(t, testDB(t), now, nil)

	due := now.Add(-time.Hour)
	snap := domain.Snapshot{Actions: []domain.Action{{ID: "a1", AssignedTo: "alex", DueAt: &due}}}
	res, err := e.Recompute(ctx, "p1", "alex", snap)
	if err != nil || len(res.NewNotifications) != 1 {
		t.Fatalf("recompute: %v, %d notifications", err, len(res.NewNotifications))
	}
	id := res.NewNotifications[0].ID

	if err := e.Dismiss(ctx, "p1", "alex", id); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	res, err = e.Recompute(ctx, "p1", "alex", snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.NewNotifications) != 0 {
		t.Error("dismissed notification re-emitted")
	}
	visible, _ := e.Notifications(ctx, "p1", "alex")
	if len(visible) != 0 {
		t.Errorf("dismissed notification still visible: %+v", visible)
	}

	if err := e.MarkRead(ctx, "p1", "sam", id); !errors.Is(err, domain.ErrNotificationNotFound) {
		t.Errorf("other partner's notification: expected not found, got %v", err)
	}
}

func TestEngine_MarkRead(t *testing.T) {
	ctx := context.Background()
	now := at(2025, 7, 1, 12)
	e, _ := newEngine(t, testDB(t), now, nil)

	due := now.Add(30 * time.Hour)
	snap := domain.Snapshot{Actions: []domain.Action{{ID: "a1", AssignedTo: domain.AssignBoth, DueAt: &due}}}
	res, err := e.Recompute(ctx, "p1", "sam", snap)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.MarkRead(ctx, "p1", "sam", res.NewNotifications[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	st, err := e.Status(ctx, "p1", "sam")
	if err != nil {
		t.Fatal(err)
	}
	if st.Unread != 0 {
		t.Errorf("expected 0 unread, got %d", st.Unread)
	}
}

func TestEngine_Redeem(t *testing.T) {
	ctx := context.Background()
	now := at(2025, 7, 1, 12)
	e, _ := newEngine(t, testDB(t), now, nil)

	if _, err := e.Redeem(ctx, "p1", "alex", 10, "Movie night"); !errors.Is(err, domain.ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}

	snap := domain.Snapshot{Actions: []domain.Action{completedAction("a1", "alex", now)}}
	res, err := e.Recompute(ctx, "p1", "alex", snap)
	if err != nil {
		t.Fatal(err)
	}
	balance := res.State.TotalPoints
	if balance < 10 {
		t.Fatalf("expected at least 10 points, got %d", balance)
	}

	entry, err := e.Redeem(ctx, "p1", "alex", 10, "Movie night")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if entry.Amount != -10 {
		t.Errorf("expected -10 entry, got %d", entry.Amount)
	}
	st, _ := e.State(ctx, "p1")
	if st.TotalPoints != balance-10 {
		t.Errorf("expected balance %d, got %d", balance-10, st.TotalPoints)
	}
}

func TestEngine_UpdateSettings(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, testDB(t), at(2025, 7, 1, 12), nil)

	bad := domain.DefaultNotificationSettings()
	bad.QuietHours.Start = "25:99"
	if err := e.UpdateSettings(ctx, "p1", bad); !errors.Is(err, domain.ErrInvalidSettings) {
		t.Errorf("expected ErrInvalidSettings, got %v", err)
	}

	s := domain.DefaultNotificationSettings()
	s.WarningDays = 5
	if err := e.UpdateSettings(ctx, "p1", s); err != nil {
		t.Fatal(err)
	}
	got, _ := e.Settings(ctx, "p1")
	if got.WarningDays != 5 {
		t.Errorf("expected warning days 5, got %d", got.WarningDays)
	}
}

func TestEngine_RecomputeStoredUsesSnapshot(t *testing.T) {
	ctx := context.Background()
	now := at(2025, 7, 1, 12)
	e, clk := newEngine(t, testDB(t), now, nil)

	snap := domain.Snapshot{Actions: []domain.Action{completedAction("a1", "alex", now)}}
	if _, err := e.Recompute(ctx, "p1", "alex", snap); err != nil {
		t.Fatal(err)
	}
	stored, ok, err := e.Snapshot(ctx, "p1")
	if err != nil || !ok || len(stored.Actions) != 1 {
		t.Fatalf("stored snapshot: %v, %v, %+v", ok, err, stored)
	}

	clk.Set(at(2025, 7, 2, 0))
	res, err := e.RecomputeStored(ctx, "p1", "alex")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.NewChallenges) != 3 {
		t.Errorf("rollover should generate a new batch, got %d", len(res.NewChallenges))
	}
}

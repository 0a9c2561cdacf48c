package engagement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tandem-app/tandem/internal/domain"
	"github.com/tandem-app/tandem/internal/infra/clock"
	"github.com/tandem-app/tandem/internal/infra/logger"
	"github.com/tandem-app/tandem/internal/infra/metrics"
)

// ─── Store Keys ─────────────────────────────────────────────────────────────

const (
	keyState         = "gamification_state"
	keyChallenges    = "challenge_instances"
	keyNotifications = "notifications"
	keySettings      = "notification_settings"
	keySnapshot      = "snapshot"
)

// Key returns the store key for a partnership-scoped value.
func Key(partnershipID, name string) string {
	return partnershipID + ":" + name
}

// Options configures an Engine.
type Options struct {
	Store domain.StateStore
	Clock clock.Clock         // defaults to the local real clock
	Sink  domain.DeliverySink // optional
	Log   *logger.Logger      // defaults to a no-op logger

	DailyChallengeCount int
	WeeklyGoal          int
	DefaultSettings     *domain.NotificationSettings
}

// Engine runs recomputes and user mutations for partnerships.
// Operations on one partnership are serialized; commits merge with the
// persisted state so concurrent devices converge.
type Engine struct {
	store    domain.StateStore
	clock    clock.Clock
	sink     domain.DeliverySink
	log      *logger.Logger
	defaults domain.NotificationSettings
	weekly   int

	achievements *AchievementEvaluator
	rotator      *ChallengeRotator
	notifier     *NotificationGenerator

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an engine.
func New(opts Options) *Engine {
	e := &Engine{
		store:        opts.Store,
		clock:        opts.Clock,
		sink:         opts.Sink,
		log:          opts.Log,
		defaults:     domain.DefaultNotificationSettings(),
		weekly:       opts.WeeklyGoal,
		achievements: NewAchievementEvaluator(),
		rotator:      NewChallengeRotator(opts.DailyChallengeCount),
		notifier:     NewNotificationGenerator(),
		locks:        make(map[string]*sync.Mutex),
	}
	if e.clock == nil {
		e.clock = clock.NewReal(nil)
	}
	if e.log == nil {
		e.log = logger.NewNop()
	}
	if opts.DefaultSettings != nil {
		e.defaults = *opts.DefaultSettings
	}
	if e.weekly <= 0 {
		e.weekly = domain.DefaultWeeklyGoal
	}
	return e
}

// Achievements returns the evaluator (for catalog display).
func (e *Engine) Achievements() *AchievementEvaluator { return e.achievements }

// Clock returns the engine clock.
func (e *Engine) Clock() clock.Clock { return e.clock }

// lock serializes operations on one partnership.
func (e *Engine) lock(partnershipID string) func() {
	e.mu.Lock()
	l, ok := e.locks[partnershipID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[partnershipID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// ─── Recompute ──────────────────────────────────────────────────────────────

// RecomputeResult reports what a recompute changed.
type RecomputeResult struct {
	State               domain.GamificationState       `json:"state"`
	Unlocked            []domain.AchievementDefinition `json:"unlocked"`
	NewChallenges       []domain.ChallengeInstance     `json:"new_challenges"`
	CompletedChallenges []domain.ChallengeInstance     `json:"completed_challenges"`
	NewNotifications    []domain.Notification          `json:"new_notifications"`
	Delivered           []string                       `json:"delivered"`
	Recovered           []string                       `json:"recovered,omitempty"`
}

// Recompute derives engagement state for partnerID from snap.
// Streaks, achievements, challenges and notifications are staged in that
// order and committed together; high-priority notifications are then
// delivered to the sink.
func (e *Engine) Recompute(ctx context.Context, partnershipID, partnerID string, snap domain.Snapshot) (*RecomputeResult, error) {
	if err := validateIDs(partnershipID, partnerID); err != nil {
		return nil, err
	}
	unlock := e.lock(partnershipID)
	defer unlock()

	start := time.Now()
	res, err := e.recompute(ctx, partnershipID, partnerID, snap)
	if err != nil {
		reason := "internal"
		if errors.Is(err, domain.ErrStateUnavailable) {
			reason = "state_unavailable"
		}
		metrics.RecomputeErrors.WithLabelValues(reason).Inc()
		return nil, err
	}
	metrics.RecomputeDuration.Observe(time.Since(start).Seconds())
	return res, nil
}

// RecomputeStored recomputes against the last stored snapshot. A missing
// snapshot is treated as empty, which still rolls challenges over.
func (e *Engine) RecomputeStored(ctx context.Context, partnershipID, partnerID string) (*RecomputeResult, error) {
	snap, _, err := e.Snapshot(ctx, partnershipID)
	if err != nil {
		return nil, err
	}
	return e.Recompute(ctx, partnershipID, partnerID, snap)
}

func (e *Engine) recompute(ctx context.Context, pid, partnerID string, snap domain.Snapshot) (*RecomputeResult, error) {
	now := e.clock.Now()
	b, recovered, err := e.load(ctx, pid)
	if err != nil {
		return nil, err
	}

	res := &RecomputeResult{Recovered: recovered}
	stage := b.state.Clone()
	if stage.WeeklyGoal <= 0 {
		stage.WeeklyGoal = e.weekly
	}

	// 1. Streaks and counters
	e.advanceStreaks(&stage, partnerID, snap.Actions, now)

	// 2. Achievements
	res.Unlocked = e.achievements.Evaluate(&stage, EvalInput{
		PartnerID:   partnerID,
		Actions:     snap.Actions,
		Issues:      snap.Issues,
		HealthScore: snap.HealthScore,
		Now:         now,
	})

	// 3. Challenges
	challenges, created := e.rotator.RollDay(pid, b.challenges, now)
	challenges, completed := e.rotator.RecordProgress(challenges, snap.Actions, partnerID, now, NewLedger(&stage))
	res.NewChallenges, res.CompletedChallenges = created, completed

	// 4. Notifications
	notifs := e.notifier.Prune(partnerID, b.notifications, snap.Actions, b.settings, now)
	fresh := e.notifier.Generate(pid, partnerID, snap.Actions, b.settings, now, notifs)
	notifs = append(notifs, fresh...)
	res.NewNotifications = fresh

	stage.UpdatedAt = now
	snap.PartnershipID = pid
	if snap.TakenAt.IsZero() {
		snap.TakenAt = now
	}

	committed, err := e.commit(ctx, pid, bundle{state: stage, challenges: challenges, notifications: notifs, settings: b.settings}, &snap,
		func(ns []domain.Notification) []domain.Notification {
			return e.notifier.Prune(partnerID, ns, snap.Actions, b.settings, now)
		})
	if err != nil {
		return nil, err
	}

	e.observe(res)
	res.Delivered = e.deliver(ctx, pid, partnerID, committed, e.notifier.ActiveKeys(partnerID, snap.Actions, b.settings, now), now)
	res.State = committed.state
	return res, nil
}

// advanceStreaks credits the partner and partnership streaks with every
// activity day since their last one, and refreshes derived counters.
func (e *Engine) advanceStreaks(stage *domain.GamificationState, partnerID string, actions []domain.Action, now time.Time) {
	loc, today := now.Location(), domain.DayOf(now)

	ps := stage.Partner(partnerID)
	ps.Streak = CatchUp(ps.Streak, ActivityDays(actions, partnerID, loc), today)
	stage.Streak = CatchUp(stage.Streak, ActivityDays(actions, "", loc), today)

	ps.ActionsCompleted, ps.ActionsCreated = 0, 0
	week, weekly := isoWeek(now), 0
	for _, a := range actions {
		if a.IsCompleted() && a.CompletedBy == partnerID {
			ps.ActionsCompleted++
		}
		if a.CreatedBy == partnerID {
			ps.ActionsCreated++
		}
		if a.IsCompleted() && a.CompletedAt != nil && isoWeek(a.CompletedAt.In(now.Location())) == week {
			weekly++
		}
	}
	stage.Partners[partnerID] = ps

	if stage.WeekISO != week {
		stage.WeekISO, stage.WeeklyProgress = week, weekly
	} else {
		stage.WeeklyProgress = maxInt(stage.WeeklyProgress, weekly)
	}
}

func (e *Engine) observe(res *RecomputeResult) {
	for _, def := range res.Unlocked {
		metrics.AchievementsUnlocked.WithLabelValues(string(def.Category)).Inc()
		metrics.PointsAwarded.WithLabelValues("achievement").Add(float64(def.Points))
		e.log.Info("achievement unlocked", "achievement", def.ID, "points", def.Points)
	}
	metrics.ChallengesGenerated.Add(float64(len(res.NewChallenges)))
	for _, c := range res.CompletedChallenges {
		metrics.ChallengesCompleted.WithLabelValues(string(c.Type)).Inc()
		metrics.PointsAwarded.WithLabelValues("challenge").Add(float64(c.Points))
		e.log.Info("challenge completed", "challenge", c.ID, "template", c.TemplateID, "points", c.Points)
	}
	for _, n := range res.NewNotifications {
		metrics.NotificationsGenerated.WithLabelValues(string(n.Type), string(n.Priority)).Inc()
	}
}

// deliver sends due high-priority notifications to the sink after they
// have been committed, then records delivery. Alerts whose condition has
// cleared since they were deferred are never pushed.
func (e *Engine) deliver(ctx context.Context, pid, partnerID string, b bundle, active map[domain.NotificationKey]bool, now time.Time) []string {
	if e.sink == nil {
		return nil
	}
	ids := DueForDelivery(partnerID, b.notifications, active, b.settings, now)
	if len(ids) == 0 {
		return nil
	}

	byID := make(map[string]int, len(b.notifications))
	for i, n := range b.notifications {
		byID[n.ID] = i
	}

	var delivered []string
	for _, id := range ids {
		n := &b.notifications[byID[id]]
		if err := e.sink.Notify(ctx, n.Title, n.Body, n.Priority); err != nil {
			metrics.NotificationsDelivered.WithLabelValues("failed").Inc()
			e.log.Warn("notification delivery failed", "notification", id, "error", err)
			continue
		}
		at := now
		n.DeliveredAt = &at
		delivered = append(delivered, id)
		metrics.NotificationsDelivered.WithLabelValues("sent").Inc()
	}
	if len(delivered) == 0 {
		return nil
	}

	// Re-read before writing so a concurrent commit is merged, not clobbered.
	var current []domain.Notification
	if _, err := e.getJSON(ctx, Key(pid, keyNotifications), &current); err != nil {
		e.log.Warn("record delivery failed", "partnership", pid, "error", err)
		return delivered
	}
	if err := e.setJSON(ctx, Key(pid, keyNotifications), MergeNotifications(current, b.notifications)); err != nil {
		e.log.Warn("record delivery failed", "partnership", pid, "error", err)
	}
	return delivered
}

// ─── User Mutations ─────────────────────────────────────────────────────────

// CompleteChallenge marks a manual challenge complete for partnerID and
// returns the points awarded.
func (e *Engine) CompleteChallenge(ctx context.Context, partnershipID, partnerID, challengeID string) (int64, error) {
	if err := validateIDs(partnershipID, partnerID); err != nil {
		return 0, err
	}
	unlock := e.lock(partnershipID)
	defer unlock()

	now := e.clock.Now()
	b, _, err := e.load(ctx, partnershipID)
	if err != nil {
		return 0, err
	}

	stage := b.state.Clone()
	challenges, points, err := e.rotator.Complete(b.challenges, challengeID, partnerID, now, NewLedger(&stage))
	if err != nil {
		return 0, err
	}
	stage.UpdatedAt = now
	b.state, b.challenges = stage, challenges

	if _, err := e.commit(ctx, partnershipID, b, nil, nil); err != nil {
		return 0, err
	}
	metrics.PointsAwarded.WithLabelValues("challenge").Add(float64(points))
	e.log.Info("challenge completed", "partnership", partnershipID, "partner", partnerID, "challenge", challengeID, "points", points)
	return points, nil
}

// MarkRead marks one of partnerID's notifications read.
func (e *Engine) MarkRead(ctx context.Context, partnershipID, partnerID, notificationID string) error {
	return e.updateNotification(ctx, partnershipID, partnerID, notificationID, func(n *domain.Notification) {
		n.Read = true
	})
}

// Dismiss hides a notification. It is kept as a tombstone while its
// trigger holds so the same condition is not re-announced.
func (e *Engine) Dismiss(ctx context.Context, partnershipID, partnerID, notificationID string) error {
	return e.updateNotification(ctx, partnershipID, partnerID, notificationID, func(n *domain.Notification) {
		n.Read = true
		n.Dismissed = true
	})
}

func (e *Engine) updateNotification(ctx context.Context, pid, partnerID, id string, fn func(*domain.Notification)) error {
	if err := validateIDs(pid, partnerID); err != nil {
		return err
	}
	unlock := e.lock(pid)
	defer unlock()

	b, _, err := e.load(ctx, pid)
	if err != nil {
		return err
	}
	found := false
	for i := range b.notifications {
		if b.notifications[i].ID == id && b.notifications[i].PartnerID == partnerID {
			fn(&b.notifications[i])
			found = true
			break
		}
	}
	if !found {
		return domain.ErrNotificationNotFound
	}
	_, err = e.commit(ctx, pid, b, nil, nil)
	return err
}

// Redeem spends partnership points. Returns ErrInsufficientPoints when the
// balance is too low; that is a declined outcome, not a failure.
func (e *Engine) Redeem(ctx context.Context, partnershipID, partnerID string, amount int64, reason string) (domain.LedgerEntry, error) {
	if err := validateIDs(partnershipID, partnerID); err != nil {
		return domain.LedgerEntry{}, err
	}
	unlock := e.lock(partnershipID)
	defer unlock()

	now := e.clock.Now()
	b, _, err := e.load(ctx, partnershipID)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	stage := b.state.Clone()
	entry, err := NewLedger(&stage).Spend(domain.LedgerEntry{PartnerID: partnerID, Amount: amount, Reason: reason, At: now})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientPoints) {
			metrics.RedemptionsDeclined.Inc()
		}
		return domain.LedgerEntry{}, err
	}
	stage.UpdatedAt = now
	b.state = stage

	if _, err := e.commit(ctx, partnershipID, b, nil, nil); err != nil {
		return domain.LedgerEntry{}, err
	}
	metrics.PointsSpent.Add(float64(amount))
	return entry, nil
}

// UpdateSettings validates and stores notification settings.
func (e *Engine) UpdateSettings(ctx context.Context, partnershipID string, s domain.NotificationSettings) error {
	if partnershipID == "" {
		return domain.ErrMissingPartnership
	}
	if err := s.Validate(); err != nil {
		return err
	}
	unlock := e.lock(partnershipID)
	defer unlock()
	return e.setJSON(ctx, Key(partnershipID, keySettings), s)
}

// StoreSnapshot persists snap without recomputing.
func (e *Engine) StoreSnapshot(ctx context.Context, partnershipID string, snap domain.Snapshot) error {
	if partnershipID == "" {
		return domain.ErrMissingPartnership
	}
	snap.PartnershipID = partnershipID
	return e.setJSON(ctx, Key(partnershipID, keySnapshot), snap)
}

// ─── Queries ────────────────────────────────────────────────────────────────

// State returns the persisted gamification state (defaults if absent).
func (e *Engine) State(ctx context.Context, partnershipID string) (domain.GamificationState, error) {
	b, _, err := e.load(ctx, partnershipID)
	if err != nil {
		return domain.GamificationState{}, err
	}
	return b.state, nil
}

// Challenges returns unexpired challenge instances, completed included.
func (e *Engine) Challenges(ctx context.Context, partnershipID string) ([]domain.ChallengeInstance, error) {
	b, _, err := e.load(ctx, partnershipID)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	var out []domain.ChallengeInstance
	for _, c := range b.challenges {
		if !c.IsExpired(now) {
			out = append(out, c)
		}
	}
	sortChallenges(out)
	return out, nil
}

// Notifications returns partnerID's visible notifications, newest first.
func (e *Engine) Notifications(ctx context.Context, partnershipID, partnerID string) ([]domain.Notification, error) {
	b, _, err := e.load(ctx, partnershipID)
	if err != nil {
		return nil, err
	}
	return ForPartner(b.notifications, partnerID), nil
}

// Settings returns the stored notification settings (defaults if absent).
func (e *Engine) Settings(ctx context.Context, partnershipID string) (domain.NotificationSettings, error) {
	b, _, err := e.load(ctx, partnershipID)
	if err != nil {
		return domain.NotificationSettings{}, err
	}
	return b.settings, nil
}

// Snapshot returns the last stored snapshot and whether one exists.
func (e *Engine) Snapshot(ctx context.Context, partnershipID string) (domain.Snapshot, bool, error) {
	var snap domain.Snapshot
	recovered, err := e.getJSON(ctx, Key(partnershipID, keySnapshot), &snap)
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	if recovered != "" {
		return domain.Snapshot{PartnershipID: partnershipID}, false, nil
	}
	return snap, true, nil
}

// Status is a display summary for one partner.
type Status struct {
	PartnershipID     string                       `json:"partnership_id"`
	PartnerID         string                       `json:"partner_id"`
	TotalPoints       int64                        `json:"total_points"`
	PartnerPoints     int64                        `json:"partner_points"`
	Streak            int                          `json:"streak"`
	LongestStreak     int                          `json:"longest_streak"`
	PartnerStreak     int                          `json:"partner_streak"`
	WeeklyGoal        int                          `json:"weekly_goal"`
	WeeklyProgress    int                          `json:"weekly_progress"`
	Achievements      []domain.AchievementInstance `json:"achievements"`
	AchievementsTotal int                          `json:"achievements_total"`
	Challenges        []domain.ChallengeInstance   `json:"challenges"`
	Unread            int                          `json:"unread"`
}

// Status summarizes state for partnerID. Lapsed streaks show as 0.
func (e *Engine) Status(ctx context.Context, partnershipID, partnerID string) (Status, error) {
	b, _, err := e.load(ctx, partnershipID)
	if err != nil {
		return Status{}, err
	}
	now := e.clock.Now()
	today := domain.DayOf(now)
	ps := b.state.Partner(partnerID)

	st := Status{
		PartnershipID:     partnershipID,
		PartnerID:         partnerID,
		TotalPoints:       b.state.TotalPoints,
		PartnerPoints:     ps.Points,
		Streak:            Live(b.state.Streak, today),
		LongestStreak:     b.state.Streak.LongestStreak,
		PartnerStreak:     Live(ps.Streak, today),
		WeeklyGoal:        b.state.WeeklyGoal,
		WeeklyProgress:    b.state.WeeklyProgress,
		Achievements:      b.state.SortedAchievements(),
		AchievementsTotal: len(e.achievements.Definitions()),
	}
	if b.state.WeekISO != isoWeek(now) {
		st.WeeklyProgress = 0
	}
	for _, c := range b.challenges {
		if !c.IsExpired(now) {
			st.Challenges = append(st.Challenges, c)
		}
	}
	sortChallenges(st.Challenges)
	for _, n := range ForPartner(b.notifications, partnerID) {
		if !n.Read {
			st.Unread++
		}
	}
	return st, nil
}

// ─── Persistence ────────────────────────────────────────────────────────────

// bundle is everything persisted for one partnership.
type bundle struct {
	state         domain.GamificationState
	challenges    []domain.ChallengeInstance
	notifications []domain.Notification
	settings      domain.NotificationSettings
}

// load reads all keys, substituting defaults for missing or malformed ones.
// Returns the names of keys that were substituted.
func (e *Engine) load(ctx context.Context, pid string) (bundle, []string, error) {
	if pid == "" {
		return bundle{}, nil, domain.ErrMissingPartnership
	}
	b := bundle{state: domain.NewGamificationState(), settings: e.defaults}
	var recovered []string

	targets := []struct {
		name string
		dst  interface{}
	}{
		{keyState, &b.state},
		{keyChallenges, &b.challenges},
		{keyNotifications, &b.notifications},
		{keySettings, &b.settings},
	}
	for _, t := range targets {
		cause, err := e.getJSON(ctx, Key(pid, t.name), t.dst)
		if err != nil {
			return bundle{}, nil, err
		}
		if cause != "" {
			recovered = append(recovered, t.name)
		}
	}

	// Undo partial decodes of malformed values.
	if b.state.Partners == nil {
		b.state.Partners = make(map[string]domain.PartnerStats)
	}
	b.state.Recount()
	return b, recovered, nil
}

// getJSON decodes key into dst. On a missing or malformed value dst is
// left at (or reset to) its default and the cause is returned.
func (e *Engine) getJSON(ctx context.Context, key string, dst interface{}) (string, error) {
	raw, ok, err := e.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %w", domain.ErrStateUnavailable, key, err)
	}
	if !ok {
		e.log.Debug("state key missing, using default", "key", key)
		return "missing", nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		resetDefault(dst, e.defaults)
		metrics.StateRecovered.WithLabelValues(keyName(key), "malformed").Inc()
		e.log.Warn("malformed state replaced with default", "key", key, "error", err)
		return "malformed", nil
	}
	return "", nil
}

func resetDefault(dst interface{}, settings domain.NotificationSettings) {
	switch v := dst.(type) {
	case *domain.GamificationState:
		*v = domain.NewGamificationState()
	case *[]domain.ChallengeInstance:
		*v = nil
	case *[]domain.Notification:
		*v = nil
	case *domain.NotificationSettings:
		*v = settings
	case *domain.Snapshot:
		*v = domain.Snapshot{}
	}
}

func keyName(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return key[i+1:]
		}
	}
	return key
}

func (e *Engine) setJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := e.store.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("%w: set %s: %w", domain.ErrStateUnavailable, key, err)
	}
	return nil
}

// commit re-reads persisted state, merges the staged bundle into it and
// writes every key in one atomic SetMany. prune, when set, is re-applied to
// notifications after the merge. Settings are never written here.
func (e *Engine) commit(ctx context.Context, pid string, staged bundle, snap *domain.Snapshot, prune func([]domain.Notification) []domain.Notification) (bundle, error) {
	now := e.clock.Now()
	current, _, err := e.load(ctx, pid)
	if err != nil {
		return bundle{}, err
	}

	merged := bundle{
		state:         MergeState(current.state, staged.state),
		notifications: MergeNotifications(current.notifications, staged.notifications),
		settings:      current.settings,
	}
	for _, c := range MergeChallenges(current.challenges, staged.challenges) {
		if !c.IsExpired(now) {
			merged.challenges = append(merged.challenges, c)
		}
	}
	if prune != nil {
		merged.notifications = prune(merged.notifications)
	}

	entries := make(map[string][]byte, 4)
	values := map[string]interface{}{
		keyState:         merged.state,
		keyChallenges:    nonNilChallenges(merged.challenges),
		keyNotifications: nonNilNotifications(merged.notifications),
	}
	if snap != nil {
		values[keySnapshot] = snap
	}
	for name, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return bundle{}, fmt.Errorf("encode %s: %w", name, err)
		}
		entries[Key(pid, name)] = raw
	}

	if err := e.store.SetMany(ctx, entries); err != nil {
		return bundle{}, fmt.Errorf("%w: commit: %w", domain.ErrStateUnavailable, err)
	}
	return merged, nil
}

func nonNilChallenges(cs []domain.ChallengeInstance) []domain.ChallengeInstance {
	if cs == nil {
		return []domain.ChallengeInstance{}
	}
	return cs
}

func nonNilNotifications(ns []domain.Notification) []domain.Notification {
	if ns == nil {
		return []domain.Notification{}
	}
	return ns
}

func validateIDs(partnershipID, partnerID string) error {
	if partnershipID == "" {
		return domain.ErrMissingPartnership
	}
	if partnerID == "" {
		return domain.ErrMissingPartner
	}
	return nil
}

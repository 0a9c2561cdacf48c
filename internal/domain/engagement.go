// Package domain holds engagement types.
// The engagement engine derives points, streaks, achievements, daily
// challenges and notifications from a Snapshot plus wall-clock time.
package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ─── Calendar Day ───────────────────────────────────────────────────────────

// Day is a local calendar day formatted as "2006-01-02".
// Lexical order equals chronological order.
type Day string

const dayLayout = "2006-01-02"

// DayOf returns the calendar day of t in t's location.
func DayOf(t time.Time) Day {
	if t.IsZero() {
		return ""
	}
	return Day(t.Format(dayLayout))
}

// AddDays returns the day n days later (n may be negative).
func (d Day) AddDays(n int) Day {
	t, err := time.Parse(dayLayout, string(d))
	if err != nil {
		return ""
	}
	return DayOf(t.AddDate(0, 0, n))
}

// IsZero reports whether the day is unset.
func (d Day) IsZero() bool { return d == "" }

// Before reports whether d is strictly earlier than o.
func (d Day) Before(o Day) bool { return d < o }

// ─── Streak Types ───────────────────────────────────────────────────────────

// StreakState tracks consecutive calendar days of activity.
// Invariant: LongestStreak >= CurrentStreak.
type StreakState struct {
	CurrentStreak    int `json:"current_streak"`
	LongestStreak    int `json:"longest_streak"`
	LastActivityDate Day `json:"last_activity_date,omitempty"`
}

// ─── Achievement Types ──────────────────────────────────────────────────────

// AchievementCategory groups achievements by theme.
type AchievementCategory string

const (
	CatActions    AchievementCategory = "actions"
	CatPlanning   AchievementCategory = "planning"
	CatResolution AchievementCategory = "resolution"
	CatStreaks    AchievementCategory = "streaks"
	CatHealth     AchievementCategory = "health"
	CatChallenges AchievementCategory = "challenges"
)

// Rarity grades how hard an achievement is to earn.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// RuleKind names an unlock rule variant.
type RuleKind string

const (
	RuleActionsCompleted    RuleKind = "actions_completed"
	RuleActionsCreated      RuleKind = "actions_created"
	RuleIssuesResolved      RuleKind = "issues_resolved"
	RuleStreakDays          RuleKind = "streak_days"
	RuleHealthScore         RuleKind = "health_score"
	RuleChallengesCompleted RuleKind = "challenges_completed"
)

// Rule is a closed set of unlock predicates. Only this package can add
// variants; evaluators type-switch over all of them.
type Rule interface {
	Kind() RuleKind
	Threshold() float64
	sealed()
}

// ActionsCompletedRule unlocks once the partner completed AtLeast actions.
type ActionsCompletedRule struct{ AtLeast int }

// ActionsCreatedRule unlocks once the partner created AtLeast actions.
type ActionsCreatedRule struct{ AtLeast int }

// IssuesResolvedRule unlocks once AtLeast issues have every linked action done.
type IssuesResolvedRule struct{ AtLeast int }

// StreakRule unlocks once the partner's current streak reaches AtLeast days.
type StreakRule struct{ AtLeast int }

// HealthScoreRule unlocks once the supplied health score reaches AtLeast.
// Without a health score input it never fires.
type HealthScoreRule struct{ AtLeast float64 }

// ChallengesCompletedRule unlocks once the partnership completed AtLeast challenges.
type ChallengesCompletedRule struct{ AtLeast int }

func (ActionsCompletedRule) Kind() RuleKind    { return RuleActionsCompleted }
func (ActionsCreatedRule) Kind() RuleKind      { return RuleActionsCreated }
func (IssuesResolvedRule) Kind() RuleKind      { return RuleIssuesResolved }
func (StreakRule) Kind() RuleKind              { return RuleStreakDays }
func (HealthScoreRule) Kind() RuleKind         { return RuleHealthScore }
func (ChallengesCompletedRule) Kind() RuleKind { return RuleChallengesCompleted }

func (r ActionsCompletedRule) Threshold() float64    { return float64(r.AtLeast) }
func (r ActionsCreatedRule) Threshold() float64      { return float64(r.AtLeast) }
func (r IssuesResolvedRule) Threshold() float64      { return float64(r.AtLeast) }
func (r StreakRule) Threshold() float64              { return float64(r.AtLeast) }
func (r HealthScoreRule) Threshold() float64         { return r.AtLeast }
func (r ChallengesCompletedRule) Threshold() float64 { return float64(r.AtLeast) }

func (ActionsCompletedRule) sealed()    {}
func (ActionsCreatedRule) sealed()      {}
func (IssuesResolvedRule) sealed()      {}
func (StreakRule) sealed()              {}
func (HealthScoreRule) sealed()         {}
func (ChallengesCompletedRule) sealed() {}

// AchievementDefinition is an immutable catalog entry.
type AchievementDefinition struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Category    AchievementCategory `json:"category"`
	Rarity      Rarity              `json:"rarity"`
	Points      int64               `json:"points"`
	Rule        Rule                `json:"-"`
}

// AchievementInstance records a partnership-wide unlock.
type AchievementInstance struct {
	DefinitionID string    `json:"definition_id"`
	UnlockedAt   time.Time `json:"unlocked_at"`
	UnlockedBy   string    `json:"unlocked_by"`
}

// ─── Points Ledger ──────────────────────────────────────────────────────────

// LedgerEntry is one points delta. IDs are deterministic for awards
// ("achievement:<id>", "challenge:<id>") so replays collapse.
type LedgerEntry struct {
	ID        string    `json:"id"`
	PartnerID string    `json:"partner_id"`
	Amount    int64     `json:"amount"` // negative for redemptions
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// AwardID builds the ledger id for a points award.
func AwardID(source, ref string) string {
	return source + ":" + ref
}

// ─── Gamification State ─────────────────────────────────────────────────────

// PartnerStats holds per-partner derived counters.
type PartnerStats struct {
	Streak           StreakState `json:"streak"`
	ActionsCompleted int         `json:"actions_completed"`
	ActionsCreated   int         `json:"actions_created"`
	Points           int64       `json:"points"`
}

// GamificationState is the aggregate root persisted as a whole.
type GamificationState struct {
	TotalPoints    int64                   `json:"total_points"`
	Streak         StreakState             `json:"streak"`
	Achievements   []AchievementInstance   `json:"achievements"`
	Ledger         []LedgerEntry           `json:"ledger"`
	WeeklyGoal     int                     `json:"weekly_goal"`
	WeeklyProgress int                     `json:"weekly_progress"`
	WeekISO        string                  `json:"week_iso,omitempty"`
	Partners       map[string]PartnerStats `json:"partners"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// DefaultWeeklyGoal is the number of completed actions targeted per week.
const DefaultWeeklyGoal = 5

// NewGamificationState returns the zeroed default state.
func NewGamificationState() GamificationState {
	return GamificationState{
		WeeklyGoal: DefaultWeeklyGoal,
		Partners:   make(map[string]PartnerStats),
	}
}

// HasAchievement reports whether the definition is already unlocked.
func (g GamificationState) HasAchievement(definitionID string) bool {
	for _, a := range g.Achievements {
		if a.DefinitionID == definitionID {
			return true
		}
	}
	return false
}

// HasLedgerEntry reports whether a ledger entry with the id exists.
func (g GamificationState) HasLedgerEntry(id string) bool {
	for _, e := range g.Ledger {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Partner returns the partner's stats, zeroed if absent.
func (g GamificationState) Partner(partnerID string) PartnerStats {
	return g.Partners[partnerID]
}

// Recount rebuilds TotalPoints and per-partner Points from the ledger.
func (g *GamificationState) Recount() {
	if g.Partners == nil {
		g.Partners = make(map[string]PartnerStats)
	}
	perPartner := make(map[string]int64)
	var total int64
	for _, e := range g.Ledger {
		total += e.Amount
		perPartner[e.PartnerID] += e.Amount
	}
	g.TotalPoints = total
	for id, ps := range g.Partners {
		ps.Points = perPartner[id]
		g.Partners[id] = ps
	}
	for id, pts := range perPartner {
		if _, ok := g.Partners[id]; !ok && id != "" {
			g.Partners[id] = PartnerStats{Points: pts}
		}
	}
}

// Clone returns a deep copy.
func (g GamificationState) Clone() GamificationState {
	c := g
	c.Achievements = append([]AchievementInstance(nil), g.Achievements...)
	c.Ledger = append([]LedgerEntry(nil), g.Ledger...)
	c.Partners = make(map[string]PartnerStats, len(g.Partners))
	for k, v := range g.Partners {
		c.Partners[k] = v
	}
	return c
}

// SortedAchievements returns achievements ordered by unlock time, then id.
func (g GamificationState) SortedAchievements() []AchievementInstance {
	out := append([]AchievementInstance(nil), g.Achievements...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UnlockedAt.Equal(out[j].UnlockedAt) {
			return out[i].UnlockedAt.Before(out[j].UnlockedAt)
		}
		return out[i].DefinitionID < out[j].DefinitionID
	})
	return out
}

// ─── Challenge Types ────────────────────────────────────────────────────────

// ChallengeType drives automatic vs. manual progress tracking.
type ChallengeType string

const (
	ChallengeActionCompletion ChallengeType = "action_completion"
	ChallengeGoalSetting      ChallengeType = "goal_setting"
	ChallengeAppreciation     ChallengeType = "appreciation"
	ChallengeCommunication    ChallengeType = "communication"
	ChallengeQualityTime      ChallengeType = "quality_time"
)

// AutoTracked reports whether progress is derived from the snapshot.
func (t ChallengeType) AutoTracked() bool {
	return t == ChallengeActionCompletion || t == ChallengeGoalSetting
}

// Difficulty grades a challenge template.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// DefaultDailyChallengeCount is the size of each day's batch.
const DefaultDailyChallengeCount = 3

// ChallengeDefinition is a challenge template.
type ChallengeDefinition struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	Difficulty  Difficulty    `json:"difficulty"`
	Points      int64         `json:"points"`
	Target      int           `json:"target"`
	Type        ChallengeType `json:"type"`
}

// ChallengeInstance is a live, dated challenge.
type ChallengeInstance struct {
	ID          string        `json:"id"`
	TemplateID  string        `json:"template_id"`
	Type        ChallengeType `json:"type"`
	Title       string        `json:"title"`
	Points      int64         `json:"points"`
	Target      int           `json:"target"`
	Progress    int           `json:"progress"`
	Day         Day           `json:"day"`
	ExpiresAt   time.Time     `json:"expires_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	CompletedBy string        `json:"completed_by,omitempty"`
}

// IsCompleted reports whether the challenge has been completed.
func (c ChallengeInstance) IsCompleted() bool { return c.CompletedAt != nil }

// IsExpired reports whether the challenge's expiry has passed at now.
func (c ChallengeInstance) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ProgressPct returns completion percentage (0-100).
func (c ChallengeInstance) ProgressPct() float64 {
	if c.Target <= 0 {
		return 100.0
	}
	pct := float64(c.Progress) / float64(c.Target) * 100.0
	if pct > 100.0 {
		pct = 100.0
	}
	return pct
}

// ─── Notification Types ─────────────────────────────────────────────────────

// NotificationType categorizes notifications.
type NotificationType string

const (
	NotifyOverdue          NotificationType = "overdue"
	NotifyDueSoon          NotificationType = "due-soon"
	NotifyPartnerCompleted NotificationType = "partner-completed"
)

// Priority orders notifications; only high requests immediate delivery.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// NotificationKey is the dedup key of a notification.
type NotificationKey struct {
	Type      NotificationType
	ActionID  string
	PartnerID string
}

func (k NotificationKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Type, k.ActionID, k.PartnerID)
}

// Notification is a user-facing alert.
type Notification struct {
	ID          string           `json:"id"`
	Type        NotificationType `json:"type"`
	ActionID    string           `json:"action_id"`
	PartnerID   string           `json:"partner_id"`
	Priority    Priority         `json:"priority"`
	Title       string           `json:"title"`
	Body        string           `json:"body"`
	Read        bool             `json:"read"`
	Dismissed   bool             `json:"dismissed,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	DeliveredAt *time.Time       `json:"delivered_at,omitempty"`
}

// Key returns the dedup key.
func (n Notification) Key() NotificationKey {
	return NotificationKey{Type: n.Type, ActionID: n.ActionID, PartnerID: n.PartnerID}
}

// Visible reports whether the notification should be displayed.
func (n Notification) Visible() bool { return !n.Dismissed }

// QuietHours defers immediate delivery between Start and End ("HH:MM").
type QuietHours struct {
	Enabled bool   `json:"enabled" toml:"enabled"`
	Start   string `json:"start" toml:"start"`
	End     string `json:"end" toml:"end"`
}

// NotificationSettings are the user-configurable suppression rules.
type NotificationSettings struct {
	Enabled          bool       `json:"enabled" toml:"enabled"`
	OverdueReminders bool       `json:"overdue_reminders" toml:"overdue_reminders"`
	DeadlineWarnings bool       `json:"deadline_warnings" toml:"deadline_warnings"`
	PartnerUpdates   bool       `json:"partner_updates" toml:"partner_updates"`
	WarningDays      int        `json:"warning_days" toml:"warning_days"`
	QuietHours       QuietHours `json:"quiet_hours" toml:"quiet_hours"`
	MaxAlertsPerDay  int        `json:"max_alerts_per_day" toml:"max_alerts_per_day"` // 0 = unlimited
}

// DefaultNotificationSettings returns the documented defaults.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		Enabled:          true,
		OverdueReminders: true,
		DeadlineWarnings: true,
		PartnerUpdates:   true,
		WarningDays:      3,
		QuietHours: QuietHours{
			Enabled: true,
			Start:   "22:00",
			End:     "08:00",
		},
		MaxAlertsPerDay: 3,
	}
}

// Allows reports whether notifications of the given type may be generated.
func (s NotificationSettings) Allows(t NotificationType) bool {
	if !s.Enabled {
		return false
	}
	switch t {
	case NotifyOverdue:
		return s.OverdueReminders
	case NotifyDueSoon:
		return s.DeadlineWarnings
	case NotifyPartnerCompleted:
		return s.PartnerUpdates
	}
	return false
}

// Validate checks settings submitted by a user.
func (s NotificationSettings) Validate() error {
	if s.WarningDays < 0 {
		return fmt.Errorf("%w: warning_days must be >= 0", ErrInvalidSettings)
	}
	if s.MaxAlertsPerDay < 0 {
		return fmt.Errorf("%w: max_alerts_per_day must be >= 0", ErrInvalidSettings)
	}
	if s.QuietHours.Enabled {
		for _, v := range []string{s.QuietHours.Start, s.QuietHours.End} {
			if !validHHMM(v) {
				return fmt.Errorf("%w: quiet hours %q is not HH:MM", ErrInvalidSettings, v)
			}
		}
	}
	return nil
}

func validHHMM(s string) bool {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return false
	}
	_, err := time.Parse("15:04", s)
	return err == nil
}

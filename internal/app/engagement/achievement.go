package engagement

import (
	"time"

	"github.com/tandem-app/tandem/internal/domain"
)

// Stats are the derived statistics achievement rules are checked against.
type Stats struct {
	ActionsCompleted    int
	ActionsCreated      int
	IssuesResolved      int
	StreakDays          int
	HealthScore         *float64
	ChallengesCompleted int
}

// EvalInput is one evaluation request for the acting partner.
type EvalInput struct {
	PartnerID   string
	Actions     []domain.Action
	Issues      []domain.Issue
	HealthScore *float64
	Now         time.Time
}

// AchievementEvaluator unlocks catalog achievements.
// Each definition unlocks at most once per partnership.
type AchievementEvaluator struct {
	definitions []domain.AchievementDefinition
}

// NewAchievementEvaluator creates an evaluator over the full catalog.
func NewAchievementEvaluator() *AchievementEvaluator {
	return &AchievementEvaluator{definitions: AllAchievements()}
}

// Definitions returns the catalog (for display).
func (e *AchievementEvaluator) Definitions() []domain.AchievementDefinition {
	return e.definitions
}

// Definition looks up a catalog entry by id.
func (e *AchievementEvaluator) Definition(id string) (domain.AchievementDefinition, bool) {
	for _, d := range e.definitions {
		if d.ID == id {
			return d, true
		}
	}
	return domain.AchievementDefinition{}, false
}

// Evaluate checks every not-yet-unlocked definition and unlocks those whose
// rule is met, awarding points through the ledger. Returns the newly
// unlocked definitions (empty when re-run on unchanged input).
func (e *AchievementEvaluator) Evaluate(state *domain.GamificationState, in EvalInput) []domain.AchievementDefinition {
	ledger := NewLedger(state)
	stats := ComputeStats(state, in)

	var newlyUnlocked []domain.AchievementDefinition
	for _, def := range e.definitions {
		// Skip if already unlocked
		if state.HasAchievement(def.ID) {
			continue
		}
		if !RuleMet(def.Rule, stats) {
			continue
		}

		state.Achievements = append(state.Achievements, domain.AchievementInstance{
			DefinitionID: def.ID,
			UnlockedAt:   in.Now,
			UnlockedBy:   in.PartnerID,
		})
		ledger.Award(domain.LedgerEntry{
			ID:        domain.AwardID("achievement", def.ID),
			PartnerID: in.PartnerID,
			Amount:    def.Points,
			Reason:    "Achievement unlocked: " + def.Name,
			At:        in.Now,
		})
		newlyUnlocked = append(newlyUnlocked, def)
	}
	return newlyUnlocked
}

// ComputeStats derives rule statistics for in.PartnerID.
func ComputeStats(state *domain.GamificationState, in EvalInput) Stats {
	s := Stats{
		StreakDays:          state.Partner(in.PartnerID).Streak.CurrentStreak,
		HealthScore:         in.HealthScore,
		ChallengesCompleted: NewLedger(state).CountBySource("challenge"),
	}
	for _, a := range in.Actions {
		if a.IsCompleted() && a.CompletedBy == in.PartnerID {
			s.ActionsCompleted++
		}
		if a.CreatedBy == in.PartnerID {
			s.ActionsCreated++
		}
	}
	s.IssuesResolved = resolvedIssues(in.Issues, in.Actions)
	return s
}

// resolvedIssues counts issues whose every linked action is completed.
// Links to unknown actions are skipped; an issue with no known actions is
// not resolved.
func resolvedIssues(issues []domain.Issue, actions []domain.Action) int {
	idx := domain.Snapshot{Actions: actions}.ActionIndex()

	n := 0
	for _, iss := range issues {
		known, done := 0, 0
		for _, id := range iss.ActionIDs {
			a, ok := idx[id]
			if !ok {
				continue
			}
			known++
			if a.IsCompleted() {
				done++
			}
		}
		if known > 0 && known == done {
			n++
		}
	}
	return n
}

// RuleMet evaluates a rule against stats. Every rule variant is handled.
func RuleMet(r domain.Rule, s Stats) bool {
	switch rule := r.(type) {
	case domain.ActionsCompletedRule:
		return s.ActionsCompleted >= rule.AtLeast
	case domain.ActionsCreatedRule:
		return s.ActionsCreated >= rule.AtLeast
	case domain.IssuesResolvedRule:
		return s.IssuesResolved >= rule.AtLeast
	case domain.StreakRule:
		return s.StreakDays >= rule.AtLeast
	case domain.HealthScoreRule:
		return s.HealthScore != nil && *s.HealthScore >= rule.AtLeast
	case domain.ChallengesCompletedRule:
		return s.ChallengesCompleted >= rule.AtLeast
	default:
		return false
	}
}

// ─── Achievement Catalog ────────────────────────────────────────────────────

// AllAchievements returns the full achievement catalog.
func AllAchievements() []domain.AchievementDefinition {
	return []domain.AchievementDefinition{
		// ── Actions ────────────────────────────────────────────────────
		{
			ID: "first-step", Name: "First Step", Category: domain.CatActions, Rarity: domain.RarityCommon,
			Description: "Complete your first action", Points: 10,
			Rule: domain.ActionsCompletedRule{AtLeast: 1},
		},
		{
			ID: "action-hero", Name: "Action Hero", Category: domain.CatActions, Rarity: domain.RarityRare,
			Description: "Complete 10 actions", Points: 50,
			Rule: domain.ActionsCompletedRule{AtLeast: 10},
		},
		{
			ID: "remediation-master", Name: "Remediation Master", Category: domain.CatActions, Rarity: domain.RarityEpic,
			Description: "Complete 50 actions", Points: 200,
			Rule: domain.ActionsCompletedRule{AtLeast: 50},
		},

		// ── Planning ───────────────────────────────────────────────────
		{
			ID: "planner", Name: "Planner", Category: domain.CatPlanning, Rarity: domain.RarityCommon,
			Description: "Create 5 actions", Points: 15,
			Rule: domain.ActionsCreatedRule{AtLeast: 5},
		},
		{
			ID: "architect", Name: "Architect", Category: domain.CatPlanning, Rarity: domain.RarityRare,
			Description: "Create 25 actions", Points: 60,
			Rule: domain.ActionsCreatedRule{AtLeast: 25},
		},

		// ── Resolution ─────────────────────────────────────────────────
		{
			ID: "problem-solver", Name: "Problem Solver", Category: domain.CatResolution, Rarity: domain.RarityCommon,
			Description: "Resolve your first issue", Points: 25,
			Rule: domain.IssuesResolvedRule{AtLeast: 1},
		},
		{
			ID: "peacemaker", Name: "Peacemaker", Category: domain.CatResolution, Rarity: domain.RarityEpic,
			Description: "Resolve 5 issues", Points: 100,
			Rule: domain.IssuesResolvedRule{AtLeast: 5},
		},

		// ── Streaks ────────────────────────────────────────────────────
		{
			ID: "streak-3", Name: "Warming Up", Category: domain.CatStreaks, Rarity: domain.RarityCommon,
			Description: "Stay active 3 days in a row", Points: 15,
			Rule: domain.StreakRule{AtLeast: 3},
		},
		{
			ID: "streak-7", Name: "Week Together", Category: domain.CatStreaks, Rarity: domain.RarityRare,
			Description: "Stay active 7 days in a row", Points: 40,
			Rule: domain.StreakRule{AtLeast: 7},
		},
		{
			ID: "streak-30", Name: "Unbreakable", Category: domain.CatStreaks, Rarity: domain.RarityLegendary,
			Description: "Stay active 30 days in a row", Points: 250,
			Rule: domain.StreakRule{AtLeast: 30},
		},

		// ── Health ─────────────────────────────────────────────────────
		{
			ID: "healthy-bond", Name: "Healthy Bond", Category: domain.CatHealth, Rarity: domain.RarityRare,
			Description: "Reach a relationship health score of 80", Points: 75,
			Rule: domain.HealthScoreRule{AtLeast: 80},
		},
		{
			ID: "thriving", Name: "Thriving", Category: domain.CatHealth, Rarity: domain.RarityLegendary,
			Description: "Reach a relationship health score of 95", Points: 150,
			Rule: domain.HealthScoreRule{AtLeast: 95},
		},

		// ── Challenges ─────────────────────────────────────────────────
		{
			ID: "challenge-champion", Name: "Challenge Champion", Category: domain.CatChallenges, Rarity: domain.RarityRare,
			Description: "Complete 10 daily challenges", Points: 50,
			Rule: domain.ChallengesCompletedRule{AtLeast: 10},
		},
	}
}

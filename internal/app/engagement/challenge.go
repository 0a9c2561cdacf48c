package engagement

import (
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tandem-app/tandem/internal/domain"
	"github.com/tandem-app/tandem/internal/infra/clock"
)

// challengeNamespace scopes name-based challenge instance ids.
var challengeNamespace = uuid.MustParse("6f1c2a47-5d3e-4b8a-9e21-7c0d4f8a1b36")

// ChallengeRotator generates, expires and tracks daily challenges.
// One batch per calendar day; batches expire at the next local midnight.
type ChallengeRotator struct {
	templates []domain.ChallengeDefinition
	count     int
}

// NewChallengeRotator creates a rotator over the built-in templates.
// count <= 0 uses DefaultDailyChallengeCount.
func NewChallengeRotator(count int) *ChallengeRotator {
	return NewChallengeRotatorWith(challengePool, count)
}

// NewChallengeRotatorWith creates a rotator over custom templates.
func NewChallengeRotatorWith(templates []domain.ChallengeDefinition, count int) *ChallengeRotator {
	if count <= 0 {
		count = domain.DefaultDailyChallengeCount
	}
	return &ChallengeRotator{templates: templates, count: count}
}

// challengePool is the set of possible challenge templates.
var challengePool = []domain.ChallengeDefinition{
	{ID: "finish-one", Type: domain.ChallengeActionCompletion, Title: "Finish one action", Description: "Complete any action today",
		Category: "actions", Difficulty: domain.DifficultyEasy, Target: 1, Points: 10},
	{ID: "finish-three", Type: domain.ChallengeActionCompletion, Title: "Momentum", Description: "Complete three actions today",
		Category: "actions", Difficulty: domain.DifficultyHard, Target: 3, Points: 30},
	{ID: "plan-one", Type: domain.ChallengeGoalSetting, Title: "Make a plan", Description: "Create a new action today",
		Category: "planning", Difficulty: domain.DifficultyEasy, Target: 1, Points: 10},
	{ID: "plan-two", Type: domain.ChallengeGoalSetting, Title: "Set two goals", Description: "Create two new actions today",
		Category: "planning", Difficulty: domain.DifficultyMedium, Target: 2, Points: 20},
	{ID: "say-thanks", Type: domain.ChallengeAppreciation, Title: "Say thank you", Description: "Thank your partner for something specific",
		Category: "connection", Difficulty: domain.DifficultyEasy, Target: 1, Points: 10},
	{ID: "love-note", Type: domain.ChallengeAppreciation, Title: "Leave a note", Description: "Write your partner a note of appreciation",
		Category: "connection", Difficulty: domain.DifficultyMedium, Target: 1, Points: 15},
	{ID: "check-in", Type: domain.ChallengeCommunication, Title: "Ten-minute check-in", Description: "Talk about how the week is going",
		Category: "communication", Difficulty: domain.DifficultyEasy, Target: 1, Points: 10},
	{ID: "share-highlight", Type: domain.ChallengeCommunication, Title: "Share a highlight", Description: "Tell each other the best part of your day",
		Category: "communication", Difficulty: domain.DifficultyEasy, Target: 1, Points: 10},
	{ID: "device-free", Type: domain.ChallengeQualityTime, Title: "Device-free dinner", Description: "Share a meal with phones away",
		Category: "together", Difficulty: domain.DifficultyMedium, Target: 1, Points: 20},
	{ID: "walk-together", Type: domain.ChallengeQualityTime, Title: "Walk together", Description: "Take a walk side by side",
		Category: "together", Difficulty: domain.DifficultyMedium, Target: 1, Points: 20},
}

// RollDay prunes expired instances and, if today's batch is missing,
// generates it. Unexpired instances from earlier batches are retained.
// Returns all live instances and the newly generated ones.
func (r *ChallengeRotator) RollDay(partnershipID string, existing []domain.ChallengeInstance, now time.Time) ([]domain.ChallengeInstance, []domain.ChallengeInstance) {
	expiry := clock.NextMidnight(now)

	var live []domain.ChallengeInstance
	hasToday := false
	for _, c := range existing {
		if c.IsExpired(now) {
			continue
		}
		live = append(live, c)
		if c.ExpiresAt.Equal(expiry) {
			hasToday = true
		}
	}
	if hasToday {
		return live, nil
	}

	day := domain.DayOf(now)
	selected := pickChallenges(r.templates, r.count, daySeed(partnershipID, day))

	var created []domain.ChallengeInstance
	for _, tmpl := range selected {
		created = append(created, domain.ChallengeInstance{
			ID:         instanceID(partnershipID, day, tmpl.ID),
			TemplateID: tmpl.ID,
			Type:       tmpl.Type,
			Title:      tmpl.Title,
			Points:     tmpl.Points,
			Target:     tmpl.Target,
			Day:        day,
			ExpiresAt:  expiry,
		})
	}
	return append(live, created...), created
}

// RecordProgress recomputes progress of live auto-tracked instances from
// today's activity. Progress never decreases; reaching the target completes
// the instance once and awards its points. Returns all instances and the
// newly completed ones.
func (r *ChallengeRotator) RecordProgress(instances []domain.ChallengeInstance, actions []domain.Action, partnerID string, now time.Time, ledger *Ledger) ([]domain.ChallengeInstance, []domain.ChallengeInstance) {
	dayStart, dayEnd := clock.Midnight(now), clock.NextMidnight(now)

	completedToday, createdToday := 0, 0
	for _, a := range actions {
		if a.CompletedWithin(dayStart, dayEnd) {
			completedToday++
		}
		if inRange(a.CreatedAt, dayStart, dayEnd) {
			createdToday++
		}
	}

	out := make([]domain.ChallengeInstance, len(instances))
	copy(out, instances)

	var completed []domain.ChallengeInstance
	for i := range out {
		c := &out[i]
		if !c.Type.AutoTracked() || c.IsCompleted() || c.IsExpired(now) {
			continue
		}

		count := completedToday
		if c.Type == domain.ChallengeGoalSetting {
			count = createdToday
		}
		if count > c.Target {
			count = c.Target
		}
		if count > c.Progress {
			c.Progress = count
		}

		if c.Progress >= c.Target {
			complete(c, partnerID, now, ledger)
			completed = append(completed, *c)
		}
	}
	return out, completed
}

// Complete marks a manual challenge done and awards its points.
func (r *ChallengeRotator) Complete(instances []domain.ChallengeInstance, challengeID, partnerID string, now time.Time, ledger *Ledger) ([]domain.ChallengeInstance, int64, error) {
	for i := range instances {
		if instances[i].ID != challengeID {
			continue
		}

		c := instances[i]
		switch {
		case c.IsCompleted():
			return instances, 0, domain.ErrChallengeCompleted
		case c.Type.AutoTracked():
			return instances, 0, domain.ErrChallengeAutoTracked
		case c.IsExpired(now):
			return instances, 0, domain.ErrChallengeExpired
		}

		out := make([]domain.ChallengeInstance, len(instances))
		copy(out, instances)
		out[i].Progress = out[i].Target
		complete(&out[i], partnerID, now, ledger)
		return out, c.Points, nil
	}
	return instances, 0, domain.ErrChallengeNotFound
}

func complete(c *domain.ChallengeInstance, partnerID string, now time.Time, ledger *Ledger) {
	at := now
	c.CompletedAt = &at
	c.CompletedBy = partnerID
	ledger.Award(domain.LedgerEntry{
		ID:        domain.AwardID("challenge", c.ID),
		PartnerID: partnerID,
		Amount:    c.Points,
		Reason:    "Challenge completed: " + c.Title,
		At:        now,
	})
}

// ActiveOnly filters to instances that are neither expired nor completed,
// ordered by expiry then id.
func ActiveOnly(instances []domain.ChallengeInstance, now time.Time) []domain.ChallengeInstance {
	var out []domain.ChallengeInstance
	for _, c := range instances {
		if !c.IsExpired(now) && !c.IsCompleted() {
			out = append(out, c)
		}
	}
	sortChallenges(out)
	return out
}

func sortChallenges(cs []domain.ChallengeInstance) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].ExpiresAt.Equal(cs[j].ExpiresAt) {
			return cs[i].ExpiresAt.Before(cs[j].ExpiresAt)
		}
		return cs[i].ID < cs[j].ID
	})
}

func instanceID(partnershipID string, day domain.Day, templateID string) string {
	return uuid.NewSHA1(challengeNamespace, []byte(partnershipID+"|"+string(day)+"|"+templateID)).String()
}

// daySeed derives the sampling seed so both partners' devices pick the
// same batch for the same day.
func daySeed(partnershipID string, day domain.Day) int64 {
	h := fnv.New64a()
	h.Write([]byte(partnershipID))
	h.Write([]byte{'|'})
	h.Write([]byte(day))
	return int64(h.Sum64())
}

// pickChallenges selects n distinct templates, preferring unique types.
func pickChallenges(pool []domain.ChallengeDefinition, n int, seed int64) []domain.ChallengeDefinition {
	r := rand.New(rand.NewSource(seed))

	// Shuffle a copy
	shuffled := make([]domain.ChallengeDefinition, len(pool))
	copy(shuffled, pool)
	r.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	// Pick unique types first
	seenType := make(map[domain.ChallengeType]bool)
	picked := make(map[string]bool)
	var result []domain.ChallengeDefinition
	for _, tmpl := range shuffled {
		if len(result) >= n {
			break
		}
		if !seenType[tmpl.Type] && !picked[tmpl.ID] {
			seenType[tmpl.Type] = true
			picked[tmpl.ID] = true
			result = append(result, tmpl)
		}
	}

	// If not enough unique types, fill with any unpicked template
	for _, tmpl := range shuffled {
		if len(result) >= n {
			break
		}
		if !picked[tmpl.ID] {
			picked[tmpl.ID] = true
			result = append(result, tmpl)
		}
	}

	return result
}

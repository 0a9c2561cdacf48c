package engagement

import (
	"sort"

	"github.com/tandem-app/tandem/internal/domain"
)

// ─── Conflict-Free Merges ───────────────────────────────────────────────────
// Two devices may recompute against the same persisted state. Every merge
// here is commutative, associative and idempotent, so any interleaving of
// commits converges to the same result.

// MergeState merges two gamification states.
func MergeState(a, b domain.GamificationState) domain.GamificationState {
	out := domain.GamificationState{
		Streak:       mergeStreak(a.Streak, b.Streak),
		Achievements: mergeAchievements(a.Achievements, b.Achievements),
		Ledger:       mergeLedger(a.Ledger, b.Ledger),
		WeeklyGoal:   maxInt(a.WeeklyGoal, b.WeeklyGoal),
		Partners:     make(map[string]domain.PartnerStats),
		UpdatedAt:    a.UpdatedAt,
	}
	if b.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = b.UpdatedAt
	}

	switch {
	case a.WeekISO > b.WeekISO:
		out.WeekISO, out.WeeklyProgress = a.WeekISO, a.WeeklyProgress
	case b.WeekISO > a.WeekISO:
		out.WeekISO, out.WeeklyProgress = b.WeekISO, b.WeeklyProgress
	default:
		out.WeekISO, out.WeeklyProgress = a.WeekISO, maxInt(a.WeeklyProgress, b.WeeklyProgress)
	}

	for id, ps := range a.Partners {
		out.Partners[id] = ps
	}
	for id, ps := range b.Partners {
		cur, ok := out.Partners[id]
		if !ok {
			out.Partners[id] = ps
			continue
		}
		out.Partners[id] = domain.PartnerStats{
			Streak:           mergeStreak(cur.Streak, ps.Streak),
			ActionsCompleted: maxInt(cur.ActionsCompleted, ps.ActionsCompleted),
			ActionsCreated:   maxInt(cur.ActionsCreated, ps.ActionsCreated),
		}
	}

	out.Recount()
	return out
}

// mergeStreak keeps the streak with the later activity day; longest is max.
func mergeStreak(a, b domain.StreakState) domain.StreakState {
	var out domain.StreakState
	switch {
	case a.LastActivityDate > b.LastActivityDate:
		out = a
	case b.LastActivityDate > a.LastActivityDate:
		out = b
	default:
		out = a
		out.CurrentStreak = maxInt(a.CurrentStreak, b.CurrentStreak)
	}
	out.LongestStreak = maxInt(maxInt(a.LongestStreak, b.LongestStreak), out.CurrentStreak)
	return out
}

// mergeAchievements unions by definition id; the earliest unlock wins.
func mergeAchievements(a, b []domain.AchievementInstance) []domain.AchievementInstance {
	byID := make(map[string]domain.AchievementInstance, len(a)+len(b))
	for _, list := range [][]domain.AchievementInstance{a, b} {
		for _, inst := range list {
			cur, ok := byID[inst.DefinitionID]
			if !ok || earlierUnlock(inst, cur) {
				byID[inst.DefinitionID] = inst
			}
		}
	}

	out := make([]domain.AchievementInstance, 0, len(byID))
	for _, inst := range byID {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UnlockedAt.Equal(out[j].UnlockedAt) {
			return out[i].UnlockedAt.Before(out[j].UnlockedAt)
		}
		return out[i].DefinitionID < out[j].DefinitionID
	})
	return out
}

func earlierUnlock(x, y domain.AchievementInstance) bool {
	if !x.UnlockedAt.Equal(y.UnlockedAt) {
		return x.UnlockedAt.Before(y.UnlockedAt)
	}
	return x.UnlockedBy < y.UnlockedBy
}

// mergeLedger unions entries by award id.
func mergeLedger(a, b []domain.LedgerEntry) []domain.LedgerEntry {
	byID := make(map[string]domain.LedgerEntry, len(a)+len(b))
	for _, list := range [][]domain.LedgerEntry{a, b} {
		for _, e := range list {
			cur, ok := byID[e.ID]
			if !ok || e.At.Before(cur.At) || (e.At.Equal(cur.At) && e.PartnerID < cur.PartnerID) {
				byID[e.ID] = e
			}
		}
	}

	out := make([]domain.LedgerEntry, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MergeChallenges unions instances by id. Progress is the max and the
// earliest completion wins.
func MergeChallenges(a, b []domain.ChallengeInstance) []domain.ChallengeInstance {
	byID := make(map[string]domain.ChallengeInstance, len(a)+len(b))
	for _, list := range [][]domain.ChallengeInstance{a, b} {
		for _, c := range list {
			cur, ok := byID[c.ID]
			if !ok {
				byID[c.ID] = c
				continue
			}
			cur.Progress = maxInt(cur.Progress, c.Progress)
			if c.CompletedAt != nil {
				if cur.CompletedAt == nil || c.CompletedAt.Before(*cur.CompletedAt) ||
					(c.CompletedAt.Equal(*cur.CompletedAt) && c.CompletedBy < cur.CompletedBy) {
					cur.CompletedAt, cur.CompletedBy = c.CompletedAt, c.CompletedBy
				}
			}
			byID[c.ID] = cur
		}
	}

	out := make([]domain.ChallengeInstance, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sortChallenges(out)
	return out
}

// MergeNotifications unions notifications by dedup key. The earliest
// creation wins; read, dismissed and delivered flags are sticky.
func MergeNotifications(a, b []domain.Notification) []domain.Notification {
	byKey := make(map[domain.NotificationKey]domain.Notification, len(a)+len(b))
	for _, list := range [][]domain.Notification{a, b} {
		for _, n := range list {
			k := n.Key()
			cur, ok := byKey[k]
			if !ok {
				byKey[k] = n
				continue
			}
			base, other := cur, n
			if n.CreatedAt.Before(cur.CreatedAt) || (n.CreatedAt.Equal(cur.CreatedAt) && n.ID < cur.ID) {
				base, other = n, cur
			}
			base.Read = base.Read || other.Read
			base.Dismissed = base.Dismissed || other.Dismissed
			if other.DeliveredAt != nil && (base.DeliveredAt == nil || other.DeliveredAt.Before(*base.DeliveredAt)) {
				base.DeliveredAt = other.DeliveredAt
			}
			byKey[k] = base
		}
	}

	out := make([]domain.Notification, 0, len(byKey))
	for _, n := range byKey {
		out = append(out, n)
	}
	sortNotifications(out)
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

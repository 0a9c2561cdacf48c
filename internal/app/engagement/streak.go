// Package engagement implements the Tandem engagement engine.
// Streaks, the points ledger, achievements, daily challenges and
// notifications, all derived from a Snapshot plus the clock.
// Design rule: every derivation is idempotent and merge-safe.
package engagement

import (
	"fmt"
	"sort"
	"time"

	"github.com/tandem-app/tandem/internal/domain"
)

// Advance records an activity on today.
// Same day: no-op. Previous day: extend. Any gap or first activity: reset to 1.
// A today earlier than the last activity (clock skew) is also a no-op.
func Advance(s domain.StreakState, today domain.Day) domain.StreakState {
	if today.IsZero() {
		return s
	}
	// Same day, already counted
	if s.LastActivityDate == today {
		return s
	}
	if !s.LastActivityDate.IsZero() && today.Before(s.LastActivityDate) {
		return s
	}

	if !s.LastActivityDate.IsZero() && s.LastActivityDate.AddDays(1) == today {
		s.CurrentStreak++
	} else {
		s.CurrentStreak = 1
	}

	s.LastActivityDate = today
	if s.CurrentStreak > s.LongestStreak {
		s.LongestStreak = s.CurrentStreak
	}
	return s
}

// Live returns the streak as it should be displayed on today: a streak
// whose last activity is older than yesterday has lapsed and shows 0.
// The stored state is left alone; the next activity resets it to 1.
func Live(s domain.StreakState, today domain.Day) int {
	if s.LastActivityDate.IsZero() {
		return 0
	}
	if s.LastActivityDate == today || s.LastActivityDate.AddDays(1) == today {
		return s.CurrentStreak
	}
	return 0
}

// ActivityDays returns the distinct days, in loc and ascending, on which
// the partner created or completed an action. An empty partnerID matches
// any partner.
func ActivityDays(actions []domain.Action, partnerID string, loc *time.Location) []domain.Day {
	seen := make(map[domain.Day]bool)
	for _, a := range actions {
		if (partnerID == "" || a.CreatedBy == partnerID) && !a.CreatedAt.IsZero() {
			seen[domain.DayOf(a.CreatedAt.In(loc))] = true
		}
		if (partnerID == "" || a.CompletedBy == partnerID) && a.IsCompleted() && a.CompletedAt != nil {
			seen[domain.DayOf(a.CompletedAt.In(loc))] = true
		}
	}
	days := make([]domain.Day, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// CatchUp advances s through every activity day after its last recorded
// day, up to and including today. Days that were stored but never
// recomputed are credited in order, so an offline day keeps the streak.
func CatchUp(s domain.StreakState, days []domain.Day, today domain.Day) domain.StreakState {
	for _, d := range days {
		if today.Before(d) {
			break
		}
		s = Advance(s, d)
	}
	return s
}

func inRange(t, from, to time.Time) bool {
	return !t.IsZero() && !t.Before(from) && t.Before(to)
}

// isoWeek returns "YYYY-Www" for the given time.
func isoWeek(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

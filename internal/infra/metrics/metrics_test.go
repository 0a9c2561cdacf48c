package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestPointsMetrics(t *testing.T) {
	PointsAwarded.WithLabelValues("achievement").Add(50)
	PointsSpent.Add(10)
	RedemptionsDeclined.Inc()

	names := gatheredNames(t)
	for _, name := range []string{
		"tandem_points_awarded_total",
		"tandem_points_spent_total",
		"tandem_redemptions_declined_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestEngagementCounters(t *testing.T) {
	AchievementsUnlocked.WithLabelValues("actions").Inc()
	ChallengesGenerated.Add(3)
	ChallengesCompleted.WithLabelValues("goal_setting").Inc()
	NotificationsGenerated.WithLabelValues("overdue", "high").Inc()
	NotificationsDelivered.WithLabelValues("ok").Inc()

	names := gatheredNames(t)
	for _, name := range []string{
		"tandem_achievements_unlocked_total",
		"tandem_challenges_generated_total",
		"tandem_challenges_completed_total",
		"tandem_notifications_generated_total",
		"tandem_notifications_delivered_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestRecomputeMetrics(t *testing.T) {
	RecomputeDuration.Observe(0.02)
	RecomputeErrors.WithLabelValues("store").Inc()
	StateRecovered.WithLabelValues("notifications", "malformed").Inc()

	names := gatheredNames(t)
	for _, name := range []string{
		"tandem_recompute_duration_seconds",
		"tandem_recompute_errors_total",
		"tandem_state_recovered_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

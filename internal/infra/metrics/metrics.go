// Package metrics provides Prometheus metrics for Tandem.
// Counters for points, unlocks, challenges and notifications, plus
// recompute latency, all registered on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Points ─────────────────────────────────────────────────────────────────

// PointsAwarded tracks points written to the ledger by source.
var PointsAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tandem",
	Name:      "points_awarded_total",
	Help:      "Total points awarded.",
}, []string{"source"})

// PointsSpent tracks points redeemed for rewards.
var PointsSpent = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tandem",
	Name:      "points_spent_total",
	Help:      "Total points spent on rewards.",
})

// RedemptionsDeclined tracks redemptions refused for insufficient points.
var RedemptionsDeclined = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tandem",
	Name:      "redemptions_declined_total",
	Help:      "Redemptions declined for insufficient points.",
})

// ─── Achievements & Challenges ──────────────────────────────────────────────

// AchievementsUnlocked tracks unlocks by category.
var AchievementsUnlocked = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tandem",
	Name:      "achievements_unlocked_total",
	Help:      "Total achievements unlocked.",
}, []string{"category"})

// ChallengesGenerated tracks daily challenge instances created.
var ChallengesGenerated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tandem",
	Name:      "challenges_generated_total",
	Help:      "Total daily challenge instances generated.",
})

// ChallengesCompleted tracks completed challenges by type.
var ChallengesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tandem",
	Name:      "challenges_completed_total",
	Help:      "Total challenges completed.",
}, []string{"type"})

// ─── Notifications ──────────────────────────────────────────────────────────

// NotificationsGenerated tracks notifications created by type and priority.
var NotificationsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tandem",
	Name:      "notifications_generated_total",
	Help:      "Total notifications generated.",
}, []string{"type", "priority"})

// NotificationsDelivered tracks sink deliveries by outcome.
var NotificationsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tandem",
	Name:      "notifications_delivered_total",
	Help:      "Immediate deliveries attempted, by outcome.",
}, []string{"outcome"})

// ─── Recompute ──────────────────────────────────────────────────────────────

// RecomputeDuration tracks recompute-and-commit latency.
var RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "tandem",
	Name:      "recompute_duration_seconds",
	Help:      "Recompute-and-commit duration in seconds.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
})

// RecomputeErrors tracks failed recomputes by reason.
var RecomputeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tandem",
	Name:      "recompute_errors_total",
	Help:      "Total failed recomputes.",
}, []string{"reason"})

// StateRecovered tracks missing/malformed keys replaced with defaults.
var StateRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tandem",
	Name:      "state_recovered_total",
	Help:      "Persisted keys replaced with defaults.",
}, []string{"key", "cause"})

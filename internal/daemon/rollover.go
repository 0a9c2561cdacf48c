package daemon

import (
	"context"
	"time"

	"github.com/tandem-app/tandem/internal/app/engagement"
	"github.com/tandem-app/tandem/internal/infra/clock"
	"github.com/tandem-app/tandem/internal/infra/logger"
)

// rolloverSlack pushes the tick just past midnight so Now() is on the new day.
const rolloverSlack = time.Second

// Rollover recomputes every configured partner from the stored snapshot
// shortly after each local midnight: expired challenges are replaced and
// lapsed streaks stop counting.
type Rollover struct {
	engine        *engagement.Engine
	clock         clock.Clock
	log           *logger.Logger
	partnershipID string
	partners      []string

	after func(time.Duration) <-chan time.Time
}

// NewRollover creates a scheduler for one partnership.
func NewRollover(eng *engagement.Engine, partnershipID string, partners []string, log *logger.Logger) *Rollover {
	if log == nil {
		log = logger.NewNop()
	}
	return &Rollover{
		engine:        eng,
		clock:         eng.Clock(),
		log:           log,
		partnershipID: partnershipID,
		partners:      partners,
		after:         time.After,
	}
}

// Run blocks until ctx is cancelled, ticking once per day.
func (r *Rollover) Run(ctx context.Context) error {
	for {
		wait := r.untilNext()
		r.log.Debug("rollover scheduled", "in", wait.String())

		select {
		case <-ctx.Done():
			return nil
		case <-r.after(wait):
			r.Tick(ctx)
		}
	}
}

// Tick recomputes each partner once and returns how many succeeded.
func (r *Rollover) Tick(ctx context.Context) int {
	ok := 0
	for _, p := range r.partners {
		res, err := r.engine.RecomputeStored(ctx, r.partnershipID, p)
		if err != nil {
			r.log.Error("rollover recompute failed", "partnership", r.partnershipID, "partner", p, "error", err)
			continue
		}
		ok++
		r.log.Info("rollover complete",
			"partnership", r.partnershipID,
			"partner", p,
			"new_challenges", len(res.NewChallenges),
			"new_notifications", len(res.NewNotifications),
		)
	}
	return ok
}

func (r *Rollover) untilNext() time.Duration {
	now := r.clock.Now()
	return clock.NextMidnight(now).Sub(now) + rolloverSlack
}

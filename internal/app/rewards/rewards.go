// Package rewards implements the couple's reward store.
// Rewards are bought with partnership points; the engagement ledger is
// the only balance, so a redemption is a negative ledger entry.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tandem-app/tandem/internal/domain"
)

// Reward is a catalog item.
type Reward struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Cost        int64  `json:"cost"`
}

// Redemption is the outcome of a purchase attempt. Declined is set when
// the balance was too low; that is a normal outcome, not an error.
type Redemption struct {
	ID        string    `json:"id,omitempty"`
	RewardID  string    `json:"reward_id"`
	PartnerID string    `json:"partner_id"`
	Cost      int64     `json:"cost"`
	Declined  bool      `json:"declined"`
	Balance   int64     `json:"balance"`
	At        time.Time `json:"at"`
}

// Spender is the slice of the engagement engine rewards need.
type Spender interface {
	Redeem(ctx context.Context, partnershipID, partnerID string, amount int64, reason string) (domain.LedgerEntry, error)
	State(ctx context.Context, partnershipID string) (domain.GamificationState, error)
}

// Service manages the reward catalog and redemptions.
type Service struct {
	spender Spender
	catalog []Reward
}

// NewService creates a reward service with the default catalog.
func NewService(spender Spender) *Service {
	return &Service{spender: spender, catalog: DefaultCatalog()}
}

// DefaultCatalog returns the built-in rewards.
func DefaultCatalog() []Reward {
	return []Reward{
		{ID: "coffee-date", Title: "Coffee date", Description: "Your partner buys the coffee", Cost: 30},
		{ID: "movie-pick", Title: "Movie pick", Description: "Choose tonight's movie, no veto", Cost: 40},
		{ID: "breakfast-in-bed", Title: "Breakfast in bed", Description: "Served by your partner", Cost: 75},
		{ID: "chore-pass", Title: "Chore pass", Description: "Skip one chore of your choice", Cost: 100},
		{ID: "date-night", Title: "Date night", Description: "Your partner plans the whole evening", Cost: 200},
		{ID: "weekend-away", Title: "Weekend away", Description: "A planned getaway for two", Cost: 1000},
	}
}

// Catalog returns rewards ordered by cost.
func (s *Service) Catalog() []Reward {
	out := append([]Reward(nil), s.catalog...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Cost < out[j].Cost })
	return out
}

// Find looks up a reward by id.
func (s *Service) Find(id string) (Reward, error) {
	for _, r := range s.catalog {
		if r.ID == id {
			return r, nil
		}
	}
	return Reward{}, fmt.Errorf("%w: %s", domain.ErrRewardNotFound, id)
}

// Redeem buys a reward for partnerID.
func (s *Service) Redeem(ctx context.Context, partnershipID, partnerID, rewardID string) (Redemption, error) {
	reward, err := s.Find(rewardID)
	if err != nil {
		return Redemption{}, err
	}

	red := Redemption{RewardID: reward.ID, PartnerID: partnerID, Cost: reward.Cost}
	entry, err := s.spender.Redeem(ctx, partnershipID, partnerID, reward.Cost, "Redeemed: "+reward.Title)
	switch {
	case errors.Is(err, domain.ErrInsufficientPoints):
		st, stErr := s.spender.State(ctx, partnershipID)
		if stErr != nil {
			return Redemption{}, stErr
		}
		red.Declined = true
		red.Balance = st.TotalPoints
		return red, nil
	case err != nil:
		return Redemption{}, fmt.Errorf("redeem %s: %w", reward.ID, err)
	}

	st, err := s.spender.State(ctx, partnershipID)
	if err != nil {
		return Redemption{}, err
	}
	red.ID = entry.ID
	red.At = entry.At
	red.Balance = st.TotalPoints
	return red, nil
}

// History returns the newest ledger entries, up to limit (0 = all).
func (s *Service) History(ctx context.Context, partnershipID string, limit int) ([]domain.LedgerEntry, error) {
	st, err := s.spender.State(ctx, partnershipID)
	if err != nil {
		return nil, err
	}
	out := append([]domain.LedgerEntry(nil), st.Ledger...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

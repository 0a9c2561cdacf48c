package engagement

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tandem-app/tandem/internal/domain"
)

// Ledger is the points ledger over a GamificationState.
// Totals are always rebuilt from entries, never incremented in place,
// so two devices merging their ledgers converge.
type Ledger struct {
	state *domain.GamificationState
}

// NewLedger wraps state. The caller owns state and persists it.
func NewLedger(state *domain.GamificationState) *Ledger {
	return &Ledger{state: state}
}

// Award appends a points entry under a deterministic award id.
// Returns false if the award was already applied.
func (l *Ledger) Award(entry domain.LedgerEntry) bool {
	if entry.ID == "" || entry.Amount <= 0 {
		return false
	}
	if l.state.HasLedgerEntry(entry.ID) {
		return false
	}
	l.state.Ledger = append(l.state.Ledger, entry)
	l.state.Recount()
	return true
}

// Spend records a redemption. Returns ErrInsufficientPoints when the
// partnership balance is below amount; the state is left unchanged.
func (l *Ledger) Spend(entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	if entry.Amount <= 0 {
		return domain.LedgerEntry{}, domain.ErrInvalidAmount
	}
	if balance := l.Balance(); balance < entry.Amount {
		return domain.LedgerEntry{}, fmt.Errorf("%w: balance %d, cost %d",
			domain.ErrInsufficientPoints, balance, entry.Amount)
	}
	if entry.ID == "" {
		entry.ID = domain.AwardID("redeem", uuid.NewString())
	}
	entry.Amount = -entry.Amount
	l.state.Ledger = append(l.state.Ledger, entry)
	l.state.Recount()
	return entry, nil
}

// Balance returns the partnership total.
func (l *Ledger) Balance() int64 {
	return l.state.TotalPoints
}

// CountBySource counts entries whose id starts with "<source>:".
func (l *Ledger) CountBySource(source string) int {
	prefix := source + ":"
	n := 0
	for _, e := range l.state.Ledger {
		if strings.HasPrefix(e.ID, prefix) {
			n++
		}
	}
	return n
}

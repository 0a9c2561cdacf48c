package domain

// Actions and Issues are owned by the task-management subsystem; the
// engagement engine only reads them from a Snapshot.

import "time"

// ActionStatus tracks remediation-task lifecycle.
type ActionStatus string

const (
	ActionPending    ActionStatus = "pending"
	ActionInProgress ActionStatus = "in-progress"
	ActionCompleted  ActionStatus = "completed"
)

// AssignBoth assigns an action to both partners.
const AssignBoth = "both"

// Action is a remediation task.
type Action struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	IssueID     string       `json:"issue_id,omitempty"`
	AssignedTo  string       `json:"assigned_to"` // partner id or "both"
	Status      ActionStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	CreatedBy   string       `json:"created_by,omitempty"`
	DueAt       *time.Time   `json:"due_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	CompletedBy string       `json:"completed_by,omitempty"`
}

// IsCompleted reports whether the action is done.
func (a Action) IsCompleted() bool {
	return a.Status == ActionCompleted
}

// AssignedToPartner reports whether the action targets the partner,
// directly or through a "both" assignment.
func (a Action) AssignedToPartner(partnerID string) bool {
	return a.AssignedTo == AssignBoth || a.AssignedTo == partnerID
}

// CompletedWithin reports whether the action was completed in [from, to).
func (a Action) CompletedWithin(from, to time.Time) bool {
	if !a.IsCompleted() || a.CompletedAt == nil {
		return false
	}
	return !a.CompletedAt.Before(from) && a.CompletedAt.Before(to)
}

// Issue is a named relationship concern grouping related actions.
type Issue struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Category  string   `json:"category"`
	ActionIDs []string `json:"action_ids"`
}

// Snapshot is the current view of the partnership's actions and issues.
// The engine recomputes from scratch on every snapshot.
type Snapshot struct {
	PartnershipID string    `json:"partnership_id"`
	Actions       []Action  `json:"actions"`
	Issues        []Issue   `json:"issues"`
	HealthScore   *float64  `json:"health_score,omitempty"` // externally supplied, 0-100
	TakenAt       time.Time `json:"taken_at,omitempty"`
}

// ActionIndex maps action ids to actions.
func (s Snapshot) ActionIndex() map[string]Action {
	idx := make(map[string]Action, len(s.Actions))
	for _, a := range s.Actions {
		idx[a.ID] = a
	}
	return idx
}

// ChangeEvent signals that a partnership's snapshot changed.
// Snapshot is optional; when nil the last stored snapshot is used.
type ChangeEvent struct {
	PartnershipID string    `json:"partnership_id"`
	PartnerID     string    `json:"partner_id"`
	Snapshot      *Snapshot `json:"snapshot,omitempty"`
	At            time.Time `json:"at"`
}

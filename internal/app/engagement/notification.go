package engagement

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tandem-app/tandem/internal/domain"
	"github.com/tandem-app/tandem/internal/infra/clock"
)

// notificationNamespace scopes name-based notification ids.
var notificationNamespace = uuid.MustParse("0b9e5c1d-83f4-4a6e-b2d7-49e1c6a05f82")

const (
	// partnerCompletedWindow is how far back partner completions are announced.
	partnerCompletedWindow = 24 * time.Hour
	// readRetention is how long read notifications with a cleared trigger are kept.
	readRetention = 30 * 24 * time.Hour
)

// NotificationGenerator scans actions for overdue, due-soon and
// partner-completed conditions and emits deduplicated notifications.
type NotificationGenerator struct{}

// NewNotificationGenerator creates a notification generator.
func NewNotificationGenerator() *NotificationGenerator {
	return &NotificationGenerator{}
}

// candidate is a condition that currently holds for an action.
type candidate struct {
	key      domain.NotificationKey
	priority domain.Priority
	action   domain.Action
	days     int
}

// Generate returns notifications for conditions that hold at now and have
// no existing notification with the same key. Dismissed notifications count
// as existing. Disabled categories produce nothing.
func (g *NotificationGenerator) Generate(partnershipID, partnerID string, actions []domain.Action, settings domain.NotificationSettings, now time.Time, existing []domain.Notification) []domain.Notification {
	seen := make(map[domain.NotificationKey]bool, len(existing))
	for _, n := range existing {
		seen[n.Key()] = true
	}

	var out []domain.Notification
	for _, c := range conditions(actions, partnerID, now, settings.WarningDays) {
		if !settings.Allows(c.key.Type) || seen[c.key] {
			continue
		}
		seen[c.key] = true

		title, body := render(c)
		out = append(out, domain.Notification{
			ID:        notificationID(partnershipID, c.key),
			Type:      c.key.Type,
			ActionID:  c.key.ActionID,
			PartnerID: partnerID,
			Priority:  c.priority,
			Title:     title,
			Body:      body,
			CreatedAt: now,
		})
	}
	return out
}

// Prune drops dismissed tombstones whose trigger has cleared, and read
// notifications older than the retention window whose trigger has cleared.
// Notifications belonging to other partners are kept as-is.
func (g *NotificationGenerator) Prune(partnerID string, existing []domain.Notification, actions []domain.Action, settings domain.NotificationSettings, now time.Time) []domain.Notification {
	active := g.ActiveKeys(partnerID, actions, settings, now)

	out := make([]domain.Notification, 0, len(existing))
	for _, n := range existing {
		if n.PartnerID == partnerID && !active[n.Key()] {
			if n.Dismissed {
				continue
			}
			if n.Read && now.Sub(n.CreatedAt) > readRetention {
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

// ActiveKeys returns the keys of every condition that holds for partnerID
// at now, whether or not its category is enabled.
func (g *NotificationGenerator) ActiveKeys(partnerID string, actions []domain.Action, settings domain.NotificationSettings, now time.Time) map[domain.NotificationKey]bool {
	active := make(map[domain.NotificationKey]bool)
	for _, c := range conditions(actions, partnerID, now, settings.WarningDays) {
		active[c.key] = true
	}
	return active
}

// conditions classifies actions for partnerID, in action order.
func conditions(actions []domain.Action, partnerID string, now time.Time, warningDays int) []candidate {
	var out []candidate
	for _, a := range actions {
		if a.AssignedToPartner(partnerID) && !a.IsCompleted() && a.DueAt != nil {
			due := *a.DueAt
			if due.Before(now) {
				out = append(out, candidate{
					key:      domain.NotificationKey{Type: domain.NotifyOverdue, ActionID: a.ID, PartnerID: partnerID},
					priority: domain.PriorityHigh,
					action:   a,
				})
			} else if d := daysUntil(due, now); d > 0 && d <= warningDays {
				p := domain.PriorityMedium
				if d == 1 {
					p = domain.PriorityHigh
				}
				out = append(out, candidate{
					key:      domain.NotificationKey{Type: domain.NotifyDueSoon, ActionID: a.ID, PartnerID: partnerID},
					priority: p,
					action:   a,
					days:     d,
				})
			}
		}

		if a.IsCompleted() && a.CompletedAt != nil && a.CompletedBy != "" && a.CompletedBy != partnerID {
			age := now.Sub(*a.CompletedAt)
			if age >= 0 && age <= partnerCompletedWindow {
				out = append(out, candidate{
					key:      domain.NotificationKey{Type: domain.NotifyPartnerCompleted, ActionID: a.ID, PartnerID: partnerID},
					priority: domain.PriorityLow,
					action:   a,
				})
			}
		}
	}
	return out
}

// daysUntil rounds the remaining time up to whole days.
func daysUntil(due, now time.Time) int {
	return int(math.Ceil(due.Sub(now).Hours() / 24))
}

func render(c candidate) (string, string) {
	a := c.action
	switch c.key.Type {
	case domain.NotifyOverdue:
		return "Action overdue", fmt.Sprintf("%q was due %s.", a.Title, a.DueAt.Format("Jan 2"))
	case domain.NotifyDueSoon:
		if c.days == 1 {
			return "Due tomorrow", fmt.Sprintf("%q is due within a day.", a.Title)
		}
		return "Due soon", fmt.Sprintf("%q is due in %d days.", a.Title, c.days)
	default:
		return "Your partner finished an action", fmt.Sprintf("%s completed %q.", a.CompletedBy, a.Title)
	}
}

func notificationID(partnershipID string, key domain.NotificationKey) string {
	return uuid.NewSHA1(notificationNamespace, []byte(partnershipID+"|"+key.String())).String()
}

// ─── Delivery Policy ────────────────────────────────────────────────────────

// DueForDelivery returns the ids of the viewer's high-priority notifications
// that should go to the delivery sink now. Quiet hours defer delivery and
// the daily cap limits it; deferred notifications stay pending. Only
// notifications whose condition is still in active and whose category is
// still enabled are pushed.
func DueForDelivery(partnerID string, notifs []domain.Notification, active map[domain.NotificationKey]bool, settings domain.NotificationSettings, now time.Time) []string {
	if !settings.Enabled {
		return nil
	}
	if settings.QuietHours.Enabled && isQuietHour(settings.QuietHours, now) {
		return nil
	}

	budget := -1
	if settings.MaxAlertsPerDay > 0 {
		dayStart, dayEnd := clock.Midnight(now), clock.NextMidnight(now)
		sent := 0
		for _, n := range notifs {
			if n.PartnerID == partnerID && n.DeliveredAt != nil && inRange(*n.DeliveredAt, dayStart, dayEnd) {
				sent++
			}
		}
		budget = settings.MaxAlertsPerDay - sent
		if budget <= 0 {
			return nil
		}
	}

	var pending []domain.Notification
	for _, n := range notifs {
		if n.PartnerID != partnerID || n.Priority != domain.PriorityHigh {
			continue
		}
		if n.DeliveredAt != nil || n.Read || n.Dismissed {
			continue
		}
		if !active[n.Key()] || !settings.Allows(n.Type) {
			continue
		}
		pending = append(pending, n)
	}
	sortNotifications(pending)

	var ids []string
	for _, n := range pending {
		if budget >= 0 && len(ids) >= budget {
			break
		}
		ids = append(ids, n.ID)
	}
	return ids
}

// isQuietHour returns true if t falls within the quiet window.
func isQuietHour(q domain.QuietHours, t time.Time) bool {
	startHour, startMin := parseHHMM(q.Start)
	endHour, endMin := parseHHMM(q.End)

	timeMinutes := t.Hour()*60 + t.Minute()
	startMinutes := startHour*60 + startMin
	endMinutes := endHour*60 + endMin

	if startMinutes > endMinutes {
		// Wraps midnight: e.g., 22:00 – 08:00
		return timeMinutes >= startMinutes || timeMinutes < endMinutes
	}
	// Same day range
	return timeMinutes >= startMinutes && timeMinutes < endMinutes
}

// parseHHMM parses "HH:MM" into hour and minute.
func parseHHMM(s string) (int, int) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	return h, m
}

// ForPartner returns the partner's visible notifications, newest first.
func ForPartner(notifs []domain.Notification, partnerID string) []domain.Notification {
	var out []domain.Notification
	for _, n := range notifs {
		if n.PartnerID == partnerID && n.Visible() {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortNotifications(ns []domain.Notification) {
	sort.Slice(ns, func(i, j int) bool {
		if !ns[i].CreatedAt.Equal(ns[j].CreatedAt) {
			return ns[i].CreatedAt.Before(ns[j].CreatedAt)
		}
		return ns[i].ID < ns[j].ID
	})
}

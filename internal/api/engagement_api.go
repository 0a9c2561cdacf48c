package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tandem-app/tandem/internal/app/engagement"
	"github.com/tandem-app/tandem/internal/domain"
)

// ─── Engagement API (/api/partnerships/{pid}/partners/{partner}/*) ──────────

func ids(r *http.Request) (string, string) {
	return chi.URLParam(r, "pid"), chi.URLParam(r, "partner")
}

// writeDomainError maps engine errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrChallengeNotFound),
		errors.Is(err, domain.ErrNotificationNotFound),
		errors.Is(err, domain.ErrRewardNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrChallengeCompleted),
		errors.Is(err, domain.ErrChallengeExpired),
		errors.Is(err, domain.ErrChallengeAutoTracked):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidSettings),
		errors.Is(err, domain.ErrMissingPartner),
		errors.Is(err, domain.ErrMissingPartnership),
		errors.Is(err, domain.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrStateUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- POST /snapshot (store snapshot and recompute) ---

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	pid, partner := ids(r)

	var snap domain.Snapshot
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.engine.Recompute(r.Context(), pid, partner, snap)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.publishChange(r, pid, partner)
	writeJSON(w, http.StatusOK, res)
}

// --- PUT /snapshot (store only; the next recompute or rollover picks it up) ---

func (s *Server) handleStoreSnapshot(w http.ResponseWriter, r *http.Request) {
	pid, partner := ids(r)

	var snap domain.Snapshot
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.StoreSnapshot(r.Context(), pid, snap); err != nil {
		writeDomainError(w, err)
		return
	}
	s.publishChange(r, pid, partner)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stored"})
}

func (s *Server) publishChange(r *http.Request, pid, partner string) {
	if s.bus == nil {
		return
	}
	ev := domain.ChangeEvent{PartnershipID: pid, PartnerID: partner, At: time.Now()}
	if err := s.bus.Publish(r.Context(), ev); err != nil {
		s.log.Warn("publish change event failed", "partnership", pid, "error", err)
	}
}

// --- POST /recompute (recompute from the stored snapshot) ---

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	pid, partner := ids(r)
	res, err := s.engine.RecomputeStored(r.Context(), pid, partner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- GET /state ---

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	pid, partner := ids(r)
	st, err := s.engine.Status(r.Context(), pid, partner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- GET /achievements (catalog with unlock state) ---

type achievementView struct {
	domain.AchievementDefinition
	Unlocked   bool       `json:"unlocked"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
	UnlockedBy string     `json:"unlocked_by,omitempty"`
}

func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request) {
	pid, _ := ids(r)
	st, err := s.engine.State(r.Context(), pid)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	unlocked := make(map[string]domain.AchievementInstance, len(st.Achievements))
	for _, a := range st.Achievements {
		unlocked[a.DefinitionID] = a
	}

	defs := s.engine.Achievements().Definitions()
	out := make([]achievementView, len(defs))
	for i, def := range defs {
		out[i] = achievementView{AchievementDefinition: def}
		if inst, ok := unlocked[def.ID]; ok {
			at := inst.UnlockedAt
			out[i].Unlocked, out[i].UnlockedAt, out[i].UnlockedBy = true, &at, inst.UnlockedBy
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"achievements": out,
		"unlocked":     len(unlocked),
		"total":        len(defs),
	})
}

func (s *Server) handleAchievementCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"achievements": s.engine.Achievements().Definitions(),
	})
}

func (s *Server) handleAchievementDefinition(w http.ResponseWriter, r *http.Request) {
	def, ok := s.engine.Achievements().Definition(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "achievement not found")
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// --- GET /challenges, POST /challenges/{id}/complete ---

func (s *Server) handleChallenges(w http.ResponseWriter, r *http.Request) {
	pid, _ := ids(r)
	challenges, err := s.engine.Challenges(r.Context(), pid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if r.URL.Query().Get("active") == "true" {
		challenges = engagement.ActiveOnly(challenges, s.engine.Clock().Now())
	}

	type challengeView struct {
		domain.ChallengeInstance
		ProgressPct float64 `json:"progress_pct"`
	}
	out := make([]challengeView, len(challenges))
	for i, c := range challenges {
		out[i] = challengeView{ChallengeInstance: c, ProgressPct: c.ProgressPct()}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"challenges": out,
	})
}

func (s *Server) handleCompleteChallenge(w http.ResponseWriter, r *http.Request) {
	pid, partner := ids(r)
	points, err := s.engine.CompleteChallenge(r.Context(), pid, partner, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"points_awarded": points,
	})
}

// --- GET /notifications, POST /notifications/{id}/read, DELETE /notifications/{id} ---

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	pid, partner := ids(r)
	notifs, err := s.engine.Notifications(r.Context(), pid, partner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if notifs == nil {
		notifs = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifs,
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	pid, partner := ids(r)
	if err := s.engine.MarkRead(r.Context(), pid, partner, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	pid, partner := ids(r)
	if err := s.engine.Dismiss(r.Context(), pid, partner, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- GET|PUT /settings ---

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	pid, _ := ids(r)
	settings, err := s.engine.Settings(r.Context(), pid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	pid, _ := ids(r)
	var settings domain.NotificationSettings
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.UpdateSettings(r.Context(), pid, settings); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// --- GET /rewards, POST /rewards/{id}/redeem, GET /ledger ---

func (s *Server) handleRewardCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rewards": s.rewards.Catalog(),
	})
}

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request) {
	pid, _ := ids(r)
	st, err := s.engine.State(r.Context(), pid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"balance": st.TotalPoints,
		"rewards": s.rewards.Catalog(),
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	pid, partner := ids(r)
	red, err := s.rewards.Redeem(r.Context(), pid, partner, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, red)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	pid, _ := ids(r)
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := s.rewards.History(r.Context(), pid, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
	})
}

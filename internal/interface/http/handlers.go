package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/lyutobor/OneuiBot-sub000/internal/application/engine"
	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
	"github.com/lyutobor/OneuiBot-sub000/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"status":  "healthy",
			"uptime":  s.Uptime().Round(time.Second).String(),
			"version": s.config.Version,
		}, nil)
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status, nil)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil && !s.deps.HealthChecker.Check(r.Context()).Ready {
		writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", "Service is not ready")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"}, nil)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"}, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// DefinitionView is the wire form of a catalog entry.
type DefinitionView struct {
	Key         string   `json:"key"`
	Type        string   `json:"type"`
	Metric      string   `json:"metric,omitempty"`
	ContextKey  string   `json:"context_key,omitempty"`
	Target      *float64 `json:"target,omitempty"`
	TargetKeys  []string `json:"target_keys,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Icon        string   `json:"icon,omitempty"`
}

func toDefinitionView(d achievement.Definition) DefinitionView {
	v := DefinitionView{
		Key:         d.Key,
		Type:        string(d.Type),
		Metric:      string(d.Metric),
		ContextKey:  d.ContextKey,
		TargetKeys:  d.Target.Keys,
		Name:        d.Display.Name,
		Description: d.Display.Description,
		Icon:        d.Display.Icon,
	}
	if d.Target.HasValue {
		val := d.Target.Value
		v.Target = &val
	}
	return v
}

func (s *Server) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	catalog := s.deps.Engine.Catalog()
	views := make([]DefinitionView, 0, catalog.Len())
	catalog.ForEach(func(_ int, d achievement.Definition) bool {
		views = append(views, toDefinitionView(d))
		return true
	})
	writeJSON(w, r, http.StatusOK, views, &ResponseMeta{TotalCount: len(views)})
}

// ══════════════════════════════════════════════════════════════════════════════
// USER LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// UnlockedView is one granted achievement.
type UnlockedView struct {
	Key        string    `json:"key"`
	Name       string    `json:"name"`
	Icon       string    `json:"icon,omitempty"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// ProgressView is one in-flight achievement.
type ProgressView struct {
	Key       string               `json:"key"`
	Name      string               `json:"name"`
	Progress  achievement.Progress `json:"progress"`
	Target    *float64             `json:"target,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// UserAchievementsView is the response of the per-user ledger endpoint.
type UserAchievementsView struct {
	UserID   int64          `json:"user_id"`
	Unlocked []UnlockedView `json:"unlocked"`
	Progress []ProgressView `json:"progress"`
}

func (s *Server) handleUserAchievements(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	snap, err := s.deps.Ledger.ListUnlockedAndProgress(r.Context(), userID)
	if err != nil {
		s.logger.Error("failed to read ledger", logger.UserID(userID), logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, "ledger_error", "Failed to read achievements")
		return
	}

	view := UserAchievementsView{
		UserID:   userID,
		Unlocked: []UnlockedView{},
		Progress: []ProgressView{},
	}
	s.deps.Engine.Catalog().ForEach(func(_ int, d achievement.Definition) bool {
		if rec, ok := snap.Unlocked[d.Key]; ok {
			view.Unlocked = append(view.Unlocked, UnlockedView{
				Key:        d.Key,
				Name:       d.Display.Name,
				Icon:       d.Display.Icon,
				UnlockedAt: rec.UnlockedAt,
			})
			return true
		}
		if entry, ok := snap.Progress[d.Key]; ok {
			pv := ProgressView{
				Key:       d.Key,
				Name:      d.Display.Name,
				Progress:  entry.Progress,
				UpdatedAt: entry.UpdatedAt,
			}
			if d.Target.HasValue {
				t := d.Target.Value
				pv.Target = &t
			}
			view.Progress = append(view.Progress, pv)
		}
		return true
	})

	writeJSON(w, r, http.StatusOK, view, &ResponseMeta{TotalCount: len(view.Unlocked)})
}

func (s *Server) handleUserAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeJSONError(w, r, http.StatusServiceUnavailable, "audit_unavailable", "Audit log is not configured")
		return
	}
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	entries, err := s.deps.Audit.ListAudit(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error("failed to read audit", logger.UserID(userID), logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, "audit_error", "Failed to read audit log")
		return
	}
	if entries == nil {
		entries = []achievement.AuditEntry{}
	}
	writeJSON(w, r, http.StatusOK, entries, &ResponseMeta{TotalCount: len(entries)})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feed == nil {
		writeJSONError(w, r, http.StatusServiceUnavailable, "feed_unavailable", "Recent feed is not configured")
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	var userID int64
	if raw := r.URL.Query().Get("user"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeJSONError(w, r, http.StatusBadRequest, "invalid_user", "user must be a positive integer")
			return
		}
		userID = id
	}

	entries, err := s.deps.Feed.Recent(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error("failed to read recent feed", logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, "feed_error", "Failed to read recent unlocks")
		return
	}
	if entries == nil {
		entries = []achievement.AuditEntry{}
	}
	writeJSON(w, r, http.StatusOK, entries, &ResponseMeta{TotalCount: len(entries)})
}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATION TRIGGER
// ══════════════════════════════════════════════════════════════════════════════

// EvaluateRequest asks for one pass. ChatID defaults to UserID.
type EvaluateRequest struct {
	UserID  int64          `json:"user_id"`
	ChatID  int64          `json:"chat_id,omitempty"`
	Context map[string]any `json:"context,omitempty"`
	Wait    bool           `json:"wait,omitempty"`
}

// ReportView is the wire form of a finished pass.
type ReportView struct {
	PassID          string            `json:"pass_id"`
	UserID          int64             `json:"user_id"`
	ChatID          int64             `json:"chat_id"`
	State           string            `json:"state"`
	Evaluated       int               `json:"evaluated"`
	Skipped         int               `json:"skipped"`
	Unlocked        []string          `json:"unlocked"`
	Duplicates      []string          `json:"duplicates,omitempty"`
	ProgressUpdated []string          `json:"progress_updated,omitempty"`
	Conflicts       []string          `json:"conflicts,omitempty"`
	Failed          map[string]string `json:"failed,omitempty"`
	LoadError       string            `json:"load_error,omitempty"`
	MetricFetches   int               `json:"metric_fetches"`
	DurationMS      int64             `json:"duration_ms"`
}

func toReportView(rep *engine.Report) ReportView {
	v := ReportView{
		PassID:          rep.PassID,
		UserID:          rep.UserID,
		ChatID:          rep.ChatID,
		State:           string(rep.State),
		Evaluated:       rep.Evaluated,
		Skipped:         rep.Skipped,
		Unlocked:        rep.Unlocked,
		Duplicates:      rep.Duplicates,
		ProgressUpdated: rep.ProgressUpdated,
		Conflicts:       rep.Conflicts,
		MetricFetches:   rep.MetricFetches,
		DurationMS:      rep.Duration.Milliseconds(),
	}
	if v.Unlocked == nil {
		v.Unlocked = []string{}
	}
	if len(rep.Failed) > 0 {
		v.Failed = make(map[string]string, len(rep.Failed))
		for k, err := range rep.Failed {
			v.Failed[k] = err.Error()
		}
	}
	if rep.LoadError != nil {
		v.LoadError = rep.LoadError.Error()
	}
	return v
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_user", "user_id must be a positive integer")
		return
	}
	if req.ChatID == 0 {
		req.ChatID = req.UserID
	}

	s.logger.Info("manual evaluation requested",
		logger.UserID(req.UserID),
		logger.ChatID(req.ChatID),
		logger.Bool("wait", req.Wait),
	)

	if !req.Wait {
		s.deps.Engine.EvaluateAchievements(req.UserID, req.ChatID, req.Context)
		writeJSON(w, r, http.StatusAccepted, map[string]any{
			"user_id": req.UserID,
			"chat_id": req.ChatID,
			"status":  "scheduled",
		}, nil)
		return
	}

	rep := s.deps.Engine.Run(r.Context(), req.UserID, req.ChatID, achievement.EvaluationContext(req.Context))
	writeJSON(w, r, http.StatusOK, toReportView(rep), nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// PARAMETER HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_user", "user id must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}

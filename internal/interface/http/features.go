package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lyutobor/OneuiBot-sub000/config"
	"github.com/lyutobor/OneuiBot-sub000/pkg/logger"
)

// FeatureAdmin changes feature rollout while the service runs. The engine
// gate reads the same flags, so a change applies to the next trigger.
type FeatureAdmin interface {
	All() []config.Feature
	SetRollout(featureName string, percent int) (config.Feature, error)
	Override(userID int64, featureName string, enabled *bool) error
}

// FeatureView is the JSON shape of one flag.
type FeatureView struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Enabled        bool   `json:"enabled"`
	RolloutPercent int    `json:"rollout_percent"`
	Overrides      int    `json:"user_overrides"`
}

func toFeatureView(f config.Feature) FeatureView {
	return FeatureView{
		Name:           f.Name,
		Description:    f.Description,
		Enabled:        f.Enabled,
		RolloutPercent: f.RolloutPercent,
		Overrides:      f.Overrides,
	}
}

// RolloutRequest is the body of PUT /api/v1/features/{name}.
type RolloutRequest struct {
	RolloutPercent *int `json:"rollout_percent"`
}

// OverrideRequest is the body of PUT /api/v1/features/{name}/users/{id}.
type OverrideRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) features(w http.ResponseWriter, r *http.Request) (FeatureAdmin, bool) {
	if s.deps.Features == nil {
		writeJSONError(w, r, http.StatusServiceUnavailable, "features_unavailable", "Feature flags are not configured")
		return nil, false
	}
	return s.deps.Features, true
}

func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	ff, ok := s.features(w, r)
	if !ok {
		return
	}
	all := ff.All()
	views := make([]FeatureView, 0, len(all))
	for _, f := range all {
		views = append(views, toFeatureView(f))
	}
	writeJSON(w, r, http.StatusOK, views, &ResponseMeta{TotalCount: len(views)})
}

func (s *Server) handleSetRollout(w http.ResponseWriter, r *http.Request) {
	ff, ok := s.features(w, r)
	if !ok {
		return
	}
	var req RolloutRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RolloutPercent == nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_body", "rollout_percent is required")
		return
	}

	name := r.PathValue("name")
	f, err := ff.SetRollout(name, *req.RolloutPercent)
	if err != nil {
		writeFeatureError(w, r, err)
		return
	}

	s.logger.Warn("feature rollout changed",
		logger.String("feature", name),
		logger.Int("rollout_percent", f.RolloutPercent),
	)
	writeJSON(w, r, http.StatusOK, toFeatureView(f), nil)
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	ff, ok := s.features(w, r)
	if !ok {
		return
	}
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	var req OverrideRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_body", "enabled is required")
		return
	}
	s.applyOverride(w, r, ff, userID, req.Enabled)
}

func (s *Server) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	ff, ok := s.features(w, r)
	if !ok {
		return
	}
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	s.applyOverride(w, r, ff, userID, nil)
}

func (s *Server) applyOverride(w http.ResponseWriter, r *http.Request, ff FeatureAdmin, userID int64, enabled *bool) {
	name := r.PathValue("name")
	if err := ff.Override(userID, name, enabled); err != nil {
		writeFeatureError(w, r, err)
		return
	}

	state := "cleared"
	if enabled != nil {
		state = "off"
		if *enabled {
			state = "on"
		}
	}
	s.logger.Warn("feature override changed",
		logger.String("feature", name),
		logger.UserID(userID),
		logger.String("override", state),
	)
	writeJSON(w, r, http.StatusOK, map[string]any{
		"feature":  name,
		"user_id":  userID,
		"override": state,
	}, nil)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "Request body too large")
			return false
		}
		writeJSONError(w, r, http.StatusBadRequest, "invalid_body", "Request body must be a JSON object")
		return false
	}
	return true
}

func writeFeatureError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, config.ErrFeatureNotFound):
		writeJSONError(w, r, http.StatusNotFound, "feature_not_found", err.Error())
	case errors.Is(err, config.ErrInvalidRolloutPercent), errors.Is(err, config.ErrInvalidUser):
		writeJSONError(w, r, http.StatusBadRequest, "invalid_value", err.Error())
	default:
		writeJSONError(w, r, http.StatusInternalServerError, "feature_error", "Failed to update feature")
	}
}

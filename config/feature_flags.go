package config

import (
	"errors"
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages feature toggles with gradual per-user rollout.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Per-user pins set through the operator API.
	userOverrides map[int64]map[string]bool // telegramID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Users are assigned based on hash of their ID
	RolloutPercent int

	// Overrides counts users pinned on or off. Filled in copies only.
	Overrides int
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	UserID int64 // Telegram ID
}

// Predefined feature flag names.
const (
	FeatureAchievements  = "achievements.enabled"       // Evaluate after game actions
	FeatureNotifications = "achievements.notifications" // Send unlock messages
	FeatureSweep         = "achievements.sweep"         // Periodic re-evaluation
	FeatureAuditFeed     = "achievements.audit_feed"    // Publish unlocks to Redis
	FeatureSQLiteAudit   = "achievements.sqlite_audit"  // Keep audit entries in the SQLite file
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[int64]map[string]bool),
	}

	// Initialize all features with defaults
	ff.initializeDefaults()

	// Load overrides from environment
	ff.loadFromEnvironment()

	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	defaults := []Feature{
		{Name: FeatureAchievements, Description: "Evaluate achievements after game actions", Enabled: true, RolloutPercent: 100},
		{Name: FeatureNotifications, Description: "Announce unlocks in the chat", Enabled: true, RolloutPercent: 100},
		{Name: FeatureSweep, Description: "Re-evaluate metric achievements on a schedule", Enabled: true, RolloutPercent: 100},
		{Name: FeatureAuditFeed, Description: "Publish unlocks to the Redis feed", Enabled: true, RolloutPercent: 100},
		{Name: FeatureSQLiteAudit, Description: "Write audit entries next to the SQLite ledger", Enabled: false, RolloutPercent: 0},
	}
	for i := range defaults {
		f := defaults[i]
		ff.features[f.Name] = &f
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_ACHIEVEMENTS_NOTIFICATIONS=false
// Example: FEATURE_ACHIEVEMENTS_ENABLED=25 (25% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}

		// Try parsing as boolean
		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		// Try parsing as percentage
		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "achievements.audit_feed" -> "FEATURE_ACHIEVEMENTS_AUDIT_FEED"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context. Without a
// user the feature counts as on when any rollout is configured.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	// Check user overrides first
	if ctx != nil && ctx.UserID != 0 {
		if userOverrides, ok := ff.userOverrides[ctx.UserID]; ok {
			if enabled, ok := userOverrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	if !feature.Enabled {
		return false
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.UserID != 0 {
		return isInRollout(ctx.UserID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// EnabledFor is IsEnabled for a plain user ID.
func (ff *FeatureFlags) EnabledFor(featureName string, userID int64) bool {
	return ff.IsEnabled(featureName, &FeatureContext{UserID: userID})
}

// isInRollout uses consistent hashing so users stay in their bucket.
func isInRollout(userID int64, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(strconv.FormatInt(userID, 10)))
	return int(h.Sum32()%100) < percent
}

// SetRollout changes a feature's rollout at runtime. 0 switches it off and
// 100 on for everyone; per-user overrides keep precedence.
func (ff *FeatureFlags) SetRollout(featureName string, percent int) (Feature, error) {
	if percent < 0 || percent > 100 {
		return Feature{}, ErrInvalidRolloutPercent
	}

	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return Feature{}, ErrFeatureNotFound
	}
	feature.Enabled = percent > 0
	feature.RolloutPercent = percent
	return ff.copyLocked(feature), nil
}

// Override pins a feature on or off for one user. A nil enabled removes
// the pin so the rollout applies again.
func (ff *FeatureFlags) Override(userID int64, featureName string, enabled *bool) error {
	if userID <= 0 {
		return ErrInvalidUser
	}

	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.features[featureName]; !ok {
		return ErrFeatureNotFound
	}

	pins := ff.userOverrides[userID]
	if enabled == nil {
		delete(pins, featureName)
		if len(pins) == 0 {
			delete(ff.userOverrides, userID)
		}
		return nil
	}
	if pins == nil {
		pins = make(map[string]bool)
		ff.userOverrides[userID] = pins
	}
	pins[featureName] = *enabled
	return nil
}

// All returns copies of every feature sorted by name.
func (ff *FeatureFlags) All() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, ff.copyLocked(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (ff *FeatureFlags) copyLocked(f *Feature) Feature {
	c := *f
	c.Overrides = 0
	for _, pins := range ff.userOverrides {
		if _, ok := pins[f.Name]; ok {
			c.Overrides++
		}
	}
	return c
}

var (
	ErrFeatureNotFound       = errors.New("feature not found")
	ErrInvalidRolloutPercent = errors.New("rollout percent must be 0-100")
	ErrInvalidUser           = errors.New("user id must be positive")
)

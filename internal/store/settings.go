package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Default knobs applied when an entity has no settings row.
const (
	DefaultSensitivity      = 0.5
	DefaultDailyCap         = 3
	DefaultAnalysisCooldown = 4 * time.Hour
)

// Settings is the per-entity proactivity configuration, loaded per analysis
// pass rather than held as ambient global state.
type Settings struct {
	EntityID          string
	Sensitivities     map[string]float64 // per trigger type; absent = default
	MaxMessagesPerDay int
	AnalysisCooldown  time.Duration
}

// Sensitivity returns the threshold for a trigger type, falling back to the
// default when unset.
func (st Settings) Sensitivity(triggerType string) float64 {
	if v, ok := st.Sensitivities[triggerType]; ok {
		return v
	}
	return DefaultSensitivity
}

// SetSettingsDefaults overrides the fallback daily cap and analysis cooldown
// applied when an entity has no settings row. Non-positive values keep the
// compiled defaults.
func (s *Store) SetSettingsDefaults(dailyCap int, cooldown time.Duration) {
	if dailyCap > 0 {
		s.defaultDailyCap = dailyCap
	}
	if cooldown > 0 {
		s.defaultCooldown = cooldown
	}
}

// GetSettings reads an entity's settings, returning defaults when no row
// exists.
func (s *Store) GetSettings(entityID string) (Settings, error) {
	st := Settings{
		EntityID:          entityID,
		Sensitivities:     map[string]float64{},
		MaxMessagesPerDay: s.defaultDailyCap,
		AnalysisCooldown:  s.defaultCooldown,
	}
	var sensJSON string
	var cooldownMin int
	err := s.db.QueryRow(`
		SELECT sensitivities_json, max_messages_per_day, analysis_cooldown_minutes
		FROM entity_settings WHERE entity_id = ?`, entityID,
	).Scan(&sensJSON, &st.MaxMessagesPerDay, &cooldownMin)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.AnalysisCooldown = time.Duration(cooldownMin) * time.Minute
	if err := json.Unmarshal([]byte(sensJSON), &st.Sensitivities); err != nil {
		st.Sensitivities = map[string]float64{}
	}
	return st, nil
}

// SaveSettings upserts an entity's settings row.
func (s *Store) SaveSettings(st Settings) error {
	sensJSON, err := json.Marshal(st.Sensitivities)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO entity_settings (entity_id, sensitivities_json, max_messages_per_day, analysis_cooldown_minutes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			sensitivities_json = excluded.sensitivities_json,
			max_messages_per_day = excluded.max_messages_per_day,
			analysis_cooldown_minutes = excluded.analysis_cooldown_minutes`,
		st.EntityID, string(sensJSON), st.MaxMessagesPerDay, int(st.AnalysisCooldown.Minutes()))
	return err
}

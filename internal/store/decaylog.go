package store

import (
	"fmt"
	"time"
)

// DecayEntry is one channel change worth logging (|delta| >= 0.05).
// The log doubles as the sample history for sustained-emotion detection.
type DecayEntry struct {
	SessionID string
	EntityID  string
	Channel   string
	OldValue  float64
	NewValue  float64
	AppliedAt time.Time
}

// AppendDecayEntries writes decay log rows in one transaction.
func (s *Store) AppendDecayEntries(entries []DecayEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, e := range entries {
		at := e.AppliedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if _, err := tx.Exec(`
			INSERT INTO decay_log (session_id, entity_id, channel, old_value, new_value, applied_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.SessionID, e.EntityID, e.Channel, e.OldValue, e.NewValue, fmtTime(at)); err != nil {
			return fmt.Errorf("appending decay entry: %w", err)
		}
	}
	return tx.Commit()
}

// ChannelSamples returns logged values for one channel of a session at or
// after since, oldest first.
func (s *Store) ChannelSamples(sessionID, channel string, since time.Time) ([]float64, error) {
	rows, err := s.db.Query(`
		SELECT new_value FROM decay_log
		WHERE session_id = ? AND channel = ? AND applied_at >= ?
		ORDER BY applied_at ASC`, sessionID, channel, fmtTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// PruneDecayLog deletes entries applied before cutoff (retention: 30 days).
func (s *Store) PruneDecayLog(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM decay_log WHERE applied_at < ?`, fmtTime(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

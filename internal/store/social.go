package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Social item kinds.
const (
	SocialInteraction = "interaction"
	SocialConflict    = "conflict"
	SocialEvent       = "event"
)

// SocialItem is one entry in an entity's social backlog: an unprocessed
// interaction, an unresolved conflict, or a notable event from the social
// graph that has not been brought up yet.
type SocialItem struct {
	ID         string
	EntityID   string
	Kind       string
	Summary    string
	Importance float64
	Processed  bool
	Resolved   bool
	Mentioned  bool
	CreatedAt  time.Time
}

// AddSocialItem inserts a backlog entry.
func (s *Store) AddSocialItem(item SocialItem) (string, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO social_items (id, entity_id, kind, summary, importance, processed, resolved, mentioned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.EntityID, item.Kind, item.Summary, item.Importance,
		boolInt(item.Processed), boolInt(item.Resolved), boolInt(item.Mentioned), fmtTime(item.CreatedAt))
	if err != nil {
		return "", fmt.Errorf("adding social item: %w", err)
	}
	return item.ID, nil
}

// CountUnprocessed returns the number of unprocessed interactions for an
// entity. Backlog size scales social trigger strength.
func (s *Store) CountUnprocessed(entityID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM social_items
		WHERE entity_id = ? AND kind = 'interaction' AND processed = 0`, entityID).Scan(&n)
	return n, err
}

// UnresolvedConflicts returns unresolved conflicts created before cutoff.
func (s *Store) UnresolvedConflicts(entityID string, cutoff time.Time) ([]SocialItem, error) {
	return s.querySocial(`
		SELECT id, entity_id, kind, summary, importance, processed, resolved, mentioned, created_at
		FROM social_items
		WHERE entity_id = ? AND kind = 'conflict' AND resolved = 0 AND created_at < ?
		ORDER BY created_at ASC`, entityID, fmtTime(cutoff))
}

// UnmentionedEvents returns events at or above minImportance that have not
// been mentioned yet.
func (s *Store) UnmentionedEvents(entityID string, minImportance float64) ([]SocialItem, error) {
	return s.querySocial(`
		SELECT id, entity_id, kind, summary, importance, processed, resolved, mentioned, created_at
		FROM social_items
		WHERE entity_id = ? AND kind = 'event' AND mentioned = 0 AND importance >= ?
		ORDER BY importance DESC, created_at ASC`, entityID, minImportance)
}

// MarkProcessed flags interactions as processed once a trigger consumed them.
func (s *Store) MarkProcessed(entityID string) error {
	_, err := s.db.Exec(`
		UPDATE social_items SET processed = 1
		WHERE entity_id = ? AND kind = 'interaction' AND processed = 0`, entityID)
	return err
}

// MarkMentioned flags one event as mentioned.
func (s *Store) MarkMentioned(id string) error {
	res, err := s.db.Exec(`UPDATE social_items SET mentioned = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) querySocial(query string, args ...interface{}) ([]SocialItem, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SocialItem
	for rows.Next() {
		var it SocialItem
		var processed, resolved, mentioned int
		var createdAt string
		if err := rows.Scan(&it.ID, &it.EntityID, &it.Kind, &it.Summary, &it.Importance,
			&processed, &resolved, &mentioned, &createdAt); err != nil {
			return nil, err
		}
		it.Processed = processed != 0
		it.Resolved = resolved != 0
		it.Mentioned = mentioned != 0
		it.CreatedAt = parseTime(createdAt)
		out = append(out, it)
	}
	return out, rows.Err()
}

package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entity is one conversational agent instance. Its interaction history
// (message count, relationship age) drives decay scaling.
type Entity struct {
	ID                    string
	Name                  string
	PersonaKey            string
	Active                bool
	MessageCount          int
	RelationshipStartedAt time.Time
	LastActiveAt          time.Time
	CreatedAt             time.Time
}

// Session is a conversation thread. Each entity owns one; the session owns
// the affect vector (stored as JSON) and open-thread bookkeeping.
type Session struct {
	ID               string
	EntityID         string
	AffectJSON       string
	AffectUpdatedAt  time.Time
	LastIntensity    float64
	OpenQuestion     bool
	OpenQuestionText string
	CreatedAt        time.Time
}

// CreateEntity inserts an entity. Empty ID gets a UUID.
func (s *Store) CreateEntity(e Entity) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.RelationshipStartedAt.IsZero() {
		e.RelationshipStartedAt = now
	}
	var lastActive interface{}
	if !e.LastActiveAt.IsZero() {
		lastActive = fmtTime(e.LastActiveAt)
	}
	_, err := s.db.Exec(`
		INSERT INTO entities (id, name, persona_key, active, message_count, relationship_started_at, last_active_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.PersonaKey, boolInt(e.Active), e.MessageCount,
		fmtTime(e.RelationshipStartedAt), lastActive, fmtTime(now))
	if err != nil {
		return "", fmt.Errorf("creating entity: %w", err)
	}
	return e.ID, nil
}

// GetEntity reads one entity by id.
func (s *Store) GetEntity(id string) (Entity, error) {
	var e Entity
	var active int
	var started, createdAt string
	var lastActive sql.NullString
	err := s.db.QueryRow(`
		SELECT id, name, persona_key, active, message_count, relationship_started_at, last_active_at, created_at
		FROM entities WHERE id = ?`, id,
	).Scan(&e.ID, &e.Name, &e.PersonaKey, &active, &e.MessageCount, &started, &lastActive, &createdAt)
	if err == sql.ErrNoRows {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, err
	}
	e.Active = active != 0
	e.RelationshipStartedAt = parseTime(started)
	e.CreatedAt = parseTime(createdAt)
	if lastActive.Valid {
		e.LastActiveAt = parseTime(lastActive.String)
	}
	return e, nil
}

// ListActiveEntities returns active entities last used at or after since.
func (s *Store) ListActiveEntities(since time.Time) ([]Entity, error) {
	rows, err := s.db.Query(`
		SELECT id, name, persona_key, active, message_count, relationship_started_at, last_active_at, created_at
		FROM entities
		WHERE active = 1 AND last_active_at IS NOT NULL AND last_active_at >= ?
		ORDER BY last_active_at DESC`, fmtTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entity
	for rows.Next() {
		var e Entity
		var active int
		var started, createdAt string
		var lastActive sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.PersonaKey, &active, &e.MessageCount, &started, &lastActive, &createdAt); err != nil {
			return nil, err
		}
		e.Active = active != 0
		e.RelationshipStartedAt = parseTime(started)
		e.CreatedAt = parseTime(createdAt)
		if lastActive.Valid {
			e.LastActiveAt = parseTime(lastActive.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetOrCreateSession returns the entity's session, creating it on first use.
func (s *Store) GetOrCreateSession(entityID string) (Session, error) {
	sess, err := s.getSession(entityID)
	if err == nil {
		return sess, nil
	}
	if err != ErrNotFound {
		return Session{}, err
	}
	id := uuid.NewString()
	_, err = s.db.Exec(`INSERT INTO sessions (id, entity_id, created_at) VALUES (?, ?, ?)`,
		id, entityID, fmtTime(time.Now()))
	if err != nil {
		return Session{}, fmt.Errorf("creating session: %w", err)
	}
	return s.getSession(entityID)
}

func (s *Store) getSession(entityID string) (Session, error) {
	var sess Session
	var openQ int
	var createdAt string
	var affectUpdated sql.NullString
	err := s.db.QueryRow(`
		SELECT id, entity_id, affect_json, affect_updated_at, last_intensity, open_question, open_question_text, created_at
		FROM sessions WHERE entity_id = ?`, entityID,
	).Scan(&sess.ID, &sess.EntityID, &sess.AffectJSON, &affectUpdated, &sess.LastIntensity, &openQ, &sess.OpenQuestionText, &createdAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	sess.OpenQuestion = openQ != 0
	sess.CreatedAt = parseTime(createdAt)
	if affectUpdated.Valid {
		sess.AffectUpdatedAt = parseTime(affectUpdated.String)
	}
	return sess, nil
}

// SaveAffect writes the session's affect vector JSON and its update time.
func (s *Store) SaveAffect(sessionID, affectJSON string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE sessions SET affect_json = ?, affect_updated_at = ? WHERE id = ?`,
		affectJSON, fmtTime(at), sessionID)
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

// SetLastIntensity records the emotional intensity of the last exchange,
// read later by the temporal detector.
func (s *Store) SetLastIntensity(sessionID string, intensity float64) error {
	_, err := s.db.Exec(`UPDATE sessions SET last_intensity = ? WHERE id = ?`, intensity, sessionID)
	return err
}

// AppendTimeline inserts a message into the entity's timeline and keeps the
// session's open-question state: a user question opens a thread, any
// assistant message closes it. Entity activity counters are bumped for user
// messages.
func (s *Store) AppendTimeline(sessionID, entityID, role, content string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO timeline (id, session_id, entity_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, sessionID, entityID, role, content, fmtTime(now)); err != nil {
		return "", fmt.Errorf("appending timeline: %w", err)
	}

	switch role {
	case "user":
		openQ := 0
		text := ""
		if strings.HasSuffix(strings.TrimSpace(content), "?") {
			openQ = 1
			text = strings.TrimSpace(content)
			if r := []rune(text); len(r) > 120 {
				text = string(r[:120])
			}
		}
		if _, err := tx.Exec(`UPDATE sessions SET open_question = ?, open_question_text = ? WHERE id = ?`,
			openQ, text, sessionID); err != nil {
			return "", err
		}
		if _, err := tx.Exec(`UPDATE entities SET message_count = message_count + 1, last_active_at = ? WHERE id = ?`,
			fmtTime(now), entityID); err != nil {
			return "", err
		}
	case "assistant":
		if _, err := tx.Exec(`UPDATE sessions SET open_question = 0, open_question_text = '' WHERE id = ?`,
			sessionID); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// CountTimelineSince counts messages for an entity created at or after since.
func (s *Store) CountTimelineSince(entityID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM timeline WHERE entity_id = ? AND created_at >= ?`,
		entityID, fmtTime(since)).Scan(&n)
	return n, err
}

// CountUnusualHourMessages counts user messages in the small hours (00:00 to
// 05:00 UTC) since the given time. A stress proxy for the contextual detector.
func (s *Store) CountUnusualHourMessages(entityID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM timeline
		WHERE entity_id = ? AND role = 'user' AND created_at >= ?
		AND CAST(strftime('%H', created_at) AS INTEGER) < 5`,
		entityID, fmtTime(since)).Scan(&n)
	return n, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Proactive message statuses.
const (
	MessagePending   = "pending"
	MessageSent      = "sent"
	MessageDismissed = "dismissed"
	MessageExpired   = "expired"
)

// ProactiveMessage is an autonomous outbound message produced from a
// winning trigger. It waits as pending until its scheduled time, is
// delivered into the timeline, or expires undelivered.
type ProactiveMessage struct {
	ID                 string
	EntityID           string
	TriggerType        string
	TriggerSubtype     string
	TriggerDetails     string
	TriggerStrength    float64
	MessageText        string
	Tone               string
	ScheduledFor       time.Time
	ExpiresAt          time.Time
	Status             string
	DeliveredAt        time.Time
	UserReaction       string
	EffectivenessScore float64
	CreatedAt          time.Time
}

// CreateProactiveMessage inserts a pending message and returns its id.
func (s *Store) CreateProactiveMessage(m ProactiveMessage) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`
		INSERT INTO proactive_messages (id, entity_id, trigger_type, trigger_subtype, trigger_details,
			trigger_strength, message_text, tone, scheduled_for, expires_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
		m.ID, m.EntityID, m.TriggerType, m.TriggerSubtype, m.TriggerDetails,
		m.TriggerStrength, m.MessageText, m.Tone,
		fmtTime(m.ScheduledFor), fmtTime(m.ExpiresAt), fmtTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("creating proactive message: %w", err)
	}
	return m.ID, nil
}

// GetProactiveMessage reads one message by id.
func (s *Store) GetProactiveMessage(id string) (ProactiveMessage, error) {
	var m ProactiveMessage
	var scheduled, expires, createdAt string
	var delivered, reaction sql.NullString
	var score sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT id, entity_id, trigger_type, trigger_subtype, trigger_details, trigger_strength,
			message_text, tone, scheduled_for, expires_at, status, delivered_at, user_reaction,
			effectiveness_score, created_at
		FROM proactive_messages WHERE id = ?`, id,
	).Scan(&m.ID, &m.EntityID, &m.TriggerType, &m.TriggerSubtype, &m.TriggerDetails, &m.TriggerStrength,
		&m.MessageText, &m.Tone, &scheduled, &expires, &m.Status, &delivered, &reaction, &score, &createdAt)
	if err == sql.ErrNoRows {
		return ProactiveMessage{}, ErrNotFound
	}
	if err != nil {
		return ProactiveMessage{}, err
	}
	m.ScheduledFor = parseTime(scheduled)
	m.ExpiresAt = parseTime(expires)
	m.CreatedAt = parseTime(createdAt)
	if delivered.Valid {
		m.DeliveredAt = parseTime(delivered.String)
	}
	m.UserReaction = reaction.String
	m.EffectivenessScore = score.Float64
	return m, nil
}

// DueMessages returns pending messages whose scheduled time has arrived and
// which have not expired, oldest scheduled first.
func (s *Store) DueMessages(now time.Time) ([]ProactiveMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, entity_id, trigger_type, trigger_subtype, trigger_details, trigger_strength,
			message_text, tone, scheduled_for, expires_at, status, created_at
		FROM proactive_messages
		WHERE status = 'pending' AND scheduled_for <= ? AND expires_at > ?
		ORDER BY scheduled_for ASC`, fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProactiveMessage
	for rows.Next() {
		var m ProactiveMessage
		var scheduled, expires, createdAt string
		if err := rows.Scan(&m.ID, &m.EntityID, &m.TriggerType, &m.TriggerSubtype, &m.TriggerDetails,
			&m.TriggerStrength, &m.MessageText, &m.Tone, &scheduled, &expires, &m.Status, &createdAt); err != nil {
			return nil, err
		}
		m.ScheduledFor = parseTime(scheduled)
		m.ExpiresAt = parseTime(expires)
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkSent flips a pending message to sent and stamps the delivery time.
func (s *Store) MarkSent(id string, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE proactive_messages SET status = 'sent', delivered_at = ?
		WHERE id = ? AND status = 'pending'`, fmtTime(at), id)
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

// ExpireOverdue marks pending messages past their expiry as expired and
// returns how many were flipped. Expired messages are never delivered.
func (s *Store) ExpireOverdue(now time.Time) (int, error) {
	res, err := s.db.Exec(`
		UPDATE proactive_messages SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= ?`, fmtTime(now))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeliveredSince counts messages delivered to an entity at or after since.
// The daily cap check.
func (s *Store) DeliveredSince(entityID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM proactive_messages
		WHERE entity_id = ? AND status = 'sent' AND delivered_at >= ?`,
		entityID, fmtTime(since)).Scan(&n)
	return n, err
}

// RecordReaction annotates a delivered message with the user's reaction and
// derives an effectiveness score from it.
func (s *Store) RecordReaction(id, reaction string) error {
	res, err := s.db.Exec(`
		UPDATE proactive_messages SET user_reaction = ?, effectiveness_score = ?
		WHERE id = ? AND status = 'sent'`,
		reaction, effectivenessScore(reaction), id)
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

func effectivenessScore(reaction string) float64 {
	switch reaction {
	case "replied", "loved":
		return 1.0
	case "liked":
		return 0.8
	case "ignored":
		return 0.2
	case "dismissed":
		return 0.0
	default:
		return 0.5
	}
}

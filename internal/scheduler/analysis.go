package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/keshon/pulse/internal/affect"
	"github.com/keshon/pulse/internal/ai"
	"github.com/keshon/pulse/internal/persona"
	"github.com/keshon/pulse/internal/store"
	"github.com/keshon/pulse/internal/trigger"
)

// Delivery timing bounds. A winning trigger never fires immediately; the
// delay shrinks as urgency grows.
const (
	MinDeliveryDelay = time.Minute
	MaxDeliveryDelay = 4 * time.Hour
	UrgentDelay      = 2 * time.Minute
	MessageTTL       = 24 * time.Hour
)

// analysisOutcome is what an analysis job writes into its result column.
type analysisOutcome struct {
	Outcome         string  `json:"outcome"`
	DecayedChannels int     `json:"decayed_channels,omitempty"`
	TriggerType     string  `json:"trigger_type,omitempty"`
	TriggerSubtype  string  `json:"trigger_subtype,omitempty"`
	Strength        float64 `json:"strength,omitempty"`
	Sensitivity     float64 `json:"sensitivity,omitempty"`
	MessageID       string  `json:"message_id,omitempty"`
	ScheduledFor    string  `json:"scheduled_for,omitempty"`
	Fallback        bool    `json:"fallback,omitempty"`
}

func (o analysisOutcome) String() string {
	b, _ := json.Marshal(o)
	return string(b)
}

// executeAnalysis runs one full analysis for the job's entity: apply decay
// if due, detect triggers, gate by sensitivity and the daily cap, generate
// the message and schedule it for natural delivery.
func (s *Scheduler) executeAnalysis(ctx context.Context, job *store.Job) (string, error) {
	entity, err := s.store.GetEntity(job.TargetID)
	if err != nil {
		return "", fmt.Errorf("loading entity %s: %w", job.TargetID, err)
	}
	sess, err := s.store.GetOrCreateSession(entity.ID)
	if err != nil {
		return "", fmt.Errorf("loading session: %w", err)
	}
	settings, err := s.store.GetSettings(entity.ID)
	if err != nil {
		return "", fmt.Errorf("loading settings: %w", err)
	}

	now := s.now()
	vec := affect.FromJSON(sess.AffectJSON)
	outcome := analysisOutcome{Outcome: "no_triggers"}

	lastActive := entity.LastActiveAt
	if lastActive.IsZero() {
		lastActive = entity.CreatedAt
	}
	inactive := now.Sub(lastActive)

	var crossings []affect.Crossing
	if inactive >= affect.MinInactivity && (sess.AffectUpdatedAt.IsZero() || now.Sub(sess.AffectUpdatedAt) >= affect.MinInactivity) {
		ageDays := now.Sub(entity.RelationshipStartedAt).Hours() / 24
		tier := affect.RelationshipTier(entity.MessageCount, ageDays)
		decayed, dres := affect.ApplyDecay(vec, inactive, tier, s.jitter)

		if err := s.store.SaveAffect(sess.ID, decayed.ToJSON(), now); err != nil {
			return "", fmt.Errorf("saving affect: %w", err)
		}
		var entries []store.DecayEntry
		for _, c := range dres.Changes {
			if diff := c.New - c.Old; diff >= affect.LogThreshold || diff <= -affect.LogThreshold {
				entries = append(entries, store.DecayEntry{
					SessionID: sess.ID,
					EntityID:  entity.ID,
					Channel:   string(c.Channel),
					OldValue:  c.Old,
					NewValue:  c.New,
					AppliedAt: now,
				})
			}
		}
		if err := s.store.AppendDecayEntries(entries); err != nil {
			return "", fmt.Errorf("logging decay: %w", err)
		}
		if s.cfg.Verbose {
			log.Printf("[ANALYZE] entity %s decayed %d channels (tier=%s inactive=%s)",
				entity.ID, len(dres.Changes), tier, inactive.Round(time.Minute))
		}
		vec = decayed
		crossings = dres.Crossings
		outcome.DecayedChannels = len(dres.Changes)

		// Long analyses should not look abandoned to a concurrent pass.
		if err := s.store.Heartbeat(job.ID); err != nil {
			return "", fmt.Errorf("heartbeat: %w", err)
		}
	}

	tctx, err := s.buildTriggerContext(entity, sess, vec, crossings, inactive, now)
	if err != nil {
		return "", err
	}

	winner, ok := trigger.Winner(trigger.Analyze(tctx))
	if !ok {
		return outcome.String(), nil
	}
	outcome.TriggerType = string(winner.Type)
	outcome.TriggerSubtype = winner.Subtype
	outcome.Strength = winner.Strength
	outcome.Sensitivity = settings.Sensitivity(string(winner.Type))

	if winner.Strength < outcome.Sensitivity {
		outcome.Outcome = "below_sensitivity"
		return outcome.String(), nil
	}

	// Pre-generation cap check saves a generation call; delivery re-checks.
	delivered, err := s.store.DeliveredSince(entity.ID, now.Add(-24*time.Hour))
	if err != nil {
		return "", fmt.Errorf("checking daily cap: %w", err)
	}
	if delivered >= settings.MaxMessagesPerDay {
		outcome.Outcome = "daily_cap_reached"
		return outcome.String(), nil
	}

	text, usedFallback := s.generateMessage(ctx, entity, winner)
	outcome.Fallback = usedFallback

	delay := s.deliveryDelay(winner)
	scheduledFor := now.Add(delay)
	msgID, err := s.store.CreateProactiveMessage(store.ProactiveMessage{
		EntityID:        entity.ID,
		TriggerType:     string(winner.Type),
		TriggerSubtype:  winner.Subtype,
		TriggerDetails:  winner.Details,
		TriggerStrength: winner.Strength,
		MessageText:     text,
		Tone:            winner.Tone,
		ScheduledFor:    scheduledFor,
		ExpiresAt:       scheduledFor.Add(MessageTTL),
	})
	if err != nil {
		return "", fmt.Errorf("creating proactive message: %w", err)
	}

	if err := s.consumeTrigger(entity.ID, winner, tctx); err != nil {
		return "", err
	}

	outcome.Outcome = "message_scheduled"
	outcome.MessageID = msgID
	outcome.ScheduledFor = scheduledFor.UTC().Format(time.RFC3339)
	log.Printf("[ANALYZE] entity %s trigger %s/%s strength=%.2f message %s in %s",
		entity.ID, winner.Type, winner.Subtype, winner.Strength, msgID, delay.Round(time.Second))
	return outcome.String(), nil
}

// buildTriggerContext gathers every detector input from storage. Plain
// values in, so the analysis itself stays deterministic.
func (s *Scheduler) buildTriggerContext(entity store.Entity, sess store.Session, vec affect.Vector,
	crossings []affect.Crossing, inactive time.Duration, now time.Time) (trigger.Context, error) {

	tctx := trigger.Context{
		EntityID:         entity.ID,
		Now:              now,
		Affect:           vec,
		Crossings:        crossings,
		Samples:          make(map[affect.Channel][]float64),
		InactiveFor:      inactive,
		LastIntensity:    sess.LastIntensity,
		OpenQuestion:     sess.OpenQuestion,
		OpenQuestionText: sess.OpenQuestionText,
	}
	window := now.Add(-24 * time.Hour)

	for _, ch := range []affect.Channel{affect.Loneliness, affect.Sadness, affect.Anxiety} {
		samples, err := s.store.ChannelSamples(sess.ID, string(ch), window)
		if err != nil {
			return tctx, fmt.Errorf("loading %s samples: %w", ch, err)
		}
		tctx.Samples[ch] = samples
	}

	backlog, err := s.store.CountUnprocessed(entity.ID)
	if err != nil {
		return tctx, fmt.Errorf("counting backlog: %w", err)
	}
	tctx.SocialBacklog = backlog

	conflicts, err := s.store.UnresolvedConflicts(entity.ID, now.Add(-trigger.ConflictFreshness))
	if err != nil {
		return tctx, fmt.Errorf("loading conflicts: %w", err)
	}
	for _, c := range conflicts {
		tctx.Conflicts = append(tctx.Conflicts, trigger.Conflict{Summary: c.Summary, Age: now.Sub(c.CreatedAt)})
	}

	events, err := s.store.UnmentionedEvents(entity.ID, trigger.EventMinImportance)
	if err != nil {
		return tctx, fmt.Errorf("loading events: %w", err)
	}
	for _, e := range events {
		tctx.Events = append(tctx.Events, trigger.Event{ID: e.ID, Summary: e.Summary, Importance: e.Importance})
	}

	recent, err := s.store.CountTimelineSince(entity.ID, window)
	if err != nil {
		return tctx, fmt.Errorf("counting recent messages: %w", err)
	}
	tctx.RecentMessages = recent

	ageDays := now.Sub(entity.RelationshipStartedAt).Hours() / 24
	if ageDays >= 1 {
		tctx.TypicalMessages = float64(entity.MessageCount) / ageDays
	}

	unusual, err := s.store.CountUnusualHourMessages(entity.ID, window)
	if err != nil {
		return tctx, fmt.Errorf("counting unusual-hour messages: %w", err)
	}
	tctx.UnusualHourMsgs = unusual

	return tctx, nil
}

// generateMessage asks the provider chain for the message text, falling
// back to a static line so a dead backend never loses the trigger.
func (s *Scheduler) generateMessage(ctx context.Context, entity store.Entity, winner trigger.Trigger) (string, bool) {
	p := persona.DefaultPersona
	if s.personas != nil {
		p = s.personas.Get(entity.PersonaKey)
	}
	system, messages := persona.BuildPrompt(p, entity.Name, winner)

	if s.provider != nil {
		gctx, cancel := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
		defer cancel()
		text, err := s.provider.Generate(gctx, system, messages, s.cfg.GenerateTokens)
		if err == nil && text != "" {
			return text, false
		}
		log.Printf("[ANALYZE] generation failed for entity %s, using fallback: %v", entity.ID, err)
	}
	return ai.FallbackText(string(winner.Type), winner.Subtype), true
}

// consumeTrigger marks the social state a winning trigger was built from so
// the same backlog doesn't fire again next pass.
func (s *Scheduler) consumeTrigger(entityID string, winner trigger.Trigger, tctx trigger.Context) error {
	if winner.Type != trigger.Social {
		return nil
	}
	switch winner.Subtype {
	case "unprocessed_interactions":
		if err := s.store.MarkProcessed(entityID); err != nil {
			return fmt.Errorf("marking interactions processed: %w", err)
		}
	case "unmentioned_event":
		// Events arrive importance-sorted; the winner is the strongest one.
		if len(tctx.Events) > 0 {
			if err := s.store.MarkMentioned(tctx.Events[0].ID); err != nil {
				return fmt.Errorf("marking event mentioned: %w", err)
			}
		}
	}
	return nil
}

// deliveryDelay converts trigger urgency into a humanlike wait. Strong
// emotional triggers go out near-immediately; weak check-ins drift toward
// the four-hour ceiling. ±20% jitter keeps timings from looking mechanical.
func (s *Scheduler) deliveryDelay(tr trigger.Trigger) time.Duration {
	if tr.Type == trigger.Emotional && tr.Strength > 0.8 {
		return UrgentDelay
	}
	urgency := tr.Strength
	switch tr.Priority {
	case trigger.PriorityHigh:
		urgency += 0.15
	case trigger.PriorityLow:
		urgency -= 0.15
	}
	if urgency < 0 {
		urgency = 0
	}
	if urgency > 1 {
		urgency = 1
	}
	base := MinDeliveryDelay + time.Duration((1-urgency)*float64(MaxDeliveryDelay-MinDeliveryDelay))
	jittered := time.Duration(float64(base) * (1 + 0.2*s.jitter()))
	if jittered < MinDeliveryDelay {
		jittered = MinDeliveryDelay
	}
	if jittered > MaxDeliveryDelay {
		jittered = MaxDeliveryDelay
	}
	return jittered
}

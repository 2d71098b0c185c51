package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/keshon/pulse/internal/affect"
	"github.com/keshon/pulse/internal/ai"
	"github.com/keshon/pulse/internal/store"
	"github.com/keshon/pulse/internal/trigger"
)

type stubProvider struct {
	reply string
	err   error
	calls int
}

func (p *stubProvider) Generate(ctx context.Context, system string, messages []ai.Message, maxTokens int) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func newTestScheduler(t *testing.T, provider ai.Provider, cfg Config) (*Scheduler, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if cfg.WorkerID == "" {
		cfg.WorkerID = "test-worker"
	}
	s := New(st, nil, provider, cfg)
	s.SetRand(rand.New(rand.NewSource(42)))
	return s, st
}

func seedEntity(t *testing.T, st *store.Store, lastActive time.Time) string {
	t.Helper()
	id, err := st.CreateEntity(store.Entity{
		Name:                  "sam",
		Active:                true,
		MessageCount:          120,
		RelationshipStartedAt: time.Now().Add(-90 * 24 * time.Hour),
		LastActiveAt:          lastActive,
	})
	if err != nil {
		t.Fatalf("creating entity: %v", err)
	}
	return id
}

func seedDueMessage(t *testing.T, st *store.Store, entityID string) string {
	t.Helper()
	now := time.Now()
	id, err := st.CreateProactiveMessage(store.ProactiveMessage{
		EntityID:       entityID,
		TriggerType:    "emotional",
		TriggerSubtype: "loneliness",
		MessageText:    "thinking of you",
		ScheduledFor:   now.Add(-time.Minute),
		ExpiresAt:      now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("creating message: %v", err)
	}
	return id
}

func TestRunPassEmptyStore(t *testing.T) {
	s, _ := newTestScheduler(t, &stubProvider{reply: "hi"}, Config{ScheduleNew: false})
	res, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if res != (PassResult{}) {
		t.Fatalf("empty store produced work: %+v", res)
	}
}

func TestRunPassDeliversDueMessage(t *testing.T) {
	s, st := newTestScheduler(t, &stubProvider{reply: "hi"}, Config{ScheduleNew: false})
	eid := seedEntity(t, st, time.Now().Add(-time.Hour))
	mid := seedDueMessage(t, st, eid)

	res, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if res.Delivered != 1 {
		t.Fatalf("expected 1 delivered, got %+v", res)
	}

	msg, err := st.GetProactiveMessage(mid)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if msg.Status != store.MessageSent {
		t.Fatalf("expected sent, got %s", msg.Status)
	}
	n, err := st.CountTimelineSince(eid, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("count timeline: %v", err)
	}
	if n != 1 {
		t.Fatalf("delivery did not land in the timeline: %d rows", n)
	}
}

func TestRunPassHonorsDailyCap(t *testing.T) {
	s, st := newTestScheduler(t, &stubProvider{reply: "hi"}, Config{ScheduleNew: false})
	eid := seedEntity(t, st, time.Now().Add(-time.Hour))
	if err := st.SaveSettings(store.Settings{EntityID: eid, MaxMessagesPerDay: 1}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	seedDueMessage(t, st, eid)
	seedDueMessage(t, st, eid)

	res, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if res.Delivered != 1 || res.Suppressed != 1 {
		t.Fatalf("expected 1 delivered / 1 suppressed, got %+v", res)
	}
}

func TestRunPassExpiresOverdue(t *testing.T) {
	s, st := newTestScheduler(t, &stubProvider{reply: "hi"}, Config{ScheduleNew: false})
	eid := seedEntity(t, st, time.Now().Add(-time.Hour))
	now := time.Now()
	if _, err := st.CreateProactiveMessage(store.ProactiveMessage{
		EntityID:     eid,
		TriggerType:  "temporal",
		MessageText:  "too late",
		ScheduledFor: now.Add(-26 * time.Hour),
		ExpiresAt:    now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("creating message: %v", err)
	}

	res, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if res.Expired != 1 || res.Delivered != 0 {
		t.Fatalf("expected 1 expired and none delivered, got %+v", res)
	}
}

func TestRunPassSchedulesAnalysisAndCleanup(t *testing.T) {
	s, st := newTestScheduler(t, &stubProvider{reply: "hi"}, Config{
		ScheduleNew:    true,
		MaxJobs:        0, // default
		ScheduleWindow: time.Hour,
	})
	eid := seedEntity(t, st, time.Now().Add(-time.Hour))

	res, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	// One analysis job for the entity plus the daily cleanup job.
	if res.Scheduled != 2 {
		t.Fatalf("expected 2 scheduled, got %+v", res)
	}
	has, err := st.HasActiveJob(store.JobTypeAnalysis, "entity", eid)
	if err != nil {
		t.Fatalf("has active: %v", err)
	}
	if !has {
		t.Fatal("analysis job not enqueued")
	}

	// A second pass must not duplicate either job.
	res, err = s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if res.Scheduled != 0 {
		t.Fatalf("duplicate scheduling: %+v", res)
	}
}

func TestCleanupDedupUsesUTCDay(t *testing.T) {
	s, _ := newTestScheduler(t, &stubProvider{reply: "hi"}, Config{
		ScheduleNew:    true,
		ScheduleWindow: time.Hour,
	})
	// A host clock far ahead of UTC must not shift the once-per-day boundary
	// past the UTC timestamps jobs are created with.
	east := time.FixedZone("UTC+14", 14*3600)
	s.SetNow(func() time.Time { return time.Now().In(east) })

	res, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if res.Scheduled != 1 {
		t.Fatalf("expected only the cleanup job, got %+v", res)
	}

	res, err = s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if res.Scheduled != 0 {
		t.Fatalf("cleanup enqueued twice in one day: %+v", res)
	}
}

func TestAnalysisJobSchedulesMessage(t *testing.T) {
	provider := &stubProvider{reply: "hey, I missed you"}
	s, st := newTestScheduler(t, provider, Config{ScheduleNew: false})

	eid := seedEntity(t, st, time.Now().Add(-3*24*time.Hour))
	sess, err := st.GetOrCreateSession(eid)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	vec := affect.NewVector()
	vec.Set(affect.Loneliness, 0.9)
	if err := st.SaveAffect(sess.ID, vec.ToJSON(), time.Now().Add(-24*time.Hour)); err != nil {
		t.Fatalf("saving affect: %v", err)
	}
	jobID, err := st.EnqueueJob(store.Job{Type: store.JobTypeAnalysis, TargetType: "entity", TargetID: eid})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	res, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if res.Processed != 1 || res.Failed != 0 {
		t.Fatalf("expected 1 processed, got %+v", res)
	}
	if provider.calls != 1 {
		t.Fatalf("expected 1 generation call, got %d", provider.calls)
	}

	job, err := st.GetJob(jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != store.JobCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if !strings.Contains(job.Result, "message_scheduled") {
		t.Fatalf("unexpected result: %s", job.Result)
	}

	// The message exists, carries the generated text, and waits for its
	// natural delivery time instead of going out immediately.
	due, err := st.DueMessages(time.Now().Add(5 * time.Hour))
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 scheduled message, got %d", len(due))
	}
	if due[0].MessageText != "hey, I missed you" {
		t.Fatalf("unexpected text: %q", due[0].MessageText)
	}
	if !due[0].ScheduledFor.After(time.Now().Add(30 * time.Second)) {
		t.Fatalf("message scheduled too soon: %v", due[0].ScheduledFor)
	}

	// Decay ran: the session's affect timestamp advanced and changes were
	// logged for the sample window.
	got, _ := st.GetOrCreateSession(eid)
	if !got.AffectUpdatedAt.After(time.Now().Add(-time.Hour)) {
		t.Fatalf("affect not refreshed: %v", got.AffectUpdatedAt)
	}
}

func TestAnalysisBelowSensitivity(t *testing.T) {
	provider := &stubProvider{reply: "should never be called"}
	s, st := newTestScheduler(t, provider, Config{ScheduleNew: false})

	// Recently active and recently updated: no decay, no crossings. The only
	// candidate is the loneliness threshold at 0.9, gated out at 0.95.
	eid := seedEntity(t, st, time.Now().Add(-time.Hour))
	sess, _ := st.GetOrCreateSession(eid)
	vec := affect.NewVector()
	vec.Set(affect.Loneliness, 0.9)
	if err := st.SaveAffect(sess.ID, vec.ToJSON(), time.Now()); err != nil {
		t.Fatalf("saving affect: %v", err)
	}
	if err := st.SaveSettings(store.Settings{
		EntityID:          eid,
		Sensitivities:     map[string]float64{"emotional": 0.95},
		MaxMessagesPerDay: 3,
		AnalysisCooldown:  4 * time.Hour,
	}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	jobID, _ := st.EnqueueJob(store.Job{Type: store.JobTypeAnalysis, TargetType: "entity", TargetID: eid})

	res, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("expected 1 processed, got %+v", res)
	}
	if provider.calls != 0 {
		t.Fatal("generation called for a gated trigger")
	}

	job, _ := st.GetJob(jobID)
	if !strings.Contains(job.Result, "below_sensitivity") {
		t.Fatalf("unexpected result: %s", job.Result)
	}
	due, _ := st.DueMessages(time.Now().Add(24 * time.Hour))
	if len(due) != 0 {
		t.Fatalf("gated trigger produced a message: %+v", due)
	}
}

func TestAnalysisFallsBackOnGenerationFailure(t *testing.T) {
	provider := &stubProvider{err: errors.New("backend down")}
	s, st := newTestScheduler(t, provider, Config{ScheduleNew: false})

	eid := seedEntity(t, st, time.Now().Add(-time.Hour))
	sess, _ := st.GetOrCreateSession(eid)
	vec := affect.NewVector()
	vec.Set(affect.Loneliness, 0.9)
	if err := st.SaveAffect(sess.ID, vec.ToJSON(), time.Now()); err != nil {
		t.Fatalf("saving affect: %v", err)
	}
	if _, err := st.EnqueueJob(store.Job{Type: store.JobTypeAnalysis, TargetType: "entity", TargetID: eid}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	res, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if res.Processed != 1 || res.Failed != 0 {
		t.Fatalf("generation failure must not fail the job: %+v", res)
	}

	due, _ := st.DueMessages(time.Now().Add(5 * time.Hour))
	if len(due) != 1 {
		t.Fatalf("expected a fallback message, got %d", len(due))
	}
	if due[0].MessageText != ai.FallbackText("emotional", "loneliness") {
		t.Fatalf("expected static fallback text, got %q", due[0].MessageText)
	}
}

func TestAnalysisConsumesSocialBacklog(t *testing.T) {
	provider := &stubProvider{reply: "tell me everything"}
	s, st := newTestScheduler(t, provider, Config{ScheduleNew: false})

	eid := seedEntity(t, st, time.Now().Add(-time.Hour))
	sess, _ := st.GetOrCreateSession(eid)
	if err := st.SaveAffect(sess.ID, affect.NewVector().ToJSON(), time.Now()); err != nil {
		t.Fatalf("saving affect: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := st.AddSocialItem(store.SocialItem{EntityID: eid, Kind: store.SocialInteraction, Summary: "chat"}); err != nil {
			t.Fatalf("social item: %v", err)
		}
	}
	if _, err := st.EnqueueJob(store.Job{Type: store.JobTypeAnalysis, TargetType: "entity", TargetID: eid}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	res, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("expected 1 processed, got %+v", res)
	}

	// The winning backlog trigger consumed its interactions.
	n, err := st.CountUnprocessed(eid)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("backlog not consumed: %d left", n)
	}
}

func TestUnknownJobTypeFails(t *testing.T) {
	s, st := newTestScheduler(t, &stubProvider{reply: "hi"}, Config{ScheduleNew: false})
	jobID, err := st.EnqueueJob(store.Job{Type: "mystery", MaxAttempts: 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	res, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass must survive a bad job: %v", err)
	}
	if res.Failed != 1 || res.Processed != 0 {
		t.Fatalf("expected 1 failed, got %+v", res)
	}
	job, _ := st.GetJob(jobID)
	if job.Status != store.JobFailed {
		t.Fatalf("expected terminal failure, got %s", job.Status)
	}
	if !strings.Contains(job.LastError, "unknown job type") {
		t.Fatalf("unexpected error: %q", job.LastError)
	}
}

func TestRunPassRespectsMaxJobs(t *testing.T) {
	s, st := newTestScheduler(t, &stubProvider{reply: "hi"}, Config{ScheduleNew: false, MaxJobs: 2})
	for i := 0; i < 3; i++ {
		if _, err := st.EnqueueJob(store.Job{Type: store.JobTypeCleanup}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	res, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if res.Processed != 2 {
		t.Fatalf("expected 2 processed under the job budget, got %+v", res)
	}
	stats, _ := st.Stats()
	if stats.Pending != 1 {
		t.Fatalf("expected 1 job left for the next pass, got %+v", stats)
	}
}

func TestCleanupJob(t *testing.T) {
	s, st := newTestScheduler(t, &stubProvider{reply: "hi"}, Config{ScheduleNew: false})

	if err := st.AppendDecayEntries([]store.DecayEntry{{
		SessionID: "s1", EntityID: "e1", Channel: "loneliness",
		OldValue: 0.5, NewValue: 0.6, AppliedAt: time.Now().Add(-40 * 24 * time.Hour),
	}}); err != nil {
		t.Fatalf("decay entry: %v", err)
	}
	jobID, _ := st.EnqueueJob(store.Job{Type: store.JobTypeCleanup})

	res, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("expected 1 processed, got %+v", res)
	}
	job, _ := st.GetJob(jobID)
	if !strings.Contains(job.Result, `"pruned_decay_rows":1`) {
		t.Fatalf("old decay rows not pruned: %s", job.Result)
	}

	samples, _ := st.ChannelSamples("s1", "loneliness", time.Now().Add(-90*24*time.Hour))
	if len(samples) != 0 {
		t.Fatalf("expected pruned log, got %d samples", len(samples))
	}
}

func TestDeliveryDelayBounds(t *testing.T) {
	s, _ := newTestScheduler(t, &stubProvider{reply: "hi"}, Config{ScheduleNew: false})

	urgent := trigger.Trigger{Type: trigger.Emotional, Subtype: "loneliness", Strength: 0.95, Priority: trigger.PriorityHigh}
	if got := s.deliveryDelay(urgent); got != UrgentDelay {
		t.Fatalf("urgent emotional trigger should use the fast path, got %v", got)
	}

	cases := []trigger.Trigger{
		{Type: trigger.Emotional, Strength: 0.7, Priority: trigger.PriorityMedium},
		{Type: trigger.Social, Strength: 0.9, Priority: trigger.PriorityHigh},
		{Type: trigger.Temporal, Strength: 0.3, Priority: trigger.PriorityLow},
		{Type: trigger.Contextual, Strength: 0.0, Priority: trigger.PriorityLow},
		{Type: trigger.Social, Strength: 1.0, Priority: trigger.PriorityHigh},
	}
	for _, tr := range cases {
		for i := 0; i < 50; i++ {
			got := s.deliveryDelay(tr)
			if got < MinDeliveryDelay || got > MaxDeliveryDelay {
				t.Fatalf("delay out of bounds for %+v: %v", tr, got)
			}
		}
	}

	// Stronger triggers deliver sooner on average.
	var weak, strong time.Duration
	weakTr := trigger.Trigger{Type: trigger.Temporal, Strength: 0.3, Priority: trigger.PriorityLow}
	strongTr := trigger.Trigger{Type: trigger.Social, Strength: 0.9, Priority: trigger.PriorityHigh}
	for i := 0; i < 200; i++ {
		weak += s.deliveryDelay(weakTr)
		strong += s.deliveryDelay(strongTr)
	}
	if strong >= weak {
		t.Fatalf("urgency did not shorten delay: strong=%v weak=%v", strong, weak)
	}
}

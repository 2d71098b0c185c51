package scheduler

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/keshon/pulse/internal/ai"
	"github.com/keshon/pulse/internal/persona"
	"github.com/keshon/pulse/internal/store"
)

// Config bounds one scheduling pass.
type Config struct {
	WorkerID        string
	MaxJobs         int
	MaxRunTime      time.Duration
	ScheduleNew     bool
	Verbose         bool
	StuckTimeout    time.Duration // heartbeat staleness before recovery
	ScheduleWindow  time.Duration // randomized execute_after spread
	ActiveWindow    time.Duration // how recently an entity must have been used
	GenerateTimeout time.Duration
	GenerateTokens  int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	host, _ := os.Hostname()
	return Config{
		WorkerID:        fmt.Sprintf("%s-%d", host, os.Getpid()),
		MaxJobs:         25,
		MaxRunTime:      300 * time.Second,
		ScheduleNew:     true,
		StuckTimeout:    10 * time.Minute,
		ScheduleWindow:  30 * time.Minute,
		ActiveWindow:    7 * 24 * time.Hour,
		GenerateTimeout: 30 * time.Second,
		GenerateTokens:  220,
	}
}

// PassResult aggregates what one pass did. Per-job failures are counted,
// never raised.
type PassResult struct {
	Recovered  int `json:"recovered"`
	Scheduled  int `json:"scheduled"`
	Processed  int `json:"processed"`
	Failed     int `json:"failed"`
	Delivered  int `json:"delivered"`
	Suppressed int `json:"suppressed"`
	Expired    int `json:"expired"`
}

// Scheduler runs scheduling passes: recover stuck work, enqueue fresh
// analysis jobs, deliver due messages, then claim and execute due jobs.
// Invoked externally at a fixed cadence; overlapping invocations are safe
// because claims are serialized in the job store.
type Scheduler struct {
	store    *store.Store
	personas *persona.Store
	provider ai.Provider
	cfg      Config
	rnd      *rand.Rand
	now      func() time.Time
}

// New creates a Scheduler. Zero-value config fields fall back to defaults.
func New(st *store.Store, personas *persona.Store, provider ai.Provider, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.WorkerID == "" {
		cfg.WorkerID = def.WorkerID
	}
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = def.MaxJobs
	}
	if cfg.MaxRunTime <= 0 {
		cfg.MaxRunTime = def.MaxRunTime
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = def.StuckTimeout
	}
	if cfg.ScheduleWindow <= 0 {
		cfg.ScheduleWindow = def.ScheduleWindow
	}
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = def.ActiveWindow
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = def.GenerateTimeout
	}
	if cfg.GenerateTokens <= 0 {
		cfg.GenerateTokens = def.GenerateTokens
	}
	return &Scheduler{
		store:    st,
		personas: personas,
		provider: provider,
		cfg:      cfg,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// SetRand replaces the jitter source. Seed it for deterministic tests.
func (s *Scheduler) SetRand(r *rand.Rand) { s.rnd = r }

// SetNow replaces the clock. For tests.
func (s *Scheduler) SetNow(now func() time.Time) { s.now = now }

// jitter returns a value in [-1, 1).
func (s *Scheduler) jitter() float64 {
	return s.rnd.Float64()*2 - 1
}

// RunPass executes one scheduling pass. Only storage-layer failures abort
// and surface; everything inside a job is contained and counted.
func (s *Scheduler) RunPass(ctx context.Context) (PassResult, error) {
	var res PassResult
	start := s.now()

	recovered, err := s.store.RecoverStuck(s.cfg.StuckTimeout)
	if err != nil {
		return res, fmt.Errorf("recovering stuck jobs: %w", err)
	}
	res.Recovered = recovered
	if recovered > 0 {
		log.Printf("[SCHED] recovered %d stuck jobs", recovered)
	}

	expired, err := s.store.ExpireOverdue(start)
	if err != nil {
		return res, fmt.Errorf("expiring messages: %w", err)
	}
	res.Expired = expired

	delivered, suppressed, err := s.deliverDue(start)
	if err != nil {
		return res, fmt.Errorf("delivering due messages: %w", err)
	}
	res.Delivered = delivered
	res.Suppressed = suppressed

	if s.cfg.ScheduleNew {
		scheduled, err := s.scheduleAnalysis(start)
		if err != nil {
			return res, fmt.Errorf("scheduling analysis jobs: %w", err)
		}
		res.Scheduled = scheduled
	}

	deadline := start.Add(s.cfg.MaxRunTime)
	for res.Processed+res.Failed < s.cfg.MaxJobs {
		if !s.now().Before(deadline) {
			log.Printf("[SCHED] run time budget hit after %d jobs", res.Processed+res.Failed)
			break
		}
		job, err := s.store.ClaimNext(s.cfg.WorkerID)
		if err != nil {
			return res, fmt.Errorf("claiming job: %w", err)
		}
		if job == nil {
			break
		}

		result, execErr := s.execute(ctx, job)
		if execErr != nil {
			log.Printf("[SCHED] job %s (%s) failed: %v", job.ID, job.Type, execErr)
			if failErr := s.store.FailJob(job.ID, execErr.Error()); failErr != nil {
				return res, fmt.Errorf("marking job failed: %w", failErr)
			}
			res.Failed++
			continue
		}
		if err := s.store.CompleteJob(job.ID, result); err != nil {
			return res, fmt.Errorf("completing job %s: %w", job.ID, err)
		}
		res.Processed++
	}

	if s.cfg.Verbose {
		log.Printf("[SCHED] pass done recovered=%d scheduled=%d processed=%d failed=%d delivered=%d suppressed=%d expired=%d",
			res.Recovered, res.Scheduled, res.Processed, res.Failed, res.Delivered, res.Suppressed, res.Expired)
	}
	return res, nil
}

// execute dispatches one claimed job. Panics are contained and reported as
// the job's failure reason.
func (s *Scheduler) execute(ctx context.Context, job *store.Job) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch job.Type {
	case store.JobTypeAnalysis:
		return s.executeAnalysis(ctx, job)
	case store.JobTypeCleanup:
		return s.executeCleanup(job)
	default:
		return "", fmt.Errorf("unknown job type %q", job.Type)
	}
}

// deliverDue sends pending messages whose time has come, honoring each
// entity's daily cap. Capped messages are left pending; expiry will claim
// them eventually. Suppression is expected steady-state, not an error.
func (s *Scheduler) deliverDue(now time.Time) (delivered, suppressed int, err error) {
	due, err := s.store.DueMessages(now)
	if err != nil {
		return 0, 0, err
	}
	for _, m := range due {
		settings, err := s.store.GetSettings(m.EntityID)
		if err != nil {
			return delivered, suppressed, err
		}
		count, err := s.store.DeliveredSince(m.EntityID, now.Add(-24*time.Hour))
		if err != nil {
			return delivered, suppressed, err
		}
		if count >= settings.MaxMessagesPerDay {
			suppressed++
			continue
		}
		sess, err := s.store.GetOrCreateSession(m.EntityID)
		if err != nil {
			return delivered, suppressed, err
		}
		if _, err := s.store.AppendTimeline(sess.ID, m.EntityID, "assistant", m.MessageText); err != nil {
			return delivered, suppressed, err
		}
		if err := s.store.MarkSent(m.ID, now); err != nil {
			return delivered, suppressed, err
		}
		log.Printf("[SCHED] delivered proactive message %s to entity %s (%s/%s)",
			m.ID, m.EntityID, m.TriggerType, m.TriggerSubtype)
		delivered++
	}
	return delivered, suppressed, nil
}

// scheduleAnalysis enqueues analysis jobs for active entities that lack one
// and are outside their cooldown, spreading execute_after across the
// schedule window so overlapping invocations don't stampede. Also enqueues
// the once-per-day cleanup job.
func (s *Scheduler) scheduleAnalysis(now time.Time) (int, error) {
	entities, err := s.store.ListActiveEntities(now.Add(-s.cfg.ActiveWindow))
	if err != nil {
		return 0, err
	}
	scheduled := 0
	for _, e := range entities {
		active, err := s.store.HasActiveJob(store.JobTypeAnalysis, "entity", e.ID)
		if err != nil {
			return scheduled, err
		}
		if active {
			continue
		}
		settings, err := s.store.GetSettings(e.ID)
		if err != nil {
			return scheduled, err
		}
		last, err := s.store.LastCompletedAt(store.JobTypeAnalysis, "entity", e.ID)
		if err != nil {
			return scheduled, err
		}
		if !last.IsZero() && now.Sub(last) < settings.AnalysisCooldown {
			continue
		}
		delay := time.Duration(s.rnd.Int63n(int64(s.cfg.ScheduleWindow)))
		if _, err := s.store.EnqueueJob(store.Job{
			Type:         store.JobTypeAnalysis,
			TargetType:   "entity",
			TargetID:     e.ID,
			Priority:     store.PriorityMedium,
			ExecuteAfter: now.Add(delay),
		}); err != nil {
			return scheduled, err
		}
		scheduled++
	}

	// created_at is stored in UTC, so the once-per-day boundary must come
	// from the UTC calendar date regardless of the host zone.
	utcNow := now.UTC()
	dayStart := time.Date(utcNow.Year(), utcNow.Month(), utcNow.Day(), 0, 0, 0, 0, time.UTC)
	haveCleanup, err := s.store.HasJobCreatedSince(store.JobTypeCleanup, dayStart)
	if err != nil {
		return scheduled, err
	}
	if !haveCleanup {
		if _, err := s.store.EnqueueJob(store.Job{
			Type:     store.JobTypeCleanup,
			Priority: store.PriorityLow,
		}); err != nil {
			return scheduled, err
		}
		scheduled++
	}
	return scheduled, nil
}

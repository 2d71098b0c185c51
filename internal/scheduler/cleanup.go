package scheduler

import (
	"encoding/json"
	"log"
	"time"

	"github.com/keshon/pulse/internal/store"
)

// Retention windows for the daily cleanup job.
const (
	DecayLogRetention     = 30 * 24 * time.Hour
	CompletedJobRetention = 14 * 24 * time.Hour
)

// executeCleanup prunes aged rows: expired messages are flipped first so
// their final status is recorded before any counting, then the decay log and
// completed jobs are trimmed to their retention windows.
func (s *Scheduler) executeCleanup(job *store.Job) (string, error) {
	now := s.now()

	expired, err := s.store.ExpireOverdue(now)
	if err != nil {
		return "", err
	}
	prunedLog, err := s.store.PruneDecayLog(now.Add(-DecayLogRetention))
	if err != nil {
		return "", err
	}
	prunedJobs, err := s.store.PruneCompletedJobs(now.Add(-CompletedJobRetention))
	if err != nil {
		return "", err
	}

	if s.cfg.Verbose {
		log.Printf("[CLEANUP] expired=%d decay_log=%d jobs=%d", expired, prunedLog, prunedJobs)
	}
	b, _ := json.Marshal(map[string]int{
		"expired_messages":  expired,
		"pruned_decay_rows": prunedLog,
		"pruned_done_jobs":  prunedJobs,
	})
	return string(b), nil
}

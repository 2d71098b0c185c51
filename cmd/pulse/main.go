package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/keshon/pulse/internal/ai"
	"github.com/keshon/pulse/internal/config"
	"github.com/keshon/pulse/internal/persona"
	"github.com/keshon/pulse/internal/scheduler"
	"github.com/keshon/pulse/internal/store"
)

var (
	flagMaxJobs     int
	flagMaxRunTime  time.Duration
	flagScheduleNew bool
	flagVerbose     bool
)

func main() {
	root := &cobra.Command{
		Use:   "pulse",
		Short: "Run one proactive scheduling pass",
		Long: `Pulse recovers stuck jobs, schedules analysis work for active entities,
executes due jobs and delivers proactive messages whose time has come.
Invoke it on a fixed cadence (cron or similar); one invocation is one pass.`,
		RunE:          runPass,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Flags().IntVar(&flagMaxJobs, "max-jobs", 25, "maximum jobs to execute in this pass")
	root.Flags().DurationVar(&flagMaxRunTime, "max-run-time", 300*time.Second, "wall clock budget for the pass")
	root.Flags().BoolVar(&flagScheduleNew, "schedule-new", true, "enqueue new analysis jobs for active entities")
	root.Flags().BoolVar(&flagVerbose, "verbose", false, "log per-step detail and print the pass summary")

	if err := root.Execute(); err != nil {
		log.Printf("[MAIN] pass failed: %v", err)
		os.Exit(1)
	}
}

func runPass(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	st.SetSettingsDefaults(cfg.DefaultDailyCap, cfg.AnalysisCooldown)

	personas, err := persona.Open(cfg.PersonaPath)
	if err != nil {
		return fmt.Errorf("opening persona store: %w", err)
	}
	defer personas.Close()

	chain, err := ai.NewChain(cfg.AIEngine, cfg.AIFallbackEngine)
	if err != nil {
		return fmt.Errorf("building AI chain: %w", err)
	}
	provider := &ai.Limited{
		Provider: chain,
		Limiter:  ai.NewAdaptiveLimiter(2, 1, 10, rate.Limit(0.5), 0.5),
	}

	sched := scheduler.New(st, personas, provider, scheduler.Config{
		MaxJobs:         flagMaxJobs,
		MaxRunTime:      flagMaxRunTime,
		ScheduleNew:     flagScheduleNew,
		Verbose:         flagVerbose,
		StuckTimeout:    cfg.StuckJobTimeout,
		ScheduleWindow:  cfg.ScheduleWindow,
		ActiveWindow:    cfg.ActiveWindow,
		GenerateTimeout: cfg.GenerateTimeout,
		GenerateTokens:  cfg.GenerateTokens,
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), flagMaxRunTime+time.Minute)
	defer cancel()

	res, err := sched.RunPass(ctx)
	if err != nil {
		return err
	}
	if flagVerbose {
		b, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(b))
	}
	return nil
}

// Package scheduler drives Core's background jobs (liveness sweep, threat
// intel refresh, database backup) on a single cron instance.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Runner registers named jobs and runs them on their schedules. Every run
// is wrapped with panic recovery so one misbehaving job cannot take its
// siblings down with it.
type Runner struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu      sync.Mutex
	lastRun map[string]time.Time
}

// NewRunner creates an idle runner
func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{
		cron:    cron.New(),
		log:     log.With().Str("component", "scheduler").Logger(),
		lastRun: make(map[string]time.Time),
	}
}

// Every schedules fn at a fixed interval
func (r *Runner) Every(interval time.Duration, name string, fn func() error) error {
	return r.At(fmt.Sprintf("@every %s", interval), name, fn)
}

// At schedules fn with a cron expression (five-field or @-descriptor)
func (r *Runner) At(spec, name string, fn func() error) error {
	_, err := r.cron.AddFunc(spec, func() { r.run(name, fn) })
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	r.log.Info().Str("job", name).Str("spec", spec).Msg("Job scheduled")
	return nil
}

// run executes one job invocation with recovery and timing
func (r *Runner) run(name string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("job", name).Interface("panic", p).Msg("Job panicked")
		}
	}()

	started := time.Now()
	err := fn()

	r.mu.Lock()
	r.lastRun[name] = started
	r.mu.Unlock()

	if err != nil {
		r.log.Error().Err(err).Str("job", name).Dur("took", time.Since(started)).Msg("Job failed")
		return
	}
	r.log.Debug().Str("job", name).Dur("took", time.Since(started)).Msg("Job finished")
}

// LastRun reports when a job last started, if it has run at all
func (r *Runner) LastRun(name string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.lastRun[name]
	return at, ok
}

// Start begins firing schedules
func (r *Runner) Start() {
	r.cron.Start()
	r.log.Info().Msg("Scheduler started")
}

// Shutdown stops firing and waits for in-flight jobs to finish
func (r *Runner) Shutdown() {
	<-r.cron.Stop().Done()
	r.log.Info().Msg("Scheduler stopped")
}

// Package retention periodically prunes the evaluation history.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/lemonberrylabs/mexpr/pkg/store"
	"github.com/tevino/abool/v2"
)

// ErrRunning is returned by RunOnce while another run is in progress.
var ErrRunning = errors.New("retention run already in progress")

// Purger is implemented by histories that soft-delete on Prune and can
// drop the marked entries for good.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// Janitor prunes history entries older than MaxAge every Interval.
type Janitor struct {
	history  store.History
	maxAge   time.Duration
	interval time.Duration

	scheduler gocron.Scheduler
	running   *abool.AtomicBool
	now       func() time.Time
}

// New creates a janitor for h. It does nothing until Start.
func New(h store.History, maxAge, interval time.Duration) *Janitor {
	return &Janitor{
		history:  h,
		maxAge:   maxAge,
		interval: interval,
		running:  abool.NewBool(false),
		now:      time.Now,
	}
}

// Start schedules the prune job.
func (j *Janitor) Start() error {
	if j.interval <= 0 {
		return fmt.Errorf("retention interval must be positive, got %s", j.interval)
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	if _, err := s.NewJob(gocron.DurationJob(j.interval), gocron.NewTask(j.task)); err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("scheduling retention job: %w", err)
	}
	j.scheduler = s
	s.Start()
	log.Printf("History retention: pruning entries older than %s every %s", j.maxAge, j.interval)
	return nil
}

// Stop shuts the scheduler down, waiting for a running job to finish.
func (j *Janitor) Stop() error {
	if j.scheduler == nil {
		return nil
	}
	err := j.scheduler.Shutdown()
	j.scheduler = nil
	return err
}

func (j *Janitor) task() {
	pruned, purged, err := j.RunOnce(context.Background())
	switch {
	case errors.Is(err, ErrRunning):
	case err != nil:
		log.Printf("Warning: history retention failed: %v", err)
	case pruned > 0 || purged > 0:
		log.Printf("History retention: pruned %d, purged %d", pruned, purged)
	}
}

// RunOnce prunes entries older than the maximum age and, when the history
// supports it, purges what was pruned. Overlapping calls get ErrRunning.
func (j *Janitor) RunOnce(ctx context.Context) (pruned, purged int, err error) {
	if !j.running.SetToIf(false, true) {
		return 0, 0, ErrRunning
	}
	defer j.running.UnSet()

	pruned, err = j.history.Prune(ctx, j.now().Add(-j.maxAge))
	if err != nil {
		return 0, 0, err
	}
	if p, ok := j.history.(Purger); ok {
		purged, err = p.Purge(ctx)
		if err != nil {
			return pruned, 0, err
		}
	}
	return pruned, purged, nil
}

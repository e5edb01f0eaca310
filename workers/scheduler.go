package workers

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"squad-match-service/logger"
	"squad-match-service/services"
)

// Scheduler runs periodic maintenance jobs. A job never overlaps itself.
type Scheduler struct {
	sched  gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler() (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{sched: sched, ctx: ctx, cancel: cancel}, nil
}

// Every registers job to run every d, starting right away. Errors are
// logged; the next run happens on schedule.
func (s *Scheduler) Every(d time.Duration, name string, job func(ctx context.Context) error) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(d),
		gocron.NewTask(func() {
			if err := job(s.ctx); err != nil {
				logger.Log.Errorw("[SCHEDULER] job failed", "job", name, "error", err)
			}
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	return err
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.sched.Shutdown()
}

// QueueSweepJob expires waiting queue entries older than maxAge.
func QueueSweepJob(duel *services.DuelService, maxAge time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		n, err := duel.ExpireStaleEntries(ctx, maxAge)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Log.Infow("[SWEEP] expired stale queue entries", "count", n, "max_age", maxAge)
		}
		return nil
	}
}

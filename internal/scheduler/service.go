package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"postflow/internal/publisher"
	"postflow/internal/queue"
)

// Service drives the dispatch cycle on a fixed poll interval. At most one
// cycle runs at a time: a tick that fires while the previous cycle is still
// running is dropped, not queued.
type Service struct {
	repo     queue.Repository
	pub      publisher.Publisher
	loc      *time.Location
	interval time.Duration
	cron     *cron.Cron

	queueSnapshot   string
	historySnapshot string

	now func() time.Time
}

func NewService(repo queue.Repository, pub publisher.Publisher, loc *time.Location, pollInterval time.Duration) *Service {
	return &Service{
		repo:     repo,
		pub:      pub,
		loc:      loc,
		interval: pollInterval,
		now:      time.Now,
	}
}

// SetSnapshotPaths enables best-effort JSON snapshot exports after cycles
// that change state. Empty paths disable the corresponding export.
func (s *Service) SetSnapshotPaths(queuePath, historyPath string) {
	s.queueSnapshot = queuePath
	s.historySnapshot = historyPath
}

// Start launches the poll loop and returns immediately. Cycle errors are
// logged and retried on the next tick; they never stop the loop.
func (s *Service) Start(ctx context.Context) {
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		if err := s.RunCycle(ctx); err != nil {
			log.Error().Err(err).Msg("dispatch cycle aborted")
		}
	}))
	c.Start()
	s.cron = c

	log.Info().Dur("interval", s.interval).Str("timezone", s.loc.String()).Msg("dispatch loop started")
}

// Stop halts ticking. The returned context is done once the in-flight
// cycle, if any, has finished.
func (s *Service) Stop() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.cron.Stop()
}

// Package workflow ties generation, planning, and the queue together.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"postflow/internal/domain"
	"postflow/internal/generator"
	"postflow/internal/planner"
	"postflow/internal/queue"
)

// Composer generates candidate posts and schedules them into future slots.
type Composer struct {
	Gen          generator.Generator
	Fallback     generator.Generator
	Repo         queue.Repository
	Timing       planner.Timing
	SnapshotPath string

	// Now is swappable for tests; defaults to time.Now when nil.
	Now func() time.Time
}

// ComposeAndSchedule generates count posts for the given topics, plans
// slots that respect existing pending commitments, and enqueues the
// result. The fallback generator is used only on the explicit
// ErrUnavailable capability signal; real generation failures propagate.
func (c Composer) ComposeAndSchedule(ctx context.Context, topics []string, count int) ([]domain.QueueItem, error) {
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	now = now.In(c.Timing.Location)

	posts, err := c.Gen.Generate(ctx, topics, count)
	if errors.Is(err, generator.ErrUnavailable) && c.Fallback != nil {
		log.Info().Msg("llm generator unavailable, using template fallback")
		posts, err = c.Fallback.Generate(ctx, topics, count)
	}
	if err != nil {
		return nil, fmt.Errorf("generate posts: %w", err)
	}

	pending, err := c.Repo.ListPending(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("load pending commitments: %w", err)
	}
	existing := make([]time.Time, 0, len(pending))
	for _, item := range pending {
		existing = append(existing, item.ScheduledAt)
	}

	items, err := planner.PlanItems(c.Timing, posts, existing, now)
	if err != nil {
		return nil, err
	}
	if err := c.Repo.UpsertItems(ctx, items); err != nil {
		return nil, fmt.Errorf("enqueue items: %w", err)
	}
	log.Info().Int("count", len(items)).Msg("posts scheduled")

	if c.SnapshotPath != "" {
		if err := queue.ExportQueueSnapshot(ctx, c.Repo, c.SnapshotPath); err != nil {
			log.Error().Err(err).Str("path", c.SnapshotPath).Msg("queue snapshot export failed")
		}
	}
	return items, nil
}

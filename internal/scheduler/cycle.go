package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog/log"

	"postflow/internal/queue"
)

// HashText computes the dedup hash for a piece of content: SHA-256 hex of
// the UTF-8 text. Byte-identical text always hashes identically.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// RunCycle processes all currently due items once, earliest-first. Item
// failures are absorbed into item state; only storage failures abort the
// remaining batch and propagate. Already-committed item transitions stay
// committed — there is no cycle-level rollback.
func (s *Service) RunCycle(ctx context.Context) error {
	now := s.now().In(s.loc)

	due, err := s.repo.ListPending(ctx, &now)
	if err != nil {
		return fmt.Errorf("list due items: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	// Known hashes are the union of the ledger and the queue's own hash
	// column: the ledger covers everything genuinely sent across restarts,
	// the queue column covers simulated sends and in-flight batches.
	known, err := s.repo.AllSentHashes(ctx)
	if err != nil {
		return fmt.Errorf("load sent history hashes: %w", err)
	}
	queueHashes, err := s.repo.KnownHashes(ctx, nil)
	if err != nil {
		return fmt.Errorf("load queue hashes: %w", err)
	}
	for h := range queueHashes {
		known[h] = struct{}{}
	}

	changed := false
	historyChanged := false
	for _, item := range due {
		hash := HashText(item.Text)

		if _, dup := known[hash]; dup {
			if err := s.repo.MarkDuplicate(ctx, item.ID, hash, now); err != nil {
				return fmt.Errorf("mark duplicate %s: %w", item.ID, err)
			}
			changed = true
			log.Info().Str("id", item.ID).Str("hash", hash).Msg("duplicate content suppressed")
			continue
		}

		result := s.pub.Publish(ctx, item.Text, "")
		changed = true
		if result.Success {
			postedAt := s.now().In(s.loc)
			if err := s.repo.MarkSent(ctx, item.ID, result.TweetID, postedAt, hash); err != nil {
				return fmt.Errorf("mark sent %s: %w", item.ID, err)
			}
			// Later items in this batch with identical text must be
			// caught even before the next storage read.
			known[hash] = struct{}{}
			if !result.Simulated {
				if err := s.repo.RecordSent(ctx, item.ID, item.Text, hash, postedAt); err != nil {
					return fmt.Errorf("record sent history %s: %w", item.ID, err)
				}
				historyChanged = true
			}
			log.Info().Str("id", item.ID).Str("tweet_id", result.TweetID).
				Bool("simulated", result.Simulated).Msg("post dispatched")
		} else {
			errMsg := result.Err
			if errMsg == "" {
				errMsg = "unknown error"
			}
			if err := s.repo.MarkFailed(ctx, item.ID, errMsg); err != nil {
				return fmt.Errorf("mark failed %s: %w", item.ID, err)
			}
			log.Warn().Str("id", item.ID).Str("error", errMsg).Msg("publish failed")
		}
	}

	if changed && s.queueSnapshot != "" {
		if err := queue.ExportQueueSnapshot(ctx, s.repo, s.queueSnapshot); err != nil {
			log.Error().Err(err).Str("path", s.queueSnapshot).Msg("queue snapshot export failed")
		}
	}
	if historyChanged && s.historySnapshot != "" {
		if err := queue.ExportHistorySnapshot(ctx, s.repo, s.historySnapshot); err != nil {
			log.Error().Err(err).Str("path", s.historySnapshot).Msg("history snapshot export failed")
		}
	}
	return nil
}

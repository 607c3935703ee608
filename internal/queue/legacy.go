package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"postflow/internal/domain"
)

// flatItem is the legacy flat-file record layout. The same shape is written
// back out by the snapshot exporters so old tooling keeps working.
type flatItem struct {
	ID            string         `json:"id"`
	Text          string         `json:"text"`
	Topic         *string        `json:"topic"`
	Notes         *string        `json:"notes"`
	ScheduledTime string         `json:"scheduled_time"`
	Status        string         `json:"status"`
	Result        *domain.Result `json:"result"`
	AttemptCount  int            `json:"attempt_count"`
	Hash          *string        `json:"hash"`
}

const naiveLayout = "2006-01-02T15:04:05"

// parseLegacyTime accepts RFC3339 timestamps and falls back to naive
// ISO timestamps, which get the configured location attached.
func parseLegacyTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(naiveLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("legacy timestamp %q: %w", s, err)
	}
	return t, nil
}

// ImportLegacy seeds the queue from a flat JSON list, but only when the
// store is currently empty. It is a one-time bridge from the superseded
// flat-file queue and never overwrites existing data. Returns the number
// of items imported (0 when the file is absent or the store is non-empty).
func ImportLegacy(ctx context.Context, repo Repository, path string, loc *time.Location) (int, error) {
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	count, err := repo.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	var entries []flatItem
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("parse legacy queue %s: %w", path, err)
	}

	items := make([]domain.QueueItem, 0, len(entries))
	for _, e := range entries {
		scheduled, err := parseLegacyTime(e.ScheduledTime, loc)
		if err != nil {
			return 0, err
		}
		status := domain.Status(e.Status)
		if e.Status == "" {
			status = domain.StatusPending
		}
		items = append(items, domain.QueueItem{
			ID:           e.ID,
			Text:         e.Text,
			Topic:        e.Topic,
			Notes:        e.Notes,
			ScheduledAt:  scheduled,
			Status:       status,
			Result:       e.Result,
			AttemptCount: e.AttemptCount,
			Hash:         e.Hash,
		})
	}
	if len(items) == 0 {
		return 0, nil
	}
	if err := repo.UpsertItems(ctx, items); err != nil {
		return 0, err
	}
	return len(items), nil
}

// ExportQueueSnapshot writes the full queue as a legacy flat JSON list.
func ExportQueueSnapshot(ctx context.Context, repo Repository, path string) error {
	items, err := repo.ListAll(ctx)
	if err != nil {
		return err
	}
	entries := make([]flatItem, 0, len(items))
	for _, item := range items {
		entries = append(entries, flatItem{
			ID:            item.ID,
			Text:          item.Text,
			Topic:         item.Topic,
			Notes:         item.Notes,
			ScheduledTime: item.ScheduledAt.Format(time.RFC3339),
			Status:        string(item.Status),
			Result:        item.Result,
			AttemptCount:  item.AttemptCount,
			Hash:          item.Hash,
		})
	}
	return writeJSONFile(path, entries)
}

// ExportHistorySnapshot writes the sent-history ledger as JSON.
func ExportHistorySnapshot(ctx context.Context, repo Repository, path string) error {
	records, err := repo.ListSentHistory(ctx)
	if err != nil {
		return err
	}
	if records == nil {
		records = []domain.SentRecord{}
	}
	return writeJSONFile(path, records)
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

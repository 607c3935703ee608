package domain

import "time"

// Status is the lifecycle state of a queue item. Transitions are
// one-directional: pending -> sent|failed|duplicate, with the single
// exception of an explicit failed -> pending reset.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusDuplicate Status = "duplicate"
)

// QueueItem is one piece of content awaiting dispatch.
type QueueItem struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Topic        *string   `json:"topic"`
	Notes        *string   `json:"notes"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Status       Status    `json:"status"`
	Result       *Result   `json:"result"`
	AttemptCount int       `json:"attempt_count"`
	Hash         *string   `json:"hash"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Result is the last outcome recorded on an item. Exactly one of the
// three field groups is populated, matching the terminal status:
// sent -> tweet_id/posted_at, failed -> error/failed_at,
// duplicate -> hash/detected_at.
type Result struct {
	TweetID    string     `json:"tweet_id,omitempty"`
	PostedAt   *time.Time `json:"posted_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	FailedAt   *time.Time `json:"failed_at,omitempty"`
	Hash       string     `json:"hash,omitempty"`
	DetectedAt *time.Time `json:"detected_at,omitempty"`
}

// SentRecord is one row of the sent-history ledger. Hash is the natural
// key; recording the same hash twice updates metadata in place.
type SentRecord struct {
	PostID   string    `json:"post_id"`
	Text     string    `json:"text"`
	Hash     string    `json:"hash"`
	PostedAt time.Time `json:"posted_at"`
}

// GeneratedPost is a candidate produced by a content generator, not yet
// assigned a slot or an id.
type GeneratedPost struct {
	Text  string  `json:"text"`
	Topic *string `json:"topic"`
	Notes *string `json:"notes"`
}

// PublishResult is the outcome of one publish attempt. Simulated results
// must update queue state but never the sent-history ledger.
type PublishResult struct {
	Success   bool
	TweetID   string
	Err       string
	Simulated bool
}

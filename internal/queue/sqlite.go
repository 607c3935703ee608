package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"postflow/internal/domain"
)

var ErrNotFound = errors.New("queue item not found")

// timeFmt is RFC3339 pinned to UTC with fixed-width nanoseconds, so that
// lexicographic ordering of the stored text equals chronological ordering.
// The (status, scheduled_at) index depends on this.
const timeFmt = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string        { return t.UTC().Format(timeFmt) }
func parseTime(s string) (time.Time, error) { return time.Parse(timeFmt, s) }

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS posts (
  id TEXT PRIMARY KEY,
  text TEXT NOT NULL,
  topic TEXT,
  notes TEXT,
  scheduled_at TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('pending','sent','failed','duplicate')) DEFAULT 'pending',
  result TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  hash TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_status_scheduled ON posts(status, scheduled_at);
CREATE TABLE IF NOT EXISTS sent_history (
  hash TEXT PRIMARY KEY,
  post_id TEXT NOT NULL,
  text TEXT NOT NULL,
  posted_at TEXT NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

// Store owns all mutation of queue item state. Every mutating operation is
// atomic per item and idempotent when re-applied with identical arguments.
type Store interface {
	UpsertItems(ctx context.Context, items []domain.QueueItem) error
	ListPending(ctx context.Context, before *time.Time) ([]domain.QueueItem, error)
	MarkSent(ctx context.Context, id, tweetID string, postedAt time.Time, hash string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	MarkDuplicate(ctx context.Context, id, hash string, detectedAt time.Time) error
	ResetFailed(ctx context.Context, id string, scheduleAt time.Time) error
	KnownHashes(ctx context.Context, since *time.Time) (map[string]struct{}, error)
	Get(ctx context.Context, id string) (domain.QueueItem, error)
	ListAll(ctx context.Context) ([]domain.QueueItem, error)
	Remove(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
}

// Ledger is the append-only record of content actually dispatched. It is
// deliberately independent of the queue table: it survives queue purges and
// is the long-lived source of truth for "has this content ever been sent".
type Ledger interface {
	RecordSent(ctx context.Context, postID, text, hash string, postedAt time.Time) error
	HasSentHash(ctx context.Context, hash string) (bool, error)
	AllSentHashes(ctx context.Context) (map[string]struct{}, error)
	ListSentHistory(ctx context.Context) ([]domain.SentRecord, error)
}

// Repository combines the queue store and sent-history ledger persisted in
// one SQLite database.
type Repository interface {
	Store
	Ledger
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

func (r *sqliteRepo) UpsertItems(ctx context.Context, items []domain.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	for _, item := range items {
		result, err := marshalResult(item.Result)
		if err != nil {
			return fmt.Errorf("marshal result for %s: %w", item.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO posts (id,text,topic,notes,scheduled_at,status,result,attempt_count,hash,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  text = excluded.text,
  topic = excluded.topic,
  notes = excluded.notes,
  scheduled_at = excluded.scheduled_at,
  status = excluded.status,
  result = excluded.result,
  attempt_count = excluded.attempt_count,
  hash = excluded.hash,
  updated_at = excluded.updated_at
`, item.ID, item.Text, item.Topic, item.Notes, formatTime(item.ScheduledAt),
			string(item.Status), result, item.AttemptCount, item.Hash, now, now)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", item.ID, err)
		}
	}
	return tx.Commit()
}

func (r *sqliteRepo) ListPending(ctx context.Context, before *time.Time) ([]domain.QueueItem, error) {
	query := `
SELECT id,text,topic,notes,scheduled_at,status,result,attempt_count,hash,created_at,updated_at
FROM posts WHERE status='pending'`
	args := []any{}
	if before != nil {
		query += " AND scheduled_at <= ?"
		args = append(args, formatTime(*before))
	}
	query += " ORDER BY scheduled_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func (r *sqliteRepo) MarkSent(ctx context.Context, id, tweetID string, postedAt time.Time, hash string) error {
	result, err := marshalResult(&domain.Result{TweetID: tweetID, PostedAt: &postedAt})
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
UPDATE posts
   SET status='sent',
       result=?,
       hash=COALESCE(?, hash),
       updated_at=?
 WHERE id=?`, result, nullable(hash), formatTime(time.Now()), id)
	return err
}

func (r *sqliteRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	failedAt := time.Now()
	result, err := marshalResult(&domain.Result{Error: errMsg, FailedAt: &failedAt})
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
UPDATE posts
   SET status='failed',
       result=?,
       attempt_count=attempt_count+1,
       updated_at=?
 WHERE id=?`, result, formatTime(failedAt), id)
	return err
}

func (r *sqliteRepo) MarkDuplicate(ctx context.Context, id, hash string, detectedAt time.Time) error {
	result, err := marshalResult(&domain.Result{Hash: hash, DetectedAt: &detectedAt})
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
UPDATE posts
   SET status='duplicate',
       result=?,
       hash=COALESCE(?, hash),
       updated_at=?
 WHERE id=?`, result, nullable(hash), formatTime(time.Now()), id)
	return err
}

func (r *sqliteRepo) ResetFailed(ctx context.Context, id string, scheduleAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE posts
   SET status='pending',
       result=NULL,
       scheduled_at=?,
       updated_at=?
 WHERE id=? AND status='failed'`, formatTime(scheduleAt), formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRepo) KnownHashes(ctx context.Context, since *time.Time) (map[string]struct{}, error) {
	query := "SELECT hash FROM posts WHERE hash IS NOT NULL"
	args := []any{}
	if since != nil {
		query += " AND updated_at >= ?"
		args = append(args, formatTime(*since))
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes[h] = struct{}{}
	}
	return hashes, rows.Err()
}

func (r *sqliteRepo) Get(ctx context.Context, id string) (domain.QueueItem, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id,text,topic,notes,scheduled_at,status,result,attempt_count,hash,created_at,updated_at
FROM posts WHERE id=?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QueueItem{}, ErrNotFound
	}
	return item, err
}

func (r *sqliteRepo) ListAll(ctx context.Context) ([]domain.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,text,topic,notes,scheduled_at,status,result,attempt_count,hash,created_at,updated_at
FROM posts ORDER BY scheduled_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func (r *sqliteRepo) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM posts WHERE id=?", id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *sqliteRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM posts").Scan(&n)
	return n, err
}

func (r *sqliteRepo) RecordSent(ctx context.Context, postID, text, hash string, postedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO sent_history (hash,post_id,text,posted_at) VALUES (?,?,?,?)
ON CONFLICT(hash) DO UPDATE SET
  post_id = excluded.post_id,
  posted_at = excluded.posted_at
`, hash, postID, text, formatTime(postedAt))
	return err
}

func (r *sqliteRepo) HasSentHash(ctx context.Context, hash string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM sent_history WHERE hash=?", hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *sqliteRepo) AllSentHashes(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT hash FROM sent_history")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes[h] = struct{}{}
	}
	return hashes, rows.Err()
}

func (r *sqliteRepo) ListSentHistory(ctx context.Context) ([]domain.SentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT hash,post_id,text,posted_at FROM sent_history ORDER BY posted_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.SentRecord
	for rows.Next() {
		var rec domain.SentRecord
		var postedAt string
		if err := rows.Scan(&rec.Hash, &rec.PostID, &rec.Text, &postedAt); err != nil {
			return nil, err
		}
		if rec.PostedAt, err = parseTime(postedAt); err != nil {
			return nil, fmt.Errorf("sent_history %s: %w", rec.Hash, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanItem(row rowScanner) (domain.QueueItem, error) {
	var (
		item                          domain.QueueItem
		topic, notes, result, hash    sql.NullString
		scheduled, created, updated   string
	)
	err := row.Scan(&item.ID, &item.Text, &topic, &notes, &scheduled, &item.Status,
		&result, &item.AttemptCount, &hash, &created, &updated)
	if err != nil {
		return domain.QueueItem{}, err
	}
	if topic.Valid {
		item.Topic = &topic.String
	}
	if notes.Valid {
		item.Notes = &notes.String
	}
	if hash.Valid {
		item.Hash = &hash.String
	}
	if result.Valid && result.String != "" {
		var res domain.Result
		if err := json.Unmarshal([]byte(result.String), &res); err != nil {
			return domain.QueueItem{}, fmt.Errorf("result payload for %s: %w", item.ID, err)
		}
		item.Result = &res
	}
	if item.ScheduledAt, err = parseTime(scheduled); err != nil {
		return domain.QueueItem{}, fmt.Errorf("scheduled_at for %s: %w", item.ID, err)
	}
	if item.CreatedAt, err = parseTime(created); err != nil {
		return domain.QueueItem{}, fmt.Errorf("created_at for %s: %w", item.ID, err)
	}
	if item.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.QueueItem{}, fmt.Errorf("updated_at for %s: %w", item.ID, err)
	}
	return item, nil
}

func scanItems(rows *sql.Rows) ([]domain.QueueItem, error) {
	var items []domain.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func marshalResult(res *domain.Result) (*string, error) {
	if res == nil {
		return nil, nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

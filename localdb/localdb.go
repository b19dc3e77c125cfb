// Package localdb implements the mail index on a local sqlite database, for
// standalone use without a PostgreSQL server. It provides the same contract
// as the db package.
package localdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mailkite/filtra/engine"
	"github.com/mailkite/filtra/logger"
	"github.com/mailkite/filtra/pkg/metrics"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL UNIQUE,
	thread_id TEXT NOT NULL,
	path TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_messages_thread_id ON messages (thread_id);
`

// Database is a sqlite-backed mail index.
type Database struct {
	db *sql.DB
}

// New opens (creating if necessary) the sqlite index at path.
func New(path string) (*Database, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("local index path cannot be empty")
	}
	path = filepath.Clean(path)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating index directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening local index: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		// WAL is an optimization only.
		logger.Warn("Failed to enable WAL on local index", "error", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("local index ping failed: %w", err)
	}
	return &Database{db: db}, nil
}

// Close closes the index database.
func (d *Database) Close() error {
	return d.db.Close()
}

func trackQuery(operation string, start time.Time) {
	metrics.IndexQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Enumerate returns the messages currently carrying the given tag, in index
// order.
func (d *Database) Enumerate(ctx context.Context, tag string) ([]engine.Message, error) {
	defer trackQuery("enumerate", time.Now())
	rows, err := d.db.QueryContext(ctx, `
		SELECT message_id, thread_id, path, tags
		FROM messages
		WHERE EXISTS (SELECT 1 FROM json_each(messages.tags) WHERE json_each.value = ?)
		ORDER BY id`, tag)
	if err != nil {
		metrics.IndexQueriesTotal.WithLabelValues("enumerate", "failed").Inc()
		return nil, fmt.Errorf("enumerating messages: %w", err)
	}
	defer rows.Close()

	var msgs []engine.Message
	for rows.Next() {
		var messageID, threadID, path, tagsJSON string
		if err := rows.Scan(&messageID, &threadID, &path, &tagsJSON); err != nil {
			metrics.IndexQueriesTotal.WithLabelValues("enumerate", "failed").Inc()
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		var tags []string
		if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
			return nil, fmt.Errorf("decoding tags for %s: %w", messageID, err)
		}
		msgs = append(msgs, engine.NewFileMessage(messageID, path, threadID, tags))
	}
	if err := rows.Err(); err != nil {
		metrics.IndexQueriesTotal.WithLabelValues("enumerate", "failed").Inc()
		return nil, fmt.Errorf("enumerating messages: %w", err)
	}
	metrics.IndexQueriesTotal.WithLabelValues("enumerate", "ok").Inc()
	return msgs, nil
}

// ThreadTags returns the union of tags across all messages of the message's
// thread, sorted.
func (d *Database) ThreadTags(ctx context.Context, msg engine.Message) ([]string, error) {
	defer trackQuery("thread_tags", time.Now())
	rows, err := d.db.QueryContext(ctx, `
		SELECT DISTINCT json_each.value
		FROM messages, json_each(messages.tags)
		WHERE thread_id = ?
		ORDER BY json_each.value`, msg.ThreadID())
	if err != nil {
		metrics.IndexQueriesTotal.WithLabelValues("thread_tags", "failed").Inc()
		return nil, fmt.Errorf("querying thread tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			metrics.IndexQueriesTotal.WithLabelValues("thread_tags", "failed").Inc()
			return nil, fmt.Errorf("scanning thread tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		metrics.IndexQueriesTotal.WithLabelValues("thread_tags", "failed").Inc()
		return nil, fmt.Errorf("querying thread tags: %w", err)
	}
	metrics.IndexQueriesTotal.WithLabelValues("thread_tags", "ok").Inc()
	return tags, nil
}

// SetTags persists a message's tag set.
func (d *Database) SetTags(ctx context.Context, msg engine.Message, tags []string) error {
	defer trackQuery("set_tags", time.Now())
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	result, err := d.db.ExecContext(ctx,
		`UPDATE messages SET tags = ? WHERE message_id = ?`, string(tagsJSON), msg.ID())
	if err != nil {
		metrics.IndexQueriesTotal.WithLabelValues("set_tags", "failed").Inc()
		return fmt.Errorf("updating tags for %s: %w", msg.ID(), err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		metrics.IndexQueriesTotal.WithLabelValues("set_tags", "failed").Inc()
		return fmt.Errorf("updating tags for %s: message not found in index", msg.ID())
	}
	metrics.IndexQueriesTotal.WithLabelValues("set_tags", "ok").Inc()
	return nil
}

// RemoveMessage forgets a message whose file was deleted.
func (d *Database) RemoveMessage(ctx context.Context, msg engine.Message) error {
	defer trackQuery("remove", time.Now())
	_, err := d.db.ExecContext(ctx, `DELETE FROM messages WHERE message_id = ?`, msg.ID())
	if err != nil {
		metrics.IndexQueriesTotal.WithLabelValues("remove", "failed").Inc()
		return fmt.Errorf("removing %s from index: %w", msg.ID(), err)
	}
	metrics.IndexQueriesTotal.WithLabelValues("remove", "ok").Inc()
	return nil
}

// InsertMessage registers a message file in the index. An existing entry for
// the same message id keeps its tags but picks up the new path and thread.
func (d *Database) InsertMessage(ctx context.Context, messageID, threadID, path string, tags []string) error {
	defer trackQuery("insert", time.Now())
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO messages (message_id, thread_id, path, tags)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (message_id)
		DO UPDATE SET thread_id = excluded.thread_id, path = excluded.path`,
		messageID, threadID, path, string(tagsJSON))
	if err != nil {
		metrics.IndexQueriesTotal.WithLabelValues("insert", "failed").Inc()
		return fmt.Errorf("inserting %s into index: %w", messageID, err)
	}
	metrics.IndexQueriesTotal.WithLabelValues("insert", "ok").Inc()
	return nil
}

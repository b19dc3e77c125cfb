package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mailkite/filtra/engine"
	"github.com/mailkite/filtra/pkg/metrics"
)

// Enumerate returns the messages currently carrying the given tag, in index
// order.
func (d *Database) Enumerate(ctx context.Context, tag string) ([]engine.Message, error) {
	ctx, cancel := d.opContext(ctx)
	defer cancel()
	defer trackQuery("enumerate", time.Now())

	rows, err := d.Pool.Query(ctx, `
		SELECT message_id, thread_id, path, tags
		FROM messages
		WHERE tags @> jsonb_build_array($1::text)
		ORDER BY id`, tag)
	if err != nil {
		metrics.IndexQueriesTotal.WithLabelValues("enumerate", "failed").Inc()
		return nil, fmt.Errorf("enumerating messages: %w", err)
	}
	defer rows.Close()

	var msgs []engine.Message
	for rows.Next() {
		var (
			messageID, threadID, path string
			tagsJSON                  []byte
		)
		if err := rows.Scan(&messageID, &threadID, &path, &tagsJSON); err != nil {
			metrics.IndexQueriesTotal.WithLabelValues("enumerate", "failed").Inc()
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		tags, err := decodeTags(tagsJSON)
		if err != nil {
			return nil, err
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
	ctx, cancel := d.opContext(ctx)
	defer cancel()
	defer trackQuery("thread_tags", time.Now())

	rows, err := d.Pool.Query(ctx, `
		SELECT DISTINCT jsonb_array_elements_text(tags) AS tag
		FROM messages
		WHERE thread_id = $1
		ORDER BY tag`, msg.ThreadID())
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
	ctx, cancel := d.opContext(ctx)
	defer cancel()
	defer trackQuery("set_tags", time.Now())

	tagsJSON, err := encodeTags(tags)
	if err != nil {
		return err
	}
	result, err := d.Pool.Exec(ctx, `
		UPDATE messages SET tags = $1, updated_at = now()
		WHERE message_id = $2`, tagsJSON, msg.ID())
	if err != nil {
		metrics.IndexQueriesTotal.WithLabelValues("set_tags", "failed").Inc()
		return fmt.Errorf("updating tags for %s: %w", msg.ID(), err)
	}
	if result.RowsAffected() == 0 {
		metrics.IndexQueriesTotal.WithLabelValues("set_tags", "failed").Inc()
		return fmt.Errorf("updating tags for %s: %w", msg.ID(), ErrNotFound)
	}
	metrics.IndexQueriesTotal.WithLabelValues("set_tags", "ok").Inc()
	return nil
}

// RemoveMessage forgets a message whose file was deleted.
func (d *Database) RemoveMessage(ctx context.Context, msg engine.Message) error {
	ctx, cancel := d.opContext(ctx)
	defer cancel()
	defer trackQuery("remove", time.Now())

	_, err := d.Pool.Exec(ctx, `DELETE FROM messages WHERE message_id = $1`, msg.ID())
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
	ctx, cancel := d.opContext(ctx)
	defer cancel()
	defer trackQuery("insert", time.Now())

	tagsJSON, err := encodeTags(tags)
	if err != nil {
		return err
	}
	_, err = d.Pool.Exec(ctx, `
		INSERT INTO messages (message_id, thread_id, path, tags)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id)
		DO UPDATE SET thread_id = EXCLUDED.thread_id, path = EXCLUDED.path, updated_at = now()`,
		messageID, threadID, path, tagsJSON)
	if err != nil {
		metrics.IndexQueriesTotal.WithLabelValues("insert", "failed").Inc()
		return fmt.Errorf("inserting %s into index: %w", messageID, err)
	}
	metrics.IndexQueriesTotal.WithLabelValues("insert", "ok").Inc()
	return nil
}

func trackQuery(operation string, start time.Time) {
	metrics.IndexQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func encodeTags(tags []string) ([]byte, error) {
	if tags == nil {
		// json.Marshal encodes nil slices as null instead of an empty array.
		tags = []string{}
	}
	buf, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}
	return buf, nil
}

func decodeTags(buf []byte) ([]string, error) {
	var tags []string
	if err := json.Unmarshal(buf, &tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	return tags, nil
}

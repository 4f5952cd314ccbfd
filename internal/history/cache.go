package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"chatsession/pkg/types"
)

// Cache errors.
var (
	ErrCacheClosed    = errors.New("history cache is closed")
	ErrNotPersistable = errors.New("only confirmed messages are cached")
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	room_id     TEXT      NOT NULL,
	id          INTEGER   NOT NULL,
	sender_id   TEXT      NOT NULL,
	sender_name TEXT      NOT NULL DEFAULT '',
	content     TEXT      NOT NULL,
	kind        TEXT      NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	deleted     INTEGER   NOT NULL DEFAULT 0,
	PRIMARY KEY (room_id, id)
);
CREATE INDEX IF NOT EXISTS idx_messages_room_created
	ON messages(room_id, created_at);
`

// Cache is a local write-through store of confirmed messages, read
// back for offline display. It never feeds the live log; the history
// non-clobber rule belongs to session state, not to this cache.
type Cache struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// Open creates or opens the cache database at path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open history cache: %w", err)
	}

	// The cache is written from the dispatch path only; one writer is
	// all SQLite handles well anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply cache schema: %w", err)
	}

	return &Cache{db: db}, nil
}

// Record implements interfaces.MessageRecorder. Duplicate deliveries
// overwrite the existing row, which also picks up soft-delete flips.
func (c *Cache) Record(msg types.Message) error {
	id, ok := msg.ID.Confirmed()
	if !ok {
		return ErrNotPersistable
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrCacheClosed
	}

	_, err := c.db.Exec(`
		INSERT OR REPLACE INTO messages
			(room_id, id, sender_id, sender_name, content, kind, created_at, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.RoomID, id, msg.SenderID, msg.SenderName, msg.Content,
		string(msg.Kind), msg.CreatedAt, boolToInt(msg.Deleted),
	)
	if err != nil {
		return fmt.Errorf("failed to record message %d: %w", id, err)
	}
	return nil
}

// RoomHistory returns up to limit most recent cached messages for a
// room, ordered by creation time ascending.
func (c *Cache) RoomHistory(ctx context.Context, roomID string, limit int) ([]types.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrCacheClosed
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT room_id, id, sender_id, sender_name, content, kind, created_at, deleted
		FROM (
			SELECT * FROM messages WHERE room_id = ?
			ORDER BY created_at DESC LIMIT ?
		)
		ORDER BY created_at ASC`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached history: %w", err)
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		var (
			msg     types.Message
			id      int64
			kind    string
			deleted int
		)
		if err := rows.Scan(&msg.RoomID, &id, &msg.SenderID, &msg.SenderName,
			&msg.Content, &kind, &msg.CreatedAt, &deleted); err != nil {
			return nil, fmt.Errorf("failed to scan cached message: %w", err)
		}
		msg.ID = types.ConfirmedID(id)
		msg.Kind = types.MessageKind(kind)
		msg.Deleted = deleted != 0
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cached history: %w", err)
	}
	return out, nil
}

// Prune keeps only the newest keep messages per room.
func (c *Cache) Prune(ctx context.Context, roomID string, keep int) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrCacheClosed
	}

	_, err := c.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE room_id = ? AND id NOT IN (
			SELECT id FROM messages WHERE room_id = ?
			ORDER BY created_at DESC LIMIT ?
		)`,
		roomID, roomID, keep,
	)
	if err != nil {
		return fmt.Errorf("failed to prune cached history: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

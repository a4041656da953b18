// Package memory keeps embedded text in a SQLite file and searches it by
// cosine distance.
package memory

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vanshikaxcx/emotibot/internal/embedding"
)

type Kind string

const (
	KindDocument     Kind = "document"
	KindConversation Kind = "conversation"
)

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

type Item struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Embedding []float32      `json:"-"`
	Metadata  map[string]any `json:"metadata"`
	Kind      Kind           `json:"kind"`
	CreatedAt time.Time      `json:"created_at"`
}

type Match struct {
	Item
	// Distance is 1 - cosine similarity; lower is closer.
	Distance float64 `json:"distance"`
}

type Collection struct {
	db   *sql.DB
	name string
	mu   sync.RWMutex
}

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id         TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	content    TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	kind       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_collection ON items(collection, created_at);
`

// Open opens (creating if needed) the database at path and scopes every
// operation to the named collection. path may be ":memory:".
func Open(path, name string) (*Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create memory dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Collection{db: db, name: name}, nil
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Collection) Close() error {
	return c.db.Close()
}

// Add stores items in one transaction. Missing IDs and timestamps are filled in.
func (c *Collection) Add(ctx context.Context, items ...Item) error {
	if len(items) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO items
		(id, collection, content, embedding, metadata, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range items {
		it := &items[i]
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		if it.CreatedAt.IsZero() {
			it.CreatedAt = time.Now()
		}
		if it.Kind == "" {
			it.Kind = KindDocument
		}

		meta, err := json.Marshal(it.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", it.ID, err)
		}
		if it.Metadata == nil {
			meta = []byte("{}")
		}

		if _, err := stmt.ExecContext(ctx,
			it.ID, c.name, it.Content, encodeVector(it.Embedding), string(meta), string(it.Kind), it.CreatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert %s: %w", it.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Query returns up to n items closest to vec. where keeps only items whose
// metadata matches every given key.
func (c *Collection) Query(ctx context.Context, vec []float32, n int, where map[string]any) ([]Match, error) {
	if n <= 0 {
		return nil, nil
	}

	items, err := c.scan(ctx, "SELECT id, content, embedding, metadata, kind, created_at FROM items WHERE collection = ?", c.name)
	if err != nil {
		return nil, err
	}

	kept := items[:0]
	vecs := make([][]float32, 0, len(items))
	for _, it := range items {
		if !matchesWhere(it.Metadata, where) {
			continue
		}
		if len(it.Embedding) != len(vec) {
			return nil, fmt.Errorf("%w: item %s", ErrDimensionMismatch, it.ID)
		}
		kept = append(kept, it)
		vecs = append(vecs, it.Embedding)
	}

	top := embedding.FindTopK(vec, vecs, n)
	matches := make([]Match, len(top))
	for i, r := range top {
		matches[i] = Match{Item: kept[r.Index], Distance: 1 - r.Similarity}
	}
	return matches, nil
}

// Get returns up to limit items, oldest first. limit <= 0 means all.
func (c *Collection) Get(ctx context.Context, limit int) ([]Item, error) {
	q := "SELECT id, content, embedding, metadata, kind, created_at FROM items WHERE collection = ? ORDER BY created_at, id"
	args := []any{c.name}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	return c.scan(ctx, q, args...)
}

func (c *Collection) Count(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE collection = ?", c.name).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// CountKind counts items of one kind.
func (c *Collection) CountKind(ctx context.Context, k Kind) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var n int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE collection = ? AND kind = ?", c.name, string(k)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", k, err)
	}
	return n, nil
}

// Clear removes every item in the collection.
func (c *Collection) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, "DELETE FROM items WHERE collection = ?", c.name); err != nil {
		return fmt.Errorf("clear %s: %w", c.name, err)
	}
	return nil
}

func (c *Collection) scan(ctx context.Context, q string, args ...any) ([]Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var (
			it      Item
			blob    []byte
			meta    string
			kind    string
			created int64
		)
		if err := rows.Scan(&it.ID, &it.Content, &blob, &meta, &kind, &created); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if it.Embedding, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.ID, err)
		}
		if err := json.Unmarshal([]byte(meta), &it.Metadata); err != nil {
			return nil, fmt.Errorf("metadata %s: %w", it.ID, err)
		}
		it.Kind = Kind(kind)
		it.CreatedAt = time.Unix(0, created)
		out = append(out, it)
	}
	return out, rows.Err()
}

func matchesWhere(meta, where map[string]any) bool {
	for k, want := range where {
		got, ok := meta[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func encodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(x))
	}
	return out
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return v, nil
}

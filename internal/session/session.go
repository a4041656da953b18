// Package session keeps the short rolling window of recent chat turns that
// is fed back into each prompt.
package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-memdb"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Emotion string    `json:"emotion,omitempty"`
	At      time.Time `json:"at"`
}

type Store interface {
	Append(ctx context.Context, sessionID string, turns ...Turn) error
	// Recent returns up to n turns, oldest first. n <= 0 returns the whole window.
	Recent(ctx context.Context, sessionID string, n int) ([]Turn, error)
	Clear(ctx context.Context, sessionID string) error
	Close() error
}

const (
	turnsTable = "turns"
	idIndex    = "id"
	bySession  = "session"
)

type record struct {
	ID      string
	Session string
	Turn    Turn
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			turnsTable: {
				Name: turnsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					bySession: {
						Name:    bySession,
						Indexer: &memdb.StringFieldIndex{Field: "Session"},
					},
				},
			},
		},
	}
}

// MemoryStore keeps sessions in process. It is used when no Redis address is
// configured.
type MemoryStore struct {
	db     *memdb.MemDB
	window int
	seq    atomic.Uint64
}

func NewMemoryStore(window int) (*MemoryStore, error) {
	if window <= 0 {
		return nil, fmt.Errorf("session window must be positive, got %d", window)
	}
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("create session db: %w", err)
	}
	return &MemoryStore{db: db, window: window}, nil
}

// IDs sort in insertion order within a session.
func (s *MemoryStore) nextID(sessionID string) string {
	return fmt.Sprintf("%s\x00%020d", sessionID, s.seq.Add(1))
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, turns ...Turn) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	for _, t := range turns {
		if t.At.IsZero() {
			t.At = time.Now()
		}
		if err := txn.Insert(turnsTable, &record{ID: s.nextID(sessionID), Session: sessionID, Turn: t}); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}

	all, err := collect(txn, sessionID)
	if err != nil {
		return err
	}
	for i := 0; i < len(all)-s.window; i++ {
		if err := txn.Delete(turnsTable, all[i]); err != nil {
			return fmt.Errorf("trim session: %w", err)
		}
	}

	txn.Commit()
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, sessionID string, n int) ([]Turn, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	all, err := collect(txn, sessionID)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}

	out := make([]Turn, len(all))
	for i, r := range all {
		out[i] = r.Turn
	}
	return out, nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if _, err := txn.DeleteAll(turnsTable, bySession, sessionID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func collect(txn *memdb.Txn, sessionID string) ([]*record, error) {
	it, err := txn.Get(turnsTable, idIndex+"_prefix", sessionID+"\x00")
	if err != nil {
		return nil, fmt.Errorf("list session: %w", err)
	}

	var out []*record
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*record))
	}
	return out, nil
}

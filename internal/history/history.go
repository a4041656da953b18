// Package history keeps the long-term conversation log in the hosted
// Supabase backend.
package history

import (
	"context"
	"slices"
	"time"
)

// Record is one exchange. Field names match the conversations table.
type Record struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	UserMessage string    `json:"user_message"`
	BotResponse string    `json:"bot_response"`
	Emotion     string    `json:"emotion"`
	Confidence  float64   `json:"confidence"`
	Sentiment   string    `json:"sentiment"`
	CreatedAt   time.Time `json:"created_at"`
}

type Store interface {
	Save(ctx context.Context, r Record) error
	// List returns the newest limit records of a session, oldest first.
	List(ctx context.Context, sessionID string, limit int) ([]Record, error)
	Close() error
}

const DefaultLimit = 50

// Nop discards records. It is used when no backend is configured.
type Nop struct{}

func (Nop) Save(context.Context, Record) error { return nil }

func (Nop) List(context.Context, string, int) ([]Record, error) { return nil, nil }

func (Nop) Close() error { return nil }

func oldestFirst(rs []Record) []Record {
	slices.Reverse(rs)
	return rs
}

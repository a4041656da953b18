package history

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/postgrest-go"
)

const table = "conversations"

// SupabaseStore writes through the PostgREST API Supabase exposes for every
// table.
type SupabaseStore struct {
	client *postgrest.Client
}

func NewSupabaseStore(baseURL, key string) (*SupabaseStore, error) {
	if baseURL == "" || key == "" {
		return nil, fmt.Errorf("supabase: url and key are required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("supabase: bad url %q", baseURL)
	}

	client := postgrest.NewClient(strings.TrimRight(baseURL, "/")+"/rest/v1", "public", map[string]string{
		"apikey":        key,
		"Authorization": "Bearer " + key,
	})
	return &SupabaseStore{client: client}, nil
}

// Save inserts r. The PostgREST client has no context support, so ctx is only
// checked before the request starts.
func (s *SupabaseStore) Save(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	if _, _, err := s.client.From(table).Insert(r, false, "", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("supabase insert: %w", err)
	}
	return nil
}

func (s *SupabaseStore) List(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	var out []Record
	_, err := s.client.From(table).
		Select("*", "", false).
		Eq("session_id", sessionID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(limit, "").
		ExecuteTo(&out)
	if err != nil {
		return nil, fmt.Errorf("supabase select: %w", err)
	}
	return oldestFirst(out), nil
}

func (s *SupabaseStore) Close() error { return nil }

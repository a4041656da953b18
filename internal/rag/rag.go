// Package rag stores documents and past conversations in vector memory and
// uses them to ground the companion's replies.
package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vanshikaxcx/emotibot/internal/document"
	"github.com/vanshikaxcx/emotibot/internal/embedding"
	"github.com/vanshikaxcx/emotibot/internal/emotion"
	"github.com/vanshikaxcx/emotibot/internal/memory"
	"github.com/vanshikaxcx/emotibot/internal/metrics"
	"github.com/vanshikaxcx/emotibot/internal/session"
	"github.com/vanshikaxcx/emotibot/pkg/textutil"
)

var (
	ErrEmptyDocument = errors.New("document produced no chunks")
	ErrNoText        = errors.New("no text could be extracted")
)

const FallbackReply = "I'm sorry, I'm having trouble generating a response right now. Please try again."

const persona = "You are EmotiBot, an empathetic AI companion."

// Store is the slice of memory.Collection the system needs.
type Store interface {
	Add(ctx context.Context, items ...memory.Item) error
	Query(ctx context.Context, vec []float32, n int, where map[string]any) ([]memory.Match, error)
	Count(ctx context.Context) (int, error)
	CountKind(ctx context.Context, k memory.Kind) (int, error)
	Get(ctx context.Context, limit int) ([]memory.Item, error)
	Clear(ctx context.Context) error
	Name() string
}

type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	Results      int
	ContextChars int
	// Parallel bounds concurrent file ingestion.
	Parallel int
	// EmbedBatch caps the chunks sent in one embedding request.
	EmbedBatch int
	Metrics    *metrics.Metrics
}

type System struct {
	store    Store
	embedder embedding.Engine
	llm      Generator
	opt      Options
}

func New(store Store, embedder embedding.Engine, llm Generator, opt Options) *System {
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = 1000
	}
	if opt.ChunkOverlap < 0 || opt.ChunkOverlap >= opt.ChunkSize {
		opt.ChunkOverlap = 0
	}
	if opt.Results <= 0 {
		opt.Results = 5
	}
	if opt.ContextChars <= 0 {
		opt.ContextChars = 2000
	}
	if opt.Parallel <= 0 {
		opt.Parallel = 4
	}
	if opt.EmbedBatch <= 0 {
		opt.EmbedBatch = 100
	}
	return &System{store: store, embedder: embedder, llm: llm, opt: opt}
}

// AddDocument chunks text, embeds every chunk and stores them. User metadata
// overrides the generated per-chunk keys.
func (s *System) AddDocument(ctx context.Context, text string, meta map[string]any) (int, error) {
	return s.addDocument(ctx, text, meta, "text")
}

// addDocument is AddDocument with the metrics label fixed by the caller, so
// user metadata never picks a label.
func (s *System) addDocument(ctx context.Context, text string, meta map[string]any, fileType string) (int, error) {
	chunks := document.Chunk(text, s.opt.ChunkSize, s.opt.ChunkOverlap)
	if len(chunks) == 0 {
		return 0, ErrEmptyDocument
	}

	vecs := make([][]float32, 0, len(chunks))
	for _, batch := range textutil.Chunk(chunks, s.opt.EmbedBatch) {
		out, err := s.embedder.EmbedBatch(ctx, batch)
		if err != nil {
			return 0, fmt.Errorf("embed chunks: %w", err)
		}
		vecs = append(vecs, out...)
	}
	if len(vecs) != len(chunks) {
		return 0, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vecs), len(chunks))
	}

	now := time.Now()
	items := make([]memory.Item, len(chunks))
	for i, c := range chunks {
		id := uuid.NewString()
		m := textutil.Merge(map[string]any{
			"chunk_id":     id,
			"chunk_index":  i,
			"total_chunks": len(chunks),
			"timestamp":    now.Format(time.RFC3339),
			"type":         string(memory.KindDocument),
		}, meta)
		items[i] = memory.Item{
			ID:        id,
			Content:   c,
			Embedding: vecs[i],
			Metadata:  m,
			Kind:      memory.KindDocument,
			CreatedAt: now,
		}
	}

	if err := s.store.Add(ctx, items...); err != nil {
		return 0, fmt.Errorf("store chunks: %w", err)
	}

	s.opt.Metrics.RecordDocument(fileType, len(chunks))
	log.Info("Added document", "chunks", len(chunks), "source", meta["source"])
	return len(chunks), nil
}

// AddDocumentFile reads a pdf, docx or txt file and stores its text.
func (s *System) AddDocumentFile(ctx context.Context, path string, meta map[string]any) (int, error) {
	n, _, err := s.addFile(ctx, path, meta)
	return n, err
}

func (s *System) addFile(ctx context.Context, path string, meta map[string]any) (int, document.Metadata, error) {
	text, info, err := document.Load(path)
	if err != nil {
		return 0, info, err
	}
	n, err := s.addExtracted(ctx, text, fileMeta(info, path, meta))
	return n, info, err
}

// AddDocumentBytes ingests an uploaded file; the parser is picked from filename.
func (s *System) AddDocumentBytes(ctx context.Context, data []byte, filename string, meta map[string]any) (int, error) {
	if !document.IsSupported(filename) {
		return 0, fmt.Errorf("%w: %q", document.ErrUnsupportedFormat, filepath.Ext(filename))
	}
	text, err := document.ReadBytes(data, filepath.Ext(filename))
	if err != nil {
		return 0, err
	}
	return s.addExtracted(ctx, text, fileMeta(document.Describe(filename, data, text), "", meta))
}

func (s *System) addExtracted(ctx context.Context, text string, meta map[string]any) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("%w from %v", ErrNoText, meta["source"])
	}
	fileType, _ := meta["file_type"].(string)
	return s.addDocument(ctx, text, meta, fileType)
}

// fileMeta describes a file for its chunks. The keys derived from the file
// itself win over user metadata.
func fileMeta(info document.Metadata, path string, extra map[string]any) map[string]any {
	m := map[string]any{
		"source":     info.Name,
		"file_type":  info.Type,
		"word_count": info.WordCount,
	}
	if info.PageCount > 0 {
		m["page_count"] = info.PageCount
	}
	if path != "" {
		m["file_path"] = path
	}
	return textutil.Merge(extra, m)
}

type FileResult struct {
	Path   string `json:"path"`
	Chunks int    `json:"chunks"`
	Pages  int    `json:"pages,omitempty"`
	Words  int    `json:"words"`
	Error  string `json:"error,omitempty"`
}

// AddDocumentFiles ingests paths concurrently. One failing file does not stop
// the others; all failures are joined into the returned error.
func (s *System) AddDocumentFiles(ctx context.Context, paths []string, meta map[string]any) ([]FileResult, error) {
	results := make([]FileResult, len(paths))
	errs := make([]error, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opt.Parallel)
	for i, p := range paths {
		g.Go(func() error {
			n, info, err := s.addFile(ctx, p, meta)
			results[i] = FileResult{Path: p, Chunks: n, Pages: info.PageCount, Words: info.WordCount}
			if err != nil {
				results[i].Error = err.Error()
				errs[i] = fmt.Errorf("%s: %w", p, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

// AddConversation remembers one exchange so later prompts can recall it.
func (s *System) AddConversation(ctx context.Context, user, bot string, a *emotion.Analysis) error {
	text := fmt.Sprintf("User: %s\nEmotiBot: %s", user, bot)

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed conversation: %w", err)
	}

	now := time.Now()
	meta := map[string]any{
		"type":         string(memory.KindConversation),
		"user_message": user,
		"bot_response": bot,
		"timestamp":    now.Format(time.RFC3339),
	}
	if a != nil {
		if b, err := json.Marshal(a); err == nil {
			meta["emotions"] = string(b)
		}
	}

	return s.store.Add(ctx, memory.Item{
		Content:   text,
		Embedding: vec,
		Metadata:  meta,
		Kind:      memory.KindConversation,
		CreatedAt: now,
	})
}

func (s *System) Search(ctx context.Context, query string, n int, where map[string]any) ([]memory.Match, error) {
	if n <= 0 {
		n = s.opt.Results
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.store.Query(ctx, vec, n, where)
}

// RelevantContext formats the closest memories for a prompt, stopping before
// the text would exceed maxChars runes.
func (s *System) RelevantContext(ctx context.Context, msg string, maxChars int) (string, error) {
	if maxChars <= 0 {
		maxChars = s.opt.ContextChars
	}

	matches, err := s.Search(ctx, msg, s.opt.Results, nil)
	if err != nil {
		return "", err
	}

	var (
		parts []string
		seen  []string
		size  int
	)
	for _, m := range matches {
		if nearDuplicate(m.Content, seen) {
			continue
		}
		var part string
		if m.Metadata["type"] == string(memory.KindConversation) {
			part = fmt.Sprintf("Previous conversation: %s\n", m.Content)
		} else {
			src, _ := m.Metadata["source"].(string)
			if src == "" {
				src = "Unknown"
			}
			part = fmt.Sprintf("From %s: %s\n", src, m.Content)
		}

		n := utf8.RuneCountInString(part)
		if size+n > maxChars {
			break
		}
		parts = append(parts, part)
		seen = append(seen, m.Content)
		size += n
	}
	return strings.Join(parts, "\n"), nil
}

// duplicateOverlap is the word overlap above which two snippets are the same
// text, as happens with overlapping chunks or a document uploaded twice.
const duplicateOverlap = 0.8

func nearDuplicate(text string, seen []string) bool {
	for _, s := range seen {
		if textutil.Jaccard(text, s) >= duplicateOverlap {
			return true
		}
	}
	return false
}

type Answer struct {
	Text string `json:"text"`
	// Fallback is set when no model could answer and Text is the apology.
	Fallback bool `json:"fallback"`
}

// Generate answers msg grounded on memory and the recent session. It never
// fails: model errors produce FallbackReply.
func (s *System) Generate(ctx context.Context, msg string, a *emotion.Analysis, recent []session.Turn) Answer {
	defer textutil.StartTimer("generate").Stop()

	memCtx, err := s.RelevantContext(ctx, msg, s.opt.ContextChars)
	if err != nil {
		log.Warn("No context for prompt", "err", err)
	}

	out, err := s.llm.Generate(ctx, persona, BuildPrompt(msg, a, memCtx, recent))
	if err != nil {
		log.Error("Generate failed", "err", err)
		return Answer{Text: FallbackReply, Fallback: true}
	}

	if err := s.AddConversation(ctx, msg, out, a); err != nil {
		log.Warn("Conversation not remembered", "err", err)
	}
	return Answer{Text: out}
}

// BuildPrompt renders the user-facing part of the prompt.
func BuildPrompt(msg string, a *emotion.Analysis, memCtx string, recent []session.Turn) string {
	var b strings.Builder

	if a != nil && a.Dominant != "" {
		fmt.Fprintf(&b, "The user seems to be feeling %s (confidence: %.2f). ", a.Dominant, a.Confidence)
	}
	b.WriteString("Respond compassionately to the user's message.\n\n")

	b.WriteString("Relevant context:\n")
	b.WriteString(memCtx)
	b.WriteString("\n\n")

	if len(recent) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, t := range recent {
			who := "User"
			if t.Role == session.RoleAssistant {
				who = "EmotiBot"
			}
			fmt.Fprintf(&b, "%s: %s\n", who, t.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "User message: %s\n\n", msg)
	b.WriteString("Please provide a helpful, empathetic response:")
	return b.String()
}

type Stats struct {
	Total          int    `json:"total_items"`
	DocumentChunks int    `json:"document_chunks"`
	Conversations  int    `json:"conversations"`
	Collection     string `json:"collection_name"`
}

func (s *System) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Collection: s.store.Name()}

	var err error
	if st.Total, err = s.store.Count(ctx); err != nil {
		return st, err
	}
	if st.DocumentChunks, err = s.store.CountKind(ctx, memory.KindDocument); err != nil {
		return st, err
	}
	if st.Conversations, err = s.store.CountKind(ctx, memory.KindConversation); err != nil {
		return st, err
	}
	return st, nil
}

// List returns up to limit stored items, oldest first. limit <= 0 means all.
func (s *System) List(ctx context.Context, limit int) ([]memory.Item, error) {
	items, err := s.store.Get(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}
	return items, nil
}

func (s *System) Clear(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	log.Info("Memory cleared", "collection", s.store.Name())
	return nil
}

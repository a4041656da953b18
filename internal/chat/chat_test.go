package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshikaxcx/emotibot/internal/emotion"
	"github.com/vanshikaxcx/emotibot/internal/history"
	"github.com/vanshikaxcx/emotibot/internal/rag"
	"github.com/vanshikaxcx/emotibot/internal/session"
)

type fakeResponder struct {
	answer rag.Answer
	msg    string
	a      *emotion.Analysis
	recent []session.Turn
}

func (f *fakeResponder) Generate(_ context.Context, msg string, a *emotion.Analysis, recent []session.Turn) rag.Answer {
	f.msg, f.a, f.recent = msg, a, recent
	return f.answer
}

type memHistory struct {
	records []history.Record
	err     error
}

func (m *memHistory) Save(_ context.Context, r history.Record) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

func (m *memHistory) List(_ context.Context, sessionID string, _ int) ([]history.Record, error) {
	var out []history.Record
	for _, r := range m.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memHistory) Close() error { return nil }

type fakeTranscriber struct{ text string }

func (f fakeTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return f.text, nil
}

func newService(t *testing.T, resp *fakeResponder, hist history.Store) (*Service, session.Store) {
	t.Helper()
	store, err := session.NewMemoryStore(20)
	require.NoError(t, err)
	return New(emotion.NewDetector(0.5), resp, Options{
		Sessions:    store,
		History:     hist,
		Transcriber: fakeTranscriber{text: "I am so happy today"},
		Window:      4,
	}), store
}

func TestReply(t *testing.T) {
	ctx := context.Background()
	resp := &fakeResponder{answer: rag.Answer{Text: "That's wonderful to hear!"}}
	hist := &memHistory{}
	s, store := newService(t, resp, hist)

	r, err := s.Reply(ctx, "", "  I am   so happy and excited today  ")
	require.NoError(t, err)

	assert.NotEmpty(t, r.SessionID)
	assert.Equal(t, "That's wonderful to hear!", r.Response)
	assert.Equal(t, "joy", r.Analysis.Dominant)
	assert.Equal(t, "I am so happy and excited today", resp.msg)
	assert.Equal(t, "joy", resp.a.Dominant)
	assert.Contains(t, r.Keywords, "happy")
	assert.LessOrEqual(t, len(r.Keywords), maxKeywords)

	turns, err := store.Recent(ctx, r.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, session.RoleUser, turns[0].Role)
	assert.Equal(t, "joy", turns[0].Emotion)
	assert.Equal(t, r.Response, turns[1].Content)

	require.Len(t, hist.records, 1)
	assert.Equal(t, r.SessionID, hist.records[0].SessionID)
	assert.Equal(t, "joy", hist.records[0].Emotion)

	// The second turn sees the first one.
	_, err = s.Reply(ctx, r.SessionID, "and now?")
	require.NoError(t, err)
	assert.Len(t, resp.recent, 2)
}

func TestReply_EmptyMessage(t *testing.T) {
	s, _ := newService(t, &fakeResponder{}, nil)
	_, err := s.Reply(context.Background(), "x", " \t\n")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestReply_FallbackNotLogged(t *testing.T) {
	ctx := context.Background()
	hist := &memHistory{}
	resp := &fakeResponder{answer: rag.Answer{Text: rag.FallbackReply, Fallback: true}}
	s, store := newService(t, resp, hist)

	r, err := s.Reply(ctx, "s", "hello")
	require.NoError(t, err)
	assert.True(t, r.Fallback)
	assert.Empty(t, hist.records)

	turns, err := store.Recent(ctx, "s", 0)
	require.NoError(t, err)
	assert.Empty(t, turns, "apology must not enter the session window")

	// Once the provider recovers the next turn sees no apology.
	resp.answer = rag.Answer{Text: "Hi there"}
	_, err = s.Reply(ctx, "s", "hello again")
	require.NoError(t, err)
	assert.Empty(t, resp.recent)

	turns, err = store.Recent(ctx, "s", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "Hi there", turns[1].Content)
}

func TestReply_HistoryErrorIsNotFatal(t *testing.T) {
	s, _ := newService(t, &fakeResponder{answer: rag.Answer{Text: "ok"}}, &memHistory{err: errors.New("supabase down")})
	r, err := s.Reply(context.Background(), "s", "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", r.Response)
}

func TestVoice(t *testing.T) {
	s, _ := newService(t, &fakeResponder{answer: rag.Answer{Text: "Yay!"}}, nil)
	r, err := s.Voice(context.Background(), "s", []byte("RIFF"), "clip.wav")
	require.NoError(t, err)
	assert.Equal(t, "I am so happy today", r.Transcript)
	assert.Equal(t, "Yay!", r.Response)

	noVoice := New(emotion.NewDetector(0.5), &fakeResponder{}, Options{})
	_, err = noVoice.Voice(context.Background(), "s", nil, "clip.wav")
	assert.Error(t, err)
}

func TestHistory_FallsBackToSession(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, &fakeResponder{answer: rag.Answer{Text: "hi"}}, nil)

	for _, m := range []string{"one", "two", "three"} {
		_, err := s.Reply(ctx, "s", m)
		require.NoError(t, err)
	}

	rs, err := s.History(ctx, "s", 2)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, "two", rs[0].UserMessage)
	assert.Equal(t, "three", rs[1].UserMessage)

	require.NoError(t, s.Reset(ctx, "s"))
	rs, err = s.History(ctx, "s", 0)
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestHistory_UsesHostedLog(t *testing.T) {
	ctx := context.Background()
	hist := &memHistory{}
	s, _ := newService(t, &fakeResponder{answer: rag.Answer{Text: "hi"}}, hist)

	_, err := s.Reply(ctx, "s", "hello")
	require.NoError(t, err)

	rs, err := s.History(ctx, "s", 10)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "hello", rs[0].UserMessage)
}

func TestPairTurns(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	turns := []session.Turn{
		{Role: session.RoleAssistant, Content: "orphan reply"},
		{Role: session.RoleUser, Content: "hi", Emotion: "joy", At: at},
		{Role: session.RoleAssistant, Content: "hello"},
		{Role: session.RoleUser, Content: "unanswered"},
		{Role: session.RoleUser, Content: "still there?", At: at.Add(time.Minute)},
		{Role: session.RoleAssistant, Content: "yes"},
	}

	want := []history.Record{
		{SessionID: "s", UserMessage: "hi", BotResponse: "hello", Emotion: "joy", CreatedAt: at},
		{SessionID: "s", UserMessage: "still there?", BotResponse: "yes", CreatedAt: at.Add(time.Minute)},
	}
	if diff := cmp.Diff(want, pairTurns("s", turns, 0)); diff != "" {
		t.Errorf("pairTurns mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want[1:], pairTurns("s", turns, 1)); diff != "" {
		t.Errorf("pairTurns with limit mismatch (-want +got):\n%s", diff)
	}
}

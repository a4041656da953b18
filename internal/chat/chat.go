// Package chat runs one conversational turn: emotion analysis, grounded
// generation and bookkeeping of the session and the hosted log.
package chat

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vanshikaxcx/emotibot/internal/emotion"
	"github.com/vanshikaxcx/emotibot/internal/history"
	"github.com/vanshikaxcx/emotibot/internal/metrics"
	"github.com/vanshikaxcx/emotibot/internal/rag"
	"github.com/vanshikaxcx/emotibot/internal/session"
	"github.com/vanshikaxcx/emotibot/pkg/textutil"
)

var ErrEmptyMessage = errors.New("message is empty")

const (
	maxKeywords = 5
	logPreview  = 60
)

type Analyzer interface {
	Analyze(ctx context.Context, text string) emotion.Analysis
}

type Responder interface {
	Generate(ctx context.Context, msg string, a *emotion.Analysis, recent []session.Turn) rag.Answer
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

type Options struct {
	Sessions    session.Store
	History     history.Store
	Transcriber Transcriber
	Metrics     *metrics.Metrics
	// Window is how many recent turns go into the prompt.
	Window int
}

type Service struct {
	analyzer  Analyzer
	responder Responder
	opt       Options
}

func New(analyzer Analyzer, responder Responder, opt Options) *Service {
	if opt.History == nil {
		opt.History = history.Nop{}
	}
	if opt.Window <= 0 {
		opt.Window = 10
	}
	return &Service{analyzer: analyzer, responder: responder, opt: opt}
}

type Reply struct {
	SessionID  string           `json:"session_id"`
	Response   string           `json:"response"`
	Analysis   emotion.Analysis `json:"analysis"`
	Keywords   []string         `json:"keywords"`
	Fallback   bool             `json:"fallback"`
	Transcript string           `json:"transcript,omitempty"`
}

// Reply answers message within sessionID. An empty sessionID starts a new
// session whose id is returned in the reply.
func (s *Service) Reply(ctx context.Context, sessionID, message string) (Reply, error) {
	message = textutil.Clean(message)
	if message == "" {
		return Reply{}, ErrEmptyMessage
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	a := s.analyzer.Analyze(ctx, message)

	var recent []session.Turn
	if s.opt.Sessions != nil {
		var err error
		if recent, err = s.opt.Sessions.Recent(ctx, sessionID, s.opt.Window); err != nil {
			log.Warn("Session unavailable", "session", sessionID, "err", err)
		}
	}

	ans := s.responder.Generate(ctx, message, &a, recent)

	// The apology is not part of the conversation; keep it out of the
	// window the next turn sees and out of the stored history.
	if !ans.Fallback {
		s.remember(ctx, sessionID, message, ans.Text, &a)
	}

	s.opt.Metrics.RecordReply(a.Dominant)
	log.Info("Replied", "session", sessionID, "emotion", a.Dominant, "fallback", ans.Fallback,
		"message", textutil.Truncate(message, logPreview, true))

	return Reply{
		SessionID: sessionID,
		Response:  ans.Text,
		Analysis:  a,
		Keywords:  textutil.Keywords(message, maxKeywords),
		Fallback:  ans.Fallback,
	}, nil
}

func (s *Service) remember(ctx context.Context, sessionID, message, answer string, a *emotion.Analysis) {
	if s.opt.Sessions != nil {
		now := time.Now()
		err := s.opt.Sessions.Append(ctx, sessionID,
			session.Turn{Role: session.RoleUser, Content: message, Emotion: a.Dominant, At: now},
			session.Turn{Role: session.RoleAssistant, Content: answer, At: now},
		)
		if err != nil {
			log.Warn("Session not updated", "session", sessionID, "err", err)
		}
	}

	err := s.opt.History.Save(ctx, history.Record{
		SessionID:   sessionID,
		UserMessage: message,
		BotResponse: answer,
		Emotion:     a.Dominant,
		Confidence:  a.Confidence,
		Sentiment:   a.Sentiment.Label,
	})
	if err != nil {
		log.Warn("Conversation not logged", "session", sessionID, "err", err)
	}
}

// Voice transcribes audio and answers the transcript.
func (s *Service) Voice(ctx context.Context, sessionID string, audio []byte, filename string) (Reply, error) {
	if s.opt.Transcriber == nil {
		return Reply{}, fmt.Errorf("voice input is not configured")
	}
	text, err := s.opt.Transcriber.Transcribe(ctx, audio, filename)
	if err != nil {
		return Reply{}, err
	}

	r, err := s.Reply(ctx, sessionID, text)
	if err != nil {
		return Reply{}, err
	}
	r.Transcript = text
	return r, nil
}

// History returns the logged exchanges of a session. Without a hosted log it
// falls back to the in-session window.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]history.Record, error) {
	if _, ok := s.opt.History.(history.Nop); !ok {
		return s.opt.History.List(ctx, sessionID, limit)
	}
	if s.opt.Sessions == nil {
		return nil, nil
	}

	turns, err := s.opt.Sessions.Recent(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	return pairTurns(sessionID, turns, limit), nil
}

// Reset forgets the short-term window of a session.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	if s.opt.Sessions == nil {
		return nil
	}
	return s.opt.Sessions.Clear(ctx, sessionID)
}

func pairTurns(sessionID string, turns []session.Turn, limit int) []history.Record {
	var out []history.Record
	for i := 0; i+1 < len(turns); i++ {
		u, b := turns[i], turns[i+1]
		if u.Role != session.RoleUser || b.Role != session.RoleAssistant {
			continue
		}
		out = append(out, history.Record{
			SessionID:   sessionID,
			UserMessage: u.Content,
			BotResponse: b.Content,
			Emotion:     u.Emotion,
			CreatedAt:   u.At,
		})
		i++
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

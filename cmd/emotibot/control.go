package main

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/vanshikaxcx/emotibot/internal/chat"
	"github.com/vanshikaxcx/emotibot/internal/ipc"
	"github.com/vanshikaxcx/emotibot/internal/rag"
)

// localSession is the conversation used for voice turns started from the
// control socket.
const localSession = "local"

type memoryOps interface {
	AddDocumentFiles(ctx context.Context, paths []string, meta map[string]any) ([]rag.FileResult, error)
	Stats(ctx context.Context) (rag.Stats, error)
	Clear(ctx context.Context) error
}

type voiceOps interface {
	Speak(ctx context.Context, text, method string) error
	ListenOnce(ctx context.Context) (string, error)
}

type replier interface {
	Reply(ctx context.Context, sessionID, message string) (chat.Reply, error)
}

type control struct {
	memory memoryOps
	voice  voiceOps
	chat   replier
	method string
}

func (c *control) handle(ctx context.Context, msg ipc.ControlMessage) (any, error) {
	switch msg.Cmd {
	case "ping":
		return "pong", nil

	case "stats":
		return c.memory.Stats(ctx)

	case "clear":
		return nil, c.memory.Clear(ctx)

	case "ingest":
		if len(msg.Args) == 0 {
			return nil, errors.New("ingest: no paths given")
		}
		paths := make([]string, len(msg.Args))
		for i, p := range msg.Args {
			abs, err := filepath.Abs(p)
			if err != nil {
				return nil, fmt.Errorf("ingest %s: %w", p, err)
			}
			paths[i] = abs
		}
		res, err := c.memory.AddDocumentFiles(ctx, paths, nil)
		if err != nil {
			log.Warn("Some documents failed", "err", err)
		}
		return res, nil

	case "say":
		text := strings.TrimSpace(strings.Join(msg.Args, " "))
		if text == "" {
			return nil, errors.New("say: no text given")
		}
		return nil, c.voice.Speak(ctx, text, c.method)

	case "listen":
		return c.listen(ctx)

	default:
		log.Warn("Unknown command", "cmd", msg.Cmd)
		return nil, fmt.Errorf("unknown command %q", msg.Cmd)
	}
}

// listen runs one spoken turn: record, reply, and say the reply aloud.
func (c *control) listen(ctx context.Context) (chat.Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	log.Info("Starting listening")
	text, err := c.voice.ListenOnce(ctx)
	if err != nil {
		return chat.Reply{}, fmt.Errorf("listen: %w", err)
	}
	log.Info("Transcribed", "text", text)

	reply, err := c.chat.Reply(ctx, localSession, text)
	if err != nil {
		return chat.Reply{}, err
	}
	reply.Transcript = text

	if err := c.voice.Speak(ctx, reply.Response, c.method); err != nil {
		log.Error("Failed to voice out", "err", err)
	}
	return reply, nil
}

package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshikaxcx/emotibot/internal/chat"
	"github.com/vanshikaxcx/emotibot/internal/ipc"
	"github.com/vanshikaxcx/emotibot/internal/rag"
	"github.com/vanshikaxcx/emotibot/internal/speech"
)

type fakeOps struct {
	paths   []string
	cleared bool
	spoken  []string
	heard   string
	listenE error
}

func (f *fakeOps) AddDocumentFiles(_ context.Context, paths []string, _ map[string]any) ([]rag.FileResult, error) {
	f.paths = paths
	res := make([]rag.FileResult, len(paths))
	for i, p := range paths {
		res[i] = rag.FileResult{Path: p, Chunks: 2}
	}
	return res, nil
}

func (f *fakeOps) Stats(context.Context) (rag.Stats, error) {
	return rag.Stats{Total: 7, Collection: "c"}, nil
}

func (f *fakeOps) Clear(context.Context) error {
	f.cleared = true
	return nil
}

func (f *fakeOps) Speak(_ context.Context, text, _ string) error {
	f.spoken = append(f.spoken, text)
	return nil
}

func (f *fakeOps) ListenOnce(context.Context) (string, error) {
	return f.heard, f.listenE
}

func (f *fakeOps) Reply(_ context.Context, sessionID, message string) (chat.Reply, error) {
	return chat.Reply{SessionID: sessionID, Response: "you said " + message}, nil
}

func newControl() (*control, *fakeOps) {
	f := &fakeOps{}
	return &control{memory: f, voice: f, chat: f, method: speech.MethodAuto}, f
}

func TestControl_Memory(t *testing.T) {
	ctx := context.Background()
	c, f := newControl()

	out, err := c.handle(ctx, ipc.ControlMessage{Cmd: "stats"})
	require.NoError(t, err)
	assert.Equal(t, 7, out.(rag.Stats).Total)

	_, err = c.handle(ctx, ipc.ControlMessage{Cmd: "clear"})
	require.NoError(t, err)
	assert.True(t, f.cleared)

	out, err = c.handle(ctx, ipc.ControlMessage{Cmd: "ingest", Args: []string{"notes.txt"}})
	require.NoError(t, err)
	require.Len(t, f.paths, 1)
	assert.True(t, filepath.IsAbs(f.paths[0]))
	assert.Len(t, out.([]rag.FileResult), 1)

	_, err = c.handle(ctx, ipc.ControlMessage{Cmd: "ingest"})
	assert.Error(t, err)
}

func TestControl_Voice(t *testing.T) {
	ctx := context.Background()
	c, f := newControl()

	_, err := c.handle(ctx, ipc.ControlMessage{Cmd: "say", Args: []string{"hello", "there"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello there"}, f.spoken)

	_, err = c.handle(ctx, ipc.ControlMessage{Cmd: "say", Args: []string{"  "}})
	assert.Error(t, err)

	f.heard = "I feel tired"
	out, err := c.handle(ctx, ipc.ControlMessage{Cmd: "listen"})
	require.NoError(t, err)
	reply := out.(chat.Reply)
	assert.Equal(t, localSession, reply.SessionID)
	assert.Equal(t, "I feel tired", reply.Transcript)
	assert.Equal(t, "you said I feel tired", f.spoken[len(f.spoken)-1])

	f.listenE = speech.ErrNoSpeech
	_, err = c.handle(ctx, ipc.ControlMessage{Cmd: "listen"})
	assert.True(t, errors.Is(err, speech.ErrNoSpeech))
}

func TestControl_Unknown(t *testing.T) {
	c, _ := newControl()
	out, err := c.handle(context.Background(), ipc.ControlMessage{Cmd: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", out)

	_, err = c.handle(context.Background(), ipc.ControlMessage{Cmd: "dance"})
	assert.ErrorContains(t, err, "unknown command")
}

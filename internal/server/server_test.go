package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshikaxcx/emotibot/internal/chat"
	"github.com/vanshikaxcx/emotibot/internal/config"
	"github.com/vanshikaxcx/emotibot/internal/document"
	"github.com/vanshikaxcx/emotibot/internal/emotion"
	"github.com/vanshikaxcx/emotibot/internal/history"
	"github.com/vanshikaxcx/emotibot/internal/memory"
	"github.com/vanshikaxcx/emotibot/internal/metrics"
	"github.com/vanshikaxcx/emotibot/internal/rag"
	"github.com/vanshikaxcx/emotibot/internal/speech"
	"github.com/vanshikaxcx/emotibot/pkg/protocol"
)

type fakeChat struct {
	panics bool
	reset  string
}

func (f *fakeChat) Reply(_ context.Context, sessionID, message string) (chat.Reply, error) {
	if f.panics {
		panic("boom")
	}
	if strings.TrimSpace(message) == "" {
		return chat.Reply{}, chat.ErrEmptyMessage
	}
	if sessionID == "" {
		sessionID = "new-session"
	}
	return chat.Reply{
		SessionID: sessionID,
		Response:  "echo: " + message,
		Analysis:  emotion.Analysis{Dominant: "joy", Confidence: 0.5},
		Keywords:  []string{"echo"},
	}, nil
}

func (f *fakeChat) Voice(ctx context.Context, sessionID string, audio []byte, _ string) (chat.Reply, error) {
	r, err := f.Reply(ctx, sessionID, string(audio))
	r.Transcript = string(audio)
	return r, err
}

func (f *fakeChat) History(_ context.Context, sessionID string, limit int) ([]history.Record, error) {
	rs := []history.Record{{SessionID: sessionID, UserMessage: "a"}, {SessionID: sessionID, UserMessage: "b"}}
	if limit > 0 && limit < len(rs) {
		rs = rs[len(rs)-limit:]
	}
	return rs, nil
}

func (f *fakeChat) Reset(_ context.Context, sessionID string) error {
	f.reset = sessionID
	return nil
}

type fakeMemory struct {
	added     string
	meta      map[string]any
	cleared   bool
	listLimit int
}

func (f *fakeMemory) AddDocumentBytes(_ context.Context, data []byte, filename string, meta map[string]any) (int, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return 0, rag.ErrNoText
	}
	f.added, f.meta = filename, meta
	return 3, nil
}

func (f *fakeMemory) Search(_ context.Context, query string, n int, _ map[string]any) ([]memory.Match, error) {
	return []memory.Match{{Item: memory.Item{Content: "about " + query}, Distance: 0.1}}, nil
}

func (f *fakeMemory) Stats(context.Context) (rag.Stats, error) {
	return rag.Stats{Total: 4, DocumentChunks: 3, Conversations: 1, Collection: "emotibot_memory"}, nil
}

func (f *fakeMemory) List(_ context.Context, limit int) ([]memory.Item, error) {
	f.listLimit = limit
	return []memory.Item{
		{ID: "a", Kind: memory.KindDocument, Content: strings.Repeat("x", 300), Metadata: map[string]any{"source": "notes.txt"}},
		{ID: "b", Kind: memory.KindConversation, Content: "User: hi"},
	}, nil
}

func (f *fakeMemory) Clear(context.Context) error {
	f.cleared = true
	return nil
}

type fakeSpeech struct{}

func (fakeSpeech) Transcribe(_ context.Context, audio []byte, _ string) (string, error) {
	return "heard " + string(audio), nil
}

func (fakeSpeech) Synthesize(_ context.Context, text string) (speech.Audio, error) {
	return speech.Audio{Data: []byte("ID3" + text), Format: "mp3"}, nil
}

func (fakeSpeech) Check(context.Context) map[string]bool {
	return map[string]bool{"online_tts": true}
}

type testEnv struct {
	handler http.Handler
	chat    *fakeChat
	memory  *fakeMemory
	metrics *metrics.Metrics
}

func newEnv(t *testing.T, cfg config.ServerConfig, withSpeech bool) *testEnv {
	t.Helper()
	env := &testEnv{chat: &fakeChat{}, memory: &fakeMemory{}, metrics: metrics.New(nil)}
	deps := Deps{
		Chat:    env.chat,
		Emotion: emotion.NewDetector(0.5),
		Memory:  env.memory,
		Metrics: env.metrics,
		Ready: map[string]Check{
			"memory": func(context.Context) error { return nil },
		},
		Keys: map[string]bool{"GOOGLE_API_KEY": true},
	}
	if withSpeech {
		deps.Speech = fakeSpeech{}
	}
	env.handler = New(cfg, deps).Router()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postJSON(t *testing.T, path, body string) *httptest.ResponseRecorder {
	return e.do(t, http.MethodPost, path, strings.NewReader(body), "application/json")
}

func multipartBody(t *testing.T, field, filename string, data []byte, extra map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range extra {
		require.NoError(t, mw.WriteField(k, v))
	}
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	assert.Equal(t, "error", e.Status)
	return e
}

func defaultCfg() config.ServerConfig {
	return config.ServerConfig{
		RateLimit:      1000,
		Burst:          1000,
		MaxUploadBytes: 1 << 20,
		AllowedOrigins: []string{"http://localhost:3000"},
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newEnv(t, defaultCfg(), false)

	rec := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/ready", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"memory":"ok"`)
	assert.Contains(t, rec.Body.String(), `"GOOGLE_API_KEY":true`)
}

func TestReady_FailingCheck(t *testing.T) {
	h := New(defaultCfg(), Deps{
		Metrics: metrics.New(nil),
		Ready:   map[string]Check{"memory": func(context.Context) error { return errors.New("db locked") }},
	}).Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "db locked")
}

func TestChat(t *testing.T) {
	env := newEnv(t, defaultCfg(), false)

	rec := env.postJSON(t, "/v1/chat", `{"session_id":"s1","message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var reply chat.Reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "s1", reply.SessionID)
	assert.Equal(t, "echo: hello", reply.Response)
	assert.Equal(t, "joy", reply.Analysis.Dominant)
}

func TestChat_BadRequests(t *testing.T) {
	env := newEnv(t, defaultCfg(), false)

	for name, body := range map[string]string{
		"missing message": `{"session_id":"s1"}`,
		"malformed":       `{"message":`,
		"wrong type":      `{"message": 5}`,
		"empty body":      ``,
		"blank message":   `{"message":"   "}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := env.postJSON(t, "/v1/chat", body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			e := decodeError(t, rec)
			assert.Equal(t, CodeInvalidRequest, e.ErrorCode)
			assert.NotEmpty(t, e.RequestID)
		})
	}

	rec := env.postJSON(t, "/v1/chat", `{"session_id":"s1"}`)
	assert.Contains(t, decodeError(t, rec).Message, "message failed required")
}

func TestRecovery(t *testing.T) {
	env := newEnv(t, defaultCfg(), false)
	env.chat.panics = true

	rec := env.postJSON(t, "/v1/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeInternal, decodeError(t, rec).ErrorCode)
}

func TestEmotion(t *testing.T) {
	env := newEnv(t, defaultCfg(), false)

	rec := env.postJSON(t, "/v1/emotion", `{"text":"I am so worried and nervous"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var a emotion.Analysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.Equal(t, "fear", a.Dominant)
}

func TestUpload(t *testing.T) {
	env := newEnv(t, defaultCfg(), false)

	body, ct := multipartBody(t, "file", "my notes.txt", []byte("calm breathing helps"), map[string]string{
		"metadata": `{"topic":"coping"}`,
	})
	rec := env.do(t, http.MethodPost, "/v1/documents", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"chunks":3`)
	assert.Equal(t, "my notes.txt", env.memory.added)
	assert.Equal(t, "coping", env.memory.meta["topic"])
}

func TestUpload_Errors(t *testing.T) {
	env := newEnv(t, defaultCfg(), false)

	body, ct := multipartBody(t, "file", "photo.png", []byte{1, 2}, nil)
	rec := env.do(t, http.MethodPost, "/v1/documents", body, ct)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, CodeUnsupportedType, e.ErrorCode)
	assert.Contains(t, e.Message, document.ErrUnsupportedFormat.Error())
	assert.Contains(t, e.Message, ".pdf")

	body, ct = multipartBody(t, "", "", nil, map[string]string{"x": "y"})
	rec = env.do(t, http.MethodPost, "/v1/documents", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct = multipartBody(t, "file", "empty.txt", []byte("  "), nil)
	rec = env.do(t, http.MethodPost, "/v1/documents", body, ct)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	for _, raw := range []string{"[1,2]", "null", `"text"`} {
		body, ct = multipartBody(t, "file", "notes.txt", []byte("x"), map[string]string{"metadata": raw})
		rec = env.do(t, http.MethodPost, "/v1/documents", body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "metadata %s", raw)
		assert.Equal(t, CodeInvalidRequest, decodeError(t, rec).ErrorCode)
	}
	assert.Empty(t, env.memory.added)
}

func TestUploadFormats(t *testing.T) {
	env := newEnv(t, defaultCfg(), false)

	rec := env.do(t, http.MethodGet, "/v1/documents", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"supported_formats":[".pdf",".docx",".txt"],"max_upload_bytes":1048576,"max_upload":"1.0 MB"}`, rec.Body.String())
}

func TestUpload_TooLarge(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxUploadBytes = 1024
	env := newEnv(t, cfg, false)

	body, ct := multipartBody(t, "file", "big.txt", bytes.Repeat([]byte("a "), 4096), nil)
	rec := env.do(t, http.MethodPost, "/v1/documents", body, ct)
	assert.Contains(t, []int{http.StatusRequestEntityTooLarge, http.StatusBadRequest}, rec.Code)
	assert.Empty(t, env.memory.added)
}

func TestMemoryRoutes(t *testing.T) {
	env := newEnv(t, defaultCfg(), false)

	rec := env.do(t, http.MethodGet, "/v1/memory/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"collection_name":"emotibot_memory"`)

	rec = env.postJSON(t, "/v1/memory/search", `{"query":"sleep","n":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"content":"about sleep"`)

	rec = env.postJSON(t, "/v1/memory/search", `{"query":"sleep","n":500}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/memory?limit=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, env.memory.listLimit)
	var listed struct {
		Items []struct {
			ID       string         `json:"id"`
			Kind     string         `json:"kind"`
			Content  string         `json:"content"`
			Metadata map[string]any `json:"metadata"`
		} `json:"items"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Items, 2)
	assert.Equal(t, 2, listed.Count)
	assert.Equal(t, "document", listed.Items[0].Kind)
	assert.Len(t, listed.Items[0].Content, 200)
	assert.True(t, strings.HasSuffix(listed.Items[0].Content, "..."))
	assert.Equal(t, "notes.txt", listed.Items[0].Metadata["source"])

	env.do(t, http.MethodGet, "/v1/memory", nil, "")
	assert.Equal(t, 50, env.memory.listLimit)
	env.do(t, http.MethodGet, "/v1/memory?limit=100000", nil, "")
	assert.Equal(t, 500, env.memory.listLimit)

	rec = env.do(t, http.MethodGet, "/v1/memory?limit=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/memory", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.memory.cleared)
}

func TestSpeechRoutes(t *testing.T) {
	env := newEnv(t, defaultCfg(), true)

	rec := env.postJSON(t, "/v1/speech/synthesize", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "ID3hello", rec.Body.String())

	body, ct := multipartBody(t, "audio", "clip.wav", []byte("words"), nil)
	rec = env.do(t, http.MethodPost, "/v1/speech/transcribe", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"text":"heard words"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/speech/status", nil, "")
	assert.JSONEq(t, `{"online_tts":true}`, rec.Body.String())
}

func TestSpeechRoutes_Unavailable(t *testing.T) {
	env := newEnv(t, defaultCfg(), false)

	rec := env.postJSON(t, "/v1/speech/synthesize", `{"text":"hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, CodeServiceDown, decodeError(t, rec).ErrorCode)
}

func TestVoice(t *testing.T) {
	env := newEnv(t, defaultCfg(), false)

	body, ct := multipartBody(t, "audio", "speech.webm", []byte("I feel fine"), map[string]string{"session_id": "s9"})
	rec := env.do(t, http.MethodPost, "/v1/voice", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var reply chat.Reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "s9", reply.SessionID)
	assert.Equal(t, "I feel fine", reply.Transcript)
}

func TestSessionRoutes(t *testing.T) {
	env := newEnv(t, defaultCfg(), false)

	rec := env.do(t, http.MethodGet, "/v1/sessions/abc/history?limit=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		SessionID string           `json:"session_id"`
		Records   []history.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "abc", body.SessionID)
	require.Len(t, body.Records, 1)
	assert.Equal(t, "b", body.Records[0].UserMessage)

	rec = env.do(t, http.MethodGet, "/v1/sessions/abc/history?limit=-2", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/sessions/abc", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", env.chat.reset)
}

func TestRateLimit(t *testing.T) {
	env := newEnv(t, config.ServerConfig{RateLimit: 0.001, Burst: 1}, false)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/memory/stats", nil, "").Code)

	rec := env.do(t, http.MethodGet, "/v1/memory/stats", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, CodeRateLimited, decodeError(t, rec).ErrorCode)

	// Health is outside the limited API.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil, "").Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newEnv(t, defaultCfg(), false)

	req := httptest.NewRequest(http.MethodOptions, "/v1/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Origins(t *testing.T) {
	env := newEnv(t, defaultCfg(), false)

	for _, tc := range []struct {
		origin, host string
		allowed      bool
	}{
		{"http://evil.example.com", "emotibot.local", false},
		{"http://localhost:3001", "emotibot.local", false},
		{"http://emotibot.local", "emotibot.local", true},
		{"http://localhost:3000", "emotibot.local", true},
	} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Host = tc.host
		req.Header.Set("Origin", tc.origin)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, tc.origin)
		if tc.allowed {
			assert.Equal(t, tc.origin, rec.Header().Get("Access-Control-Allow-Origin"), tc.origin)
		} else {
			assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), tc.origin)
		}
	}
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	env := newEnv(t, defaultCfg(), false)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://localhost:3000"}})
	require.NoError(t, err)
	resp.Body.Close()
	conn.Close()

	conn, resp, err = websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {srv.URL}})
	require.NoError(t, err)
	resp.Body.Close()
	conn.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	env := newEnv(t, defaultCfg(), false)
	env.postJSON(t, "/v1/chat", `{"message":"hi"}`)

	rec := env.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `emotibot_http_requests_total{method="POST",route="/v1/chat",status="200"} 1`)
}

func TestUI(t *testing.T) {
	env := newEnv(t, defaultCfg(), false)

	rec := env.do(t, http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "EmotiBot")

	rec = env.do(t, http.MethodGet, "/app.js", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebSocketChat(t *testing.T) {
	env := newEnv(t, defaultCfg(), false)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := protocol.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/ws", 1, 2*time.Second)
	require.NoError(t, err)
	defer c.Close()

	f, err := c.Send(ctx, "hello there")
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeReply, f.Type)
	assert.Equal(t, "echo: hello there", f.Response)
	assert.Equal(t, "new-session", c.SessionID())
	assert.Contains(t, string(f.Analysis), `"dominant_emotion":"joy"`)

	f, err = c.Send(ctx, "again")
	require.NoError(t, err)
	assert.Equal(t, "new-session", f.SessionID)

	require.NoError(t, c.Write(protocol.Frame{Type: protocol.TypePing}))
	pong, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypePong, pong.Type)
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/vanshikaxcx/emotibot/internal/document"
	"github.com/vanshikaxcx/emotibot/internal/memory"
	"github.com/vanshikaxcx/emotibot/pkg/textutil"
)

type ChatRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
	Message   string `json:"message" validate:"required,max=8000"`
}

type EmotionRequest struct {
	Text string `json:"text" validate:"required,max=20000"`
}

type SearchRequest struct {
	Query string         `json:"query" validate:"required,max=2000"`
	N     int            `json:"n" validate:"omitempty,min=1,max=50"`
	Where map[string]any `json:"where"`
}

type SynthesizeRequest struct {
	Text string `json:"text" validate:"required,max=4096"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: decode body: %w", errBadRequest, err)
	}
	return s.validate.Struct(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   textutil.FormatTimestamp(time.Now()),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.deps.Ready))
	ready := true
	for name, check := range s.deps.Ready {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": checks,
		"keys":   s.deps.Keys,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	reply, err := s.deps.Chat.Reply(r.Context(), req.SessionID, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleEmotion(w http.ResponseWriter, r *http.Request) {
	var req EmotionRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Emotion.Analyze(r.Context(), req.Text))
}

// formFile reads one multipart file field within the upload cap.
func (s *Server) formFile(w http.ResponseWriter, r *http.Request, field string) ([]byte, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		return nil, nil, fmt.Errorf("%w: parse form: %w", errBadRequest, err)
	}

	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: missing %q file: %w", errBadRequest, field, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fmt.Errorf("read upload: %w", err)
	}
	return data, hdr, nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, hdr, err := s.formFile(w, r, "file")
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	name := textutil.SanitizeFilename(filepath.Base(hdr.Filename))
	if !document.IsSupported(name) {
		writeError(w, r, fmt.Errorf("%w: %q (supported: %s)", document.ErrUnsupportedFormat,
			filepath.Ext(name), strings.Join(document.SupportedFormats(), ", ")))
		return
	}

	meta := map[string]any{}
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil || meta == nil {
			writeError(w, r, fmt.Errorf("%w: metadata must be a JSON object", errBadRequest))
			return
		}
	}
	meta["file_size"] = len(data)

	chunks, err := s.deps.Memory.AddDocumentBytes(r.Context(), data, name, meta)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":   "success",
		"filename": name,
		"chunks":   chunks,
		"size":     textutil.FormatFileSize(int64(len(data))),
	})
}

// handleFormats tells the UI which files the upload accepts.
func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"supported_formats": document.SupportedFormats(),
		"max_upload_bytes":  s.cfg.MaxUploadBytes,
		"max_upload":        textutil.FormatFileSize(s.cfg.MaxUploadBytes),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Memory.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type searchResult struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Distance float64        `json:"distance"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	matches, err := s.deps.Memory.Search(r.Context(), req.Query, req.N, req.Where)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]searchResult, len(matches))
	for i, m := range matches {
		out[i] = searchResult{Content: m.Content, Metadata: m.Metadata, Distance: m.Distance}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
	listPreview      = 200
)

type listedItem struct {
	ID        string         `json:"id"`
	Kind      memory.Kind    `json:"kind"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultListLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	items, err := s.deps.Memory.List(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]listedItem, len(items))
	for i, it := range items {
		out[i] = listedItem{
			ID:        it.ID,
			Kind:      it.Kind,
			Content:   textutil.Truncate(it.Content, listPreview, true),
			Metadata:  it.Metadata,
			CreatedAt: it.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "count": len(out)})
}

// queryLimit parses the optional limit query parameter.
func queryLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest)
	}
	return n, nil
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Memory.Clear(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleSpeechStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Speech == nil {
		writeJSON(w, http.StatusOK, map[string]bool{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Speech.Check(r.Context()))
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.deps.Speech == nil {
		writeError(w, r, fmt.Errorf("speech: %w", errUnavailable))
		return
	}
	data, hdr, err := s.formFile(w, r, "audio")
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	text, err := s.deps.Speech.Transcribe(r.Context(), data, hdr.Filename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	data, hdr, err := s.formFile(w, r, "audio")
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	reply, err := s.deps.Chat.Voice(r.Context(), r.FormValue("session_id"), data, hdr.Filename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if s.deps.Speech == nil {
		writeError(w, r, fmt.Errorf("speech: %w", errUnavailable))
		return
	}
	var req SynthesizeRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	a, err := s.deps.Speech.Synthesize(r.Context(), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", a.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Data)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	limit, err := queryLimit(r, 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	records, err := s.deps.Chat.History(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"records":    records,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Chat.Reset(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

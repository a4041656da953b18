package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	DefaultSTTModel = openai.AudioModelWhisper1
	DefaultTTSModel = openai.SpeechModelTTS1
	DefaultVoice    = "alloy"
)

func newOpenAIClient(apiKey, baseURL string, hc *http.Client) (openai.Client, error) {
	if apiKey == "" {
		return openai.Client{}, fmt.Errorf("openai speech: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if hc != nil {
		opts = append(opts, option.WithHTTPClient(hc))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return openai.NewClient(opts...), nil
}

type OpenAITranscriber struct {
	client openai.Client
	model  string
}

func NewOpenAITranscriber(apiKey, model, baseURL string, hc *http.Client) (*OpenAITranscriber, error) {
	client, err := newOpenAIClient(apiKey, baseURL, hc)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultSTTModel
	}
	return &OpenAITranscriber{client: client, model: model}, nil
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio []byte, filename, lang string) (string, error) {
	if filename == "" {
		filename = "speech.wav"
	}
	ct := mime.TypeByExtension(filepath.Ext(filename))
	if ct == "" {
		ct = "application/octet-stream"
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), filepath.Base(filename), ct),
		Model: openai.AudioModel(t.model),
	}
	if lang != "" {
		params.Language = openai.String(lang)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return resp.Text, nil
}

type OpenAISynthesizer struct {
	client openai.Client
	model  string
	voice  string
}

func NewOpenAISynthesizer(apiKey, model, voice, baseURL string, hc *http.Client) (*OpenAISynthesizer, error) {
	client, err := newOpenAIClient(apiKey, baseURL, hc)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultTTSModel
	}
	if voice == "" {
		voice = DefaultVoice
	}
	return &OpenAISynthesizer{client: client, model: model, voice: voice}, nil
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) (Audio, error) {
	if text == "" {
		return Audio{}, ErrEmptyText
	}

	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(s.model),
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return Audio{}, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("read speech: %w", err)
	}
	if len(data) == 0 {
		return Audio{}, fmt.Errorf("openai speech: empty audio")
	}
	return Audio{Data: data, Format: "mp3"}, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/vanshikaxcx/emotibot/internal/chat"
	"github.com/vanshikaxcx/emotibot/internal/config"
	"github.com/vanshikaxcx/emotibot/internal/embedding"
	"github.com/vanshikaxcx/emotibot/internal/emotion"
	"github.com/vanshikaxcx/emotibot/internal/history"
	"github.com/vanshikaxcx/emotibot/internal/ipc"
	"github.com/vanshikaxcx/emotibot/internal/llm"
	"github.com/vanshikaxcx/emotibot/internal/logging"
	"github.com/vanshikaxcx/emotibot/internal/memory"
	"github.com/vanshikaxcx/emotibot/internal/metrics"
	"github.com/vanshikaxcx/emotibot/internal/proxy"
	"github.com/vanshikaxcx/emotibot/internal/rag"
	"github.com/vanshikaxcx/emotibot/internal/server"
	"github.com/vanshikaxcx/emotibot/internal/session"
	"github.com/vanshikaxcx/emotibot/internal/speech"
)

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	cfgFile := cli.StringP("config", "c", "", "Config file path (yaml, toml or json)")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	logFile := cli.String("log-file", "", "Also write JSON logs to this file")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address for model APIs")
	addr := cli.StringP("addr", "a", "", "HTTP listen address (overrides config)")
	socket := cli.StringP("socket", "s", ipc.DefaultSocket, "Control socket path")
	cli.Parse()

	if err := run(options{
		envFile:   *envFile,
		cfgFile:   *cfgFile,
		logLevel:  *logLevel,
		logFile:   *logFile,
		proxyAddr: *proxyAddr,
		addr:      *addr,
		socket:    *socket,
	}); err != nil {
		log.Error("Exiting", "err", err)
		os.Exit(1)
	}
}

type options struct {
	envFile   string
	cfgFile   string
	logLevel  string
	logFile   string
	proxyAddr string
	addr      string
	socket    string
}

func run(opt options) error {
	// A missing env file is fine; the environment may already be set.
	envErr := godotenv.Load(opt.envFile)

	cfg, err := config.Load(opt.cfgFile)
	if err != nil {
		return err
	}

	_, logCloser, err := logging.Setup(logging.Options{Level: opt.logLevel, File: opt.logFile})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	log.Info("Booting up")
	if envErr != nil {
		log.Debug("No env file loaded", "path", opt.envFile, "err", envErr)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if opt.addr != "" {
		cfg.Server.Addr = opt.addr
	}
	if opt.proxyAddr != "" {
		cfg.Proxy = opt.proxyAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var hc *http.Client
	if cfg.Proxy != "" {
		if hc, err = proxy.NewSocksClient(cfg.Proxy, 0); err != nil {
			return fmt.Errorf("proxy %s: %w", cfg.Proxy, err)
		}
		log.Debug("Loaded proxy", "proxy", cfg.Proxy)
	}

	m := metrics.New(nil)

	gen, err := newGenerator(ctx, cfg, hc, m)
	if err != nil {
		return err
	}
	log.Debug("Loaded models", "chain", gen.Name())

	detector, err := newDetector(cfg, gen)
	if err != nil {
		return err
	}

	embedder, err := embedding.NewEngine(ctx, embedding.Config{
		Provider:    cfg.Models.EmbedProvider,
		GenAIKey:    cfg.Keys.Google,
		GenAIModel:  cfg.Models.GoogleEmbedding,
		OpenAIKey:   cfg.Keys.OpenAI,
		OpenAIModel: cfg.Models.OpenAIEmbedding,
		HTTPClient:  hc,
	})
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	speaker, closeSpeech := newSpeaker(cfg, hc)
	defer closeSpeech()

	if dir := filepath.Dir(cfg.Memory.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create memory dir: %w", err)
		}
	}
	coll, err := memory.Open(cfg.Memory.Path, cfg.Memory.Collection)
	if err != nil {
		return err
	}
	defer coll.Close()
	log.Debug("Opened memory", "path", cfg.Memory.Path, "collection", coll.Name())

	system := rag.New(coll, embedder, gen, rag.Options{
		ChunkSize:    cfg.Memory.ChunkSize,
		ChunkOverlap: cfg.Memory.ChunkOverlap,
		Results:      cfg.Memory.Results,
		ContextChars: cfg.Memory.ContextChars,
		Metrics:      m,
	})

	ready := map[string]server.Check{"memory": coll.Ping}

	sessions, err := newSessions(ctx, cfg.Session, ready)
	if err != nil {
		return err
	}
	defer sessions.Close()

	hist, err := newHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer hist.Close()

	svc := chat.New(detector, system, chat.Options{
		Sessions:    sessions,
		History:     hist,
		Transcriber: speaker,
		Metrics:     m,
		Window:      cfg.Session.Window,
	})

	srv := server.New(cfg.Server, server.Deps{
		Chat:    svc,
		Emotion: detector,
		Memory:  system,
		Speech:  speaker,
		Metrics: m,
		Ready:   ready,
		Keys: map[string]bool{
			"GOOGLE_API_KEY": cfg.Keys.Google != "",
			"OPENAI_API_KEY": cfg.Keys.OpenAI != "",
			"SUPABASE":       cfg.SupabaseEnabled(),
		},
	})

	ctl, err := ipc.Listen(opt.socket, (&control{
		memory: system,
		voice:  speaker,
		chat:   svc,
		method: cfg.Speech.Method,
	}).handle)
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}

	log.Info("Boot up - successful", "addr", cfg.Server.Addr, "socket", ctl.Path(), "voice", speech.VoiceSupport)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return ctl.Serve(gctx) })

	err = g.Wait()
	log.Info("Stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newGenerator(ctx context.Context, cfg *config.Config, hc *http.Client, m *metrics.Metrics) (*llm.Fallback, error) {
	var gens []llm.Generator
	for _, p := range cfg.Models.Providers {
		switch p {
		case "gemini", "google":
			g, err := llm.NewGemini(ctx, cfg.Keys.Google, cfg.Models.Google, "", hc)
			if err != nil {
				return nil, err
			}
			gens = append(gens, g)
		case "openai":
			g, err := llm.NewOpenAI(cfg.Keys.OpenAI, cfg.Models.OpenAI, "", hc)
			if err != nil {
				return nil, err
			}
			gens = append(gens, g)
		default:
			return nil, fmt.Errorf("unknown model provider %q", p)
		}
	}
	if len(gens) == 0 {
		return nil, errors.New("no model providers configured")
	}
	return llm.NewFallback(cfg.Models.Timeout, m, gens...), nil
}

func newDetector(cfg *config.Config, gen *llm.Fallback) (*emotion.Detector, error) {
	lex := emotion.DefaultLexicon()
	if cfg.Emotion.LexiconPath != "" {
		var err error
		if lex, err = emotion.LoadLexicon(cfg.Emotion.LexiconPath); err != nil {
			return nil, err
		}
	}

	opts := []emotion.Option{emotion.WithLexicon(lex)}
	if cfg.Models.ClassifyEmotions {
		opts = append(opts, emotion.WithClassifier(emotion.NewLLMClassifier(gen, lex)))
	}
	return emotion.NewDetector(cfg.Emotion.Threshold, opts...), nil
}

func newSpeaker(cfg *config.Config, hc *http.Client) (*speech.Speaker, func() error) {
	s := &speech.Speaker{Lang: cfg.Speech.Lang}

	if cfg.Speech.Method != speech.MethodOffline {
		if tr, err := speech.NewOpenAITranscriber(cfg.Keys.OpenAI, cfg.Speech.STTModel, "", hc); err != nil {
			log.Warn("Online transcription unavailable", "err", err)
		} else {
			s.Transcriber = tr
		}
		if syn, err := speech.NewOpenAISynthesizer(cfg.Keys.OpenAI, cfg.Speech.TTSModel, cfg.Speech.Voice, "", hc); err != nil {
			log.Warn("Online speech unavailable", "err", err)
		} else {
			s.Synthesizer = syn
		}
	}

	closer := speech.SetupLocal(s, speech.LocalOptions{
		WhisperModel: cfg.Speech.WhisperModel,
		Rate:         cfg.Speech.Rate,
		Lang:         cfg.Speech.Lang,
		Chime:        cfg.Speech.Chime,
		Duck:         true,
	})
	return s, closer
}

func newSessions(ctx context.Context, cfg config.SessionConfig, ready map[string]server.Check) (session.Store, error) {
	if cfg.RedisAddr == "" {
		return session.NewMemoryStore(cfg.Window)
	}

	rs, err := session.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.Window, cfg.TTL)
	if err != nil {
		return nil, err
	}
	ready["sessions"] = rs.Ping
	log.Debug("Sessions in redis", "addr", cfg.RedisAddr)
	return rs, nil
}

func newHistory(ctx context.Context, cfg *config.Config) (history.Store, error) {
	switch {
	case cfg.Keys.SupabaseDBURL != "":
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return history.NewPostgresStore(pctx, cfg.Keys.SupabaseDBURL)
	case cfg.SupabaseEnabled():
		return history.NewSupabaseStore(cfg.Keys.SupabaseURL, cfg.Keys.SupabaseKey)
	default:
		log.Info("Conversation history is not persisted; set SUPABASE_URL and SUPABASE_KEY to enable it")
		return history.Nop{}, nil
	}
}

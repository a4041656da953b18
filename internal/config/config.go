// Package config assembles EmotiBot settings from defaults, an optional YAML
// file and the process environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var ErrMissingKey = errors.New("missing required configuration keys")

type Config struct {
	Keys    KeysConfig    `mapstructure:"keys"`
	Models  ModelsConfig  `mapstructure:"models"`
	Speech  SpeechConfig  `mapstructure:"speech"`
	Emotion EmotionConfig `mapstructure:"emotion"`
	Memory  MemoryConfig  `mapstructure:"memory"`
	Server  ServerConfig  `mapstructure:"server"`
	Session SessionConfig `mapstructure:"session"`
	Proxy   string        `mapstructure:"proxy"`
}

// KeysConfig holds credentials. They come from the unprefixed environment
// variables the deployment already exports.
type KeysConfig struct {
	Google        string `mapstructure:"google"`
	OpenAI        string `mapstructure:"openai"`
	SupabaseURL   string `mapstructure:"supabase_url"`
	SupabaseKey   string `mapstructure:"supabase_key"`
	SupabaseDBURL string `mapstructure:"supabase_db_url"`
}

type ModelsConfig struct {
	// Providers lists chat backends in the order they are tried.
	Providers        []string      `mapstructure:"providers"`
	Google           string        `mapstructure:"google"`
	OpenAI           string        `mapstructure:"openai"`
	EmbedProvider    string        `mapstructure:"embed_provider"`
	GoogleEmbedding  string        `mapstructure:"google_embedding"`
	OpenAIEmbedding  string        `mapstructure:"openai_embedding"`
	Timeout          time.Duration `mapstructure:"timeout"`
	ClassifyEmotions bool          `mapstructure:"classify_emotions"`
}

type SpeechConfig struct {
	Rate         int    `mapstructure:"rate"`
	Lang         string `mapstructure:"lang"`
	Method       string `mapstructure:"method"`
	Voice        string `mapstructure:"voice"`
	TTSModel     string `mapstructure:"tts_model"`
	STTModel     string `mapstructure:"stt_model"`
	WhisperModel string `mapstructure:"whisper_model"`
	Chime        string `mapstructure:"chime"`
}

type EmotionConfig struct {
	Threshold   float64 `mapstructure:"threshold"`
	LexiconPath string  `mapstructure:"lexicon_path"`
}

type MemoryConfig struct {
	Path         string `mapstructure:"path"`
	Collection   string `mapstructure:"collection"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	Results      int    `mapstructure:"results"`
	ContextChars int    `mapstructure:"context_chars"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	Burst           int           `mapstructure:"burst"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	// AllowedOrigins lists the browser origins that may call the API or open
	// the chat socket. Requests from the server's own host are always allowed.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type SessionConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	Window        int           `mapstructure:"window"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("EMOTIBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range map[string]string{
		"keys.google":          "GOOGLE_API_KEY",
		"keys.openai":          "OPENAI_API_KEY",
		"keys.supabase_url":    "SUPABASE_URL",
		"keys.supabase_key":    "SUPABASE_KEY",
		"keys.supabase_db_url": "SUPABASE_DB_URL",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("models.providers", []string{"gemini", "openai"})
	v.SetDefault("models.google", "gemini-2.0-flash")
	v.SetDefault("models.openai", "gpt-4o-mini")
	v.SetDefault("models.embed_provider", "genai")
	v.SetDefault("models.google_embedding", "gemini-embedding-001")
	v.SetDefault("models.openai_embedding", "text-embedding-3-small")
	v.SetDefault("models.timeout", "60s")
	v.SetDefault("models.classify_emotions", false)

	v.SetDefault("speech.rate", 150)
	v.SetDefault("speech.lang", "en")
	v.SetDefault("speech.method", "auto")
	v.SetDefault("speech.voice", "alloy")
	v.SetDefault("speech.tts_model", "tts-1")
	v.SetDefault("speech.stt_model", "whisper-1")
	v.SetDefault("speech.whisper_model", "third_party/whisper.cpp/models/ggml-base.en.bin")
	v.SetDefault("speech.chime", "")

	v.SetDefault("emotion.threshold", 0.5)
	v.SetDefault("emotion.lexicon_path", "")

	v.SetDefault("memory.path", "./data/emotibot.db")
	v.SetDefault("memory.collection", "emotibot_memory")
	v.SetDefault("memory.chunk_size", 1000)
	v.SetDefault("memory.chunk_overlap", 100)
	v.SetDefault("memory.results", 5)
	v.SetDefault("memory.context_chars", 2000)

	v.SetDefault("server.addr", ":8501")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.burst", 10)
	v.SetDefault("server.max_upload_bytes", 20<<20)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:8501", "http://127.0.0.1:8501"})

	v.SetDefault("session.redis_addr", "")
	v.SetDefault("session.redis_password", "")
	v.SetDefault("session.window", 10)
	v.SetDefault("session.ttl", "24h")

	v.SetDefault("proxy", "")
}

// Validate checks that the keys needed to talk to the model providers are set.
func (c *Config) Validate() error {
	var missing []string
	if c.Keys.Google == "" {
		missing = append(missing, "GOOGLE_API_KEY")
	}
	if c.Keys.OpenAI == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingKey, strings.Join(missing, ", "))
	}

	if c.Memory.ChunkSize <= 0 {
		return fmt.Errorf("memory.chunk_size must be positive, got %d", c.Memory.ChunkSize)
	}
	if c.Memory.ChunkOverlap < 0 || c.Memory.ChunkOverlap >= c.Memory.ChunkSize {
		return fmt.Errorf("memory.chunk_overlap must be in [0, chunk_size), got %d", c.Memory.ChunkOverlap)
	}
	if c.Emotion.Threshold < 0 || c.Emotion.Threshold > 1 {
		return fmt.Errorf("emotion.threshold must be in [0, 1], got %v", c.Emotion.Threshold)
	}
	switch c.Speech.Method {
	case "auto", "offline", "online":
	default:
		return fmt.Errorf("speech.method must be auto, offline or online, got %q", c.Speech.Method)
	}
	return nil
}

// SupabaseEnabled reports whether the hosted conversation log is configured.
func (c *Config) SupabaseEnabled() bool {
	return c.Keys.SupabaseDBURL != "" || (c.Keys.SupabaseURL != "" && c.Keys.SupabaseKey != "")
}

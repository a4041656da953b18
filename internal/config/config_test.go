package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearKeys(t *testing.T) {
	for _, k := range []string{"GOOGLE_API_KEY", "OPENAI_API_KEY", "SUPABASE_URL", "SUPABASE_KEY", "SUPABASE_DB_URL"} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearKeys(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"gemini", "openai"}, cfg.Models.Providers)
	assert.Equal(t, 150, cfg.Speech.Rate)
	assert.Equal(t, "en", cfg.Speech.Lang)
	assert.Equal(t, 0.5, cfg.Emotion.Threshold)
	assert.Equal(t, "emotibot_memory", cfg.Memory.Collection)
	assert.Equal(t, 1000, cfg.Memory.ChunkSize)
	assert.Equal(t, 100, cfg.Memory.ChunkOverlap)
	assert.Equal(t, 2000, cfg.Memory.ContextChars)
	assert.Equal(t, 60*time.Second, cfg.Models.Timeout)
	assert.Equal(t, int64(20<<20), cfg.Server.MaxUploadBytes)
	assert.Equal(t, []string{"http://localhost:8501", "http://127.0.0.1:8501"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.SupabaseEnabled())
}

func TestLoad_EnvAndFile(t *testing.T) {
	clearKeys(t)
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("OPENAI_API_KEY", "o-key")
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co")
	t.Setenv("SUPABASE_KEY", "anon")
	t.Setenv("EMOTIBOT_SERVER_ADDR", ":9000")
	t.Setenv("EMOTIBOT_SERVER_ALLOWED_ORIGINS", "https://chat.example.com,https://admin.example.com")

	path := filepath.Join(t.TempDir(), "emotibot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
memory:
  chunk_size: 500
  chunk_overlap: 50
emotion:
  threshold: 0.3
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "g-key", cfg.Keys.Google)
	assert.Equal(t, "o-key", cfg.Keys.OpenAI)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, []string{"https://chat.example.com", "https://admin.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 500, cfg.Memory.ChunkSize)
	assert.Equal(t, 0.3, cfg.Emotion.Threshold)
	assert.True(t, cfg.SupabaseEnabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearKeys(t)
	cfg, err := Load("")
	require.NoError(t, err)

	err = cfg.Validate()
	require.ErrorIs(t, err, ErrMissingKey)
	assert.Contains(t, err.Error(), "GOOGLE_API_KEY")
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")

	cfg.Keys.Google = "g"
	err = cfg.Validate()
	require.ErrorIs(t, err, ErrMissingKey)
	assert.NotContains(t, err.Error(), "GOOGLE_API_KEY")

	cfg.Keys.OpenAI = "o"
	require.NoError(t, cfg.Validate())

	cfg.Memory.ChunkOverlap = cfg.Memory.ChunkSize
	assert.Error(t, cfg.Validate())
	cfg.Memory.ChunkOverlap = 100

	cfg.Speech.Method = "loud"
	assert.Error(t, cfg.Validate())
}

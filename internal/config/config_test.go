package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		App:    AppConfig{Environment: "development"},
		Logger: LoggerConfig{Level: "info"},
		Data:   DataConfig{BasePath: "/some/path"},
		Gemini: GeminiConfig{Model: "gemini-1.5-flash"},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_AllEnvironments(t *testing.T) {
	tests := []struct {
		env   string
		valid bool
	}{
		{"development", true},
		{"staging", true},
		{"production", true},
		{"test", false},
		{"", false},
		{"DEVELOPMENT", false}, // case sensitive
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := validConfig()
			cfg.App.Environment = tt.env

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_LogLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "WARN"} {
		cfg := validConfig()
		cfg.Logger.Level = level
		assert.NoError(t, cfg.Validate(), "level %s should be valid", level)
	}

	cfg := validConfig()
	cfg.Logger.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestValidate_EmptyDataPath(t *testing.T) {
	cfg := validConfig()
	cfg.Data.BasePath = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_EmptyModel(t *testing.T) {
	cfg := validConfig()
	cfg.Gemini.Model = ""
	assert.Error(t, cfg.Validate())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	expanded, err := expandPath("~/chime-data", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "chime-data"), expanded)

	expanded, err = expandPath("", "/default/path")
	require.NoError(t, err)
	assert.Equal(t, "/default/path", expanded)
}

func TestExpandDataPath_Default(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := validConfig()
	cfg.Data.BasePath = ""
	require.NoError(t, cfg.expandDataPath())
	assert.Equal(t, filepath.Join(home, ".chime"), cfg.Data.BasePath)
}

func TestLoadEnvFile(t *testing.T) {
	tmpDir := t.TempDir()
	envPath := filepath.Join(tmpDir, ".env")

	content := "# comment\nCHIME_TEST_KEY=hello\nCHIME_TEST_QUOTED=\"world\"\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("CHIME_TEST_KEY")
		os.Unsetenv("CHIME_TEST_QUOTED")
	})

	require.NoError(t, loadEnvFile(envPath))
	assert.Equal(t, "hello", os.Getenv("CHIME_TEST_KEY"))
	assert.Equal(t, "world", os.Getenv("CHIME_TEST_QUOTED"))
}

func TestGetConfigValue_Precedence(t *testing.T) {
	t.Setenv("CHIME_PRECEDENCE", "from-env")

	assert.Equal(t, "from-flag", getConfigValue("from-flag", "CHIME_PRECEDENCE", "default"))
	assert.Equal(t, "from-env", getConfigValue("", "CHIME_PRECEDENCE", "default"))
	assert.Equal(t, "default", getConfigValue("", "CHIME_MISSING", "default"))
}

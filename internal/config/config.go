package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the startup configuration for the job server. Everything is
// read once from the environment; reconfiguration requires a restart.
type Config struct {
	// HubType selects the hosting-platform variant: "github" talks to a
	// public git host, anything else selects the self-hosted REST variant.
	HubType string

	Host       string
	Port       int
	MaxWorkers int

	// APIKey is required on every HTTP call via the X-API-Key header.
	APIKey string

	// TempDir is the root for per-job scratch directories.
	TempDir string

	SettingsDir string
	ModelDir    string
	DatasetsDir string

	// Base64-encoded 32-byte keys for the encrypted credential files.
	LoginKey    string
	PasswordKey string
	PATKey      string

	// GitHubToken, when set, authenticates archive downloads from private
	// repositories on the public host.
	GitHubToken string

	// IOSlots caps concurrent blocking network/disk operations; CPUSlots
	// caps concurrent scan+classify executions (default: host CPU count).
	IOSlots  int
	CPUSlots int

	JanitorSchedule string
	JanitorMaxAge   time.Duration
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, env := range map[string]string{
		"hub_type":         "HubType",
		"max_workers":      "MAX_WORKERS",
		"host":             "HOST",
		"port":             "PORT",
		"api_key":          "API_KEY",
		"login_key":        "LOGIN_KEY",
		"password_key":     "PASSWORD_KEY",
		"pat_key":          "PAT_KEY",
		"temp_dir":         "TEMP_DIR",
		"settings_dir":     "SETTINGS_DIR",
		"model_dir":        "MODEL_DIR",
		"datasets_dir":     "DATASETS_DIR",
		"github_token":     "GITHUB_TOKEN",
		"io_slots":         "IO_SLOTS",
		"janitor_schedule": "JANITOR_SCHEDULE",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	v.SetDefault("hub_type", "azure")
	v.SetDefault("max_workers", 10)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("temp_dir", os.TempDir())
	v.SetDefault("settings_dir", "Settings")
	v.SetDefault("model_dir", "Model")
	v.SetDefault("datasets_dir", "Datasets")
	v.SetDefault("io_slots", 5)
	v.SetDefault("janitor_schedule", "@every 1h")

	cfg := &Config{
		HubType:         strings.ToLower(v.GetString("hub_type")),
		Host:            v.GetString("host"),
		Port:            v.GetInt("port"),
		MaxWorkers:      v.GetInt("max_workers"),
		APIKey:          v.GetString("api_key"),
		TempDir:         v.GetString("temp_dir"),
		SettingsDir:     v.GetString("settings_dir"),
		ModelDir:        v.GetString("model_dir"),
		DatasetsDir:     v.GetString("datasets_dir"),
		LoginKey:        v.GetString("login_key"),
		PasswordKey:     v.GetString("password_key"),
		PATKey:          v.GetString("pat_key"),
		GitHubToken:     v.GetString("github_token"),
		IOSlots:         v.GetInt("io_slots"),
		CPUSlots:        runtime.NumCPU(),
		JanitorSchedule: v.GetString("janitor_schedule"),
		JanitorMaxAge:   24 * time.Hour,
	}

	if cfg.MaxWorkers <= 0 {
		return nil, fmt.Errorf("MAX_WORKERS must be positive, got %d", cfg.MaxWorkers)
	}
	if cfg.IOSlots <= 0 {
		cfg.IOSlots = 5
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API_KEY must be set")
	}
	return cfg, nil
}

// SettingsPath joins a filename onto the settings directory.
func (c *Config) SettingsPath(name string) string {
	return filepath.Join(c.SettingsDir, name)
}

// IsGitHub reports whether the public-host variant is selected.
func (c *Config) IsGitHub() bool { return c.HubType == "github" }

// Package config resolves runtime configuration once at process startup:
// built-in defaults, then an optional YAML overrides file, then environment
// variables. Fail-fast: a missing model API key aborts startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		Port    int    `yaml:"port"`
		DataDir string `yaml:"data_dir"`
	} `yaml:"app"`

	Forum struct {
		BaseURL          string  `yaml:"base_url"`
		Category         string  `yaml:"category"`
		PageSize         int     `yaml:"page_size"`
		PagePauseEvery   int     `yaml:"page_pause_every"`   // pause after every N pages
		PagePauseSeconds int     `yaml:"page_pause_seconds"` // cooperative delay length
		RequestsPerSec   float64 `yaml:"requests_per_sec"`
		Burst            int     `yaml:"burst"`
	} `yaml:"forum"`

	Model struct {
		BaseURL    string `yaml:"base_url"`
		Name       string `yaml:"name"`
		MaxRetries int    `yaml:"max_retries"`
		APIKey     string `yaml:"-"` // env/keyring only, never from file
	} `yaml:"model"`

	Pipeline struct {
		DailyBudget         int `yaml:"daily_budget"`
		IncrementalMaxPosts int `yaml:"incremental_max_posts"`
		FullMaxPosts        int `yaml:"full_max_posts"`
		LongPauseEvery      int `yaml:"long_pause_every"` // longer pause after every Nth call
		ShortPauseMillis    int `yaml:"short_pause_millis"`
		LongPauseSeconds    int `yaml:"long_pause_seconds"`
	} `yaml:"pipeline"`

	Backup struct {
		RedisURL  string `yaml:"-"` // carries the credential, env only
		Namespace string `yaml:"namespace"`
	} `yaml:"backup"`

	Trigger struct {
		Secret string `yaml:"-"`
	} `yaml:"trigger"`

	CronSpec string `yaml:"cron_spec"` // e.g. "@every 24h"; empty disables
}

func Default() Config {
	var cfg Config
	cfg.App.Port = 8090
	cfg.App.DataDir = "."

	cfg.Forum.PageSize = 20
	cfg.Forum.PagePauseEvery = 4
	cfg.Forum.PagePauseSeconds = 2
	cfg.Forum.RequestsPerSec = 2.0
	cfg.Forum.Burst = 4

	cfg.Model.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	cfg.Model.Name = "gemini-2.0-flash"
	cfg.Model.MaxRetries = 3

	// 240 is deliberately below the provider's advertised daily cap to
	// leave headroom for other consumers of the same key.
	cfg.Pipeline.DailyBudget = 240
	cfg.Pipeline.IncrementalMaxPosts = 500
	cfg.Pipeline.FullMaxPosts = 2000
	cfg.Pipeline.LongPauseEvery = 10
	cfg.Pipeline.ShortPauseMillis = 500
	cfg.Pipeline.LongPauseSeconds = 10

	cfg.Backup.Namespace = "offerscope"
	return cfg
}

// Load builds the effective config. yamlPath may be empty or point at a
// missing file; both mean "defaults + env only".
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		b, err := os.ReadFile(yamlPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", yamlPath, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// fine, run on defaults
		default:
			return cfg, fmt.Errorf("read %s: %w", yamlPath, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OFFERSCOPE_DATA_DIR"); v != "" {
		cfg.App.DataDir = v
	}
	if v := os.Getenv("OFFERSCOPE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.App.Port = p
		}
	}
	if v := os.Getenv("FORUM_BASE_URL"); v != "" {
		cfg.Forum.BaseURL = v
	}
	if v := os.Getenv("FORUM_CATEGORY"); v != "" {
		cfg.Forum.Category = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.Model.Name = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Backup.RedisURL = v
	}
	if v := os.Getenv("REDIS_NAMESPACE"); v != "" {
		cfg.Backup.Namespace = v
	}
	if v := os.Getenv("TRIGGER_SECRET"); v != "" {
		cfg.Trigger.Secret = v
	}
	if v := os.Getenv("CRON_SPEC"); v != "" {
		cfg.CronSpec = v
	}
}

// Validate checks the invariants main relies on. The model API key is
// checked separately after secrets resolution so the keyring fallback can
// still fill it in.
func Validate(cfg Config) error {
	var errs []string

	if cfg.App.Port <= 0 || cfg.App.Port > 65535 {
		errs = append(errs, "app.port must be 1..65535")
	}
	if cfg.Forum.BaseURL == "" {
		errs = append(errs, "forum.base_url is required (FORUM_BASE_URL)")
	}
	if cfg.Forum.PageSize <= 0 {
		errs = append(errs, "forum.page_size must be > 0")
	}
	if cfg.Forum.PagePauseEvery <= 0 {
		errs = append(errs, "forum.page_pause_every must be > 0")
	}
	if cfg.Pipeline.DailyBudget <= 0 {
		errs = append(errs, "pipeline.daily_budget must be > 0")
	}
	if cfg.Pipeline.LongPauseEvery <= 0 {
		errs = append(errs, "pipeline.long_pause_every must be > 0")
	}
	if cfg.Pipeline.IncrementalMaxPosts <= 0 || cfg.Pipeline.FullMaxPosts <= 0 {
		errs = append(errs, "pipeline post limits must be > 0")
	}
	if cfg.Model.MaxRetries < 0 {
		errs = append(errs, "model.max_retries must be >= 0")
	}

	if len(errs) > 0 {
		out := "config validation failed:"
		for _, e := range errs {
			out += "\n- " + e
		}
		return errors.New(out)
	}
	return nil
}

// Convenience duration accessors; the YAML file stores plain integers the
// way the rest of the config does.

func (c Config) PagePause() time.Duration {
	return time.Duration(c.Forum.PagePauseSeconds) * time.Second
}

func (c Config) ShortPause() time.Duration {
	return time.Duration(c.Pipeline.ShortPauseMillis) * time.Millisecond
}

func (c Config) LongPause() time.Duration {
	return time.Duration(c.Pipeline.LongPauseSeconds) * time.Second
}

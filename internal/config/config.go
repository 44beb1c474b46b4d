package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration, loaded once at startup. The Discord
// token is intentionally absent: it is read from the environment so it never
// lands in a config file.
type Config struct {
	Environment string        `yaml:"environment"`
	Discord     DiscordConfig `yaml:"discord"`
	Connect     ConnectConfig `yaml:"connect"`
	Session     SessionConfig `yaml:"session"`
	STT         STTConfig     `yaml:"stt"`
	Correct     CorrectConfig `yaml:"correct"`
	Store       StoreConfig   `yaml:"store"`
}

type DiscordConfig struct {
	// TokenEnv names the environment variable holding the bot token.
	TokenEnv string `yaml:"token_env"`
}

// ConnectConfig tunes the voice connection supervisor.
type ConnectConfig struct {
	BaseAttempts        int      `yaml:"base_attempts"`
	ProblemAttempts     int      `yaml:"problem_attempts"`
	ConnectTimeoutMS    int      `yaml:"connect_timeout_ms"`
	ReadyPollIntervalMS int      `yaml:"ready_poll_interval_ms"`
	ReadyPollAttempts   int      `yaml:"ready_poll_attempts"`
	BackoffBaseMS       int      `yaml:"backoff_base_ms"`
	BackoffCapMS        int      `yaml:"backoff_cap_ms"`
	CooldownMS          int      `yaml:"cooldown_ms"`
	ProblemCooldownMS   int      `yaml:"problem_cooldown_ms"`
	ResetCycles         int      `yaml:"reset_cycles"`
	Regions             []string `yaml:"regions"`
}

// SessionConfig tunes per-speaker segmentation.
type SessionConfig struct {
	ScanIntervalMS int `yaml:"scan_interval_ms"`
	SilenceMS      int `yaml:"silence_ms"`
	DrainTimeoutMS int `yaml:"drain_timeout_ms"`
}

type STTConfig struct {
	SampleRate int            `yaml:"sample_rate"`
	Channels   int            `yaml:"channels"`
	Engines    []EngineConfig `yaml:"engines"`
}

// EngineConfig describes one speech engine in fallback order. Type selects
// the wire protocol: "whisper" posts a bare WAV body, "openai" uploads a
// multipart file to an OpenAI-compatible transcription endpoint.
type EngineConfig struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	URL       string `yaml:"url"`
	Language  string `yaml:"language"`
	BeamSize  int    `yaml:"beam_size"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type CorrectConfig struct {
	RulesPath           string    `yaml:"rules_path"`
	SimilarityThreshold int       `yaml:"similarity_threshold"`
	ConfidenceThreshold int       `yaml:"confidence_threshold"`
	CacheCapacity       int       `yaml:"cache_capacity"`
	LLM                 LLMConfig `yaml:"llm"`
}

type LLMConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Endpoint         string `yaml:"endpoint"`
	Model            string `yaml:"model"`
	TimeoutMS        int    `yaml:"timeout_ms"`
	MaxGlossaryTerms int    `yaml:"max_glossary_terms"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

// Default returns a Config with every knob at its default.
func Default() Config {
	return Config{
		Environment: "production",
		Discord:     DiscordConfig{TokenEnv: "DISCORD_BOT_TOKEN"},
		Connect: ConnectConfig{
			BaseAttempts:        3,
			ProblemAttempts:     5,
			ConnectTimeoutMS:    20000,
			ReadyPollIntervalMS: 250,
			ReadyPollAttempts:   20,
			BackoffBaseMS:       1000,
			BackoffCapMS:        8000,
			CooldownMS:          2000,
			ProblemCooldownMS:   5000,
			ResetCycles:         2,
			Regions:             []string{"hongkong", "us-south", "us-central", "singapore"},
		},
		Session: SessionConfig{
			ScanIntervalMS: 1000,
			SilenceMS:      1500,
			DrainTimeoutMS: 5000,
		},
		STT: STTConfig{
			SampleRate: 48000,
			Channels:   2,
			Engines: []EngineConfig{
				{Name: "whisper", Type: "whisper", URL: "http://127.0.0.1:9000/transcribe", Language: "en", TimeoutMS: 30000},
			},
		},
		Correct: CorrectConfig{
			RulesPath:           "corrections.txt",
			SimilarityThreshold: 80,
			ConfidenceThreshold: 70,
			CacheCapacity:       1000,
			LLM: LLMConfig{
				Enabled:          true,
				Endpoint:         "http://127.0.0.1:11434",
				Model:            "phi3",
				TimeoutMS:        10000,
				MaxGlossaryTerms: 100,
			},
		},
		Store: StoreConfig{Path: "data/rooms.json"},
	}
}

// Load reads YAML config from path, layered over Default(). A missing file is
// not an error; the defaults are returned so the bot can run from env alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the runtime cannot honor.
func (c Config) Validate() error {
	if c.Connect.BaseAttempts < 1 || c.Connect.ProblemAttempts < c.Connect.BaseAttempts {
		return fmt.Errorf("connect attempts misconfigured: base=%d problem=%d", c.Connect.BaseAttempts, c.Connect.ProblemAttempts)
	}
	if c.Connect.BackoffBaseMS <= 0 || c.Connect.BackoffCapMS < c.Connect.BackoffBaseMS {
		return fmt.Errorf("backoff misconfigured: base=%dms cap=%dms", c.Connect.BackoffBaseMS, c.Connect.BackoffCapMS)
	}
	if c.Session.ScanIntervalMS <= 0 || c.Session.SilenceMS <= 0 {
		return fmt.Errorf("session intervals must be positive")
	}
	if len(c.STT.Engines) == 0 {
		return fmt.Errorf("at least one stt engine is required")
	}
	for _, e := range c.STT.Engines {
		if e.Type != "whisper" && e.Type != "openai" {
			return fmt.Errorf("unknown stt engine type %q", e.Type)
		}
		if e.URL == "" {
			return fmt.Errorf("stt engine %q has no url", e.Name)
		}
	}
	if c.Correct.CacheCapacity <= 0 {
		return fmt.Errorf("cache capacity must be positive")
	}
	return nil
}

// Token resolves the bot token from the configured environment variable.
func (c Config) Token() string { return os.Getenv(c.Discord.TokenEnv) }

func (c ConnectConfig) ConnectTimeout() time.Duration  { return ms(c.ConnectTimeoutMS) }
func (c ConnectConfig) ReadyInterval() time.Duration   { return ms(c.ReadyPollIntervalMS) }
func (c ConnectConfig) BackoffBase() time.Duration     { return ms(c.BackoffBaseMS) }
func (c ConnectConfig) BackoffCap() time.Duration      { return ms(c.BackoffCapMS) }
func (c ConnectConfig) Cooldown() time.Duration        { return ms(c.CooldownMS) }
func (c ConnectConfig) ProblemCooldown() time.Duration { return ms(c.ProblemCooldownMS) }

func (c SessionConfig) ScanInterval() time.Duration { return ms(c.ScanIntervalMS) }
func (c SessionConfig) Silence() time.Duration      { return ms(c.SilenceMS) }
func (c SessionConfig) DrainTimeout() time.Duration { return ms(c.DrainTimeoutMS) }

func (c LLMConfig) Timeout() time.Duration { return ms(c.TimeoutMS) }

func (c EngineConfig) Timeout() time.Duration { return ms(c.TimeoutMS) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

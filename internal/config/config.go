package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Image   ImageConfig   `yaml:"image"`
	Speech  SpeechConfig  `yaml:"speech"`
	Storage StorageConfig `yaml:"storage"`
	Game    GameConfig    `yaml:"game"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	// Minimum delay between any two calls to the backend, enforced
	// process-wide to stay inside the upstream quota.
	MinCallInterval time.Duration `yaml:"min_call_interval"`
	EmbeddingModel  string        `yaml:"embedding_model"`
}

type ImageConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	Steps         int           `yaml:"steps"`
	GuidanceScale float64       `yaml:"guidance_scale"`
}

type SpeechConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	DefaultVoiceID string        `yaml:"default_voice_id"`
	ModelID        string        `yaml:"model_id"`
	Timeout        time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	Redis  RedisConfig  `yaml:"redis"`
	MySQL  MySQLConfig  `yaml:"mysql"`
	Qdrant QdrantConfig `yaml:"qdrant"`
}

type RedisConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
	VectorSize int    `yaml:"vector_size"`
}

// GameConfig holds the narrative policy knobs. Every structural contract the
// generators enforce (word bands, choice rules, panel bounds, ending roll) is
// driven from here rather than hard-coded in the generators.
type GameConfig struct {
	StartingTime     string `yaml:"starting_time"`
	StartingLocation string `yaml:"starting_location"`

	SegmentMinWords int `yaml:"segment_min_words"`
	SegmentMaxWords int `yaml:"segment_max_words"`
	PremiseMaxWords int `yaml:"premise_max_words"`

	MaxChoiceWords       int      `yaml:"max_choice_words"`
	ForbiddenChoiceTerms []string `yaml:"forbidden_choice_terms"`

	MinPanels int `yaml:"min_panels"`
	MaxPanels int `yaml:"max_panels"`

	MinTurnsBeforeEnd int     `yaml:"min_turns_before_end"`
	MaxTurnsBeforeEnd int     `yaml:"max_turns_before_end"`
	WinningChance     float64 `yaml:"winning_chance"`

	MaxAttempts    int           `yaml:"max_attempts"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	HistoryWindow  int           `yaml:"history_window"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration that works without a config file, for
// tests and for local runs against default endpoints.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:         "https://api.mistral.ai/v1",
			Model:           "mistral-small",
			MaxTokens:       1000,
			Temperature:     0.7,
			MinCallInterval: time.Second,
			EmbeddingModel:  "mistral-embed",
		},
		Image: ImageConfig{
			Timeout:       60 * time.Second,
			Steps:         5,
			GuidanceScale: 9.0,
		},
		Speech: SpeechConfig{
			BaseURL: "https://api.elevenlabs.io/v1",
			ModelID: "eleven_multilingual_v2",
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Redis: RedisConfig{
				Host:     "localhost",
				Port:     6379,
				PoolSize: 10,
				CacheTTL: 24 * time.Hour,
			},
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "story_beats",
				VectorSize: 1024,
			},
		},
		Game: GameConfig{
			StartingTime:         "18:00",
			StartingLocation:     "Home",
			SegmentMinWords:      15,
			SegmentMaxWords:      30,
			PremiseMaxWords:      120,
			MaxChoiceWords:       6,
			ForbiddenChoiceTerms: []string{"back", "return", "portal"},
			MinPanels:            1,
			MaxPanels:            4,
			MinTurnsBeforeEnd:    6,
			MaxTurnsBeforeEnd:    10,
			WinningChance:        0.4,
			MaxAttempts:          5,
			RetryBackoff:         2 * time.Second,
			HistoryWindow:        8,
			SessionTimeout:       3600 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads configuration from a YAML file on top of defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("IMAGE_API_KEY"); key != "" {
		c.Image.APIKey = key
	}
	if ep := os.Getenv("IMAGE_ENDPOINT"); ep != "" {
		c.Image.Endpoint = ep
	}
	if key := os.Getenv("SPEECH_API_KEY"); key != "" {
		c.Speech.APIKey = key
	}
	if key := os.Getenv("QDRANT_API_KEY"); key != "" {
		c.Storage.Qdrant.APIKey = key
	}
}

// Validate rejects policy values the generators cannot work with.
func (c *Config) Validate() error {
	g := c.Game
	if g.SegmentMinWords <= 0 || g.SegmentMaxWords < g.SegmentMinWords {
		return fmt.Errorf("invalid segment word band [%d, %d]", g.SegmentMinWords, g.SegmentMaxWords)
	}
	if g.MinPanels < 1 || g.MaxPanels < g.MinPanels {
		return fmt.Errorf("invalid panel bounds [%d, %d]", g.MinPanels, g.MaxPanels)
	}
	if g.MinTurnsBeforeEnd < 1 || g.MaxTurnsBeforeEnd < g.MinTurnsBeforeEnd {
		return fmt.Errorf("invalid turns-before-end range [%d, %d]", g.MinTurnsBeforeEnd, g.MaxTurnsBeforeEnd)
	}
	if g.WinningChance < 0 || g.WinningChance > 1 {
		return fmt.Errorf("winning chance %f out of [0, 1]", g.WinningChance)
	}
	if g.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", g.MaxAttempts)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"voicechat/internal/infra"
)

type Config struct {
	Gemini   GeminiConfig   `yaml:"gemini"`
	Audio    AudioConfig    `yaml:"audio"`
	Session  SessionConfig  `yaml:"session"`
	HTTP     HTTPConfig     `yaml:"http"`
	Pushover PushoverConfig `yaml:"pushover"`
	Log      LogConfig      `yaml:"log"`
}

type GeminiConfig struct {
	APIKey            string            `yaml:"api_key"`
	Model             string            `yaml:"model"`
	Voice             string            `yaml:"voice"`
	SystemInstruction string            `yaml:"system_instruction"`
	Endpoint          string            `yaml:"endpoint"`
	Retry             infra.RetryConfig `yaml:"retry"`
}

type AudioConfig struct {
	Input            string `yaml:"input"`
	Output           string `yaml:"output"`
	InputSampleRate  int    `yaml:"input_sample_rate"`
	OutputSampleRate int    `yaml:"output_sample_rate"`
	InputDevice      *int   `yaml:"input_device"`
	OutputDevice     *int   `yaml:"output_device"`
	FrameSize        int    `yaml:"frame_size"`
	DropDir          string `yaml:"drop_dir"`
	Realtime         bool   `yaml:"realtime"`
	RecordPath       string `yaml:"record_path"`
}

type SessionConfig struct {
	// Zero selects the default of 3. Negative disables the limit.
	MaxMalformedPayloads int  `yaml:"max_malformed_payloads"`
	// Zero selects the default of 64 KiB. Negative leaves turns unbounded.
	MaxTurnBytes         int  `yaml:"max_turn_bytes"`
	DropStaleAudio       bool `yaml:"drop_stale_audio"`
}

type HTTPConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Addr       string        `yaml:"addr"`
	AuthToken  string        `yaml:"auth_token"`
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
	// TrustProxy rate limits by X-Forwarded-For. Only set behind a proxy.
	TrustProxy bool          `yaml:"trust_proxy"`
}

type PushoverConfig struct {
	Token   string `yaml:"token"`
	UserKey string `yaml:"user_key"`
	Enabled bool   `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	InputMicrophone = "microphone"
	InputFile       = "file"

	OutputSpeaker = "speaker"
	OutputVirtual = "virtual"
)

// Load reads the YAML file at path. A .env file in the same directory is
// loaded first so ${VAR} references can resolve against it; variables
// already set in the environment win.
func Load(path string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envPath, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Gemini.Model == "" {
		c.Gemini.Model = "models/gemini-2.5-flash-native-audio-preview-09-2025"
	}
	if c.Gemini.Voice == "" {
		c.Gemini.Voice = "Zephyr"
	}
	if c.Gemini.SystemInstruction == "" {
		c.Gemini.SystemInstruction = "You are a friendly and helpful conversational assistant. Keep your answers short and natural."
	}
	if c.Gemini.Retry.MaxAttempts == 0 {
		c.Gemini.Retry = infra.DefaultRetryConfig()
	}
	if c.Audio.Input == "" {
		c.Audio.Input = InputMicrophone
	}
	if c.Audio.Output == "" {
		c.Audio.Output = OutputSpeaker
	}
	if c.Audio.InputSampleRate == 0 {
		c.Audio.InputSampleRate = 16000
	}
	if c.Audio.OutputSampleRate == 0 {
		c.Audio.OutputSampleRate = 24000
	}
	if c.Audio.FrameSize == 0 {
		c.Audio.FrameSize = 4096
	}
	if c.Audio.DropDir == "" {
		c.Audio.DropDir = "./audio"
	}
	if c.Session.MaxMalformedPayloads == 0 {
		c.Session.MaxMalformedPayloads = 3
	}
	if c.Session.MaxTurnBytes == 0 {
		c.Session.MaxTurnBytes = 64 * 1024
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RateLimit == 0 {
		c.HTTP.RateLimit = 30
	}
	if c.HTTP.RateWindow == 0 {
		c.HTTP.RateWindow = time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports the first setting that would keep a session from running.
func (c *Config) Validate() error {
	if err := c.Gemini.Validate(); err != nil {
		return fmt.Errorf("gemini config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if c.Pushover.Enabled && (c.Pushover.Token == "" || c.Pushover.UserKey == "") {
		return fmt.Errorf("pushover config: token and user_key are required when enabled")
	}

	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	return nil
}

func (g *GeminiConfig) Validate() error {
	if g.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if g.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", g.Retry.MaxAttempts)
	}

	return nil
}

func (a *AudioConfig) Validate() error {
	validInputs := map[string]bool{InputMicrophone: true, InputFile: true}
	if !validInputs[a.Input] {
		return fmt.Errorf("input must be 'microphone' or 'file', got '%s'", a.Input)
	}

	validOutputs := map[string]bool{OutputSpeaker: true, OutputVirtual: true}
	if !validOutputs[a.Output] {
		return fmt.Errorf("output must be 'speaker' or 'virtual', got '%s'", a.Output)
	}

	if a.InputSampleRate < 8000 || a.InputSampleRate > 48000 {
		return fmt.Errorf("input_sample_rate must be between 8000 and 48000 Hz, got %d", a.InputSampleRate)
	}

	if a.OutputSampleRate < 8000 || a.OutputSampleRate > 48000 {
		return fmt.Errorf("output_sample_rate must be between 8000 and 48000 Hz, got %d", a.OutputSampleRate)
	}

	if a.FrameSize < 256 || a.FrameSize > 16384 {
		return fmt.Errorf("frame_size must be between 256 and 16384 samples, got %d", a.FrameSize)
	}

	if a.Input == InputFile && a.DropDir == "" {
		return fmt.Errorf("drop_dir cannot be empty for the file input")
	}

	return nil
}

// InputDeviceIndex returns the configured capture device, or -1 for the
// system default.
func (a *AudioConfig) InputDeviceIndex() int {
	if a.InputDevice == nil {
		return -1
	}
	return *a.InputDevice
}

// OutputDeviceIndex returns the configured playback device, or -1 for the
// system default.
func (a *AudioConfig) OutputDeviceIndex() int {
	if a.OutputDevice == nil {
		return -1
	}
	return *a.OutputDevice
}

func (h *HTTPConfig) Validate() error {
	if !h.Enabled {
		return nil
	}

	if h.Addr == "" {
		return fmt.Errorf("addr cannot be empty when HTTP is enabled")
	}

	if h.RateLimit < 1 {
		return fmt.Errorf("rate_limit must be at least 1, got %d", h.RateLimit)
	}

	return nil
}

func (l *LogConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// MalformedLimit converts the configured limit to the session's form, where
// zero disables it.
func (s *SessionConfig) MalformedLimit() int {
	if s.MaxMalformedPayloads < 0 {
		return 0
	}
	return s.MaxMalformedPayloads
}

// TurnByteLimit converts the configured cap to the aggregator's form, where
// zero means unbounded.
func (s *SessionConfig) TurnByteLimit() int {
	if s.MaxTurnBytes < 0 {
		return 0
	}
	return s.MaxTurnBytes
}

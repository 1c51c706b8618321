// Package config loads the assistant configuration from defaults, an
// optional YAML file, a .env file and EMA_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvPrefix       = "EMA"
	ConfigName      = "ema-desk"
	DefaultPreamble = "You are Ema, a helpful, privacy-preserving local desktop assistant. " +
		"Answer in one or two short spoken sentences unless asked for more. " +
		"Use the available tools when they help, and never invent tool results."
)

type Config struct {
	ToolsEnabled               bool          `mapstructure:"tools_enabled"`
	MergeCommandResponses      bool          `mapstructure:"merge_command_responses"`
	SpeechInputEnabled         bool          `mapstructure:"speech_input_enabled"`
	SpeechOutputEnabled        bool          `mapstructure:"speech_output_enabled"`
	InterruptPhrases           []string      `mapstructure:"interrupt_phrases"`
	InterruptWhileSpeakingOnly bool          `mapstructure:"interrupt_while_speaking_only"`
	DictationEnabled           bool          `mapstructure:"dictation_enabled"`
	MaxToolIterations          int           `mapstructure:"max_tool_iterations"`
	ToolTimeout                time.Duration `mapstructure:"tool_timeout"`
	MaxContextTurns            int           `mapstructure:"max_context_turns"`

	LLM      LLMConfig      `mapstructure:"llm"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Deepgram DeepgramConfig `mapstructure:"deepgram"`
	Audio    AudioConfig    `mapstructure:"audio"`
}

type LLMConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	Model        string `mapstructure:"model"`
	APIKey       string `mapstructure:"api_key"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

type MemoryConfig struct {
	Backend    string `mapstructure:"backend"`
	Path       string `mapstructure:"path"`
	MaxHistory int    `mapstructure:"max_history"`
}

type ToolsConfig struct {
	// Manifest is an optional YAML tool manifest path.
	Manifest    string `mapstructure:"manifest"`
	WeatherURL  string `mapstructure:"weather_url"`
	LocationURL string `mapstructure:"location_url"`
}

type DeepgramConfig struct {
	APIKey   string `mapstructure:"api_key"`
	STTModel string `mapstructure:"stt_model"`
	TTSVoice string `mapstructure:"tts_voice"`
}

type AudioConfig struct {
	Backend    string `mapstructure:"backend"`
	SampleRate int    `mapstructure:"sample_rate"`
}

// SetDefaults registers every key with its default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("tools_enabled", true)
	v.SetDefault("merge_command_responses", false)
	v.SetDefault("speech_input_enabled", true)
	v.SetDefault("speech_output_enabled", true)
	v.SetDefault("interrupt_phrases", []string{"stop", "cancel", "nevermind", "pause", "quiet"})
	v.SetDefault("interrupt_while_speaking_only", true)
	v.SetDefault("dictation_enabled", true)
	v.SetDefault("max_tool_iterations", 5)
	v.SetDefault("tool_timeout", 10*time.Second)
	v.SetDefault("max_context_turns", 6)

	v.SetDefault("llm.base_url", "http://localhost:11434/v1")
	v.SetDefault("llm.model", "llama3.1:latest")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.system_prompt", DefaultPreamble)

	v.SetDefault("memory.backend", "json")
	v.SetDefault("memory.path", filepath.Join("data", "memory.json"))
	v.SetDefault("memory.max_history", 100)

	v.SetDefault("tools.manifest", "")
	v.SetDefault("tools.weather_url", "https://api.open-meteo.com/v1/forecast")
	v.SetDefault("tools.location_url", "https://ipinfo.io/json")

	v.SetDefault("deepgram.api_key", "")
	v.SetDefault("deepgram.stt_model", "nova-3")
	v.SetDefault("deepgram.tts_voice", "aura-2-thalia-en")

	v.SetDefault("audio.backend", "miniaudio")
	v.SetDefault("audio.sample_rate", 16000)
}

// Default returns the configuration with nothing but defaults applied.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load builds the configuration. path may be empty, in which case
// ema-desk.yaml is looked up in the working directory and in
// $HOME/.config/ema-desk. v may carry flag bindings, nil creates a fresh
// instance.
func Load(path string, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", ConfigName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Deepgram.APIKey == "" {
		cfg.Deepgram.APIKey = os.Getenv("DEEPGRAM_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.MaxToolIterations <= 0 {
		errs = append(errs, fmt.Errorf("max_tool_iterations must be positive, got %d", c.MaxToolIterations))
	}
	if c.ToolTimeout <= 0 {
		errs = append(errs, fmt.Errorf("tool_timeout must be positive, got %s", c.ToolTimeout))
	}
	if c.MaxContextTurns < 0 {
		errs = append(errs, fmt.Errorf("max_context_turns cannot be negative, got %d", c.MaxContextTurns))
	}
	switch c.Memory.Backend {
	case "json", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("memory.backend must be json or sqlite, got %q", c.Memory.Backend))
	}
	switch c.Audio.Backend {
	case "miniaudio", "portaudio":
	default:
		errs = append(errs, fmt.Errorf("audio.backend must be miniaudio or portaudio, got %q", c.Audio.Backend))
	}
	return errors.Join(errs...)
}

// VoiceEnabled reports whether any part of the audio stack is needed.
func (c *Config) VoiceEnabled() bool {
	return c.SpeechInputEnabled || c.SpeechOutputEnabled
}

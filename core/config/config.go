package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the webhook HTTP listener settings.
type ServerConfig struct {
	Listen string `yaml:"listen" envconfig:"SERVER_LISTEN"`
	Port   int    `yaml:"port" envconfig:"SERVER_PORT"`
}

// BotConfig describes one managed bot seeded into the registry at startup.
type BotConfig struct {
	Name     string `yaml:"name"`
	Username string `yaml:"username"`
	Token    string `yaml:"token"`
}

// TelegramConfig holds Telegram transport settings shared by all bots.
type TelegramConfig struct {
	// SecretToken, when set, must match X-Telegram-Bot-Api-Secret-Token on
	// every inbound webhook request.
	SecretToken string `yaml:"secret_token" envconfig:"TELEGRAM_SECRET_TOKEN"`
	// APIURL overrides the Bot API base URL (tests, local Bot API server).
	APIURL string `yaml:"api_url" envconfig:"TELEGRAM_API_URL"`
	// PublicURL is the externally reachable base URL used when registering
	// webhooks, e.g. https://bots.example.com
	PublicURL    string      `yaml:"public_url" envconfig:"TELEGRAM_PUBLIC_URL"`
	SyncWebhooks bool        `yaml:"sync_webhooks" envconfig:"TELEGRAM_SYNC_WEBHOOKS"`
	Bots         []BotConfig `yaml:"bots"`
}

// AIConfig selects and configures the text-generation provider.
type AIConfig struct {
	Provider    string  `yaml:"provider" envconfig:"AI_PROVIDER"`
	OpenAIKey   string  `yaml:"openai_key" envconfig:"OPENAI_API_KEY"`
	GeminiKey   string  `yaml:"gemini_key" envconfig:"GEMINI_API_KEY"`
	Model       string  `yaml:"model" envconfig:"AI_MODEL"`
	Temperature float64 `yaml:"temperature" envconfig:"AI_TEMPERATURE"`
}

// ASRConfig selects the speech-transcription provider.
type ASRConfig struct {
	Provider string `yaml:"provider" envconfig:"ASR_PROVIDER"`
	Language string `yaml:"language" envconfig:"ASR_LANGUAGE"`
}

// SessionConfig tunes the conversational state machine and sweeper.
type SessionConfig struct {
	// PromptTimeoutMinutes bounds how long a chat stays in awaiting_prompt.
	PromptTimeoutMinutes int `yaml:"prompt_timeout_minutes" envconfig:"SESSION_PROMPT_TIMEOUT_MINUTES"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds" envconfig:"SESSION_SWEEP_INTERVAL_SECONDS"`
	HistoryLimit         int `yaml:"history_limit" envconfig:"SESSION_HISTORY_LIMIT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

const (
	// ProviderOpenAI selects the OpenAI-backed provider.
	ProviderOpenAI = "openai"
	// ProviderGemini selects the Gemini-backed provider.
	ProviderGemini = "gemini"
)

const (
	defaultPromptTimeoutMinutes = 5
	defaultSweepIntervalSeconds = 30
	defaultHistoryLimit         = 1000
	defaultServerPort           = 8080
)

// Config aggregates the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Telegram TelegramConfig `yaml:"telegram"`
	AI       AIConfig       `yaml:"ai"`
	ASR      ASRConfig      `yaml:"asr"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}
	mergeBotEnv(&cfg)

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required fields and fills in defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = "0.0.0.0"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = defaultServerPort
	}

	seen := make(map[string]struct{}, len(cfg.Telegram.Bots))
	for i, bot := range cfg.Telegram.Bots {
		token := strings.TrimSpace(bot.Token)
		if token == "" {
			return fmt.Errorf("telegram.bots[%d]: token is required", i)
		}
		if _, dup := seen[token]; dup {
			return fmt.Errorf("telegram.bots[%d]: duplicate token", i)
		}
		seen[token] = struct{}{}
		cfg.Telegram.Bots[i].Token = token
		if strings.TrimSpace(bot.Name) == "" {
			cfg.Telegram.Bots[i].Name = fmt.Sprintf("Bot%d", i+1)
		}
	}
	if cfg.Telegram.SyncWebhooks && strings.TrimSpace(cfg.Telegram.PublicURL) == "" {
		return fmt.Errorf("telegram.public_url is required when telegram.sync_webhooks is enabled")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.AI.Provider)) {
	case "", ProviderOpenAI:
		cfg.AI.Provider = ProviderOpenAI
	case ProviderGemini:
		cfg.AI.Provider = ProviderGemini
	default:
		return fmt.Errorf("invalid ai.provider %q; allowed: openai, gemini", cfg.AI.Provider)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.ASR.Provider)) {
	case "":
		cfg.ASR.Provider = cfg.AI.Provider
	case ProviderOpenAI, ProviderGemini:
		cfg.ASR.Provider = strings.ToLower(strings.TrimSpace(cfg.ASR.Provider))
	default:
		return fmt.Errorf("invalid asr.provider %q; allowed: openai, gemini", cfg.ASR.Provider)
	}

	if cfg.Session.PromptTimeoutMinutes <= 0 {
		cfg.Session.PromptTimeoutMinutes = defaultPromptTimeoutMinutes
	}
	if cfg.Session.SweepIntervalSeconds <= 0 {
		cfg.Session.SweepIntervalSeconds = defaultSweepIntervalSeconds
	}
	if cfg.Session.HistoryLimit <= 0 {
		cfg.Session.HistoryLimit = defaultHistoryLimit
	}

	return nil
}

// mergeBotEnv overlays numbered TELEGRAM_BOT_<N>_TOKEN / _NAME variables on
// top of the YAML bot list, matching by token. Slots may be sparse up to 10.
func mergeBotEnv(cfg *Config) {
	for i := 1; i <= 64; i++ {
		token := strings.TrimSpace(os.Getenv(fmt.Sprintf("TELEGRAM_BOT_%d_TOKEN", i)))
		if token == "" {
			if i > 10 {
				return
			}
			continue
		}
		name := strings.TrimSpace(os.Getenv(fmt.Sprintf("TELEGRAM_BOT_%d_NAME", i)))
		found := false
		for j := range cfg.Telegram.Bots {
			if cfg.Telegram.Bots[j].Token == token {
				if name != "" {
					cfg.Telegram.Bots[j].Name = name
				}
				found = true
				break
			}
		}
		if !found {
			cfg.Telegram.Bots = append(cfg.Telegram.Bots, BotConfig{Name: name, Token: token})
		}
	}
}

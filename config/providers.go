package config

import (
	"strings"
	"time"
)

// MarketDataConfig contains market data provider configuration.
type MarketDataConfig struct {
	// HistoryDays is how many calendar days of closes to fetch per symbol.
	HistoryDays int `env:"MARKET_DATA_HISTORY_DAYS" envDefault:"30"`

	// AlphaVantage fallback configuration. The fallback is skipped when no
	// API key is configured.
	AlphaVantage AlphaVantageConfig `envPrefix:"ALPHA_VANTAGE_"`
}

// Sanitize applies guardrails to market data configuration values.
func (m *MarketDataConfig) Sanitize() {
	if m.HistoryDays < 1 {
		m.HistoryDays = 30
	}
	m.AlphaVantage.sanitize()
}

// AlphaVantageConfig controls the Alpha Vantage fallback source.
type AlphaVantageConfig struct {
	APIKey  string        `env:"API_KEY"`
	BaseURL string        `env:"BASE_URL" envDefault:"https://www.alphavantage.co"`
	Timeout time.Duration `env:"TIMEOUT"  envDefault:"15s"`
}

func (a *AlphaVantageConfig) sanitize() {
	a.APIKey = strings.TrimSpace(a.APIKey)
	a.BaseURL = strings.TrimRight(strings.TrimSpace(a.BaseURL), "/")
	if a.Timeout <= 0 {
		a.Timeout = 15 * time.Second
	}
}

// Enabled reports whether the fallback source is usable.
func (a *AlphaVantageConfig) Enabled() bool {
	return a.APIKey != ""
}

// LLMConfig contains insight generation backend configuration.
type LLMConfig struct {
	// Provider selects the chat backend. Valid values: openai, deepseek.
	Provider string `env:"LLM_PROVIDER" envDefault:"openai"`

	APIKey  string `env:"LLM_API_KEY"`
	BaseURL string `env:"LLM_BASE_URL"`

	// Model is the chat model name, e.g. gpt-4o-mini or deepseek-chat.
	Model string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`

	MaxTokens   int           `env:"LLM_MAX_TOKENS"  envDefault:"1500"`
	Temperature float32       `env:"LLM_TEMPERATURE" envDefault:"0.7"`
	Timeout     time.Duration `env:"LLM_TIMEOUT"     envDefault:"120s"`
}

// Sanitize applies guardrails to LLM configuration values.
func (l *LLMConfig) Sanitize() {
	l.Provider = strings.ToLower(strings.TrimSpace(l.Provider))
	if l.Provider == "" {
		l.Provider = "openai"
	}
	l.APIKey = strings.TrimSpace(l.APIKey)
	l.BaseURL = strings.TrimRight(strings.TrimSpace(l.BaseURL), "/")
	if l.Model == "" {
		l.Model = "gpt-4o-mini"
	}
	if l.MaxTokens < 1 {
		l.MaxTokens = 1500
	}
	if l.Temperature < 0 {
		l.Temperature = 0
	}
	if l.Timeout <= 0 {
		l.Timeout = 120 * time.Second
	}
}

// TelegramConfig contains Telegram bot delivery configuration.
type TelegramConfig struct {
	BotToken string        `env:"TELEGRAM_BOT_TOKEN"`
	BaseURL  string        `env:"TELEGRAM_BASE_URL" envDefault:"https://api.telegram.org"`
	Timeout  time.Duration `env:"TELEGRAM_TIMEOUT"  envDefault:"30s"`
}

// Sanitize applies guardrails to Telegram configuration values.
func (t *TelegramConfig) Sanitize() {
	t.BotToken = strings.TrimSpace(t.BotToken)
	t.BaseURL = strings.TrimRight(strings.TrimSpace(t.BaseURL), "/")
	if t.BaseURL == "" {
		t.BaseURL = "https://api.telegram.org"
	}
	if t.Timeout <= 0 {
		t.Timeout = 30 * time.Second
	}
}

// Enabled reports whether delivery is configured.
func (t *TelegramConfig) Enabled() bool {
	return t.BotToken != ""
}

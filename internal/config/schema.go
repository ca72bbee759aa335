package config

// Config is the top-level configuration
type Config struct {
	Providers   ProvidersConfig   `json:"providers"`
	Debounce    DebounceConfig    `json:"debounce"`
	Channels    ChannelsConfig    `json:"channels"`
	History     HistoryConfig     `json:"history"`
	Persona     PersonaConfig     `json:"persona"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

// ProvidersConfig holds API keys and settings for LLM providers
type ProvidersConfig struct {
	OpenAI     ProviderConfig    `json:"openai"`
	Anthropic  ProviderConfig    `json:"anthropic"`
	DeepSeek   ProviderConfig    `json:"deepseek"`
	OpenRouter ProviderConfig    `json:"openrouter"`
	Custom     ProviderConfig    `json:"custom"`
	Default    string            `json:"default"`          // provider name used when no route matches
	Routes     map[string]string `json:"routes,omitempty"` // conversation key -> provider name
}

type ProviderConfig struct {
	APIKey       string `json:"apiKey"`
	BaseURL      string `json:"baseUrl"`
	DefaultModel string `json:"defaultModel"`
	MaxTokens    int    `json:"maxTokens"`
}

// DebounceConfig controls the message aggregation window.
// DebounceSeconds <= 0 disables interception entirely.
type DebounceConfig struct {
	Enabled         bool     `json:"enabled"`
	DebounceSeconds float64  `json:"debounceSeconds"`
	CommandPrefixes []string `json:"commandPrefixes"`
	MergeSeparator  string   `json:"mergeSeparator"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
}

type TelegramConfig struct {
	Token        string   `json:"token"`
	AllowedUsers []string `json:"allowedUsers"`
}

type DiscordConfig struct {
	Token        string   `json:"token"`
	AllowedUsers []string `json:"allowedUsers"`
}

type SlackConfig struct {
	BotToken     string   `json:"botToken"`
	AppToken     string   `json:"appToken"`
	AllowedUsers []string `json:"allowedUsers"`
}

// HistoryConfig locates the conversation history store.
type HistoryConfig struct {
	DataDir string `json:"dataDir"`
}

// PersonaConfig locates the persona file.
type PersonaConfig struct {
	Path string `json:"path"`
}

// MaintenanceConfig schedules the periodic history flush.
type MaintenanceConfig struct {
	FlushSchedule string `json:"flushSchedule"` // cron expression
}

// DefaultConfig returns a Config with sensible defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Providers: ProvidersConfig{
			Default: "openai",
		},
		Debounce: DebounceConfig{
			Enabled:         true,
			DebounceSeconds: 2.0,
			CommandPrefixes: []string{"/"},
			MergeSeparator:  "\n",
		},
		History: HistoryConfig{
			DataDir: "~/.turnbot/history",
		},
		Persona: PersonaConfig{
			Path: "~/.turnbot/personas.json",
		},
		Maintenance: MaintenanceConfig{
			FlushSchedule: "*/5 * * * *",
		},
	}
}

package providers

import (
	"github.com/aliveriver/turnbot/internal/config"
)

// ProviderSpec describes a known OpenAI-compatible endpoint.
type ProviderSpec struct {
	Name           string
	DefaultAPIBase string // empty means the SDK default
}

// Specs is the registry of known OpenAI-compatible providers.
var Specs = []ProviderSpec{
	{Name: "openai"},
	{Name: "deepseek", DefaultAPIBase: "https://api.deepseek.com/v1"},
	{Name: "openrouter", DefaultAPIBase: "https://openrouter.ai/api/v1"},
	{Name: "custom"},
}

// FindSpec returns the spec with an exact name match.
func FindSpec(name string) *ProviderSpec {
	for i := range Specs {
		if Specs[i].Name == name {
			return &Specs[i]
		}
	}
	return nil
}

// Selector resolves the completion provider for a conversation. A nil
// result means no provider is configured for it — a valid, handled state.
type Selector struct {
	providers   map[string]Provider
	defaultName string
	routes      map[string]string // conversation key -> provider name
}

// NewSelector creates an empty Selector with the given default provider name.
func NewSelector(defaultName string) *Selector {
	return &Selector{
		providers:   make(map[string]Provider),
		defaultName: defaultName,
	}
}

// NewSelectorFromConfig builds providers for every configured API key.
func NewSelectorFromConfig(cfg config.ProvidersConfig) *Selector {
	s := NewSelector(cfg.Default)
	s.routes = cfg.Routes

	compat := map[string]config.ProviderConfig{
		"openai":     cfg.OpenAI,
		"deepseek":   cfg.DeepSeek,
		"openrouter": cfg.OpenRouter,
		"custom":     cfg.Custom,
	}
	for name, pc := range compat {
		if pc.APIKey == "" {
			continue
		}
		base := pc.BaseURL
		if base == "" {
			if spec := FindSpec(name); spec != nil {
				base = spec.DefaultAPIBase
			}
		}
		s.Register(NewOpenAICompatProvider(name, pc.APIKey, base, pc.DefaultModel))
	}

	if cfg.Anthropic.APIKey != "" {
		s.Register(NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.DefaultModel))
	}

	return s
}

// Register adds a provider under its own name.
func (s *Selector) Register(p Provider) {
	s.providers[p.Name()] = p
}

// SetRoute maps a conversation key to a named provider.
func (s *Selector) SetRoute(conversationKey, providerName string) {
	if s.routes == nil {
		s.routes = make(map[string]string)
	}
	s.routes[conversationKey] = providerName
}

// ForConversation returns the provider serving the given conversation,
// or nil when none is configured.
func (s *Selector) ForConversation(conversationKey string) Provider {
	if name, ok := s.routes[conversationKey]; ok {
		if p, ok := s.providers[name]; ok {
			return p
		}
		// a route to an unconfigured provider falls back to the default
	}
	return s.providers[s.defaultName]
}

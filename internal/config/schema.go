package config

// Config holds marginalia configuration.
type Config struct {
	Providers map[string]ProviderCfg `mapstructure:"providers" yaml:"providers"`
	Defaults  DefaultsCfg            `mapstructure:"defaults" yaml:"defaults"`
	Server    ServerCfg              `mapstructure:"server" yaml:"server"`
	Analysis  AnalysisCfg            `mapstructure:"analysis" yaml:"analysis"`
}

// ProviderCfg configures one OpenAI-compatible chat provider.
type ProviderCfg struct {
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url"`
	Model     string  `mapstructure:"model" yaml:"model"`
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per minute
	MaxRetries int    `mapstructure:"max_retries" yaml:"max_retries"`
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg selects the provider used when none is named.
type DefaultsCfg struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// AnalysisCfg configures chapter analysis runs.
type AnalysisCfg struct {
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	// AutoProcess analyzes chapters automatically after import.
	AutoProcess bool `mapstructure:"auto_process" yaml:"auto_process"`
	// SegmentCacheTTLMinutes bounds the segmentation cache; 0 keeps entries
	// until process exit.
	SegmentCacheTTLMinutes int `mapstructure:"segment_cache_ttl_minutes" yaml:"segment_cache_ttl_minutes"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderCfg{
			"openrouter": {
				BaseURL:    "https://openrouter.ai/api/v1",
				Model:      "anthropic/claude-sonnet-4",
				APIKey:     "${OPENROUTER_API_KEY}",
				RateLimit:  150,
				MaxRetries: 3,
				Enabled:    true,
			},
			"openai": {
				BaseURL:    "https://api.openai.com/v1",
				Model:      "gpt-4o",
				APIKey:     "${OPENAI_API_KEY}",
				RateLimit:  150,
				MaxRetries: 3,
				Enabled:    false,
			},
		},
		Defaults: DefaultsCfg{
			Provider: "openrouter",
		},
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: 8580,
		},
		Analysis: AnalysisCfg{
			Temperature:            0.7,
			MaxTokens:              8192,
			AutoProcess:            true,
			SegmentCacheTTLMinutes: 60,
		},
	}
}

// GetProvider returns a provider config by name.
func (c *Config) GetProvider(name string) (ProviderCfg, bool) {
	cfg, ok := c.Providers[name]
	return cfg, ok
}

// EnabledProviders returns all enabled providers.
func (c *Config) EnabledProviders() map[string]ProviderCfg {
	result := make(map[string]ProviderCfg)
	for name, cfg := range c.Providers {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

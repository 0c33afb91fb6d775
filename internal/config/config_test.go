package config

import (
	"testing"
)

func TestResolveEnvVars(t *testing.T) {
	t.Setenv("MARGINALIA_TEST_KEY", "sk-resolved")

	tests := []struct {
		in   string
		want string
	}{
		{"${MARGINALIA_TEST_KEY}", "sk-resolved"},
		{"prefix-${MARGINALIA_TEST_KEY}-suffix", "prefix-sk-resolved-suffix"},
		{"${MARGINALIA_UNSET_VAR}", ""},
		{"no refs", "no refs"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ResolveEnvVars(tt.in); got != tt.want {
			t.Errorf("ResolveEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToProviderConfigs(t *testing.T) {
	t.Setenv("TPC_KEY", "sk-live")

	cfg := &Config{
		Providers: map[string]ProviderCfg{
			"zeta":     {APIKey: "${TPC_KEY}", Model: "m1", RateLimit: 90.5, Enabled: true},
			"alpha":    {APIKey: "sk-plain", Model: "m2", Enabled: true},
			"disabled": {APIKey: "sk-x", Model: "m3"},
		},
	}

	got := cfg.ToProviderConfigs()
	if len(got) != 2 {
		t.Fatalf("configs = %d, want 2", len(got))
	}
	if got[0].Name != "alpha" || got[1].Name != "zeta" {
		t.Fatalf("order = %q, %q", got[0].Name, got[1].Name)
	}
	if got[1].APIKey != "sk-live" {
		t.Fatalf("APIKey = %q, env reference not resolved", got[1].APIKey)
	}
	if got[1].RequestsPerMinute != 90 {
		t.Fatalf("RequestsPerMinute = %d, want 90", got[1].RequestsPerMinute)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Defaults.Provider == "" {
		t.Fatal("no default provider")
	}
	if _, ok := cfg.GetProvider(cfg.Defaults.Provider); !ok {
		t.Fatalf("default provider %q not present", cfg.Defaults.Provider)
	}

	enabled := cfg.EnabledProviders()
	if len(enabled) == 0 {
		t.Fatal("no providers enabled by default")
	}
	if cfg.Server.Port == 0 {
		t.Fatal("no default server port")
	}
	if cfg.Analysis.SegmentCacheTTLMinutes <= 0 {
		t.Fatal("no default segment cache ttl")
	}
}

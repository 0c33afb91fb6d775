package providers

import (
	"context"
	"testing"
	"time"

	"github.com/marginalia-app/marginalia/internal/analysis"
)

func TestRegistryFirstRegisteredIsDefault(t *testing.T) {
	r := NewRegistry()
	r.Register(&MockClient{ClientName: "alpha"})
	r.Register(&MockClient{ClientName: "beta"})

	c, err := r.Get("")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Name() != "alpha" {
		t.Fatalf("default = %q, want alpha", c.Name())
	}

	c, err = r.Get("beta")
	if err != nil {
		t.Fatalf("Get(beta): %v", err)
	}
	if c.Name() != "beta" {
		t.Fatalf("Name() = %q", c.Name())
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nope"); err == nil {
		t.Fatal("Get of unknown provider should fail")
	}
	if _, err := r.Get(""); err == nil {
		t.Fatal("Get of empty registry should fail")
	}
}

func TestRegistryReload(t *testing.T) {
	r := NewRegistry()
	r.Register(&MockClient{ClientName: "stale"})

	r.Reload([]OpenAIConfig{
		{Name: "openrouter", APIKey: "sk-a", Model: "m"},
		{Name: "openai", APIKey: "sk-b", Model: "m"},
		{Name: "keyless", Model: "m"},
	}, "openrouter")

	names := r.List()
	if len(names) != 2 || names[0] != "openai" || names[1] != "openrouter" {
		t.Fatalf("List() = %v", names)
	}
	if _, err := r.Get("stale"); err == nil {
		t.Fatal("reload kept stale client")
	}
	if _, err := r.Get("keyless"); err == nil {
		t.Fatal("provider without api key registered")
	}

	c, err := r.Get("")
	if err != nil {
		t.Fatalf("Get default: %v", err)
	}
	if c.Name() != "openrouter" {
		t.Fatalf("default = %q, want openrouter", c.Name())
	}
}

func TestRegistryReloadDefaultFallback(t *testing.T) {
	r := NewRegistry()
	r.Reload([]OpenAIConfig{
		{Name: "zeta", APIKey: "sk", Model: "m"},
		{Name: "alpha", APIKey: "sk", Model: "m"},
	}, "missing")

	c, err := r.Get("")
	if err != nil {
		t.Fatalf("Get default: %v", err)
	}
	if c.Name() != "alpha" {
		t.Fatalf("fallback default = %q, want alpha", c.Name())
	}
}

func TestRateLimiterTryConsume(t *testing.T) {
	rl := NewRateLimiter(2)
	if !rl.TryConsume() || !rl.TryConsume() {
		t.Fatal("initial tokens not available")
	}
	if rl.TryConsume() {
		t.Fatal("third consume should fail immediately")
	}
}

func TestRateLimiterWaitRespectsContext(t *testing.T) {
	rl := NewRateLimiter(1)
	if !rl.TryConsume() {
		t.Fatal("first token not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Fatal("Wait should fail once context expires")
	}
}

func TestContentChunks(t *testing.T) {
	chunks := ContentChunks("abcdefg", 3)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	var joined string
	for _, c := range chunks {
		joined += c.(analysis.ContentChunk).Text
	}
	if joined != "abcdefg" {
		t.Fatalf("joined = %q", joined)
	}
}

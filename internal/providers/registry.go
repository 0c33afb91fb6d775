package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds configured provider clients by name. It is safe for
// concurrent use and can be reloaded when configuration changes.
type Registry struct {
	mu          sync.RWMutex
	clients     map[string]Client
	defaultName string
	logger      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Client),
		logger:  slog.Default(),
	}
}

// SetLogger sets the logger used by the registry and new clients.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger != nil {
		r.logger = logger
	}
}

// Register adds a client. The first registered client becomes the default.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Name()] = c
	if r.defaultName == "" {
		r.defaultName = c.Name()
	}
}

// Get returns the named client, or the default when name is empty.
func (r *Registry) Get(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultName
	}
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return c, nil
}

// List returns registered client names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reload replaces all clients from configuration. Clients without an API
// key are skipped so a partially-filled config file doesn't register
// unusable providers.
func (r *Registry) Reload(cfgs []OpenAIConfig, defaultName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients = make(map[string]Client, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.APIKey == "" {
			r.logger.Warn("skipping provider without api key", "name", cfg.Name)
			continue
		}
		c := NewOpenAIClient(cfg, r.logger)
		r.clients[c.Name()] = c
		r.logger.Info("provider registered", "name", c.Name(), "model", cfg.Model)
	}

	r.defaultName = defaultName
	if _, ok := r.clients[r.defaultName]; !ok {
		r.defaultName = ""
		for name := range r.clients {
			if r.defaultName == "" || name < r.defaultName {
				r.defaultName = name
			}
		}
	}
}

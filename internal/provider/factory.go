package provider

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"recruitbot/internal/config"
	"recruitbot/internal/domain"
)

// ResponderConstructor creates a responder from the configuration.
type ResponderConstructor func(cfg *config.Config, logger *slog.Logger) (domain.Responder, error)

// Factory creates and caches responders by name.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ResponderConstructor
	cache        map[string]domain.Responder
	mu           sync.Mutex
}

// NewFactory creates a responder factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ResponderConstructor),
		cache:        make(map[string]domain.Responder),
	}
	f.constructors["echo"] = func(*config.Config, *slog.Logger) (domain.Responder, error) {
		return NewEcho(40 * time.Millisecond), nil
	}
	f.constructors["ollama"] = func(cfg *config.Config, logger *slog.Logger) (domain.Responder, error) {
		pc, ok := cfg.Providers["ollama"]
		if !ok || !pc.Enabled {
			return nil, fmt.Errorf("provider ollama is not enabled")
		}
		return NewOllama(OllamaConfig{APIBase: pc.APIBase, DefaultModel: pc.DefaultModel, Logger: logger}), nil
	}
	return f
}

// RegisterConstructor adds (or replaces) a responder constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor ResponderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
	delete(f.cache, name)
}

// Get returns the responder with the given name, creating it on first use.
func (f *Factory) Get(name string) (domain.Responder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}
	ctor, ok := f.constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown responder: %s", name)
	}
	r, err := ctor(f.cfg, f.logger)
	if err != nil {
		return nil, fmt.Errorf("responder %s: %w", name, err)
	}
	f.cache[name] = r
	return r, nil
}

// Gateway returns the configured gateway responder, wrapped in a failover
// chain when fallbacks are configured.
func (f *Factory) Gateway() (domain.Responder, error) {
	primary, err := f.Get(f.cfg.Gateway.Responder)
	if err != nil {
		return nil, err
	}
	if len(f.cfg.Gateway.Fallback) == 0 {
		return primary, nil
	}
	chain := []domain.Responder{primary}
	for _, name := range f.cfg.Gateway.Fallback {
		r, err := f.Get(name)
		if err != nil {
			return nil, err
		}
		chain = append(chain, r)
	}
	return NewFailoverResponder(chain, f.logger), nil
}

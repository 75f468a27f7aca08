// Package providers builds the completion provider registry from config.
package providers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/user/burrow/internal/config"
	"github.com/user/burrow/pkg/llm"
	"github.com/user/burrow/pkg/llm/anthropic"
	"github.com/user/burrow/pkg/llm/bedrock"
	"github.com/user/burrow/pkg/llm/gemini"
	"github.com/user/burrow/pkg/llm/openai"
)

// Set is the built registry plus any clients that hold connections.
type Set struct {
	*llm.Registry
	closers []io.Closer
}

// Close releases provider clients.
func (s *Set) Close() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			slog.Warn("close provider", "error", err)
		}
	}
}

// Build constructs one provider per configured entry and selects the
// configured default.
func Build(ctx context.Context, cfg *config.Config) (*Set, error) {
	set := &Set{Registry: llm.NewRegistry()}

	ids := make([]string, 0, len(cfg.Providers))
	for id := range cfg.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		pc := cfg.Providers[id]
		p, err := open(ctx, set, pc)
		if err != nil {
			set.Close()
			return nil, fmt.Errorf("provider %q: %w", id, err)
		}
		temp := pc.Temperature
		set.Register(llm.Entry{
			ID:          id,
			Provider:    p,
			Model:       pc.Model,
			Budget:      pc.ContextTokens,
			MaxTokens:   pc.MaxTokens,
			Temperature: &temp,
		})
		slog.Debug("provider registered", "id", id, "kind", pc.Kind, "model", pc.Model)
	}

	if cfg.DefaultProvider != "" {
		if err := set.SetDefault(cfg.DefaultProvider); err != nil {
			set.Close()
			return nil, err
		}
	}
	return set, nil
}

func open(ctx context.Context, set *Set, pc config.ProviderConfig) (llm.Provider, error) {
	lc := &llm.Config{
		BaseURL:     pc.BaseURL,
		APIKey:      pc.APIKey,
		Model:       pc.Model,
		Region:      pc.Region,
		MaxTokens:   pc.MaxTokens,
		Temperature: pc.Temperature,
	}
	switch pc.Kind {
	case "anthropic":
		return anthropic.New(lc), nil
	case "openai":
		return openai.New(lc), nil
	case "gemini":
		c, err := gemini.New(ctx, lc)
		if err != nil {
			return nil, err
		}
		set.closers = append(set.closers, c)
		return c, nil
	case "bedrock":
		return bedrock.New(ctx, lc)
	default:
		return nil, fmt.Errorf("unknown kind %q", pc.Kind)
	}
}

package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/user/burrow/internal/config"
	"github.com/user/burrow/pkg/llm"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Providers = map[string]config.ProviderConfig{
		"fast":  {Kind: "openai", Model: "gpt-4o-mini", BaseURL: "http://127.0.0.1:1", APIKey: "k", MaxTokens: 512, Temperature: 0.2, ContextTokens: 64000},
		"smart": {Kind: "anthropic", Model: "claude-sonnet-4-5", APIKey: "k", MaxTokens: 2048, Temperature: 0.7, ContextTokens: 200000},
	}
	cfg.DefaultProvider = "smart"
	return cfg
}

func TestBuildRegistersEntries(t *testing.T) {
	set, err := Build(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer set.Close()

	names := set.Names()
	if len(names) != 2 || names[0] != "fast" || names[1] != "smart" {
		t.Fatalf("names = %v", names)
	}

	def, err := set.Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if def.ID != "smart" || def.Budget != 200000 || def.MaxTokens != 2048 {
		t.Errorf("default entry = %+v", def)
	}

	fast, err := set.Resolve("fast")
	if err != nil {
		t.Fatal(err)
	}
	if fast.Temperature == nil || *fast.Temperature != 0.2 {
		t.Errorf("fast temperature = %v", fast.Temperature)
	}
	if fast.Model != "gpt-4o-mini" {
		t.Errorf("fast model = %q", fast.Model)
	}
}

func TestBuildUnknownKind(t *testing.T) {
	cfg := testConfig()
	cfg.Providers["odd"] = config.ProviderConfig{Kind: "carrier-pigeon", ContextTokens: 10}
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestBuildUnknownDefault(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultProvider = "missing"
	_, err := Build(context.Background(), cfg)
	if !errors.Is(err, llm.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestBuildBedrockWithRegion(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	cfg := testConfig()
	cfg.Providers["aws"] = config.ProviderConfig{Kind: "bedrock", Model: "anthropic.claude-3-haiku", Region: "us-east-1", ContextTokens: 200000}
	set, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer set.Close()
	if _, err := set.Resolve("aws"); err != nil {
		t.Errorf("Resolve(aws): %v", err)
	}
}

package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"maskstudio/internal/infra"
	"maskstudio/internal/usage"
)

func TestSetupUsageWithoutDatabase(t *testing.T) {
	rec, summarizer, closeDB := setupUsage(context.Background(), &infra.Config{}, zerolog.Nop())
	defer closeDB()
	if summarizer != nil {
		t.Fatalf("summarizer = %v, want nil without DATABASE_URL", summarizer)
	}
	if err := rec.Record(context.Background(), usage.Event{Provider: "openai"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
}

func TestSetupProvidersAddsHostedWhenKeyed(t *testing.T) {
	cfg := &infra.Config{OpenAIAPIKey: "sk-test", ProviderMaxRetries: 1}
	rec := usage.NewLogging(usage.Nop{}, zerolog.Nop())

	reg, err := setupProviders(cfg, rec, zerolog.Nop())
	if err != nil {
		t.Fatalf("setupProviders: %v", err)
	}
	if got := reg.Names(); len(got) != 1 || got[0] != "openai" {
		t.Fatalf("providers = %v, want [openai]", got)
	}

	cfg.HostedAPIKey = "hf-test"
	reg, err = setupProviders(cfg, rec, zerolog.Nop())
	if err != nil {
		t.Fatalf("setupProviders: %v", err)
	}
	if got := reg.Names(); len(got) != 2 || got[0] != "hosted" || got[1] != "openai" {
		t.Fatalf("providers = %v, want [hosted openai]", got)
	}
}

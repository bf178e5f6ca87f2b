package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/dodolabs/dodo-live/pkg/game"
	"github.com/dodolabs/dodo-live/pkg/scenario"
)

func stubEnv(vars map[string]string) func(string) string {
	return func(key string) string {
		return vars[key]
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := parseConfig(nil, stubEnv(map[string]string{"GEMINI_API_KEY": "k"}))
	if err != nil {
		t.Fatalf("parseConfig error: %v", err)
	}
	if cfg.Model != defaultModel || cfg.Voice != defaultVoice || cfg.Theme != defaultTheme {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.PlayerID != "local" {
		t.Fatalf("player = %q, want local", cfg.PlayerID)
	}
}

func TestParseConfig_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := parseConfig(nil, stubEnv(nil)); err == nil {
		t.Fatalf("parseConfig succeeded without an API key")
	}

	cfg, err := parseConfig(nil, stubEnv(map[string]string{"GOOGLE_API_KEY": "fallback"}))
	if err != nil {
		t.Fatalf("parseConfig error with GOOGLE_API_KEY: %v", err)
	}
	if cfg.APIKey != "fallback" {
		t.Fatalf("api key = %q, want fallback", cfg.APIKey)
	}
}

func TestParseConfig_Flags(t *testing.T) {
	t.Parallel()

	cfg, err := parseConfig(
		[]string{"-model", "gemini-x", "-voice", "Aoede", "-player", "ana", "-theme", ""},
		stubEnv(map[string]string{"GEMINI_API_KEY": "k", "DATABASE_URL": "postgres://x"}),
	)
	if err != nil {
		t.Fatalf("parseConfig error: %v", err)
	}
	if cfg.Model != "gemini-x" || cfg.Voice != "Aoede" || cfg.PlayerID != "ana" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Theme != "" {
		t.Fatalf("theme = %q, want empty (scenario disabled)", cfg.Theme)
	}
	if cfg.DBURL != "postgres://x" {
		t.Fatalf("db url = %q", cfg.DBURL)
	}
}

func TestParseConfig_RejectsEmptyPlayer(t *testing.T) {
	t.Parallel()

	_, err := parseConfig([]string{"-player", "  "}, stubEnv(map[string]string{"GEMINI_API_KEY": "k"}))
	if err == nil {
		t.Fatalf("parseConfig accepted a blank player id")
	}
}

func TestPrintLeaderboard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := game.NewMemoryStore()

	var empty bytes.Buffer
	if err := printLeaderboard(ctx, &empty, store); err != nil {
		t.Fatalf("printLeaderboard error: %v", err)
	}
	if !strings.Contains(empty.String(), "No players") {
		t.Fatalf("empty board output = %q", empty.String())
	}

	for _, p := range []struct {
		id      string
		credits int
	}{{"ana", 120}, {"bo", 300}, {"cy", 50}} {
		stats := game.NewPlayerStats(p.id)
		stats.RecordConfession(p.credits)
		if err := store.Save(ctx, stats); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}

	var out bytes.Buffer
	if err := printLeaderboard(ctx, &out, store); err != nil {
		t.Fatalf("printLeaderboard error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d leaderboard lines, want 3: %q", len(lines), out.String())
	}
	for i, want := range []string{"bo", "ana", "cy"} {
		if !strings.Contains(lines[i], want) {
			t.Fatalf("line %d = %q, want player %q", i, lines[i], want)
		}
	}
}

func TestSuspectInstruction(t *testing.T) {
	t.Parallel()

	generic := suspectInstruction(nil)
	if !strings.Contains(generic, "suspect") {
		t.Fatalf("generic instruction = %q", generic)
	}

	sc := &scenario.Scenario{
		Title:       "The Missing Ledger",
		SuspectName: "Marla Voss",
		Briefing:    "A ledger vanished from the vault.",
	}
	got := suspectInstruction(sc)
	for _, want := range []string{"Marla Voss", "The Missing Ledger", "ledger vanished"} {
		if !strings.Contains(got, want) {
			t.Fatalf("instruction %q missing %q", got, want)
		}
	}
}

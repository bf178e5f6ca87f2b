// Command dodo-live is the interactive interrogation client: microphone in,
// suspect speech out, with game tools and optional persisted stats.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dodolabs/dodo-live/internal/dotenv"
	"github.com/dodolabs/dodo-live/pkg/game"
	"github.com/dodolabs/dodo-live/pkg/live/protocol"
	"github.com/dodolabs/dodo-live/pkg/scenario"
	dodo "github.com/dodolabs/dodo-live/sdk"
)

const (
	defaultModel = "gemini-2.0-flash-live-001"
	defaultVoice = "Puck"
	defaultTheme = "jewel heist"
)

type appConfig struct {
	Model    string
	Voice    string
	Theme    string
	PlayerID string
	APIKey   string
	DBURL    string
	Verbose  bool
}

func parseConfig(args []string, getenv func(string) string) (appConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := appConfig{}
	fs := flag.NewFlagSet("dodo-live", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.Model, "model", defaultModel, "live model id")
	fs.StringVar(&cfg.Voice, "voice", defaultVoice, "suspect voice name")
	fs.StringVar(&cfg.Theme, "theme", defaultTheme, "case theme for scenario generation")
	fs.StringVar(&cfg.PlayerID, "player", "local", "player id for stats")
	fs.BoolVar(&cfg.Verbose, "v", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return appConfig{}, err
	}

	cfg.APIKey = strings.TrimSpace(getenv("GEMINI_API_KEY"))
	if cfg.APIKey == "" {
		cfg.APIKey = strings.TrimSpace(getenv("GOOGLE_API_KEY"))
	}
	cfg.DBURL = strings.TrimSpace(getenv("DATABASE_URL"))

	if err := validateConfig(cfg); err != nil {
		return appConfig{}, err
	}
	return cfg, nil
}

func validateConfig(cfg appConfig) error {
	if strings.TrimSpace(cfg.Model) == "" {
		return errors.New("model must not be empty")
	}
	if strings.TrimSpace(cfg.PlayerID) == "" {
		return errors.New("player must not be empty")
	}
	if cfg.APIKey == "" {
		return errors.New("GEMINI_API_KEY (or GOOGLE_API_KEY) is required")
	}
	return nil
}

// openStatsStore picks postgres when DATABASE_URL is set, memory otherwise.
func openStatsStore(ctx context.Context, cfg appConfig, logger *slog.Logger) (game.StatsStore, func(), error) {
	if cfg.DBURL == "" {
		return game.NewMemoryStore(), func() {}, nil
	}
	if err := game.Migrate(ctx, cfg.DBURL); err != nil {
		return nil, nil, err
	}
	store, err := game.NewPostgresStore(ctx, cfg.DBURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("stats persisted to postgres")
	return store, store.Close, nil
}

func loadStats(ctx context.Context, store game.StatsStore, playerID string) (*game.PlayerStats, error) {
	stats, err := store.Load(ctx, playerID)
	if errors.Is(err, game.ErrNotFound) {
		return game.NewPlayerStats(playerID), nil
	}
	return stats, err
}

// printLeaderboard writes the top players by credits, best first.
func printLeaderboard(ctx context.Context, out io.Writer, store game.StatsStore) error {
	top, err := store.TopPlayers(ctx, 10)
	if err != nil {
		return err
	}
	if len(top) == 0 {
		fmt.Fprintln(out, "No players on the board yet.")
		return nil
	}
	for i, p := range top {
		fmt.Fprintf(out, "%2d. %-20s credits=%d solved=%d\n", i+1, p.PlayerID, p.Credits, p.CasesSolved)
	}
	return nil
}

// suspectInstruction builds the system prompt from a generated case, or a
// generic fallback when scenario generation is unavailable.
func suspectInstruction(sc *scenario.Scenario) string {
	if sc == nil {
		return "You are a cagey suspect under interrogation. Answer evasively unless pressed with evidence."
	}
	return fmt.Sprintf(
		"You are %s, the suspect in the case %q. Case background: %s "+
			"Stay in character, answer evasively, and only confess when confronted with convincing evidence.",
		sc.SuspectName, sc.Title, sc.Briefing)
}

func gameTools() []protocol.Tool {
	return []protocol.Tool{{
		FunctionDeclarations: []protocol.FunctionDeclaration{
			{
				Name:        "record_confession",
				Description: "Record that the suspect has confessed, crediting the interrogator.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"credits": map[string]any{"type": "integer"},
					},
				},
			},
			{
				Name:        "raise_suspicion",
				Description: "Raise the suspect's suspicion of the interrogator by a 0-1 delta.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"delta": map[string]any{"type": "number"},
					},
					"required": []any{"delta"},
				},
			},
		},
	}}
}

func registerGameTools(registry *dodo.ToolRegistry, stats *game.PlayerStats, store game.StatsStore, logger *slog.Logger) {
	persist := func(ctx context.Context) {
		if err := store.Save(ctx, stats); err != nil {
			logger.Warn("failed to persist stats", "error", err)
		}
	}

	registry.Register("record_confession", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		credits := 50
		if v, ok := args["credits"].(float64); ok && v > 0 {
			credits = int(v)
		}
		stats.RecordConfession(credits)
		persist(ctx)
		return map[string]any{"credits": stats.Credits, "confessions": stats.Confessions}, nil
	})

	registry.Register("raise_suspicion", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		delta, ok := args["delta"].(float64)
		if !ok {
			return nil, errors.New("delta is required")
		}
		stats.RaiseSuspicion(delta)
		persist(ctx)
		return map[string]any{"suspicion": stats.Suspicion, "alerted": stats.Alerted()}, nil
	})
}

func run(ctx context.Context, cfg appConfig, in io.Reader, out io.Writer, logger *slog.Logger) error {
	store, closeStore, err := openStatsStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	stats, err := loadStats(ctx, store, cfg.PlayerID)
	if err != nil {
		return err
	}

	var sc *scenario.Scenario
	if cfg.Theme != "" {
		gen, genErr := scenario.NewGenerator(ctx, cfg.APIKey, scenario.WithLogger(logger))
		if genErr == nil {
			sc, genErr = gen.Generate(ctx, cfg.Theme)
		}
		if genErr != nil {
			logger.Warn("scenario generation skipped", "error", genErr)
		}
	}
	if sc != nil {
		fmt.Fprintf(out, "Case: %s\nSuspect: %s\n%s\n\n", sc.Title, sc.SuspectName, sc.Briefing)
	}

	sink, err := dodo.NewOtoPlaybackSink()
	if err != nil {
		return fmt.Errorf("open speaker: %w", err)
	}
	streamer := dodo.NewAudioStreamer(sink, dodo.WithStreamerLogger(logger))
	defer streamer.Close()

	client := dodo.NewLiveClient(dodo.WithAPIKey(cfg.APIKey), dodo.WithLogger(logger))
	client.On(dodo.EventAudio, func(ev dodo.Event) {
		streamer.AddPCM16(ev.(dodo.AudioEvent).Data)
	})
	client.On(dodo.EventInterrupted, func(dodo.Event) {
		streamer.Stop()
	})
	client.On(dodo.EventContent, func(ev dodo.Event) {
		for _, part := range ev.(dodo.ContentEvent).ModelTurn.Parts {
			if part.Text != "" {
				fmt.Fprintf(out, "suspect: %s\n", part.Text)
			}
		}
	})
	client.On(dodo.EventError, func(ev dodo.Event) {
		err := ev.(dodo.ErrorEvent).Err
		var connErr *dodo.ConnectionError
		if errors.As(err, &connErr) {
			fmt.Fprintln(out, connErr.UserMessage())
			return
		}
		logger.Error("session error", "error", err)
	})
	closed := make(chan struct{}, 1)
	client.On(dodo.EventClose, func(ev dodo.Event) {
		logger.Info("session closed", "reason", ev.(dodo.CloseEvent).Reason)
		select {
		case closed <- struct{}{}:
		default:
		}
	})

	registry := dodo.NewToolRegistry(dodo.WithToolLogger(logger))
	registerGameTools(registry, stats, store, logger)
	defer registry.Bind(ctx, client)()

	if err := client.Connect(ctx, dodo.LiveConfig{
		Model:             cfg.Model,
		Voice:             cfg.Voice,
		SystemInstruction: suspectInstruction(sc),
		Tools:             gameTools(),
	}); err != nil {
		var connErr *dodo.ConnectionError
		if errors.As(err, &connErr) {
			return errors.New(connErr.UserMessage())
		}
		return err
	}
	defer client.Disconnect()

	recorder := dodo.NewAudioRecorder(dodo.MalgoCaptureSource{}, dodo.WithRecorderLogger(logger))
	recorder.On(dodo.EventData, func(ev dodo.Event) {
		err := client.SendRealtimeInput([]dodo.RealtimeChunk{
			dodo.AudioChunk(ev.(dodo.DataEvent).Base64),
		})
		if err != nil && !errors.Is(err, dodo.ErrNotConnected) {
			logger.Warn("failed to send audio", "error", err)
		}
	})
	if err := recorder.Start(ctx); err != nil {
		var permErr *dodo.PermissionError
		if errors.As(err, &permErr) {
			return fmt.Errorf("microphone unavailable: %w", permErr)
		}
		return err
	}
	defer recorder.Stop()

	fmt.Fprintln(out, "Interrogation started. Speak, or type a question. /top for the leaderboard, /quit to leave.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "/quit" || line == "/exit":
				fmt.Fprintf(out, "Credits: %d  Confessions: %d  Cases solved: %d\n",
					stats.Credits, stats.Confessions, stats.CasesSolved)
				return nil
			case line == "/top":
				if err := printLeaderboard(ctx, out, store); err != nil {
					logger.Warn("failed to load leaderboard", "error", err)
				}
			default:
				if err := client.Send([]protocol.Part{protocol.TextPart(line)}, true); err != nil {
					logger.Warn("failed to send text", "error", err)
				}
			}
		}
	}
}

func main() {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "dodo-live: %v\n", err)
		os.Exit(1)
	}

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dodo-live: %v\n", err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, os.Stdout, logger); err != nil {
		fmt.Fprintf(os.Stderr, "dodo-live: %v\n", err)
		os.Exit(1)
	}
}

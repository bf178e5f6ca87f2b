// Package scenario generates interrogation cases: a text briefing for the
// suspect persona and an optional suspect portrait.
package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	defaultTextModel  = "gemini-2.0-flash"
	defaultImageModel = "imagen-3.0-generate-002"

	// Portrait generation has a fixed abort window: if the image is not
	// ready in time the case proceeds without one.
	portraitDeadline = 15 * time.Second
)

// Scenario is one generated case.
type Scenario struct {
	Title       string
	SuspectName string
	Briefing    string
	Portrait    []byte // JPEG bytes; nil when portrait generation was skipped
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithTextModel overrides the briefing model.
func WithTextModel(model string) GeneratorOption {
	return func(g *Generator) {
		g.textModel = model
	}
}

// WithImageModel overrides the portrait model.
func WithImageModel(model string) GeneratorOption {
	return func(g *Generator) {
		g.imageModel = model
	}
}

// WithLogger sets the generator's logger.
func WithLogger(l *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		g.logger = l
	}
}

// Generator produces scenarios via the Gemini API. The briefing is required;
// the portrait degrades to skip on any failure so a slow or unavailable image
// model never blocks a case from starting.
type Generator struct {
	client     *genai.Client
	logger     *slog.Logger
	textModel  string
	imageModel string
}

// NewGenerator builds a generator with its own genai client.
func NewGenerator(ctx context.Context, apiKey string, opts ...GeneratorOption) (*Generator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("scenario: create client: %w", err)
	}
	g := &Generator{
		client:     client,
		logger:     slog.Default(),
		textModel:  defaultTextModel,
		imageModel: defaultImageModel,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate produces one scenario for the given theme.
func (g *Generator) Generate(ctx context.Context, theme string) (*Scenario, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.textModel,
		genai.Text(briefingPrompt(theme)), nil)
	if err != nil {
		return nil, fmt.Errorf("scenario: generate briefing: %w", err)
	}
	sc, err := parseBriefing(resp.Text())
	if err != nil {
		return nil, err
	}

	sc.Portrait = g.generatePortrait(ctx, sc.SuspectName, theme)
	return sc, nil
}

// generatePortrait tries to render the suspect within the fixed deadline.
// Any failure is logged and swallowed; the scenario ships without a portrait.
func (g *Generator) generatePortrait(ctx context.Context, suspectName, theme string) []byte {
	ctx, cancel := context.WithTimeout(ctx, portraitDeadline)
	defer cancel()

	resp, err := g.client.Models.GenerateImages(ctx, g.imageModel,
		portraitPrompt(suspectName, theme),
		&genai.GenerateImagesConfig{NumberOfImages: 1})
	if err != nil {
		g.logger.Warn("scenario: portrait generation skipped", "error", err)
		return nil
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		g.logger.Warn("scenario: portrait generation returned no image")
		return nil
	}
	return resp.GeneratedImages[0].Image.ImageBytes
}

func briefingPrompt(theme string) string {
	return fmt.Sprintf(`Create an interrogation case with the theme %q.
Respond in exactly this format:

TITLE: <case title>
SUSPECT: <suspect full name>
BRIEFING: <two to four sentences of case background for the interrogator>`, theme)
}

func portraitPrompt(suspectName, theme string) string {
	return fmt.Sprintf(
		"Portrait photograph of %s, suspect in a %s case, neutral interrogation-room lighting",
		suspectName, theme)
}

// parseBriefing extracts the labeled fields from model output, tolerating
// surrounding chatter and blank lines.
func parseBriefing(text string) (*Scenario, error) {
	sc := &Scenario{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "TITLE:"):
			sc.Title = strings.TrimSpace(strings.TrimPrefix(line, "TITLE:"))
		case strings.HasPrefix(line, "SUSPECT:"):
			sc.SuspectName = strings.TrimSpace(strings.TrimPrefix(line, "SUSPECT:"))
		case strings.HasPrefix(line, "BRIEFING:"):
			sc.Briefing = strings.TrimSpace(strings.TrimPrefix(line, "BRIEFING:"))
		case sc.Briefing != "" && line != "":
			// continuation of a multi-line briefing
			sc.Briefing += " " + line
		}
	}
	if sc.Title == "" || sc.SuspectName == "" || sc.Briefing == "" {
		return nil, fmt.Errorf("scenario: briefing output missing required fields")
	}
	return sc, nil
}

package gen

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"

	"github.com/rs/zerolog"

	"comicforge/internal/config"
	"comicforge/internal/game"
	"comicforge/internal/prompts"
)

// ImagePromptRequest carries the inputs for one storyboard derivation.
type ImagePromptRequest struct {
	Segment   string
	Time      string
	Location  string
	IsDeath   bool
	IsVictory bool
}

// ImagePromptGenerator turns prose into 1..N formatted panel prompts for the
// rendering backend.
type ImagePromptGenerator struct {
	backend Backend
	tmpl    *prompts.Engine
	cfg     config.GameConfig
	log     zerolog.Logger

	// panelCount picks the target panel count for a non-ending turn.
	// Injectable for tests; the default is a weighted roll biased toward
	// 2-3 panels, a deliberate pacing device.
	panelCount func() int
}

func NewImagePromptGenerator(backend Backend, tmpl *prompts.Engine, cfg config.GameConfig, log zerolog.Logger) *ImagePromptGenerator {
	g := &ImagePromptGenerator{backend: backend, tmpl: tmpl, cfg: cfg, log: log}
	g.panelCount = func() int { return weightedPanelCount(cfg, rand.Intn) }
	return g
}

// SetPanelCountFunc overrides the non-ending panel-count roll.
func (g *ImagePromptGenerator) SetPanelCountFunc(f func() int) { g.panelCount = f }

// weightedPanelCount rolls a panel count in [MinPanels, MaxPanels] with
// weights biased toward the middle of the range.
func weightedPanelCount(cfg config.GameConfig, intn func(int) int) int {
	weights := map[int]int{1: 1, 2: 3, 3: 3, 4: 1}
	total := 0
	for n := cfg.MinPanels; n <= cfg.MaxPanels; n++ {
		w := weights[n]
		if w == 0 {
			w = 1
		}
		total += w
	}
	roll := intn(total)
	for n := cfg.MinPanels; n <= cfg.MaxPanels; n++ {
		w := weights[n]
		if w == 0 {
			w = 1
		}
		roll -= w
		if roll < 0 {
			return n
		}
	}
	return cfg.MaxPanels
}

// Generate produces the turn's formatted panel prompts. An ending turn gets
// exactly one panel; otherwise the count follows the weighted roll.
func (g *ImagePromptGenerator) Generate(ctx context.Context, u *game.UniverseParameters, req ImagePromptRequest) ([]string, error) {
	isEnding := req.IsDeath || req.IsVictory

	var instruction string
	wanted := 1
	switch {
	case req.IsDeath:
		instruction = fmt.Sprintf("This is the death of %s. Exactly one panel, mandatory.", u.Hero.Name)
	case req.IsVictory:
		instruction = "This is the victory scene. Exactly one panel, mandatory."
	default:
		wanted = g.panelCount()
		instruction = fmt.Sprintf("Produce exactly %d distinct panels that read like successive storyboard frames.", wanted)
	}

	system, err := g.tmpl.Render(prompts.ImagePromptSys, map[string]string{
		"hero_name":        u.Hero.Name,
		"hero_description": u.Hero.Description,
	})
	if err != nil {
		return nil, err
	}
	user, err := g.tmpl.Render(prompts.ImagePromptUser, map[string]string{
		"segment":           req.Segment,
		"panel_instruction": instruction,
	})
	if err != nil {
		return nil, err
	}

	s := &Structured[[]string]{
		Name:    "image_prompts",
		Backend: g.backend,
		Parse:   parseImagePrompts,
		Validate: func(prompts []string) Verdict {
			return g.validate(prompts, isEnding)
		},
		MaxAttempts: g.cfg.MaxAttempts,
		Backoff:     g.cfg.RetryBackoff,
		Log:         g.log,
	}

	panels, err := s.Generate(ctx, []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user},
	})
	if err != nil {
		return nil, err
	}

	if isEnding && len(panels) > 1 {
		panels = panels[:1]
	}

	formatted := make([]string, len(panels))
	for i, p := range panels {
		formatted[i] = g.format(u, p, req.Time, req.Location)
	}
	return formatted, nil
}

// parseImagePrompts reads {"image_prompts": [...]}, falling back to naive
// quoted-line extraction as a last resort. It never silently yields zero
// panels: an empty result is a parse error.
func parseImagePrompts(raw string) ([]string, error) {
	cleaned := Salvage(raw)

	var wrapped struct {
		ImagePrompts []string `json:"image_prompts"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wrapped); err == nil && len(wrapped.ImagePrompts) > 0 {
		return wrapped.ImagePrompts, nil
	}

	if items := QuotedItems(raw); len(items) > 0 {
		return items, nil
	}
	return nil, fmt.Errorf("no panel descriptions found; expected {\"image_prompts\": [\"...\"]}")
}

func (g *ImagePromptGenerator) validate(panels []string, isEnding bool) Verdict {
	if len(panels) < 1 {
		return Invalid("no panels; at least one panel description is required")
	}
	// An ending over-delivery is trimmed rather than retried; only the
	// upper bound of a normal turn goes back to the model.
	if !isEnding && len(panels) > g.cfg.MaxPanels {
		return Invalid(fmt.Sprintf("got %d panels; at most %d are allowed", len(panels), g.cfg.MaxPanels))
	}
	for _, p := range panels {
		if strings.TrimSpace(p) == "" {
			return Invalid("a panel description is empty")
		}
	}
	return Valid()
}

// format decorates a raw panel description with the hero's visual
// description when the hero is mentioned, the universe's artist style
// prefix, and the time/location tag the rendering backend expects.
func (g *ImagePromptGenerator) format(u *game.UniverseParameters, prompt, timeStr, location string) string {
	if strings.Contains(strings.ToLower(prompt), strings.ToLower(u.Hero.Name)) &&
		!strings.Contains(prompt, u.Hero.Description) {
		prompt = fmt.Sprintf("%s %s", prompt, u.Hero.Description)
	}
	return fmt.Sprintf("%s comic book style -- [%s - %s] %s", u.Style.ArtistStyle(), timeStr, location, prompt)
}

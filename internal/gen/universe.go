package gen

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"comicforge/internal/config"
	"comicforge/internal/game"
	"comicforge/internal/prompts"
	"comicforge/internal/universe"
)

// UniverseGenerator rolls universe parameters from the catalog and has the
// model write the base premise that seeds the whole story.
type UniverseGenerator struct {
	backend Backend
	tmpl    *prompts.Engine
	catalog *universe.Catalog
	cfg     config.GameConfig
	log     zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewUniverseGenerator(backend Backend, tmpl *prompts.Engine, catalog *universe.Catalog, cfg config.GameConfig, log zerolog.Logger) *UniverseGenerator {
	return &UniverseGenerator{
		backend: backend,
		tmpl:    tmpl,
		catalog: catalog,
		cfg:     cfg,
		log:     log,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Catalog exposes the underlying pool, for the styles listing endpoint.
func (g *UniverseGenerator) Catalog() *universe.Catalog { return g.catalog }

// Generate rolls a fresh selection and produces its opening premise.
func (g *UniverseGenerator) Generate(ctx context.Context) (*game.UniverseParameters, error) {
	g.mu.Lock()
	sel := g.catalog.Pick(g.rng)
	g.mu.Unlock()

	premise, err := g.premise(ctx, sel)
	if err != nil {
		return nil, err
	}
	return &game.UniverseParameters{
		Style:     sel.Style,
		Genre:     sel.Genre,
		Epoch:     sel.Epoch,
		Macguffin: sel.Macguffin,
		Hero:      sel.Hero,
		BaseStory: premise,
	}, nil
}

func (g *UniverseGenerator) premise(ctx context.Context, sel universe.Selection) (string, error) {
	system, err := g.tmpl.Render(prompts.UniverseSystem, nil)
	if err != nil {
		return "", err
	}

	var artists, works []string
	for _, ref := range sel.Style.References {
		artists = append(artists, ref.Artist)
		works = append(works, ref.Works...)
	}
	user, err := g.tmpl.Render(prompts.UniverseUser, map[string]string{
		"style_name":        sel.Style.Name,
		"style_description": sel.Style.Description,
		"artists":           strings.Join(artists, ", "),
		"works":             strings.Join(works, ", "),
		"genre":             sel.Genre,
		"epoch":             sel.Epoch,
		"macguffin":         sel.Macguffin,
		"hero_name":         sel.Hero.Name,
		"hero_description":  sel.Hero.Description,
		"max_words":         fmt.Sprintf("%d", g.cfg.PremiseMaxWords),
	})
	if err != nil {
		return "", err
	}

	s := &Structured[string]{
		Name:    "universe_premise",
		Backend: g.backend,
		Parse: func(raw string) (string, error) {
			text := strings.TrimSpace(raw)
			if text == "" {
				return "", fmt.Errorf("empty premise")
			}
			return text, nil
		},
		Validate: func(text string) Verdict {
			if !strings.Contains(text, sel.Hero.Name) {
				return Invalid(fmt.Sprintf("the premise never mentions the hero %s by name", sel.Hero.Name))
			}
			if n := WordCount(text); n > g.cfg.PremiseMaxWords {
				return Invalid(fmt.Sprintf("the premise is %d words; at most %d are allowed", n, g.cfg.PremiseMaxWords))
			}
			return Valid()
		},
		MaxAttempts: g.cfg.MaxAttempts,
		Backoff:     g.cfg.RetryBackoff,
		Log:         g.log,
	}

	return s.Generate(ctx, []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user},
	})
}

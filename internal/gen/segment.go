package gen

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"comicforge/internal/config"
	"comicforge/internal/game"
	"comicforge/internal/prompts"
)

// stateTagRe matches "[18:00 - somewhere]"-style state tags that must never
// leak into narrative prose.
var stateTagRe = regexp.MustCompile(`\[[^\]]*\d{1,2}:\d{2}[^\]]*\]`)

// EndingType labels the two ways a story can close.
type EndingType string

const (
	EndingVictory EndingType = "victory"
	EndingDeath   EndingType = "death"
)

// SegmentRequest carries everything the segment generator needs for one beat.
type SegmentRequest struct {
	StoryBeat       int
	CurrentTime     string
	CurrentLocation string
	// PreviousChoice is the text of the player's last action: an offered
	// choice, free-form custom text, or empty on the first beat.
	PreviousChoice string
	CustomAction   bool
	History        string
	TurnsBeforeEnd int
}

// SegmentGenerator produces the next prose beat within a tight word budget.
type SegmentGenerator struct {
	backend Backend
	tmpl    *prompts.Engine
	cfg     config.GameConfig
	log     zerolog.Logger
}

func NewSegmentGenerator(backend Backend, tmpl *prompts.Engine, cfg config.GameConfig, log zerolog.Logger) *SegmentGenerator {
	return &SegmentGenerator{backend: backend, tmpl: tmpl, cfg: cfg, log: log}
}

// Generate writes the next story segment as a direct continuation of the
// history and the player's last action.
func (g *SegmentGenerator) Generate(ctx context.Context, u *game.UniverseParameters, req SegmentRequest) (string, error) {
	objective, err := g.objective(u, req)
	if err != nil {
		return "", err
	}
	return g.run(ctx, u, prompts.SegmentUser, map[string]string{
		"history":   historyOrNone(req.History),
		"objective": objective,
		"min_words": strconv.Itoa(g.cfg.SegmentMinWords),
		"max_words": strconv.Itoa(g.cfg.SegmentMaxWords),
	})
}

// GenerateEnding replaces the current scene's prose with a proper conclusion
// of the given type, continuing directly from the scene it closes.
func (g *SegmentGenerator) GenerateEnding(ctx context.Context, u *game.UniverseParameters, ending EndingType, currentScene, history string) (string, error) {
	return g.run(ctx, u, prompts.SegmentEnding, map[string]string{
		"ending_type":   string(ending),
		"current_scene": currentScene,
		"history":       historyOrNone(history),
		"hero_name":     u.Hero.Name,
		"min_words":     strconv.Itoa(g.cfg.SegmentMinWords),
		"max_words":     strconv.Itoa(g.cfg.SegmentMaxWords),
	})
}

func (g *SegmentGenerator) run(ctx context.Context, u *game.UniverseParameters, userTemplate string, vars map[string]string) (string, error) {
	system, err := g.tmpl.Render(prompts.SegmentSystem, map[string]string{
		"style":            u.Style.Name,
		"genre":            u.Genre,
		"epoch":            u.Epoch,
		"macguffin":        u.Macguffin,
		"hero_name":        u.Hero.Name,
		"hero_description": u.Hero.Description,
	})
	if err != nil {
		return "", err
	}
	user, err := g.tmpl.Render(userTemplate, vars)
	if err != nil {
		return "", err
	}

	s := &Structured[string]{
		Name:        "segment",
		Backend:     g.backend,
		Parse:       parseSegment,
		Validate:    g.validateSegment,
		MaxAttempts: g.cfg.MaxAttempts,
		Backoff:     g.cfg.RetryBackoff,
		Log:         g.log,
	}
	return s.Generate(ctx, []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user},
	})
}

// objective states where the plot should be, keyed by story beat and by how
// close the pre-rolled ending is, plus the player's last action.
func (g *SegmentGenerator) objective(u *game.UniverseParameters, req SegmentRequest) (string, error) {
	if req.CustomAction && req.PreviousChoice != "" {
		return g.tmpl.Render(prompts.CustomActionNote, map[string]string{"action": req.PreviousChoice})
	}

	hero := u.Hero.Name
	var phase string
	remaining := req.TurnsBeforeEnd - req.StoryBeat
	switch {
	case req.StoryBeat == 0:
		phase = fmt.Sprintf("%s arrives in this world and takes their first steps toward the quest.", hero)
	case remaining <= 1:
		phase = fmt.Sprintf("Endgame: the culmination of %s's journey, the consequences closing in.", hero)
	case remaining <= 3:
		phase = fmt.Sprintf("Approaching the climax: escalating stakes as %s nears the goal.", hero)
	case req.StoryBeat <= 2:
		phase = fmt.Sprintf("Early exploration: %s uncovers the first mysteries of this world.", hero)
	default:
		phase = fmt.Sprintf("Rising complications: %s faces increasingly difficult obstacles and deeper mysteries.", hero)
	}

	if req.PreviousChoice != "" {
		phase += fmt.Sprintf("\nThe player just chose: %q. The segment continues from that action.", req.PreviousChoice)
	}
	return phase, nil
}

// parseSegment accepts either plain prose or a {"story_text": ...} wrapper
// the model sometimes insists on.
func parseSegment(raw string) (string, error) {
	cleaned := Salvage(raw)

	var wrapped struct {
		StoryText string `json:"story_text"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wrapped); err == nil && wrapped.StoryText != "" {
		return strings.TrimSpace(wrapped.StoryText), nil
	}

	text := strings.TrimSpace(strings.Trim(cleaned, "\"'"))
	if text == "" {
		return "", fmt.Errorf("empty segment")
	}
	return text, nil
}

func (g *SegmentGenerator) validateSegment(text string) Verdict {
	words := WordCount(text)
	if words < g.cfg.SegmentMinWords {
		return Invalid(fmt.Sprintf("segment too short: %d words, %d under the %d-word minimum",
			words, g.cfg.SegmentMinWords-words, g.cfg.SegmentMinWords))
	}
	if words > g.cfg.SegmentMaxWords {
		return Invalid(fmt.Sprintf("segment too long: %d words, %d over the %d-word limit",
			words, words-g.cfg.SegmentMaxWords, g.cfg.SegmentMaxWords))
	}
	if strings.Contains(text, "**") {
		return Invalid("segment contains markdown bold markup, which is forbidden")
	}
	if stateTagRe.MatchString(text) {
		return Invalid("segment leaks a bracketed time/location state tag, which is forbidden")
	}
	return Valid()
}

func historyOrNone(history string) string {
	if strings.TrimSpace(history) == "" {
		return "(the story is just beginning)"
	}
	return history
}

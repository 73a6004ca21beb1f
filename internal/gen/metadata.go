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

var timeRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Metadata is the structured bookkeeping derived from one prose segment.
type Metadata struct {
	IsDeath   bool     `json:"is_death"`
	IsVictory bool     `json:"is_victory"`
	Choices   []string `json:"choices"`
	Time      string   `json:"time"`
	Location  string   `json:"location"`
}

func (m *Metadata) IsEnding() bool { return m.IsDeath || m.IsVictory }

// EndingPolicy decides how a turn's ending flags are settled after the model
// has spoken. The default forces the pre-rolled outcome once the beat counter
// reaches the session's turns-before-end threshold; alternative policies can
// be swapped in without touching the generator.
type EndingPolicy func(storyBeat, turnsBeforeEnd int, winning bool, m *Metadata)

// ForcedTurnEndingPolicy overrides the model once the pre-rolled final turn
// is reached: the predetermined outcome wins and choices are cleared. An
// ending the model declares earlier on its own is kept as declared.
func ForcedTurnEndingPolicy(storyBeat, turnsBeforeEnd int, winning bool, m *Metadata) {
	if storyBeat >= turnsBeforeEnd {
		m.IsVictory = winning
		m.IsDeath = !winning
	}
	if m.IsEnding() {
		m.Choices = nil
	}
}

// MetadataRequest carries the inputs for one metadata derivation.
type MetadataRequest struct {
	Segment         string
	CurrentTime     string
	CurrentLocation string
	StoryBeat       int
	TurnsBeforeEnd  int
	WinningStory    bool
	History         string
}

// MetadataGenerator derives time, location, ending flags, and player choices
// from the segment just written.
type MetadataGenerator struct {
	backend Backend
	tmpl    *prompts.Engine
	cfg     config.GameConfig
	policy  EndingPolicy
	log     zerolog.Logger
}

func NewMetadataGenerator(backend Backend, tmpl *prompts.Engine, cfg config.GameConfig, log zerolog.Logger) *MetadataGenerator {
	return &MetadataGenerator{
		backend: backend,
		tmpl:    tmpl,
		cfg:     cfg,
		policy:  ForcedTurnEndingPolicy,
		log:     log,
	}
}

// SetEndingPolicy swaps the end-triggering rule.
func (g *MetadataGenerator) SetEndingPolicy(p EndingPolicy) { g.policy = p }

func (g *MetadataGenerator) Generate(ctx context.Context, u *game.UniverseParameters, req MetadataRequest) (*Metadata, error) {
	forcedEnd := req.StoryBeat >= req.TurnsBeforeEnd

	system, err := g.tmpl.Render(prompts.MetadataSystem, map[string]string{
		"hero_name":        u.Hero.Name,
		"hero_description": u.Hero.Description,
		"max_choice_words": strconv.Itoa(g.cfg.MaxChoiceWords),
	})
	if err != nil {
		return nil, err
	}

	endingNote := ""
	if forcedEnd {
		endingNote = "This IS the final segment of the story: it ends here."
	}
	user, err := g.tmpl.Render(prompts.MetadataUser, map[string]string{
		"history":          historyOrNone(req.History),
		"segment":          req.Segment,
		"current_time":     req.CurrentTime,
		"current_location": req.CurrentLocation,
		"ending_note":      endingNote,
	})
	if err != nil {
		return nil, err
	}

	s := &Structured[*Metadata]{
		Name:    "metadata",
		Backend: g.backend,
		Parse:   parseMetadata,
		Validate: func(m *Metadata) Verdict {
			return g.validate(m, forcedEnd, req.StoryBeat == 0)
		},
		MaxAttempts: g.cfg.MaxAttempts,
		Backoff:     g.cfg.RetryBackoff,
		Log:         g.log,
	}

	m, err := s.Generate(ctx, []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user},
	})
	if err != nil {
		return nil, err
	}

	policy := g.policy
	if policy == nil {
		policy = ForcedTurnEndingPolicy
	}
	policy(req.StoryBeat, req.TurnsBeforeEnd, req.WinningStory, m)
	return m, nil
}

func parseMetadata(raw string) (*Metadata, error) {
	cleaned := Salvage(raw)

	var m Metadata
	if err := json.Unmarshal([]byte(cleaned), &m); err != nil {
		return nil, fmt.Errorf("not a JSON object with is_death, is_victory, choices, time, location: %v", err)
	}
	if m.Time == "" || m.Location == "" {
		return nil, fmt.Errorf("missing required fields: time and location must both be present")
	}
	return &m, nil
}

// validate checks each contract rule independently so the retry feedback can
// name the exact violation.
func (g *MetadataGenerator) validate(m *Metadata, forcedEnd, firstStep bool) Verdict {
	if m.IsDeath && m.IsVictory {
		return Invalid("is_death and is_victory are both true; they are mutually exclusive")
	}
	if firstStep && m.IsEnding() {
		return Invalid("the story cannot end on its very first segment; set both flags to false and offer choices")
	}
	if !timeRe.MatchString(m.Time) {
		return Invalid(fmt.Sprintf("time %q is not a well-formed 24h HH:MM value", m.Time))
	}
	if strings.TrimSpace(m.Location) == "" {
		return Invalid("location is empty")
	}

	// An ending turn, declared or forced, carries no choices; the policy
	// clears them, so choice rules only apply to a genuine continuation.
	if m.IsEnding() || forcedEnd {
		return Valid()
	}

	if len(m.Choices) != 2 {
		return Invalid(fmt.Sprintf("got %d choices; a non-ending turn needs exactly 2", len(m.Choices)))
	}
	for _, c := range m.Choices {
		if strings.TrimSpace(c) == "" {
			return Invalid("a choice is empty")
		}
		if words := WordCount(c); words > g.cfg.MaxChoiceWords {
			return Invalid(fmt.Sprintf("choice %q is %d words; the hard limit is %d", c, words, g.cfg.MaxChoiceWords))
		}
		lower := strings.ToLower(c)
		for _, term := range g.cfg.ForbiddenChoiceTerms {
			if strings.Contains(lower, term) {
				return Invalid(fmt.Sprintf("choice %q contains the forbidden term %q: never propose going back or using a portal", c, term))
			}
		}
	}
	if strings.EqualFold(m.Choices[0], m.Choices[1]) {
		return Invalid(fmt.Sprintf("duplicate choices: %q and %q must be clearly different", m.Choices[0], m.Choices[1]))
	}
	return Valid()
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"comicforge/internal/config"
	"comicforge/internal/game"
	"comicforge/internal/gen"
)

var (
	ErrNoUniverse    = errors.New("session has no universe yet")
	ErrStoryEnded    = errors.New("story has ended; restart to play again")
	ErrUnknownChoice = errors.New("choice id does not match an offered choice")
)

// Turn generation stages, published to subscribers as the pipeline advances.
const (
	StageSegment  = "segment"
	StageMetadata = "metadata"
	StageEnding   = "ending"
	StagePanels   = "panels"
	StageDone     = "done"
)

// TurnEvents receives pipeline progress. Implementations must not block.
type TurnEvents interface {
	Publish(sessionID, stage string)
}

// Recall is long-term narrative memory: segments that scrolled out of the
// prompt window can still be surfaced when they become relevant again.
type Recall interface {
	Remember(ctx context.Context, sessionID string, beat int, text string) error
	Recall(ctx context.Context, sessionID, query string, limit int) ([]string, error)
}

// Archiver persists a finished story for later analysis.
type Archiver interface {
	ArchiveStory(ctx context.Context, sessionID string, u *game.UniverseParameters, history []game.HistoryEntry, victory bool) error
}

// TurnInput is the player's action for one turn. The zero value advances
// the story with no prior action; that is the normal opening-beat input,
// and on later beats the turn is generated without a player action.
type TurnInput struct {
	ChoiceID   int
	CustomText string
}

// Orchestrator drives the whole turn pipeline: segment, metadata, the
// ending rewrite when the story closes, and panel prompts, then commits the
// resolved turn to the session. Generator failures abort the turn with the
// session state untouched.
type Orchestrator struct {
	Sessions *game.SessionManager

	universes *gen.UniverseGenerator
	segments  *gen.SegmentGenerator
	metadata  *gen.MetadataGenerator
	panels    *gen.ImagePromptGenerator

	cfg config.GameConfig
	log zerolog.Logger

	// Optional collaborators; nil disables the concern.
	Events   TurnEvents
	Memory   Recall
	Archiver Archiver

	mu  sync.Mutex
	rng *rand.Rand
}

func NewOrchestrator(
	sessions *game.SessionManager,
	universes *gen.UniverseGenerator,
	segments *gen.SegmentGenerator,
	metadata *gen.MetadataGenerator,
	panels *gen.ImagePromptGenerator,
	cfg config.GameConfig,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		Sessions:  sessions,
		universes: universes,
		segments:  segments,
		metadata:  metadata,
		panels:    panels,
		cfg:       cfg,
		log:       log,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewSession creates a session with a fresh state and a pre-rolled ending.
func (o *Orchestrator) NewSession() *game.Session {
	state := game.NewGameState(o.cfg.StartingTime, o.cfg.StartingLocation)
	o.rollEnding(state)
	return o.Sessions.Create(state)
}

// GenerateUniverse rolls and attaches a new universe to the session,
// resetting any narrative run in progress.
func (o *Orchestrator) GenerateUniverse(ctx context.Context, sessionID string) (*game.UniverseParameters, error) {
	session, err := o.Sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	session.Lock()
	defer session.Unlock()

	u, err := o.universes.Generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("universe generation failed: %w", err)
	}
	session.State.Universe = u
	session.State.Reset()
	o.rollEnding(session.State)
	o.log.Info().
		Str("session", sessionID).
		Str("style", u.Style.Name).
		Str("hero", u.Hero.Name).
		Msg("universe attached")
	return u, nil
}

// Restart clears the narrative run while keeping the universe, and re-rolls
// the ending so the replay does not share the previous run's fate.
func (o *Orchestrator) Restart(sessionID string) error {
	session, err := o.Sessions.Get(sessionID)
	if err != nil {
		return err
	}
	session.Lock()
	defer session.Unlock()

	session.State.Reset()
	o.rollEnding(session.State)
	return nil
}

// Styles exposes the universe catalog for listing endpoints.
func (o *Orchestrator) Styles() *gen.UniverseGenerator { return o.universes }

// PlayTurn resolves one turn end to end. The session's turn lock serializes
// concurrent requests for the same session; distinct sessions proceed in
// parallel.
func (o *Orchestrator) PlayTurn(ctx context.Context, sessionID string, input TurnInput) (*game.TurnOutcome, error) {
	session, err := o.Sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	session.Lock()
	defer session.Unlock()

	state := session.State
	if !state.HasUniverse() {
		return nil, ErrNoUniverse
	}
	if state.Ended {
		return nil, ErrStoryEnded
	}

	previousChoice, customAction, err := resolveInput(state, input)
	if err != nil {
		return nil, err
	}

	firstStep := state.StoryBeat == 0
	history := state.FormatHistory(o.cfg.HistoryWindow)
	history = o.withRecall(ctx, sessionID, state, previousChoice, history)
	if customAction {
		// The free-text action reads as its own narrated line. It is only
		// committed to history once the turn succeeds.
		echo := "You decide to: " + previousChoice
		if history == "" {
			history = echo
		} else {
			history += "\n\n---\n\n" + echo
		}
	}
	u := state.Universe

	o.publish(sessionID, StageSegment)
	segment, err := o.segments.Generate(ctx, u, gen.SegmentRequest{
		StoryBeat:       state.StoryBeat,
		CurrentTime:     state.CurrentTime,
		CurrentLocation: state.CurrentLocation,
		PreviousChoice:  previousChoice,
		CustomAction:    customAction,
		History:         history,
		TurnsBeforeEnd:  state.TurnsBeforeEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("segment generation failed: %w", err)
	}

	o.publish(sessionID, StageMetadata)
	meta, err := o.metadata.Generate(ctx, u, gen.MetadataRequest{
		Segment:         segment,
		CurrentTime:     state.CurrentTime,
		CurrentLocation: state.CurrentLocation,
		StoryBeat:       state.StoryBeat,
		TurnsBeforeEnd:  state.TurnsBeforeEnd,
		WinningStory:    state.WinningStory,
		History:         history,
	})
	if err != nil {
		return nil, fmt.Errorf("metadata generation failed: %w", err)
	}

	// The opening beat never ends the story, whatever the model says.
	if firstStep {
		meta.IsDeath = false
		meta.IsVictory = false
	}

	if meta.IsEnding() {
		ending := gen.EndingVictory
		if meta.IsDeath {
			ending = gen.EndingDeath
		}
		o.publish(sessionID, StageEnding)
		segment, err = o.segments.GenerateEnding(ctx, u, ending, segment, history)
		if err != nil {
			return nil, fmt.Errorf("ending generation failed: %w", err)
		}
	}

	o.publish(sessionID, StagePanels)
	panels, err := o.panels.Generate(ctx, u, gen.ImagePromptRequest{
		Segment:   segment,
		Time:      meta.Time,
		Location:  meta.Location,
		IsDeath:   meta.IsDeath,
		IsVictory: meta.IsVictory,
	})
	if err != nil {
		return nil, fmt.Errorf("panel generation failed: %w", err)
	}
	// The opening beat is a single establishing panel.
	if firstStep && len(panels) > 1 {
		panels = panels[:1]
	}

	outcome := &game.TurnOutcome{
		StoryText:    segment,
		RawChoices:   meta.Choices,
		Time:         meta.Time,
		Location:     meta.Location,
		ImagePrompts: panels,
		IsFirstStep:  firstStep,
		IsDeath:      meta.IsDeath,
		IsVictory:    meta.IsVictory,
	}
	for i, c := range meta.Choices {
		outcome.Choices = append(outcome.Choices, game.Choice{ID: i + 1, Text: c})
	}

	// Everything succeeded; commit.
	if customAction {
		state.AddCustomAction(previousChoice)
	}
	state.AddTurn(outcome, previousChoice)
	o.remember(ctx, sessionID, state.StoryBeat, segment)
	if outcome.IsEnding() {
		state.Ended = true
		o.archive(ctx, sessionID, state, outcome.IsVictory)
	} else {
		state.StoryBeat++
	}
	o.publish(sessionID, StageDone)

	o.log.Info().
		Str("session", sessionID).
		Int("beat", state.StoryBeat).
		Int("panels", len(panels)).
		Bool("ending", outcome.IsEnding()).
		Msg("turn resolved")
	return outcome, nil
}

// resolveInput maps the player's input to the text of their action. A choice
// id must match one of the previous turn's offered choices.
func resolveInput(state *game.GameState, input TurnInput) (text string, custom bool, err error) {
	if strings.TrimSpace(input.CustomText) != "" {
		return strings.TrimSpace(input.CustomText), true, nil
	}
	if input.ChoiceID > 0 {
		choice, ok := state.LastChoiceText(input.ChoiceID)
		if !ok {
			return "", false, ErrUnknownChoice
		}
		return choice, false, nil
	}
	return "", false, nil
}

// withRecall augments truncated prompt history with relevant older segments
// from long-term memory. Best effort; recall failures never block a turn.
func (o *Orchestrator) withRecall(ctx context.Context, sessionID string, state *game.GameState, query, history string) string {
	if o.Memory == nil || query == "" || len(state.History) <= o.cfg.HistoryWindow {
		return history
	}
	recalled, err := o.Memory.Recall(ctx, sessionID, query, 3)
	if err != nil {
		o.log.Warn().Err(err).Str("session", sessionID).Msg("memory recall failed")
		return history
	}
	if len(recalled) == 0 {
		return history
	}
	return "Earlier relevant moments:\n" + strings.Join(recalled, "\n") + "\n\n" + history
}

func (o *Orchestrator) remember(ctx context.Context, sessionID string, beat int, segment string) {
	if o.Memory == nil {
		return
	}
	if err := o.Memory.Remember(ctx, sessionID, beat, segment); err != nil {
		o.log.Warn().Err(err).Str("session", sessionID).Msg("memory write failed")
	}
}

func (o *Orchestrator) archive(ctx context.Context, sessionID string, state *game.GameState, victory bool) {
	if o.Archiver == nil {
		return
	}
	if err := o.Archiver.ArchiveStory(ctx, sessionID, state.Universe, state.History, victory); err != nil {
		o.log.Warn().Err(err).Str("session", sessionID).Msg("story archive failed")
	}
}

func (o *Orchestrator) publish(sessionID, stage string) {
	if o.Events != nil {
		o.Events.Publish(sessionID, stage)
	}
}

// rollEnding pre-rolls when and how this narrative run ends.
func (o *Orchestrator) rollEnding(state *game.GameState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	span := o.cfg.MaxTurnsBeforeEnd - o.cfg.MinTurnsBeforeEnd + 1
	state.TurnsBeforeEnd = o.cfg.MinTurnsBeforeEnd + o.rng.Intn(span)
	state.WinningStory = o.rng.Float64() < o.cfg.WinningChance
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"comicforge/internal/config"
	"comicforge/internal/game"
	"comicforge/internal/gen"
	"comicforge/internal/prompts"
	"comicforge/internal/universe"
)

// scriptedBackend replays canned responses in call order across the whole
// turn pipeline.
type scriptedBackend struct {
	responses []string
	errs      []error
	calls     int
}

func (b *scriptedBackend) Chat(ctx context.Context, messages []gen.Message) (string, error) {
	i := b.calls
	b.calls++
	if i >= len(b.responses) {
		return "", fmt.Errorf("unexpected call %d", i)
	}
	if b.errs != nil && b.errs[i] != nil {
		return "", b.errs[i]
	}
	return b.responses[i], nil
}

// 20 words, inside the default 15-30 band.
const testSegment = "Sarah follows the flickering gaslight down the alley, boots splashing through oily puddles, until a door creaks open ahead of her."

const (
	continueMetadata = `{"is_death": false, "is_victory": false, "choices": ["Open the door", "Walk away quietly"], "time": "18:45", "location": "Alley"}`
	neutralMetadata  = `{"is_death": false, "is_victory": false, "choices": [], "time": "23:10", "location": "Rooftop"}`
	twoPanels        = `{"image_prompts": ["low angle shot of the gate", "close-up on her hands"]}`
	onePanel         = `{"image_prompts": ["final wide shot of the rooftop"]}`
)

func testCatalog() *universe.Catalog {
	return &universe.Catalog{
		Styles: []universe.Style{{
			Name:       "American noir",
			References: []universe.StyleReference{{Artist: "Frank Miller", Works: []string{"Sin City"}}},
		}},
		Genres:     []string{"occult detective"},
		Epochs:     []string{"an alternate 1920s"},
		Macguffins: []string{"the name of the thing beneath the city"},
		Heroes:     []universe.Hero{{Name: "Sarah", Description: "a wiry woman in a patched flight jacket"}},
	}
}

func newTestOrchestrator(backend gen.Backend) *Orchestrator {
	cfg := config.Default().Game
	cfg.RetryBackoff = 0

	log := zerolog.Nop()
	tmpl := prompts.NewEngine()
	panels := gen.NewImagePromptGenerator(backend, tmpl, cfg, log)
	panels.SetPanelCountFunc(func() int { return 2 })

	return NewOrchestrator(
		game.NewSessionManager(time.Hour),
		gen.NewUniverseGenerator(backend, tmpl, testCatalog(), cfg, log),
		gen.NewSegmentGenerator(backend, tmpl, cfg, log),
		gen.NewMetadataGenerator(backend, tmpl, cfg, log),
		panels,
		cfg,
		log,
	)
}

func attachUniverse(o *Orchestrator) *game.Session {
	s := o.NewSession()
	s.State.Universe = &game.UniverseParameters{
		Style:     testCatalog().Styles[0],
		Genre:     "occult detective",
		Epoch:     "an alternate 1920s",
		Macguffin: "the name of the thing beneath the city",
		Hero:      testCatalog().Heroes[0],
		BaseStory: "Sarah steps off the night train.",
	}
	return s
}

func TestFirstTurn(t *testing.T) {
	backend := &scriptedBackend{responses: []string{testSegment, continueMetadata, twoPanels}}
	o := newTestOrchestrator(backend)
	s := attachUniverse(o)

	outcome, err := o.PlayTurn(context.Background(), s.ID, TurnInput{})
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.IsFirstStep {
		t.Fatal("expected is_first_step on beat 0")
	}
	if outcome.IsEnding() {
		t.Fatal("the first turn must never be an ending")
	}
	if len(outcome.ImagePrompts) != 1 {
		t.Fatalf("expected the first turn clamped to 1 panel, got %d", len(outcome.ImagePrompts))
	}
	if len(outcome.Choices) != 2 {
		t.Fatalf("expected 2 choices, got %d", len(outcome.Choices))
	}
	if outcome.Choices[0].ID != 1 || outcome.Choices[1].ID != 2 {
		t.Fatalf("expected 1-based choice ids, got %+v", outcome.Choices)
	}
	if s.State.StoryBeat != 1 {
		t.Fatalf("expected beat advanced to 1, got %d", s.State.StoryBeat)
	}
	if len(s.State.History) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(s.State.History))
	}
	if s.State.CurrentTime != "18:45" || s.State.CurrentLocation != "Alley" {
		t.Fatalf("expected time/location committed, got %q %q", s.State.CurrentTime, s.State.CurrentLocation)
	}
}

func TestForcedEndingTurn(t *testing.T) {
	// Pipeline: segment, metadata (policy forces victory), ending rewrite,
	// one panel.
	backend := &scriptedBackend{responses: []string{testSegment, neutralMetadata, testSegment, onePanel}}
	o := newTestOrchestrator(backend)
	s := attachUniverse(o)
	s.State.StoryBeat = 8
	s.State.TurnsBeforeEnd = 8
	s.State.WinningStory = true
	s.State.AddTurn(&game.TurnOutcome{
		StoryText:  "previous",
		RawChoices: []string{"Open the door", "Walk away quietly"},
		Time:       "22:00",
		Location:   "Street",
	}, "")

	outcome, err := o.PlayTurn(context.Background(), s.ID, TurnInput{ChoiceID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.IsVictory || outcome.IsDeath {
		t.Fatalf("expected the pre-rolled victory, got death=%v victory=%v", outcome.IsDeath, outcome.IsVictory)
	}
	if len(outcome.Choices) != 0 {
		t.Fatalf("expected no choices on an ending, got %v", outcome.Choices)
	}
	if len(outcome.ImagePrompts) != 1 {
		t.Fatalf("expected exactly 1 panel on an ending, got %d", len(outcome.ImagePrompts))
	}
	if backend.calls != 4 {
		t.Fatalf("expected 4 pipeline calls including the ending rewrite, got %d", backend.calls)
	}
	if !s.State.Ended {
		t.Fatal("expected the session marked ended")
	}
	if s.State.StoryBeat != 8 {
		t.Fatalf("expected no beat increment on an ending, got %d", s.State.StoryBeat)
	}
}

func TestFailedTurnCommitsNothing(t *testing.T) {
	// Segment succeeds, then metadata exhausts its budget on garbage.
	responses := []string{testSegment}
	for i := 0; i < config.Default().Game.MaxAttempts; i++ {
		responses = append(responses, "not json at all")
	}
	backend := &scriptedBackend{responses: responses}
	o := newTestOrchestrator(backend)
	s := attachUniverse(o)

	_, err := o.PlayTurn(context.Background(), s.ID, TurnInput{})
	if err == nil {
		t.Fatal("expected the turn to fail")
	}
	var genErr *gen.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected a generation error, got %T: %v", err, err)
	}
	if s.State.StoryBeat != 0 || len(s.State.History) != 0 {
		t.Fatalf("expected untouched state after failure, got beat=%d history=%d", s.State.StoryBeat, len(s.State.History))
	}
	if s.State.CurrentTime != "18:00" || s.State.CurrentLocation != "Home" {
		t.Fatalf("expected starting time/location kept, got %q %q", s.State.CurrentTime, s.State.CurrentLocation)
	}
}

func TestEndedSessionRejectsTurns(t *testing.T) {
	o := newTestOrchestrator(&scriptedBackend{})
	s := attachUniverse(o)
	s.State.Ended = true

	if _, err := o.PlayTurn(context.Background(), s.ID, TurnInput{}); !errors.Is(err, ErrStoryEnded) {
		t.Fatalf("expected ErrStoryEnded, got %v", err)
	}
}

func TestTurnWithoutUniverseRejected(t *testing.T) {
	o := newTestOrchestrator(&scriptedBackend{})
	s := o.NewSession()

	if _, err := o.PlayTurn(context.Background(), s.ID, TurnInput{}); !errors.Is(err, ErrNoUniverse) {
		t.Fatalf("expected ErrNoUniverse, got %v", err)
	}
}

func TestUnknownChoiceRejected(t *testing.T) {
	o := newTestOrchestrator(&scriptedBackend{})
	s := attachUniverse(o)
	s.State.AddTurn(&game.TurnOutcome{
		RawChoices: []string{"only one"},
		Time:       "19:00",
		Location:   "Alley",
	}, "")

	if _, err := o.PlayTurn(context.Background(), s.ID, TurnInput{ChoiceID: 5}); !errors.Is(err, ErrUnknownChoice) {
		t.Fatalf("expected ErrUnknownChoice, got %v", err)
	}
}

func TestUnknownSessionRejected(t *testing.T) {
	o := newTestOrchestrator(&scriptedBackend{})
	if _, err := o.PlayTurn(context.Background(), "nope", TurnInput{}); !errors.Is(err, game.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRestartKeepsUniverseAndRerolls(t *testing.T) {
	backend := &scriptedBackend{responses: []string{testSegment, continueMetadata, twoPanels}}
	o := newTestOrchestrator(backend)
	s := attachUniverse(o)
	universeBefore := s.State.Universe

	if _, err := o.PlayTurn(context.Background(), s.ID, TurnInput{}); err != nil {
		t.Fatal(err)
	}
	s.State.Ended = true

	if err := o.Restart(s.ID); err != nil {
		t.Fatal(err)
	}
	if s.State.Universe != universeBefore {
		t.Fatal("expected restart to keep the universe")
	}
	if s.State.StoryBeat != 0 || len(s.State.History) != 0 || s.State.Ended {
		t.Fatalf("expected a clean run after restart, got beat=%d history=%d ended=%v",
			s.State.StoryBeat, len(s.State.History), s.State.Ended)
	}
	cfg := config.Default().Game
	if s.State.TurnsBeforeEnd < cfg.MinTurnsBeforeEnd || s.State.TurnsBeforeEnd > cfg.MaxTurnsBeforeEnd {
		t.Fatalf("expected a re-rolled ending in [%d, %d], got %d",
			cfg.MinTurnsBeforeEnd, cfg.MaxTurnsBeforeEnd, s.State.TurnsBeforeEnd)
	}
}

func TestGenerateUniverse(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		"Sarah shoulders her satchel and walks into the drowned city, hunting the name of the thing beneath it, and stops for coffee.",
	}}
	o := newTestOrchestrator(backend)
	s := o.NewSession()

	u, err := o.GenerateUniverse(context.Background(), s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if u.Hero.Name != "Sarah" {
		t.Fatalf("expected the catalog hero, got %q", u.Hero.Name)
	}
	if s.State.Universe != u {
		t.Fatal("expected the universe attached to the session")
	}
	if s.State.TurnsBeforeEnd < 1 {
		t.Fatal("expected a rolled ending")
	}
}

func TestNewSessionRollsEnding(t *testing.T) {
	o := newTestOrchestrator(&scriptedBackend{})
	cfg := config.Default().Game
	for i := 0; i < 20; i++ {
		s := o.NewSession()
		if s.State.TurnsBeforeEnd < cfg.MinTurnsBeforeEnd || s.State.TurnsBeforeEnd > cfg.MaxTurnsBeforeEnd {
			t.Fatalf("rolled turns-before-end %d outside [%d, %d]",
				s.State.TurnsBeforeEnd, cfg.MinTurnsBeforeEnd, cfg.MaxTurnsBeforeEnd)
		}
	}
}

func TestTurnEventsPublished(t *testing.T) {
	backend := &scriptedBackend{responses: []string{testSegment, continueMetadata, twoPanels}}
	o := newTestOrchestrator(backend)
	events := &recordingEvents{}
	o.Events = events
	s := attachUniverse(o)

	if _, err := o.PlayTurn(context.Background(), s.ID, TurnInput{}); err != nil {
		t.Fatal(err)
	}
	want := []string{StageSegment, StageMetadata, StagePanels, StageDone}
	if len(events.stages) != len(want) {
		t.Fatalf("expected stages %v, got %v", want, events.stages)
	}
	for i, stage := range want {
		if events.stages[i] != stage {
			t.Fatalf("expected stage %q at %d, got %v", stage, i, events.stages)
		}
	}
}

type recordingEvents struct {
	stages []string
}

func (r *recordingEvents) Publish(sessionID, stage string) {
	r.stages = append(r.stages, stage)
}

func TestCustomActionTurn(t *testing.T) {
	backend := &scriptedBackend{responses: []string{testSegment, continueMetadata, twoPanels}}
	o := newTestOrchestrator(backend)
	s := attachUniverse(o)

	outcome, err := o.PlayTurn(context.Background(), s.ID, TurnInput{CustomText: "  climb the drainpipe  "})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.StoryText != testSegment {
		t.Fatalf("unexpected story text: %q", outcome.StoryText)
	}

	history := s.State.History
	if len(history) != 2 {
		t.Fatalf("expected echo entry plus resolved turn, got %d entries", len(history))
	}
	if history[0].Segment != "You decide to: climb the drainpipe" {
		t.Fatalf("unexpected echo entry: %q", history[0].Segment)
	}
	if history[1].PlayerChoice != "climb the drainpipe" {
		t.Fatalf("custom text not recorded as the player action: %q", history[1].PlayerChoice)
	}
	if s.State.StoryBeat != 1 {
		t.Fatalf("expected beat 1, got %d", s.State.StoryBeat)
	}
}

func TestFailedCustomTurnCommitsNoEcho(t *testing.T) {
	responses := []string{testSegment}
	for i := 0; i < config.Default().Game.MaxAttempts; i++ {
		responses = append(responses, "not json at all")
	}
	backend := &scriptedBackend{responses: responses}
	o := newTestOrchestrator(backend)
	s := attachUniverse(o)

	_, err := o.PlayTurn(context.Background(), s.ID, TurnInput{CustomText: "climb the drainpipe"})
	if err == nil {
		t.Fatal("expected a generation error")
	}
	if len(s.State.History) != 0 {
		t.Fatalf("failed turn must not leave an echo entry, got %d entries", len(s.State.History))
	}
}

func TestZeroInputAdvancesLaterBeats(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		testSegment, continueMetadata, twoPanels,
		testSegment, continueMetadata, twoPanels,
	}}
	o := newTestOrchestrator(backend)
	s := attachUniverse(o)

	for turn := 0; turn < 2; turn++ {
		if _, err := o.PlayTurn(context.Background(), s.ID, TurnInput{}); err != nil {
			t.Fatalf("turn %d: %v", turn, err)
		}
	}
	if s.State.StoryBeat != 2 {
		t.Fatalf("expected beat 2, got %d", s.State.StoryBeat)
	}
}

type recordingRecall struct {
	beats []int
	texts []string
}

func (r *recordingRecall) Remember(ctx context.Context, sessionID string, beat int, text string) error {
	r.beats = append(r.beats, beat)
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingRecall) Recall(ctx context.Context, sessionID, query string, limit int) ([]string, error) {
	return nil, nil
}

func TestMemoryBeatMatchesHistory(t *testing.T) {
	backend := &scriptedBackend{responses: []string{testSegment, continueMetadata, twoPanels}}
	o := newTestOrchestrator(backend)
	recall := &recordingRecall{}
	o.Memory = recall
	s := attachUniverse(o)

	if _, err := o.PlayTurn(context.Background(), s.ID, TurnInput{}); err != nil {
		t.Fatal(err)
	}
	// The memory point carries the beat the turn resolved at, not the
	// advanced counter.
	if len(recall.beats) != 1 || recall.beats[0] != 0 {
		t.Fatalf("expected the turn remembered at beat 0, got %v", recall.beats)
	}
	if s.State.StoryBeat != 1 {
		t.Fatalf("expected beat 1 after the turn, got %d", s.State.StoryBeat)
	}
}

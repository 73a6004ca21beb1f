package game

import (
	"fmt"
	"strings"

	"comicforge/internal/universe"
)

// UniverseParameters holds everything picked at universe-generation time.
// Immutable once created; the session owns exactly one.
type UniverseParameters struct {
	Style     universe.Style `json:"style"`
	Genre     string         `json:"genre"`
	Epoch     string         `json:"epoch"`
	Macguffin string         `json:"macguffin"`
	Hero      universe.Hero  `json:"hero"`
	BaseStory string         `json:"base_story"`
}

// Choice is one selectable player option, identified by position (1-based).
type Choice struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// TurnOutcome is the fully-assembled result of one resolved turn.
type TurnOutcome struct {
	StoryText    string   `json:"story_text"`
	Choices      []Choice `json:"choices"`
	RawChoices   []string `json:"raw_choices"`
	Time         string   `json:"time"`
	Location     string   `json:"location"`
	ImagePrompts []string `json:"image_prompts"`
	IsFirstStep  bool     `json:"is_first_step"`
	IsDeath      bool     `json:"is_death"`
	IsVictory    bool     `json:"is_victory"`
}

func (t *TurnOutcome) IsEnding() bool { return t.IsDeath || t.IsVictory }

// HistoryEntry is one resolved turn as recorded in the session history.
type HistoryEntry struct {
	Segment      string   `json:"segment"`
	PlayerChoice string   `json:"player_choice"`
	ImagePrompts []string `json:"image_prompts"`
	Time         string   `json:"time"`
	Location     string   `json:"location"`
	RawChoices   []string `json:"raw_choices"`
}

// GameState is the mutable narrative state of one session. It is not safe
// for concurrent use on its own; the session's turn lock serializes access.
type GameState struct {
	StoryBeat       int
	CurrentTime     string
	CurrentLocation string
	History         []HistoryEntry
	Universe        *UniverseParameters

	// Pre-rolled ending policy for this narrative run.
	TurnsBeforeEnd int
	WinningStory   bool

	// Ended is set once a turn resolved as death or victory; further turns
	// are rejected until an explicit restart.
	Ended bool

	startTime     string
	startLocation string
}

// NewGameState creates a state at its session-start defaults. The universe
// is attached separately once generated.
func NewGameState(startTime, startLocation string) *GameState {
	return &GameState{
		CurrentTime:     startTime,
		CurrentLocation: startLocation,
		startTime:       startTime,
		startLocation:   startLocation,
	}
}

// Reset clears the narrative run back to session-start defaults while
// keeping the universe. The ending roll is the caller's to renew.
func (g *GameState) Reset() {
	g.StoryBeat = 0
	g.History = nil
	g.CurrentTime = g.startTime
	g.CurrentLocation = g.startLocation
	g.Ended = false
}

func (g *GameState) HasUniverse() bool { return g.Universe != nil }

// AddTurn appends a resolved turn to history and advances time/location to
// the turn's snapshot.
func (g *GameState) AddTurn(outcome *TurnOutcome, playerChoice string) {
	g.History = append(g.History, HistoryEntry{
		Segment:      outcome.StoryText,
		PlayerChoice: playerChoice,
		ImagePrompts: outcome.ImagePrompts,
		Time:         outcome.Time,
		Location:     outcome.Location,
		RawChoices:   outcome.RawChoices,
	})
	g.CurrentTime = outcome.Time
	g.CurrentLocation = outcome.Location
}

// AddCustomAction records a free-text player action as its own history
// entry, narrated in second person. Time and location stay where they are;
// the generated turn that follows advances them.
func (g *GameState) AddCustomAction(text string) {
	g.History = append(g.History, HistoryEntry{
		Segment:  "You decide to: " + text,
		Time:     g.CurrentTime,
		Location: g.CurrentLocation,
	})
}

// LastChoiceText resolves a 1-based choice id against the most recent turn's
// offered choices.
func (g *GameState) LastChoiceText(choiceID int) (string, bool) {
	if len(g.History) == 0 {
		return "", false
	}
	last := g.History[len(g.History)-1]
	if choiceID < 1 || choiceID > len(last.RawChoices) {
		return "", false
	}
	return last.RawChoices[choiceID-1], true
}

// FormatHistory renders the story history for prompt context. A window of 0
// means the full history; otherwise only the last window entries are kept,
// with an explicit marker noting the truncation.
func (g *GameState) FormatHistory(window int) string {
	entries := g.History
	truncated := false
	if window > 0 && len(entries) > window {
		entries = entries[len(entries)-window:]
		truncated = true
	}
	if len(entries) == 0 {
		return ""
	}

	segments := make([]string, 0, len(entries)+1)
	if truncated {
		segments = append(segments, fmt.Sprintf("[%d earlier segments omitted]", len(g.History)-window))
	}
	for _, e := range entries {
		s := e.Segment
		if e.PlayerChoice != "" {
			s += fmt.Sprintf("\n[Player choice: %s]", e.PlayerChoice)
		}
		segments = append(segments, s)
	}
	return strings.Join(segments, "\n\n---\n\n")
}

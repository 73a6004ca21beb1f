package game

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"comicforge/internal/universe"
)

func testState() *GameState {
	s := NewGameState("18:00", "Home")
	s.Universe = &UniverseParameters{
		Style:     universe.Style{Name: "American noir"},
		Genre:     "occult detective",
		Epoch:     "an alternate 1920s",
		Macguffin: "the name of the thing beneath the city",
		Hero:      universe.Hero{Name: "Sarah", Description: "a wiry woman"},
		BaseStory: "Sarah steps off the night train.",
	}
	return s
}

func turn(n int) *TurnOutcome {
	return &TurnOutcome{
		StoryText:  fmt.Sprintf("segment %d", n),
		RawChoices: []string{"left", "right"},
		Time:       fmt.Sprintf("19:%02d", n),
		Location:   fmt.Sprintf("place %d", n),
	}
}

func TestAddTurnAdvancesState(t *testing.T) {
	s := testState()
	s.AddTurn(turn(1), "")

	if len(s.History) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(s.History))
	}
	if s.CurrentTime != "19:01" || s.CurrentLocation != "place 1" {
		t.Fatalf("expected time/location advanced, got %q %q", s.CurrentTime, s.CurrentLocation)
	}
}

func TestResetPreservesUniverse(t *testing.T) {
	s := testState()
	before := *s.Universe

	s.AddTurn(turn(1), "")
	s.StoryBeat = 3
	s.Ended = true
	s.Reset()

	if s.StoryBeat != 0 || len(s.History) != 0 || s.Ended {
		t.Fatalf("expected cleared run, got beat=%d history=%d ended=%v", s.StoryBeat, len(s.History), s.Ended)
	}
	if s.CurrentTime != "18:00" || s.CurrentLocation != "Home" {
		t.Fatalf("expected session-start defaults, got %q %q", s.CurrentTime, s.CurrentLocation)
	}
	if !reflect.DeepEqual(*s.Universe, before) {
		t.Fatalf("expected universe untouched by reset:\n before %+v\n after  %+v", before, *s.Universe)
	}
}

func TestLastChoiceText(t *testing.T) {
	s := testState()
	if _, ok := s.LastChoiceText(1); ok {
		t.Fatal("expected no choice before any turn")
	}

	s.AddTurn(turn(1), "")
	if text, ok := s.LastChoiceText(2); !ok || text != "right" {
		t.Fatalf("expected choice 2 to resolve to right, got %q %v", text, ok)
	}
	if _, ok := s.LastChoiceText(3); ok {
		t.Fatal("expected out-of-range choice id to fail")
	}
	if _, ok := s.LastChoiceText(0); ok {
		t.Fatal("expected choice id 0 to fail")
	}
}

func TestFormatHistoryEmpty(t *testing.T) {
	s := testState()
	if got := s.FormatHistory(5); got != "" {
		t.Fatalf("expected empty history, got %q", got)
	}
}

func TestFormatHistoryIncludesPlayerChoices(t *testing.T) {
	s := testState()
	s.AddTurn(turn(1), "")
	s.AddTurn(turn(2), "left")

	got := s.FormatHistory(0)
	if !strings.Contains(got, "segment 1") || !strings.Contains(got, "segment 2") {
		t.Fatalf("expected both segments, got %q", got)
	}
	if !strings.Contains(got, "[Player choice: left]") {
		t.Fatalf("expected the player choice annotated, got %q", got)
	}
	if strings.Contains(got, "omitted") {
		t.Fatalf("expected no truncation marker on full history, got %q", got)
	}
}

func TestFormatHistoryWindowMarksTruncation(t *testing.T) {
	s := testState()
	for i := 1; i <= 5; i++ {
		s.AddTurn(turn(i), "left")
	}

	got := s.FormatHistory(2)
	if !strings.Contains(got, "[3 earlier segments omitted]") {
		t.Fatalf("expected truncation marker, got %q", got)
	}
	if strings.Contains(got, "segment 3") {
		t.Fatalf("expected segment 3 outside the window, got %q", got)
	}
	if !strings.Contains(got, "segment 4") || !strings.Contains(got, "segment 5") {
		t.Fatalf("expected the last two segments, got %q", got)
	}
}

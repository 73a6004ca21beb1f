package prompts

import (
	"strings"
	"testing"
)

func TestRenderSubstitutesVariables(t *testing.T) {
	e := NewEngine()
	e.Register("greet", "Hello {{name}}, welcome to {{place}}.")

	got, err := e.Render("greet", map[string]string{"name": "Sarah", "place": "the docks"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hello Sarah, welcome to the docks." {
		t.Fatalf("unexpected render: %q", got)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	e := NewEngine()
	if _, err := e.Render("nope", nil); err == nil {
		t.Fatal("expected an error for a missing template")
	}
}

func TestRenderUnboundVariable(t *testing.T) {
	e := NewEngine()
	e.Register("greet", "Hello {{name}}.")

	_, err := e.Render("greet", map[string]string{})
	if err == nil {
		t.Fatal("expected an error for an unbound variable")
	}
	if !strings.Contains(err.Error(), "name") {
		t.Fatalf("expected the missing variable named, got %v", err)
	}
}

func TestRenderOverride(t *testing.T) {
	e := NewEngine()
	e.Register(UniverseSystem, "replaced")
	got, err := e.Render(UniverseSystem, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "replaced" {
		t.Fatalf("expected the override, got %q", got)
	}
}

func TestDefaultTemplatesRegistered(t *testing.T) {
	e := NewEngine()
	for _, name := range []string{
		SegmentSystem, SegmentUser, SegmentEnding,
		MetadataSystem, MetadataUser,
		ImagePromptSys, ImagePromptUser,
		UniverseSystem, UniverseUser,
		CustomActionNote,
	} {
		e.mu.RLock()
		_, ok := e.templates[name]
		e.mu.RUnlock()
		if !ok {
			t.Fatalf("default template %q not registered", name)
		}
	}
}

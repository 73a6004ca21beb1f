package gen

import (
	"encoding/json"
	"testing"
)

func TestSalvageDirectJSON(t *testing.T) {
	in := `{"choices": ["a", "b"]}`
	if got := Salvage(in); got != in {
		t.Fatalf("expected unchanged input, got %q", got)
	}
}

func TestSalvageStripsCodeFences(t *testing.T) {
	in := "```json\n{\"time\": \"18:30\"}\n```"
	got := Salvage(in)
	if !json.Valid([]byte(got)) {
		t.Fatalf("expected valid JSON after fence stripping, got %q", got)
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(got), &m); err != nil {
		t.Fatal(err)
	}
	if m["time"] != "18:30" {
		t.Fatalf("expected time 18:30, got %q", m["time"])
	}
}

func TestSalvageExtractsEmbeddedObject(t *testing.T) {
	in := `Sure! Here is the metadata you asked for: {"is_death": false, "location": "docks"} hope that helps.`
	got := Salvage(in)
	if got != `{"is_death": false, "location": "docks"}` {
		t.Fatalf("expected embedded object, got %q", got)
	}
}

func TestSalvageHandlesBracesInsideStrings(t *testing.T) {
	in := `prefix {"text": "a {nested} brace"} suffix`
	got := Salvage(in)
	if !json.Valid([]byte(got)) {
		t.Fatalf("expected valid JSON, got %q", got)
	}
}

func TestSalvageReturnsCleanedTextWhenNothingParses(t *testing.T) {
	in := "just some prose, no json at all"
	if got := Salvage(in); got != in {
		t.Fatalf("expected cleaned text back, got %q", got)
	}
}

func TestQuotedItems(t *testing.T) {
	in := `Panels: "low angle shot of the gate", "close-up on her hands"`
	items := QuotedItems(in)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d: %v", len(items), items)
	}
	if items[0] != "low angle shot of the gate" {
		t.Fatalf("unexpected first item: %q", items[0])
	}
}

func TestQuotedItemsNone(t *testing.T) {
	if items := QuotedItems("no quotes here"); len(items) != 0 {
		t.Fatalf("expected no items, got %v", items)
	}
}

func TestWordCount(t *testing.T) {
	if n := WordCount("  one two   three\nfour "); n != 4 {
		t.Fatalf("expected 4 words, got %d", n)
	}
	if n := WordCount(""); n != 0 {
		t.Fatalf("expected 0 words, got %d", n)
	}
}

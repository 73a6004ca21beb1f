package render

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"comicforge/internal/config"
)

func newSpeechTestServer(t *testing.T, onRequest func(r *http.Request, body speechRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body speechRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
		}
		if onRequest != nil {
			onRequest(r, body)
		}
		w.Write([]byte("mp3-bytes"))
	}))
}

func TestSpeechSynthesize(t *testing.T) {
	var gotPath, gotKey string
	var gotBody speechRequest
	server := newSpeechTestServer(t, func(r *http.Request, body speechRequest) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		gotBody = body
	})
	defer server.Close()

	c := NewSpeechClient(config.SpeechConfig{
		BaseURL: server.URL,
		APIKey:  "secret",
		ModelID: "eleven_multilingual_v2",
		Timeout: 5 * time.Second,
	}, nil, zerolog.Nop())

	audio, err := c.Synthesize(context.Background(), "She opened the **heavy** door.", "voice-1")
	if err != nil {
		t.Fatal(err)
	}
	if string(audio) != "mp3-bytes" {
		t.Fatalf("unexpected audio: %q", audio)
	}
	if gotPath != "/text-to-speech/voice-1" {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if gotKey != "secret" {
		t.Fatalf("expected the api key header, got %q", gotKey)
	}
	if strings.Contains(gotBody.Text, "**") {
		t.Fatalf("expected bold markup stripped, got %q", gotBody.Text)
	}
}

func TestSpeechDefaultVoice(t *testing.T) {
	var gotPath string
	server := newSpeechTestServer(t, func(r *http.Request, body speechRequest) {
		gotPath = r.URL.Path
	})
	defer server.Close()

	c := NewSpeechClient(config.SpeechConfig{
		BaseURL:        server.URL,
		APIKey:         "secret",
		DefaultVoiceID: "narrator",
		Timeout:        5 * time.Second,
	}, nil, zerolog.Nop())

	if _, err := c.Synthesize(context.Background(), "hello", ""); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/text-to-speech/narrator" {
		t.Fatalf("expected the default voice, got %q", gotPath)
	}
}

func TestSpeechRejectsEmptyText(t *testing.T) {
	c := NewSpeechClient(config.SpeechConfig{BaseURL: "http://localhost:1", Timeout: time.Second, DefaultVoiceID: "v"}, nil, zerolog.Nop())
	if _, err := c.Synthesize(context.Background(), "  ** ** ", "v"); err == nil {
		t.Fatal("expected an error when only markup remains")
	}
}

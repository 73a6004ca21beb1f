package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"comicforge/internal/engine"
	"comicforge/internal/game"
	"comicforge/internal/gen"
	"comicforge/internal/render"
)

const (
	sessionHeader  = "X-Session-ID"
	actionRestart  = "restart"
	actionCustom   = "custom_choice"
	healthTimeout  = 5 * time.Second
	defaultPanelPx = 768
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HealthProber is a collaborator that can answer a liveness probe.
type HealthProber interface {
	CheckHealth(ctx context.Context) error
}

// Handlers exposes the game over HTTP. Image and speech are optional; their
// endpoints answer "initializing" until the collaborator is configured.
type Handlers struct {
	orchestrator *engine.Orchestrator
	hub          *EventHub
	llm          HealthProber
	image        *render.ImageClient
	speech       *render.SpeechClient
	log          zerolog.Logger
}

func NewHandlers(orchestrator *engine.Orchestrator, hub *EventHub, llm HealthProber, image *render.ImageClient, speech *render.SpeechClient, log zerolog.Logger) *Handlers {
	return &Handlers{
		orchestrator: orchestrator,
		hub:          hub,
		llm:          llm,
		image:        image,
		speech:       speech,
		log:          log,
	}
}

type chatRequest struct {
	Action     string `json:"action"`
	ChoiceID   int    `json:"choice_id,omitempty"`
	CustomText string `json:"custom_text,omitempty"`
}

type chatResponse struct {
	SessionID    string        `json:"session_id"`
	StoryText    string        `json:"story_text"`
	Choices      []game.Choice `json:"choices"`
	Time         string        `json:"time"`
	Location     string        `json:"location"`
	ImagePrompts []string      `json:"image_prompts"`
	IsFirstStep  bool          `json:"is_first_step"`
	IsDeath      bool          `json:"is_death"`
	IsVictory    bool          `json:"is_victory"`
}

// Chat resolves one turn for the session named in the request header.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing "+sessionHeader+" header")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	switch req.Action {
	case actionRestart:
		if err := h.orchestrator.Restart(sessionID); err != nil {
			h.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"session_id": sessionID,
			"status":     "restarted",
		})
		return
	case actionCustom:
		if strings.TrimSpace(req.CustomText) == "" {
			// The client switched to free-text input but typed nothing
			// yet; echo a prompt without spending a generation on it.
			writeJSON(w, http.StatusOK, map[string]string{
				"session_id": sessionID,
				"story_text": "What do you do? Type your action.",
			})
			return
		}
		// A typed action plays as a normal turn below.
	}

	outcome, err := h.orchestrator.PlayTurn(r.Context(), sessionID, engine.TurnInput{
		ChoiceID:   req.ChoiceID,
		CustomText: req.CustomText,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID:    sessionID,
		StoryText:    outcome.StoryText,
		Choices:      outcome.Choices,
		Time:         outcome.Time,
		Location:     outcome.Location,
		ImagePrompts: outcome.ImagePrompts,
		IsFirstStep:  outcome.IsFirstStep,
		IsDeath:      outcome.IsDeath,
		IsVictory:    outcome.IsVictory,
	})
}

// GenerateUniverse mints a session when none is supplied, rolls a universe
// for it, and returns both.
func (h *Handlers) GenerateUniverse(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		sessionID = h.orchestrator.NewSession().ID
	}

	u, err := h.orchestrator.GenerateUniverse(r.Context(), sessionID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	w.Header().Set(sessionHeader, sessionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"style":      u.Style.Name,
		"genre":      u.Genre,
		"epoch":      u.Epoch,
		"macguffin":  u.Macguffin,
		"hero":       u.Hero,
		"base_story": u.BaseStory,
	})
}

// Styles returns the full universe catalog.
func (h *Handlers) Styles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orchestrator.Styles().Catalog())
}

type imageRequest struct {
	Prompt string `json:"prompt"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// GenerateImage renders one panel prompt and returns it base64-encoded.
func (h *Handlers) GenerateImage(w http.ResponseWriter, r *http.Request) {
	if h.image == nil {
		writeError(w, http.StatusServiceUnavailable, "image rendering is not configured")
		return
	}
	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "a non-empty prompt is required")
		return
	}
	if req.Width <= 0 {
		req.Width = defaultPanelPx
	}
	if req.Height <= 0 {
		req.Height = defaultPanelPx
	}

	data, err := h.image.Generate(r.Context(), req.Prompt, req.Width, req.Height)
	if err != nil {
		h.log.Error().Err(err).Msg("image rendering failed")
		writeError(w, http.StatusBadGateway, "image rendering failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"image":  base64.StdEncoding.EncodeToString(data),
		"format": "jpeg",
	})
}

type speechRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id,omitempty"`
}

// TextToSpeech narrates text and streams the audio back.
func (h *Handlers) TextToSpeech(w http.ResponseWriter, r *http.Request) {
	if h.speech == nil {
		writeError(w, http.StatusServiceUnavailable, "speech synthesis is not configured")
		return
	}
	var req speechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "a non-empty text is required")
		return
	}

	audio, err := h.speech.Synthesize(r.Context(), req.Text, req.VoiceID)
	if err != nil {
		h.log.Error().Err(err).Msg("speech synthesis failed")
		writeError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

// Health probes the named collaborator with a bounded timeout.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	var prober HealthProber
	switch chi.URLParam(r, "service") {
	case "llm":
		prober = h.llm
	case "image":
		if h.image != nil {
			prober = h.image
		}
	case "speech":
		if h.speech != nil {
			prober = h.speech
		}
	default:
		writeError(w, http.StatusNotFound, "unknown service")
		return
	}

	if prober == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "initializing"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	start := time.Now()
	err := prober.CheckHealth(ctx)
	latency := time.Since(start)

	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "unhealthy",
			"latency_ms": latency.Milliseconds(),
			"error":      err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"latency_ms": latency.Milliseconds(),
	})
}

// Events upgrades to a websocket subscribed to turn pipeline progress.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	h.hub.add(&client{
		id:        uuid.NewString(),
		sessionID: r.URL.Query().Get("session_id"),
		conn:      conn,
		send:      make(chan []byte, 64),
	})
}

// writeEngineError maps engine errors to stable responses. Raw generation
// diagnostics stay in the logs, never in the response body.
func (h *Handlers) writeEngineError(w http.ResponseWriter, err error) {
	var genErr *gen.GenerationError
	switch {
	case errors.Is(err, game.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "unknown or expired session")
	case errors.Is(err, engine.ErrNoUniverse):
		writeError(w, http.StatusConflict, "generate a universe before playing")
	case errors.Is(err, engine.ErrStoryEnded):
		writeError(w, http.StatusConflict, "the story has ended; restart to play again")
	case errors.Is(err, engine.ErrUnknownChoice):
		writeError(w, http.StatusBadRequest, "choice id does not match an offered choice")
	case errors.As(err, &genErr):
		h.log.Error().Err(err).Str("generator", genErr.Generator).Msg("turn generation failed")
		writeError(w, http.StatusBadGateway, "story generation failed, please retry")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing meaningful to write.
	default:
		h.log.Error().Err(err).Msg("turn failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

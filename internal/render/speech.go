package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"comicforge/internal/config"
	"comicforge/internal/storage"
)

type speechRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

// SpeechClient narrates story text through an ElevenLabs-compatible
// text-to-speech endpoint and returns MP3 bytes.
type SpeechClient struct {
	httpClient *http.Client
	cfg        config.SpeechConfig
	cache      *storage.Cache
	log        zerolog.Logger
}

// NewSpeechClient creates a client. cache may be nil to disable caching.
func NewSpeechClient(cfg config.SpeechConfig, cache *storage.Cache, log zerolog.Logger) *SpeechClient {
	return &SpeechClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		cache:      cache,
		log:        log,
	}
}

// Synthesize narrates text with the given voice, defaulting to the
// configured voice when voiceID is empty. Markdown bold markers are
// stripped so they are never read aloud.
func (c *SpeechClient) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "**", ""))
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}
	if voiceID == "" {
		voiceID = c.cfg.DefaultVoiceID
	}
	if voiceID == "" {
		return nil, fmt.Errorf("no voice configured")
	}

	key := storage.Key("tts", voiceID, c.cfg.ModelID, text)
	if c.cache != nil {
		if data, err := c.cache.Get(ctx, key); err == nil {
			c.log.Debug().Str("key", key).Msg("speech cache hit")
			return data, nil
		}
	}

	reqBody, err := json.Marshal(speechRequest{Text: text, ModelID: c.cfg.ModelID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", c.cfg.BaseURL, voiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speech backend returned HTTP %d", resp.StatusCode)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("speech backend returned an empty body")
	}

	if c.cache != nil {
		c.cache.Set(ctx, key, data)
	}
	return data, nil
}

// CheckHealth lists voices, the cheapest authenticated call the API offers.
func (c *SpeechClient) CheckHealth(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return fmt.Errorf("speech api key not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/voices", nil)
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("speech backend returned HTTP %d", resp.StatusCode)
	}
	return nil
}

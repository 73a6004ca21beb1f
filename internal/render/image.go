package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"comicforge/internal/config"
	"comicforge/internal/storage"
)

// negativePrompt keeps the renderer away from artifacts that break the
// comic-panel illusion.
const negativePrompt = "text, speech bubbles, captions, watermark, signature, blurry, deformed hands, extra limbs"

type imageRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"num_inference_steps,omitempty"`
	GuidanceScale  float64 `json:"guidance_scale,omitempty"`
}

// ImageClient renders panel prompts against a diffusion endpoint that
// returns raw JPEG bytes.
type ImageClient struct {
	httpClient *http.Client
	cfg        config.ImageConfig
	cache      *storage.Cache
	log        zerolog.Logger
}

// NewImageClient creates a client. cache may be nil to disable caching.
func NewImageClient(cfg config.ImageConfig, cache *storage.Cache, log zerolog.Logger) *ImageClient {
	return &ImageClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		cache:      cache,
		log:        log,
	}
}

// snap8 rounds a dimension down to the nearest multiple of 8, the stride the
// diffusion backend requires.
func snap8(n int) int {
	if n < 8 {
		return 8
	}
	return n - n%8
}

// Generate renders one panel prompt as JPEG bytes.
func (c *ImageClient) Generate(ctx context.Context, prompt string, width, height int) ([]byte, error) {
	if prompt == "" {
		return nil, fmt.Errorf("prompt cannot be empty")
	}
	width, height = snap8(width), snap8(height)

	key := storage.Key("img", prompt, fmt.Sprintf("%dx%d", width, height))
	if c.cache != nil {
		if data, err := c.cache.Get(ctx, key); err == nil {
			c.log.Debug().Str("key", key).Msg("image cache hit")
			return data, nil
		}
	}

	reqBody, err := json.Marshal(imageRequest{
		Prompt:         prompt,
		NegativePrompt: negativePrompt,
		Width:          width,
		Height:         height,
		Steps:          c.cfg.Steps,
		GuidanceScale:  c.cfg.GuidanceScale,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/jpeg")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

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
		return nil, fmt.Errorf("image backend returned HTTP %d", resp.StatusCode)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image backend returned an empty body")
	}

	if c.cache != nil {
		c.cache.Set(ctx, key, data)
	}
	return data, nil
}

// CheckHealth probes the endpoint without triggering a render.
func (c *ImageClient) CheckHealth(ctx context.Context) error {
	if c.cfg.Endpoint == "" {
		return fmt.Errorf("image endpoint not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.cfg.Endpoint, nil)
	if err != nil {
		return err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("image backend returned HTTP %d", resp.StatusCode)
	}
	return nil
}

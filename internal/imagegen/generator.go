package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // source selfies are JPEG
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrGenerationFailed wraps every generation failure.
var ErrGenerationFailed = errors.New("image generation failed")

// ResponseFields lists, in priority order, the response keys that may carry
// the generated image reference.
var ResponseFields = []string{"imageUrl", "image", "output"}

const maxResponseBytes = 32 << 20

// Config holds connection details for the image generation service.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client performs single-shot generation requests. It keeps no per-call state.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// NewClient builds a client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: httpClient,
		config:     cfg,
		logger:     logger.With().Str("component", "imagegen").Logger(),
	}
}

type generateRequest struct {
	Image  string `json:"image"`
	Prompt string `json:"prompt"`
}

// Generate submits sourceImage (data URL or bare base64) and prompt and
// returns the image reference from the response.
func (c *Client) Generate(ctx context.Context, sourceImage, prompt string) (string, error) {
	if c.config.URL == "" {
		return "", fmt.Errorf("%w: endpoint not configured", ErrGenerationFailed)
	}
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: empty prompt", ErrGenerationFailed)
	}
	payload := StripDataURL(sourceImage)
	if err := checkDecodable(payload); err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	body, err := json.Marshal(generateRequest{Image: payload, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %w", ErrGenerationFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: service returned status %d", ErrGenerationFailed, resp.StatusCode)
	}

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&fields); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrGenerationFailed, err)
	}
	ref, ok := pickImageRef(fields)
	if !ok {
		return "", fmt.Errorf("%w: no image reference in response", ErrGenerationFailed)
	}

	c.logger.Debug().
		Dur("elapsed", time.Since(start)).
		Str("prompt", prompt).
		Msg("image generated")
	return ref, nil
}

// StripDataURL drops a "data:<type>;base64," prefix if present.
func StripDataURL(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if _, payload, ok := strings.Cut(s, ","); ok {
		return payload
	}
	return s
}

func checkDecodable(payload string) error {
	if payload == "" {
		return errors.New("empty source image")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("source image is not base64: %w", err)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("source image is not decodable: %w", err)
	}
	return nil
}

func pickImageRef(fields map[string]json.RawMessage) (string, bool) {
	for _, name := range ResponseFields {
		raw, present := fields[name]
		if !present {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			continue
		}
		return s, true
	}
	return "", false
}

package keyframe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPGenerator talks to an image generation service over JSON:
//
//	POST {base}/generate  {prompt, width, height, steps, guidance, seed} -> {image: base64 PNG, seed}
//	POST {base}/release   frees accelerator memory
type HTTPGenerator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGenerator creates a generator client. A zero timeout means no limit.
func NewHTTPGenerator(baseURL string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type generateResponse struct {
	Image string `json:"image"`
	Seed  int64  `json:"seed"`
	Error string `json:"error,omitempty"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("image generator request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image generator response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image generator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal image generator response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("image generator error: %s", out.Error)
	}

	raw, err := base64.StdEncoding.DecodeString(out.Image)
	if err != nil {
		return nil, fmt.Errorf("invalid image payload: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode generated image: %w", err)
	}

	seed := out.Seed
	if req.Seed >= 0 {
		seed = req.Seed
	}
	return &Result{Image: img, Seed: seed}, nil
}

// Release asks the service to drop cached pipelines. Services without a
// release endpoint (404) are accepted.
func (g *HTTPGenerator) Release(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/release", nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("image generator release failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("image generator release returned %d", resp.StatusCode)
	}
	return nil
}

// EncodePNG is the payload encoding expected in generateResponse.Image.
func EncodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Package translation provides the external translation client and the
// segment translation scheduler.
package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Translator converts text to a target language.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Noop is used when no translation backend is configured. It returns an
// empty translation so downstream events stay transcript-only.
type Noop struct{}

// Translate implements Translator.
func (Noop) Translate(context.Context, string, string, string) (string, error) {
	return "", nil
}

// Client is a LibreTranslate-compatible HTTP translator.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a translation client for the given base URL.
func NewClient(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Translate requests a translation using the LibreTranslate payload
// (q, source, target, format).
func (c *Client) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	src := strings.TrimSpace(source)
	if src == "" {
		src = "auto"
	}

	payload := map[string]any{
		"q":      text,
		"source": src,
		"target": target,
		"format": "text",
	}
	b, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/translate", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("translation http %d for target %s", resp.StatusCode, target)
	}

	var lr struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", err
	}
	return strings.TrimSpace(lr.TranslatedText), nil
}

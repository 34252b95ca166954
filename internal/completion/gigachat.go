// Package completion provides the GigaChat completion backend behind a
// narrow Service interface so the router never sees HTTP or OAuth details.
package completion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ErrUnavailable wraps transient backend failures. Callers show a generic
// failure message and do not retry within the same turn.
var ErrUnavailable = errors.New("completion backend unavailable")

// Service generates a reply for a prompt.
type Service interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config holds GigaChat connection settings.
type Config struct {
	ClientID     string
	ClientSecret string
	Scope        string
	TokenURL     string
	ChatURL      string
	Model        string
	Timeout      time.Duration
}

// Client is a GigaChat chat-completions client with cached OAuth tokens.
type Client struct {
	logger     *slog.Logger
	cfg        Config
	httpClient *http.Client
	tokens     oauth2.TokenSource
}

// NewClient creates a Client. Token fetches go through
// oauth2.ReuseTokenSourceWithExpiry, so concurrent completions share one
// cached token and refresh it once, 10 seconds before expiry.
func NewClient(log *slog.Logger, cfg Config) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	c := &Client{
		logger:     log.With(slog.String("component", "gigachat")),
		cfg:        cfg,
		httpClient: httpClient,
	}
	c.tokens = oauth2.ReuseTokenSourceWithExpiry(nil, &tokenSource{client: c}, 10*time.Second)
	return c
}

// Complete sends the prompt as a single user message and returns the
// generated text. Transport and backend failures come back wrapped in
// ErrUnavailable.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	token, err := c.tokens.Token()
	if err != nil {
		c.logger.Error("token fetch failed", slog.Any("error", err))
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ChatURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	token.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("completion request failed", slog.Any("error", err))
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("completion status", slog.Int("status", resp.StatusCode))
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrUnavailable)
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// tokenSource fetches GigaChat access tokens. The OAuth endpoint takes
// basic auth built from client id/secret, a per-request RqUID header, and a
// form-encoded scope; that extra header rules out the stock
// clientcredentials flow.
type tokenSource struct {
	client *Client
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	// ExpiresAt is unix milliseconds.
	ExpiresAt int64 `json:"expires_at"`
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	cfg := s.client.cfg
	form := url.Values{"scope": {cfg.Scope}}
	req, err := http.NewRequest(http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	auth := base64.StdEncoding.EncodeToString([]byte(cfg.ClientID + ":" + cfg.ClientSecret))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("RqUID", uuid.NewString())

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token status %d", resp.StatusCode)
	}
	var parsed tokenResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}
	return &oauth2.Token{
		AccessToken: parsed.AccessToken,
		TokenType:   "Bearer",
		Expiry:      time.UnixMilli(parsed.ExpiresAt),
	}, nil
}

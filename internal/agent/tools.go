package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/parleyhq/parley/internal/anthropic"
)

const (
	toolCurrentTime = "current_time"
	toolWebSearch   = "web_search"

	defaultSearchURL = "https://google.serper.dev/search"
)

// Toolbox holds the fixed tool set synthesis may invoke.
type Toolbox struct {
	serperKey string
	searchURL string
	client    *http.Client
	now       func() time.Time
	logger    *slog.Logger
}

func NewToolbox(serperKey string, logger *slog.Logger) *Toolbox {
	return &Toolbox{
		serperKey: serperKey,
		searchURL: defaultSearchURL,
		client:    &http.Client{Timeout: 15 * time.Second},
		now:       time.Now,
		logger:    logger,
	}
}

// SetTestSearchURL points web_search at a fake search backend.
func (t *Toolbox) SetTestSearchURL(url string) {
	t.searchURL = url
}

// Definitions returns the tool schemas advertised to the model.
func (t *Toolbox) Definitions() []anthropic.Tool {
	return []anthropic.Tool{
		{
			Name:        toolCurrentTime,
			Description: "Get today's date and the current time in UTC. Use whenever the user asks for current date or time information.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        toolWebSearch,
			Description: "Search the web for information. Use when the answer needs facts beyond the conversation.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The information being searched for",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

// Run dispatches a tool invocation requested by the model.
func (t *Toolbox) Run(ctx context.Context, name string, input json.RawMessage) (string, error) {
	t.logger.Info("tool invoked", "tool", name)
	switch name {
	case toolCurrentTime:
		return t.currentTime()
	case toolWebSearch:
		return t.webSearch(ctx, input)
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

func (t *Toolbox) currentTime() (string, error) {
	now := t.now().UTC()
	out, err := json.Marshal(map[string]any{
		"timestamp":      now.Format(time.RFC3339),
		"unix_timestamp": now.Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal time: %w", err)
	}
	return string(out), nil
}

func (t *Toolbox) webSearch(ctx context.Context, input json.RawMessage) (string, error) {
	if t.serperKey == "" {
		return "", fmt.Errorf("serper api key is not configured")
	}

	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("parse search input: %w", err)
	}
	if params.Query == "" {
		return "", fmt.Errorf("search query is empty")
	}

	body, err := json.Marshal(map[string]string{"q": params.Query})
	if err != nil {
		return "", fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.searchURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("X-API-KEY", t.serperKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search error %d: %s", resp.StatusCode, string(respBody))
	}
	return string(respBody), nil
}

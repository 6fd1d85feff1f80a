package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultAPIURL = "https://api.anthropic.com/v1/messages"

// maxToolRounds bounds the tool-use loop so a model that keeps asking
// for tools cannot spin forever.
const maxToolRounds = 5

type Client struct {
	apiKey string
	model  string
	apiURL string
	client *http.Client
}

func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey: apiKey,
		model:  model,
		apiURL: defaultAPIURL,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

// SetTestTransport points the client at a fake API server.
func (c *Client) SetTestTransport(url string) {
	c.apiURL = url
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool describes a tool the model may invoke during a completion.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolRunner executes a named tool invocation requested by the model.
type ToolRunner func(ctx context.Context, name string, input json.RawMessage) (string, error)

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// wireMessage carries either plain string content or content blocks.
type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type request struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	Tools     []Tool        `json:"tools,omitempty"`
}

type response struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a message exchange to the Anthropic API and returns the
// text response.
func (c *Client) Complete(ctx context.Context, system string, messages []Message, maxTokens int) (string, error) {
	resp, err := c.post(ctx, request{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  toWire(messages),
	})
	if err != nil {
		return "", err
	}

	text := textOf(resp)
	if text == "" {
		return "", fmt.Errorf("empty response content")
	}
	return text, nil
}

// CompleteWithTools sends a message exchange with a tool set attached and
// services tool_use rounds via run until the model produces a final text
// answer. A failed tool invocation fails the whole completion.
func (c *Client) CompleteWithTools(ctx context.Context, system string, messages []Message, tools []Tool, run ToolRunner, maxTokens int) (string, error) {
	wire := toWire(messages)

	for round := 0; round < maxToolRounds; round++ {
		resp, err := c.post(ctx, request{
			Model:     c.model,
			MaxTokens: maxTokens,
			System:    system,
			Messages:  wire,
			Tools:     tools,
		})
		if err != nil {
			return "", err
		}

		if resp.StopReason != "tool_use" {
			text := textOf(resp)
			if text == "" {
				return "", fmt.Errorf("empty response content")
			}
			return text, nil
		}

		var results []contentBlock
		for _, block := range resp.Content {
			if block.Type != "tool_use" {
				continue
			}
			out, err := run(ctx, block.Name, block.Input)
			if err != nil {
				return "", fmt.Errorf("tool %s: %w", block.Name, err)
			}
			results = append(results, contentBlock{
				Type:      "tool_result",
				ToolUseID: block.ID,
				Content:   out,
			})
		}
		if len(results) == 0 {
			return "", fmt.Errorf("tool_use stop with no tool_use blocks")
		}

		wire = append(wire,
			wireMessage{Role: "assistant", Content: resp.Content},
			wireMessage{Role: "user", Content: results},
		)
	}

	return "", fmt.Errorf("tool loop exceeded %d rounds", maxToolRounds)
}

func (c *Client) post(ctx context.Context, reqBody request) (*response, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Type != "" {
			return nil, fmt.Errorf("api error %d: %s: %s", resp.StatusCode, errResp.Error.Type, errResp.Error.Message)
		}
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &apiResp, nil
}

func toWire(messages []Message) []wireMessage {
	wire := make([]wireMessage, len(messages))
	for i, m := range messages {
		wire[i] = wireMessage{Role: m.Role, Content: m.Content}
	}
	return wire
}

func textOf(resp *response) string {
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

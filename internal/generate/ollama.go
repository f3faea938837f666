package generate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	kerrors "github.com/jmswen/knowledge/internal/errors"
)

// Default Ollama chat generator configuration.
const (
	DefaultModel   = "qwen2.5:7b"
	DefaultTimeout = 60 * time.Second
	DefaultHost    = "http://localhost:11434"
)

// OllamaConfig configures an OllamaGenerator.
type OllamaConfig struct {
	Host    string
	Model   string
	Timeout time.Duration
}

// DefaultOllamaConfig returns the default Ollama generator configuration.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{Host: DefaultHost, Model: DefaultModel, Timeout: DefaultTimeout}
}

// chatRetryConfig bounds the transient-failure retries around a chat
// request. Delays stay short: the caller is a user waiting on an answer
// stream, so one or two quick re-attempts are worth it but long backoff
// is not.
var chatRetryConfig = kerrors.RetryConfig{
	MaxRetries:   2,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
	Jitter:       true,
}

// OllamaGenerator is a Generator backed by a local Ollama server's
// /api/chat endpoint.
type OllamaGenerator struct {
	client *http.Client
	config OllamaConfig
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  ollamaChatOptions   `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

// NewOllamaGenerator builds an OllamaGenerator, applying defaults for
// any unset config field.
func NewOllamaGenerator(config OllamaConfig) *OllamaGenerator {
	if config.Host == "" {
		config.Host = DefaultHost
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &OllamaGenerator{
		client: &http.Client{Timeout: config.Timeout},
		config: config,
	}
}

func toOllamaMessages(messages []Message) []ollamaChatMessage {
	out := make([]ollamaChatMessage, len(messages))
	for i, m := range messages {
		out[i] = ollamaChatMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

// Chat implements Generator.Chat via a non-streaming request, retried
// with backoff so a transient network blip doesn't surface as a hard
// failure.
func (o *OllamaGenerator) Chat(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error) {
	reqBody := ollamaChatRequest{
		Model:    o.config.Model,
		Messages: toOllamaMessages(messages),
		Stream:   false,
		Options:  ollamaChatOptions{Temperature: temperature, NumPredict: maxTokens},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	return kerrors.RetryWithResult(ctx, chatRetryConfig, func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.Host+"/api/chat", bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("create chat request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("execute chat request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		}

		var chatResp ollamaChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
			return "", fmt.Errorf("decode chat response: %w", err)
		}

		return chatResp.Message.Content, nil
	})
}

// ChatStream implements Generator.ChatStream by reading Ollama's
// newline-delimited JSON stream and invoking onToken for each partial
// message chunk. Establishing the stream is retried with backoff; once
// tokens start flowing a failure is terminal, since re-requesting would
// replay tokens the caller already emitted.
func (o *OllamaGenerator) ChatStream(ctx context.Context, messages []Message, temperature float64, maxTokens int, onToken func(string)) error {
	reqBody := ollamaChatRequest{
		Model:    o.config.Model,
		Messages: toOllamaMessages(messages),
		Stream:   true,
		Options:  ollamaChatOptions{Temperature: temperature, NumPredict: maxTokens},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}

	resp, err := kerrors.RetryWithResult(ctx, chatRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.Host+"/api/chat", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create chat request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute chat request: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		}
		return resp, nil
	})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Message.Content != "" {
			onToken(chunk.Message.Content)
		}
		if chunk.Done {
			break
		}
	}
	return scanner.Err()
}

// Available reports whether the Ollama server is reachable.
func (o *OllamaGenerator) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

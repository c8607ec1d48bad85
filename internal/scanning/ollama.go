package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llava"
	ollamaSystemPrompt = "You are an OCR engine. You transcribe text from images exactly, line by line."
)

// Ollama transcribes receipts with a vision model served by a local Ollama
// instance. Models with good OCR work best, e.g. qwen2-vl:7b or llava:1.6.
type Ollama struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewOllama creates an Ollama recognizer talking to baseURL
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if modelName == "" {
		modelName = defaultOllamaModel
	}

	endpoint, err := url.JoinPath(baseURL, "api", "chat")
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}

	return &Ollama{
		endpoint: endpoint,
		model:    modelName,
		// vision models are slow on CPU
		client: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Options  ollamaOptions   `json:"options"`
	Stream   bool            `json:"stream"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Recognize sends img as PNG and returns the transcribed lines in reading order
func (o *Ollama) Recognize(ctx context.Context, img image.Image) ([]Observation, error) {
	pngData, err := encodePNG(img)
	if err != nil {
		return nil, err
	}

	reply, err := o.chat(ctx,
		ollamaMessage{Role: "system", Content: ollamaSystemPrompt},
		ollamaMessage{
			Role:    "user",
			Content: linePrompt,
			Images:  []string{base64.StdEncoding.EncodeToString(pngData)},
		},
	)
	if err != nil {
		return nil, err
	}

	observations, err := parseObservationsJSON(reply.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing recognized lines: %w", err)
	}
	return observations, nil
}

// chat performs one non-streaming chat completion
func (o *Ollama) chat(ctx context.Context, messages ...ollamaMessage) (*ollamaMessage, error) {
	payload, err := json.Marshal(ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &chatResp.Message, nil
}

// Close is a no-op; the HTTP client holds no resources
func (o *Ollama) Close() error {
	return nil
}

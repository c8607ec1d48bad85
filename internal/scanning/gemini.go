package scanning

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.5-pro"

// Gemini transcribes receipts with a Google Gemini vision model
type Gemini struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

// NewGemini creates a Gemini recognizer for the given model
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text("You are an OCR engine. Transcribe text exactly as printed, top to bottom.")},
	}

	return &Gemini{client: client, model: model, timeout: 30 * time.Second}, nil
}

// Recognize sends img as PNG and returns the transcribed lines in reading order
func (g *Gemini) Recognize(ctx context.Context, img image.Image) ([]Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	pngData, err := encodePNG(img)
	if err != nil {
		return nil, err
	}

	// ImageData takes the format suffix, not a MIME type
	resp, err := g.model.GenerateContent(ctx, genai.ImageData("png", pngData), genai.Text(linePrompt))
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	text, ok := candidateText(resp)
	if !ok {
		return nil, errors.New("no response from gemini")
	}

	observations, err := parseObservationsJSON(text)
	if err != nil {
		return nil, fmt.Errorf("parsing recognized lines: %w", err)
	}
	return observations, nil
}

// candidateText joins the text parts of the first candidate
func candidateText(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", false
	}
	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return "", false
	}

	var b strings.Builder
	for _, part := range content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), true
}

// Close releases the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseObservationsJSON parses the line list returned by an LLM recognizer
func parseObservationsJSON(text string) ([]Observation, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	// Find the array boundaries - look for first [ and last ]
	startIdx := strings.Index(text, "[")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON array found in response")
	}
	endIdx := strings.LastIndex(text, "]")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON array in response")
	}
	text = text[startIdx : endIdx+1]

	var raw []struct {
		Text       string   `json:"text"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	observations := make([]Observation, 0, len(raw))
	for _, r := range raw {
		// a line without a stated confidence counts as fully trusted
		confidence := 1.0
		if r.Confidence != nil {
			confidence = clamp(*r.Confidence)
		}
		observations = append(observations, Observation{
			Text:       r.Text,
			Confidence: confidence,
		})
	}
	return observations, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

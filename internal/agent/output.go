package agent

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

// Output is the structured result every extraction agent must return.
type Output struct {
	Locations    []LocationCandidate `json:"locations" validate:"dive"`
	WasteStreams []StreamCandidate   `json:"waste_streams" validate:"dive"`
}

// LocationCandidate is a site found in the document. Ref is the agent's
// local identifier that streams point at through LocationRef.
type LocationCandidate struct {
	Ref        string   `json:"ref,omitempty"`
	Name       string   `json:"name" validate:"required"`
	City       string   `json:"city,omitempty"`
	State      string   `json:"state,omitempty"`
	Address    string   `json:"address,omitempty"`
	Confidence float64  `json:"confidence" validate:"gte=0,lte=100"`
	Evidence   []string `json:"evidence,omitempty"`
}

// StreamCandidate is one waste stream row as the agent saw it.
type StreamCandidate struct {
	Name            string         `json:"name" validate:"required"`
	Category        string         `json:"category,omitempty"`
	ProjectType     string         `json:"project_type,omitempty"`
	Description     string         `json:"description,omitempty"`
	Sector          string         `json:"sector,omitempty"`
	Subsector       string         `json:"subsector,omitempty"`
	EstimatedVolume string         `json:"estimated_volume,omitempty"`
	LocationRef     string         `json:"location_ref,omitempty"`
	Confidence      float64        `json:"confidence" validate:"gte=0,lte=100"`
	Evidence        []string       `json:"evidence,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

var outputValidator = validator.New()

// ParseOutput decodes raw model text into a validated Output. Code fences and
// prose around the JSON object are tolerated; unknown fields are not.
func ParseOutput(text string) (*Output, error) {
	body := cleanJSON(text)
	if body == "" {
		return nil, &SchemaError{Err: eris.New("agent: empty response")}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	var out Output
	if err := dec.Decode(&out); err != nil {
		return nil, &SchemaError{Err: eris.Wrap(err, "agent: decode output")}
	}
	if err := outputValidator.Struct(&out); err != nil {
		return nil, &SchemaError{Err: eris.Wrap(err, "agent: validate output")}
	}
	return &out, nil
}

// cleanJSON extracts a JSON object from text that may contain markdown code
// fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	for _, fence := range []string{"```json", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimPrefix(text, fence)
			if idx := strings.LastIndex(text, "```"); idx >= 0 {
				text = text[:idx]
			}
			break
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}

package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON strips markdown fences and any preamble the model emitted
// despite instructions, returning the raw JSON object text. Models wrap
// output in ```json fences or prepend chatter often enough that strict
// parsing alone loses good responses.
func ExtractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	if start < 0 {
		return "", fmt.Errorf("%w: no JSON object in response", ErrInvalidOutput)
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		return "", fmt.Errorf("%w: unterminated JSON object", ErrInvalidOutput)
	}
	return s[start : end+1], nil
}

// Decode turns a raw oracle response into a validated Result. Schema
// violations and unparsable responses map to ErrInvalidOutput; the pipeline
// treats those as retryable for the same paper.
func Decode(raw string) (*Result, error) {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	if err := ValidateJSONAgainstSchema(BuildExtractionJSONSchema(), []byte(doc)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	var res Result
	if err := json.Unmarshal([]byte(doc), &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if res.Species == nil {
		res.Species = []SpeciesCandidate{}
	}
	return &res, nil
}

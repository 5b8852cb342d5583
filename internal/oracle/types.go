package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrRateLimited marks provider 429 responses.
	ErrRateLimited = errors.New("rate_limited")
	// ErrInvalidOutput marks oracle responses that are not valid JSON or
	// violate the extraction schema.
	ErrInvalidOutput = errors.New("invalid oracle output")
)

// IsRateLimited reports whether err is a provider rate limit.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// IsInvalidOutput reports whether err is a malformed oracle response.
func IsInvalidOutput(err error) bool { return errors.Is(err, ErrInvalidOutput) }

// Client is one LLM provider capable of a single text completion.
type Client interface {
	Name() string
	Complete(ctx context.Context, model, system, user string) (string, error)
}

// FlexString unmarshals JSON strings and numbers alike. LLMs flip-flop
// between `"species_year": 1922` and `"species_year": "1922"`.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = ""
		return nil
	}
	if len(s) > 0 && s[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*f = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// Reference is one literature citation attached to a species entry.
type Reference struct {
	Author string     `json:"author"`
	Year   FlexString `json:"year"`
	Figure string     `json:"figure"`
}

// SpeciesCandidate is one taxonomic entry proposed by the oracle.
// Candidates without a species_name are dropped by the record store.
type SpeciesCandidate struct {
	SpeciesIndex    FlexString  `json:"species_index"`
	SpeciesName     string      `json:"species_name"`
	SpeciesAuthors  []string    `json:"species_authors"`
	SpeciesYear     FlexString  `json:"species_year"`
	References      []Reference `json:"species_references"`
	FormattedName   string      `json:"formatted_species_name"`
	Genus           string      `json:"genus"`
	Magnification   FlexString  `json:"species_magnification"`
	ScaleBarMicrons FlexString  `json:"species_scale_bar_microns"`
	Note            string      `json:"species_note"`
}

// Result is the validated shape of one oracle response. String fields are
// always present; empty means the paper did not carry that information.
type Result struct {
	FigureCaption              string             `json:"figure_caption"`
	SourceMaterialLocation     string             `json:"source_material_location"`
	SourceMaterialCoordinates  string             `json:"source_material_coordinates"`
	SourceMaterialDescription  string             `json:"source_material_description"`
	SourceMaterialReceivedFrom string             `json:"source_material_received_from"`
	SourceMaterialDateReceived string             `json:"source_material_date_received"`
	SourceMaterialNote         string             `json:"source_material_note"`
	Species                    []SpeciesCandidate `json:"diatom_species_array"`
}

// Oracle turns extracted paper text into a validated Result.
type Oracle interface {
	Infer(ctx context.Context, text string) (*Result, error)
}

package record

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(id, name string) SpeciesRecord {
	return SpeciesRecord{
		SpeciesID:        id,
		PaperURL:         "https://bucket.s3.amazonaws.com/papers/pdf/abc/plate1.pdf",
		PublicURL:        "https://bucket.s3.amazonaws.com/papers/pdf/abc/plate1.pdf",
		OriginalFilename: "plate1.pdf",
		PDFTextContent:   "Plate 1. Diatoms of the Tasman Sea.",
		ContentHash:      "abc",
		FileSHA256:       "abc",
		CitationName:     "Stidolph Diatom Atlas",
		CitationYear:     "2012",
		UploadTimestamp:  "2026-08-01T12:00:00Z",
		Processed:        true,
		ImagesInDoc: []PageImages{
			{PageIndex: 0, TotalPages: 1, HasImages: true, NumImages: 1, ImageURLs: []string{
				"https://bucket.s3.amazonaws.com/papers/abc/page_1_img_1.jpg",
			}},
		},
		PaperImageURLs: []string{
			"https://bucket.s3.amazonaws.com/papers/abc/page_1_img_1.jpg",
		},
		FigureCaption:   "Plate 1, figs 1-12",
		SpeciesIndex:    "1",
		SpeciesName:     name,
		SpeciesAuthors:  "Ehrenberg",
		SpeciesYear:     "1841",
		FormattedName:   name + " Ehrenberg 1841",
		Genus:           "Diploneis",
		Magnification:   "1000",
		ScaleBarMicrons: "10",
	}
}

func TestCSVRoundTrip(t *testing.T) {
	in := []SpeciesRecord{
		sampleRecord("id-1", "Diploneis bombus"),
		sampleRecord("id-2", "Navicula lyra"),
	}
	// field with separators and quotes must survive encoding
	in[1].FigureCaption = "Plate 2, \"figs\" 3,4\nsecond line"

	data, err := MarshalCSV(in)
	require.NoError(t, err)

	out, err := UnmarshalCSV(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

// The snapshot header is the tracker's public schema: paper-level columns
// must be present alongside the species columns.
func TestCSVHeaderCarriesPaperColumns(t *testing.T) {
	data, err := MarshalCSV(nil)
	require.NoError(t, err)

	header := strings.Split(strings.TrimSpace(string(data)), ",")
	for _, col := range []string{
		"gcp_public_url",
		"original_filename",
		"pdf_text_content",
		"upload_timestamp",
		"processed",
		"images_in_doc",
		"paper_image_urls",
		"citation_organization",
	} {
		assert.Contains(t, header, col)
	}
}

func TestCSVEmptySnapshot(t *testing.T) {
	data, err := MarshalCSV(nil)
	require.NoError(t, err)

	out, err := UnmarshalCSV(data)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestUnmarshalCSVRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "empty", data: ""},
		{name: "wrong header", data: "a,b,c\n1,2,3\n"},
		{name: "renamed column", data: func() string {
			good, _ := MarshalCSV(nil)
			return "x" + string(good[1:])
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalCSV([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

package record

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

var columns = []string{
	"gcp_public_url",
	"paper_url",
	"original_filename",
	"pdf_text_content",
	"file_256_hash",
	"content_hash",
	"citation_name",
	"citation_authors",
	"citation_year",
	"citation_organization",
	"citation_doi",
	"citation_url",
	"upload_timestamp",
	"processed",
	"images_in_doc",
	"paper_image_urls",
	"species_id",
	"species_index",
	"species_name",
	"species_authors",
	"species_year",
	"species_references",
	"formatted_species_name",
	"genus",
	"species_magnification",
	"species_scale_bar_microns",
	"species_note",
	"figure_caption",
	"source_material_location",
	"source_material_coordinates",
	"source_material_description",
	"source_material_received_from",
	"source_material_date_received",
	"source_material_note",
	"cropped_image_url",
	"embeddings_256",
	"embeddings_512",
	"embeddings_1024",
	"embeddings_2048",
	"embeddings_4096",
	"bbox_top_left_bottom_right",
	"yolo_bbox",
	"segmentation",
}

// jsonCell renders a slice-valued field as a JSON cell. Nil slices render as
// an empty JSON array so round-tripped rows compare equal.
func jsonCell(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return "[]", nil
	}
	return string(data), nil
}

func (r *SpeciesRecord) row() ([]string, error) {
	pages, err := jsonCell(r.ImagesInDoc)
	if err != nil {
		return nil, fmt.Errorf("encode images_in_doc: %w", err)
	}
	urls, err := jsonCell(r.PaperImageURLs)
	if err != nil {
		return nil, fmt.Errorf("encode paper_image_urls: %w", err)
	}
	return []string{
		r.PublicURL,
		r.PaperURL,
		r.OriginalFilename,
		r.PDFTextContent,
		r.FileSHA256,
		r.ContentHash,
		r.CitationName,
		r.CitationAuthors,
		r.CitationYear,
		r.CitationOrganization,
		r.CitationDOI,
		r.CitationURL,
		r.UploadTimestamp,
		strconv.FormatBool(r.Processed),
		pages,
		urls,
		r.SpeciesID,
		r.SpeciesIndex,
		r.SpeciesName,
		r.SpeciesAuthors,
		r.SpeciesYear,
		r.SpeciesReferences,
		r.FormattedName,
		r.Genus,
		r.Magnification,
		r.ScaleBarMicrons,
		r.SpeciesNote,
		r.FigureCaption,
		r.SourceMaterialLocation,
		r.SourceMaterialCoordinates,
		r.SourceMaterialDescription,
		r.SourceMaterialReceivedFrom,
		r.SourceMaterialDateReceived,
		r.SourceMaterialNote,
		r.CroppedImageURL,
		r.Embeddings256,
		r.Embeddings512,
		r.Embeddings1024,
		r.Embeddings2048,
		r.Embeddings4096,
		r.BBoxTLBR,
		r.YOLOBBox,
		r.Segmentation,
	}, nil
}

func fromRow(row []string) (SpeciesRecord, error) {
	if len(row) != len(columns) {
		return SpeciesRecord{}, fmt.Errorf("row has %d columns, want %d", len(row), len(columns))
	}
	processed, err := strconv.ParseBool(row[13])
	if err != nil {
		return SpeciesRecord{}, fmt.Errorf("parse processed cell: %w", err)
	}
	pages := []PageImages{}
	if err := json.Unmarshal([]byte(row[14]), &pages); err != nil {
		return SpeciesRecord{}, fmt.Errorf("parse images_in_doc cell: %w", err)
	}
	urls := []string{}
	if err := json.Unmarshal([]byte(row[15]), &urls); err != nil {
		return SpeciesRecord{}, fmt.Errorf("parse paper_image_urls cell: %w", err)
	}
	return SpeciesRecord{
		PublicURL:                  row[0],
		PaperURL:                   row[1],
		OriginalFilename:           row[2],
		PDFTextContent:             row[3],
		FileSHA256:                 row[4],
		ContentHash:                row[5],
		CitationName:               row[6],
		CitationAuthors:            row[7],
		CitationYear:               row[8],
		CitationOrganization:       row[9],
		CitationDOI:                row[10],
		CitationURL:                row[11],
		UploadTimestamp:            row[12],
		Processed:                  processed,
		ImagesInDoc:                pages,
		PaperImageURLs:             urls,
		SpeciesID:                  row[16],
		SpeciesIndex:               row[17],
		SpeciesName:                row[18],
		SpeciesAuthors:             row[19],
		SpeciesYear:                row[20],
		SpeciesReferences:          row[21],
		FormattedName:              row[22],
		Genus:                      row[23],
		Magnification:              row[24],
		ScaleBarMicrons:            row[25],
		SpeciesNote:                row[26],
		FigureCaption:              row[27],
		SourceMaterialLocation:     row[28],
		SourceMaterialCoordinates:  row[29],
		SourceMaterialDescription:  row[30],
		SourceMaterialReceivedFrom: row[31],
		SourceMaterialDateReceived: row[32],
		SourceMaterialNote:         row[33],
		CroppedImageURL:            row[34],
		Embeddings256:              row[35],
		Embeddings512:              row[36],
		Embeddings1024:             row[37],
		Embeddings2048:             row[38],
		Embeddings4096:             row[39],
		BBoxTLBR:                   row[40],
		YOLOBBox:                   row[41],
		Segmentation:               row[42],
	}, nil
}

// MarshalCSV renders the records as one CSV document with a header row.
func MarshalCSV(records []SpeciesRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, err
	}
	for i := range records {
		row, err := records[i].row()
		if err != nil {
			return nil, err
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalCSV parses a snapshot produced by MarshalCSV. The header row is
// required and must carry the expected column names in order.
func UnmarshalCSV(data []byte) ([]SpeciesRecord, error) {
	r := csv.NewReader(bytes.NewReader(data))
	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty snapshot")
	}
	if err != nil {
		return nil, err
	}
	if len(header) != len(columns) {
		return nil, fmt.Errorf("snapshot header has %d columns, want %d", len(header), len(columns))
	}
	for i, name := range header {
		if name != columns[i] {
			return nil, fmt.Errorf("snapshot column %d is %q, want %q", i, name, columns[i])
		}
	}
	var out []SpeciesRecord
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rec, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

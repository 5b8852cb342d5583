package record

// Citation describes the publication a paper came from. Fields mirror the
// tracker columns so a ledger entry can be flattened into appended rows.
type Citation struct {
	Name         string `json:"citation_name"`
	Authors      string `json:"citation_authors"`
	Year         string `json:"citation_year"`
	Organization string `json:"citation_organization"`
	DOI          string `json:"citation_doi"`
	URL          string `json:"citation_url"`
}

// DefaultCitation is applied to uploads that do not carry their own
// citation metadata.
func DefaultCitation() Citation {
	return Citation{
		Name:         "Stuart R. Stidolph Diatom Atlas",
		Authors:      "S.R. Stidolph, F.A.S. Sterrenburg, K.E.L. Smith, A. Kraberg",
		Year:         "2012",
		Organization: "U.S. Geological Survey",
		DOI:          "2012-1163",
		URL:          "http://pubs.usgs.gov/of/2012/1163/",
	}
}

// UploadLedgerEntry records one uploaded paper within a session: where the
// original bytes live, the content fingerprint and the citation supplied at
// upload time.
type UploadLedgerEntry struct {
	FileName    string   `json:"file_name"`
	PaperURL    string   `json:"paper_url"`
	ContentHash string   `json:"content_hash"`
	PageCount   int      `json:"page_count"`
	Citation    Citation `json:"citation"`
	UploadedAt  string   `json:"uploaded_at"`
	Processed   bool     `json:"processed"`
}

// PageImages describes the extracted plate images of one page. Every page of
// the paper gets an entry, with or without images, so consumers can tell an
// imageless page from a missing one.
type PageImages struct {
	PageIndex  int      `json:"page_index"`
	TotalPages int      `json:"total_pages"`
	HasImages  bool     `json:"has_images"`
	NumImages  int      `json:"num_images"`
	ImageURLs  []string `json:"image_urls"`
}

// SpeciesRecord is one row of the tracker table. Paper-level facts (file
// identity, extracted text, citation, image metadata) are denormalized onto
// every species row of the paper. Placeholder columns for downstream
// labelling and embedding stages are carried empty so the snapshot schema
// stays stable across pipeline versions.
type SpeciesRecord struct {
	PublicURL            string `json:"gcp_public_url"`
	PaperURL             string `json:"paper_url"`
	OriginalFilename     string `json:"original_filename"`
	PDFTextContent       string `json:"pdf_text_content"`
	FileSHA256           string `json:"file_256_hash"`
	ContentHash          string `json:"content_hash"`
	CitationName         string `json:"citation_name"`
	CitationAuthors      string `json:"citation_authors"`
	CitationYear         string `json:"citation_year"`
	CitationOrganization string `json:"citation_organization"`
	CitationDOI          string `json:"citation_doi"`
	CitationURL          string `json:"citation_url"`

	UploadTimestamp string       `json:"upload_timestamp"`
	Processed       bool         `json:"processed"`
	ImagesInDoc     []PageImages `json:"images_in_doc"`
	PaperImageURLs  []string     `json:"paper_image_urls"`

	SpeciesID         string `json:"species_id"`
	SpeciesIndex      string `json:"species_index"`
	SpeciesName       string `json:"species_name"`
	SpeciesAuthors    string `json:"species_authors"`
	SpeciesYear       string `json:"species_year"`
	SpeciesReferences string `json:"species_references"`
	FormattedName     string `json:"formatted_species_name"`
	Genus             string `json:"genus"`
	Magnification     string `json:"species_magnification"`
	ScaleBarMicrons   string `json:"species_scale_bar_microns"`
	SpeciesNote       string `json:"species_note"`

	FigureCaption string `json:"figure_caption"`

	SourceMaterialLocation     string `json:"source_material_location"`
	SourceMaterialCoordinates  string `json:"source_material_coordinates"`
	SourceMaterialDescription  string `json:"source_material_description"`
	SourceMaterialReceivedFrom string `json:"source_material_received_from"`
	SourceMaterialDateReceived string `json:"source_material_date_received"`
	SourceMaterialNote         string `json:"source_material_note"`

	CroppedImageURL string `json:"cropped_image_url"`
	Embeddings256   string `json:"embeddings_256"`
	Embeddings512   string `json:"embeddings_512"`
	Embeddings1024  string `json:"embeddings_1024"`
	Embeddings2048  string `json:"embeddings_2048"`
	Embeddings4096  string `json:"embeddings_4096"`
	BBoxTLBR        string `json:"bbox_top_left_bottom_right"`
	YOLOBBox        string `json:"yolo_bbox"`
	Segmentation    string `json:"segmentation"`
}

package pdf

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"
)

// ErrCorruptDocument marks byte streams that cannot be parsed as a PDF.
// Terminal for the paper; the pipeline skips it and moves on.
var ErrCorruptDocument = errors.New("corrupt document")

// Image is one embedded raster image pulled out of a page.
type Image struct {
	PageIndex int // 0-based page index
	Ordinal   int // 1-based, restarts per page
	Data      []byte
	MIMEType  string
}

// Fingerprint returns the SHA-256 hex digest of the raw file bytes. Used as
// the paper's content hash and as the storage namespace for extracted images,
// so identical bytes always land on the same paths.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Extractor pulls text and embedded images out of PDF byte streams.
// Text comes from go-fitz (MuPDF); embedded images from pdfcpu. Relaxed
// validation keeps the scanned-atlas PDFs in play.
type Extractor struct {
	conf *model.Configuration
}

// NewExtractor creates a PDF extractor.
func NewExtractor() *Extractor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Extractor{conf: conf}
}

// PageCount returns the number of pages, or ErrCorruptDocument.
func (e *Extractor) PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), e.conf)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	return n, nil
}

// ExtractText concatenates the text of every page in ascending page order,
// pages separated by a blank line. Pages with no extractable text (plates
// scanned without OCR) contribute an empty string without failing the
// document.
func (e *Extractor) ExtractText(data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	defer doc.Close()

	var result strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			log.Warn().Err(err).Int("page", i+1).Msg("failed to extract text from page")
			text = ""
		}
		if i > 0 {
			result.WriteString("\n\n")
		}
		result.WriteString(text)
	}

	text := result.String()
	log.Debug().Int("chars", len(text)).Msg("extracted text from PDF")
	return text, nil
}

// ExtractImages walks every embedded raster image in page order and calls fn
// for each. Ordinals restart at 1 per page; pages without images yield no
// calls. Returning an error from fn stops the walk.
func (e *Extractor) ExtractImages(data []byte, fn func(Image) error) error {
	pages, err := api.ExtractImagesRaw(bytes.NewReader(data), nil, e.conf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}

	for _, pageImages := range pages {
		// map is keyed by object number; sort for stable ordinals
		objNrs := make([]int, 0, len(pageImages))
		for objNr := range pageImages {
			objNrs = append(objNrs, objNr)
		}
		sort.Ints(objNrs)

		ordinal := 0
		for _, objNr := range objNrs {
			img := pageImages[objNr]
			raw, err := io.ReadAll(img)
			if err != nil {
				log.Warn().Err(err).Int("page", img.PageNr).Int("obj", objNr).Msg("failed to read embedded image")
				continue
			}
			if len(raw) == 0 {
				continue
			}
			ordinal++
			out := Image{
				PageIndex: img.PageNr - 1,
				Ordinal:   ordinal,
				Data:      raw,
				MIMEType:  sniffMIME(raw, img.FileType),
			}
			if err := fn(out); err != nil {
				return err
			}
		}
	}
	return nil
}

// sniffMIME prefers magic bytes over pdfcpu's reported file type.
func sniffMIME(data []byte, fileType string) string {
	if mt := mimetype.Detect(data); mt != nil && mt.String() != "application/octet-stream" {
		return mt.String()
	}
	switch strings.ToLower(fileType) {
	case "png":
		return "image/png"
	case "tif", "tiff":
		return "image/tiff"
	default:
		return "image/jpeg"
	}
}

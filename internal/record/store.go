package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/diatomatlas/internal/metrics"
	"github.com/local/diatomatlas/internal/oracle"
	"github.com/local/diatomatlas/internal/storage"
)

// Store accumulates tracker rows and the upload ledger for one session and
// persists both to the blob store. It is safe for concurrent use, but
// cross-process exclusion is the pipeline lock's job, not the store's.
type Store struct {
	blob         storage.Client
	snapshotRoot string
	sessionID    string
	password     string

	mu      sync.Mutex
	records []SpeciesRecord
	ledger  []UploadLedgerEntry
}

func snapshotKey(root, session string) string {
	return fmt.Sprintf("%s/%s.csv", root, session)
}

func ledgerKey(root, session string) string {
	return fmt.Sprintf("%s/%s.ledger.json", root, session)
}

// Load restores the session's tracker snapshot and upload ledger from the
// blob store. A session that has never been saved yields an empty store.
func Load(ctx context.Context, blob storage.Client, snapshotRoot, sessionID, password string) (*Store, error) {
	s := &Store{blob: blob, snapshotRoot: snapshotRoot, sessionID: sessionID, password: password}

	data, err := blob.Get(ctx, snapshotKey(snapshotRoot, sessionID))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// fresh session
	case err != nil:
		return nil, fmt.Errorf("load snapshot: %w", err)
	default:
		if storage.IsSealed(data) {
			data, err = storage.Open(data, password)
			if err != nil {
				return nil, fmt.Errorf("decrypt snapshot: %w", err)
			}
		}
		s.records, err = UnmarshalCSV(data)
		if err != nil {
			return nil, fmt.Errorf("parse snapshot: %w", err)
		}
	}

	raw, err := blob.Get(ctx, ledgerKey(snapshotRoot, sessionID))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// no uploads yet
	case err != nil:
		return nil, fmt.Errorf("load ledger: %w", err)
	default:
		if err := json.Unmarshal(raw, &s.ledger); err != nil {
			return nil, fmt.Errorf("parse ledger: %w", err)
		}
	}

	log.Debug().Str("session", sessionID).
		Int("records", len(s.records)).
		Int("papers", len(s.ledger)).
		Msg("tracker session loaded")
	return s, nil
}

// NewEmpty builds a store that starts from scratch without reading the blob
// store. Used in tests and for brand-new sessions.
func NewEmpty(blob storage.Client, snapshotRoot, sessionID, password string) *Store {
	return &Store{blob: blob, snapshotRoot: snapshotRoot, sessionID: sessionID, password: password}
}

// Ledger returns a copy of the upload ledger in upload order.
func (s *Store) Ledger() []UploadLedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UploadLedgerEntry, len(s.ledger))
	copy(out, s.ledger)
	return out
}

// Records returns a copy of all tracker rows.
func (s *Store) Records() []SpeciesRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SpeciesRecord, len(s.records))
	copy(out, s.records)
	return out
}

// LedgerEntry returns the entry at index, or false when out of range.
func (s *Store) LedgerEntry(index int) (UploadLedgerEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.ledger) {
		return UploadLedgerEntry{}, false
	}
	return s.ledger[index], true
}

// LedgerLen returns the number of uploaded papers in the session.
func (s *Store) LedgerLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ledger)
}

// AddLedgerEntry appends one uploaded paper to the session ledger. Re-uploads
// of the same content hash are rejected so a paper cannot enter the queue
// twice.
func (s *Store) AddLedgerEntry(e UploadLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.ledger {
		if s.ledger[i].ContentHash == e.ContentHash {
			return fmt.Errorf("paper with hash %s already uploaded as %s", e.ContentHash, s.ledger[i].FileName)
		}
	}
	if e.UploadedAt == "" {
		e.UploadedAt = time.Now().UTC().Format(time.RFC3339)
	}
	s.ledger = append(s.ledger, e)
	return nil
}

// HasRowsFor reports whether any tracker row references the paper URL.
func (s *Store) HasRowsFor(paperURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasRowsLocked(paperURL)
}

func (s *Store) hasRowsLocked(paperURL string) bool {
	for i := range s.records {
		if s.records[i].PaperURL == paperURL {
			return true
		}
	}
	return false
}

func joinReferences(refs []oracle.Reference) string {
	parts := make([]string, 0, len(refs))
	for _, r := range refs {
		seg := r.Author
		if y := r.Year.String(); y != "" {
			seg += " (" + y + ")"
		}
		if r.Figure != "" {
			seg += " fig. " + r.Figure
		}
		if strings.TrimSpace(seg) != "" {
			parts = append(parts, strings.TrimSpace(seg))
		}
	}
	return strings.Join(parts, "; ")
}

// AppendSpeciesRecords flattens one oracle result for a paper into tracker
// rows. Paper-level facts (extracted text, per-page image metadata, citation,
// upload timestamp) are denormalized onto every row. Candidates without a
// species name are dropped. If the paper already has rows the call is a
// no-op, which makes a retried pipeline step idempotent. Returns the number
// of rows actually appended.
func (s *Store) AppendSpeciesRecords(entry UploadLedgerEntry, res *oracle.Result, text string, pages []PageImages, imageURLs []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasRowsLocked(entry.PaperURL) {
		log.Debug().Str("paper_url", entry.PaperURL).Msg("rows already present, skipping append")
		return 0
	}

	appended := 0
	for _, sp := range res.Species {
		if strings.TrimSpace(sp.SpeciesName) == "" {
			metrics.CandidateDropped()
			log.Warn().Str("paper_url", entry.PaperURL).Msg("dropping species candidate without name")
			continue
		}
		rec := SpeciesRecord{
			SpeciesID:        uuid.NewString(),
			PaperURL:         entry.PaperURL,
			PublicURL:        entry.PaperURL,
			OriginalFilename: entry.FileName,
			PDFTextContent:   text,
			ContentHash:      entry.ContentHash,
			FileSHA256:       entry.ContentHash,
			UploadTimestamp:  entry.UploadedAt,
			Processed:        true,
			ImagesInDoc:      pages,
			PaperImageURLs:   imageURLs,

			CitationName:         entry.Citation.Name,
			CitationAuthors:      entry.Citation.Authors,
			CitationYear:         entry.Citation.Year,
			CitationOrganization: entry.Citation.Organization,
			CitationDOI:          entry.Citation.DOI,
			CitationURL:          entry.Citation.URL,

			FigureCaption: res.FigureCaption,

			SourceMaterialLocation:     res.SourceMaterialLocation,
			SourceMaterialCoordinates:  res.SourceMaterialCoordinates,
			SourceMaterialDescription:  res.SourceMaterialDescription,
			SourceMaterialReceivedFrom: res.SourceMaterialReceivedFrom,
			SourceMaterialDateReceived: res.SourceMaterialDateReceived,
			SourceMaterialNote:         res.SourceMaterialNote,

			SpeciesIndex:      sp.SpeciesIndex.String(),
			SpeciesName:       sp.SpeciesName,
			SpeciesAuthors:    strings.Join(sp.SpeciesAuthors, "; "),
			SpeciesYear:       sp.SpeciesYear.String(),
			SpeciesReferences: joinReferences(sp.References),
			FormattedName:     sp.FormattedName,
			Genus:             sp.Genus,
			Magnification:     sp.Magnification.String(),
			ScaleBarMicrons:   sp.ScaleBarMicrons.String(),
			SpeciesNote:       sp.Note,
		}
		s.records = append(s.records, rec)
		appended++
	}
	if appended > 0 {
		metrics.SpeciesAppended(appended)
	}
	return appended
}

// MarkProcessed flags the ledger entry for contentHash. Marking an already
// processed entry is a no-op.
func (s *Store) MarkProcessed(contentHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.ledger {
		if s.ledger[i].ContentHash == contentHash {
			s.ledger[i].Processed = true
			return
		}
	}
}

// Save writes the full tracker snapshot (CSV) and the upload ledger (JSON)
// back to the blob store and returns the snapshot's public URL. The snapshot
// is sealed with AES-GCM when the session has a password.
func (s *Store) Save(ctx context.Context) (string, error) {
	s.mu.Lock()
	csvData, err := MarshalCSV(s.records)
	ledgerData, jerr := json.MarshalIndent(s.ledger, "", "  ")
	rows := len(s.records)
	s.mu.Unlock()
	if err != nil {
		metrics.SnapshotSaved("error")
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if jerr != nil {
		metrics.SnapshotSaved("error")
		return "", fmt.Errorf("encode ledger: %w", jerr)
	}

	contentType := "text/csv"
	if s.password != "" {
		csvData, err = storage.Seal(csvData, s.password)
		if err != nil {
			metrics.SnapshotSaved("error")
			return "", fmt.Errorf("encrypt snapshot: %w", err)
		}
		contentType = "application/octet-stream"
	}

	snapshotURL, err := s.blob.Put(ctx, snapshotKey(s.snapshotRoot, s.sessionID), csvData, contentType)
	if err != nil {
		metrics.SnapshotSaved("error")
		return "", fmt.Errorf("store snapshot: %w", err)
	}
	if _, err := s.blob.Put(ctx, ledgerKey(s.snapshotRoot, s.sessionID), ledgerData, "application/json"); err != nil {
		metrics.SnapshotSaved("error")
		return "", fmt.Errorf("store ledger: %w", err)
	}

	metrics.SnapshotSaved("ok")
	log.Info().Str("session", s.sessionID).Int("rows", rows).Msg("tracker snapshot saved")
	return snapshotURL, nil
}

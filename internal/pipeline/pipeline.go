package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/diatomatlas/internal/metrics"
	"github.com/local/diatomatlas/internal/oracle"
	"github.com/local/diatomatlas/internal/pdf"
	"github.com/local/diatomatlas/internal/record"
	"github.com/local/diatomatlas/internal/status"
	"github.com/local/diatomatlas/internal/storage"
)

// Outcome classifies one step of the paper-processing loop.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed" // rows appended, snapshot saved
	OutcomeSkipped   Outcome = "skipped"   // paper already processed
	OutcomeNoSpecies Outcome = "no_species" // valid oracle output, zero usable candidates
	OutcomeCorrupt   Outcome = "corrupt"   // unreadable document, move past it
	OutcomeRetryable Outcome = "retryable" // transient failure, same index should be retried
	OutcomeDone      Outcome = "done"      // no paper at this index
)

// StepResult reports what one Advance call did and where the driver should
// point next.
type StepResult struct {
	Outcome       Outcome        `json:"outcome"`
	Index         int            `json:"index"`
	NextIndex     int            `json:"next_index"`
	Total         int            `json:"total"`
	Done          bool           `json:"done"`
	PaperURL      string         `json:"paper_url,omitempty"`
	ContentHash   string         `json:"content_hash,omitempty"`
	RowsAppended  int            `json:"rows_appended"`
	ImageCount    int            `json:"image_count"`
	ExtractedText string         `json:"extracted_text,omitempty"`
	OracleOutput  *oracle.Result `json:"oracle_output,omitempty"`
	SnapshotURL   string         `json:"record_snapshot_url,omitempty"`
	Message       string         `json:"message,omitempty"`
}

// Extractor is the document-processing surface the pipeline needs. The
// production implementation is pdf.Extractor.
type Extractor interface {
	PageCount(data []byte) (int, error)
	ExtractText(data []byte) (string, error)
	ExtractImages(data []byte, fn func(pdf.Image) error) error
}

// Pipeline drives one session of the atlas extraction loop: fetch the next
// unprocessed paper, pull its text and plate images, ask the oracle for
// species entries, fold them into the tracker and persist the snapshot.
// It holds no session state between calls: every operation reloads the
// snapshot and ledger from the blob store, so any instance can serve any
// step as long as the session lock is respected.
type Pipeline struct {
	blob         storage.Client
	extractor    Extractor
	oracle       oracle.Oracle
	steps        status.Store
	locker       status.Locker
	papersRoot   string
	snapshotRoot string
	sessionID    string
	password     string
}

type Options struct {
	Blob         storage.Client
	Extractor    Extractor
	Oracle       oracle.Oracle
	Steps        status.Store // optional
	Locker       status.Locker
	PapersRoot   string
	SnapshotRoot string
	SessionID    string
	Password     string // non-empty seals snapshots
}

func New(opts Options) *Pipeline {
	if opts.Locker == nil {
		opts.Locker = status.NewLocalLocker()
	}
	return &Pipeline{
		blob:         opts.Blob,
		extractor:    opts.Extractor,
		oracle:       opts.Oracle,
		steps:        opts.Steps,
		locker:       opts.Locker,
		papersRoot:   strings.Trim(opts.PapersRoot, "/"),
		snapshotRoot: strings.Trim(opts.SnapshotRoot, "/"),
		sessionID:    opts.SessionID,
		password:     opts.Password,
	}
}

func (p *Pipeline) loadStore(ctx context.Context) (*record.Store, error) {
	return record.Load(ctx, p.blob, p.snapshotRoot, p.sessionID, p.password)
}

func (p *Pipeline) pdfKey(contentHash, fileName string) string {
	return fmt.Sprintf("%s/pdf/%s/%s", p.papersRoot, contentHash, fileName)
}

func (p *Pipeline) imageKey(contentHash string, pageIndex, ordinal int, mimeType string) string {
	ext := ".jpg"
	switch mimeType {
	case "image/png":
		ext = ".png"
	case "image/tiff":
		ext = ".tiff"
	}
	return fmt.Sprintf("%s/%s/page_%d_img_%d%s", p.papersRoot, contentHash, pageIndex+1, ordinal, ext)
}

// Upload validates and stores one PDF, appends it to the session ledger and
// persists the ledger. The returned entry carries the blob URL used as the
// paper's identity in tracker rows.
func (p *Pipeline) Upload(ctx context.Context, fileName string, data []byte, cit record.Citation) (record.UploadLedgerEntry, error) {
	if len(data) == 0 {
		return record.UploadLedgerEntry{}, errors.New("empty upload")
	}

	release, err := p.locker.Acquire(ctx, p.sessionID)
	if err != nil {
		return record.UploadLedgerEntry{}, err
	}
	defer release()

	store, err := p.loadStore(ctx)
	if err != nil {
		return record.UploadLedgerEntry{}, err
	}

	hash := pdf.Fingerprint(data)

	pages, err := p.extractor.PageCount(data)
	if err != nil {
		return record.UploadLedgerEntry{}, fmt.Errorf("not a readable PDF: %w", err)
	}

	if fileName == "" {
		fileName = hash + ".pdf"
	}
	fileName = path.Base(fileName)

	if (cit == record.Citation{}) {
		cit = record.DefaultCitation()
	}

	key := p.pdfKey(hash, fileName)
	url, err := p.blob.Put(ctx, key, data, "application/pdf")
	if err != nil {
		return record.UploadLedgerEntry{}, fmt.Errorf("store pdf: %w", err)
	}

	entry := record.UploadLedgerEntry{
		FileName:    fileName,
		PaperURL:    url,
		ContentHash: hash,
		PageCount:   pages,
		Citation:    cit,
		UploadedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := store.AddLedgerEntry(entry); err != nil {
		return record.UploadLedgerEntry{}, err
	}
	if _, err := store.Save(ctx); err != nil {
		return record.UploadLedgerEntry{}, err
	}

	log.Info().Str("file", fileName).Str("hash", hash).Int("pages", pages).Msg("paper uploaded")
	return entry, nil
}

func (p *Pipeline) setStep(ctx context.Context, st status.Step) {
	if p.steps == nil {
		return
	}
	if err := p.steps.Set(ctx, p.sessionID, st); err != nil {
		log.Warn().Err(err).Msg("step status update failed")
	}
}

// Advance runs the extraction step for the paper at index. The caller owns
// the cursor: a result with NextIndex == Index means retry, NextIndex ==
// Index+1 means move on. Calling Advance at or past the ledger end reports
// Done.
func (p *Pipeline) Advance(ctx context.Context, index int) (StepResult, error) {
	release, err := p.locker.Acquire(ctx, p.sessionID)
	if err != nil {
		return StepResult{Outcome: OutcomeRetryable, Index: index, NextIndex: index, Message: err.Error()}, err
	}
	defer release()

	store, err := p.loadStore(ctx)
	if err != nil {
		return StepResult{Outcome: OutcomeRetryable, Index: index, NextIndex: index, Message: err.Error()}, err
	}

	if index < 0 {
		index = 0
	}
	total := store.LedgerLen()
	if index >= total {
		res := StepResult{Outcome: OutcomeDone, Index: index, NextIndex: index, Total: total, Done: true, Message: "all papers processed"}
		p.setStep(ctx, status.Step{State: "done", Index: index, Message: res.Message})
		return res, nil
	}

	entry, _ := store.LedgerEntry(index)
	if entry.Processed {
		return StepResult{
			Outcome: OutcomeSkipped, Index: index, NextIndex: index + 1, Total: total,
			PaperURL: entry.PaperURL, ContentHash: entry.ContentHash,
			Message: "already processed",
		}, nil
	}

	start := time.Now()
	p.setStep(ctx, status.Step{State: "processing", Index: index, Message: entry.FileName, Start: &start})

	res, err := p.processPaper(ctx, store, index, entry)
	res.Total = total

	end := time.Now()
	switch res.Outcome {
	case OutcomeProcessed, OutcomeNoSpecies, OutcomeCorrupt:
		p.setStep(ctx, status.Step{State: "idle", Index: res.NextIndex, Message: res.Message, End: &end})
	case OutcomeRetryable:
		p.setStep(ctx, status.Step{State: "error", Index: index, Message: res.Message, End: &end})
	}
	return res, err
}

func (p *Pipeline) processPaper(ctx context.Context, store *record.Store, index int, entry record.UploadLedgerEntry) (StepResult, error) {
	res := StepResult{Index: index, PaperURL: entry.PaperURL, ContentHash: entry.ContentHash}

	data, err := p.blob.Get(ctx, p.pdfKey(entry.ContentHash, entry.FileName))
	if err != nil {
		res.Outcome, res.NextIndex, res.Message = OutcomeRetryable, index, "fetch pdf: "+err.Error()
		metrics.PaperProcessed("storage_error")
		return res, err
	}

	if got := pdf.Fingerprint(data); got != entry.ContentHash {
		// stored object no longer matches the ledger; not recoverable by retry
		res.Outcome, res.NextIndex = OutcomeCorrupt, index+1
		res.Message = fmt.Sprintf("fingerprint mismatch: ledger %s, object %s", entry.ContentHash, got)
		metrics.PaperProcessed("corrupt")
		log.Error().Str("file", entry.FileName).Msg(res.Message)
		return res, nil
	}

	text, err := p.extractor.ExtractText(data)
	if err != nil {
		if errors.Is(err, pdf.ErrCorruptDocument) {
			res.Outcome, res.NextIndex, res.Message = OutcomeCorrupt, index+1, err.Error()
			metrics.PaperProcessed("corrupt")
			log.Error().Err(err).Str("file", entry.FileName).Msg("unreadable document, skipping")
			return res, nil
		}
		res.Outcome, res.NextIndex, res.Message = OutcomeRetryable, index, err.Error()
		metrics.PaperProcessed("error")
		return res, err
	}
	res.ExtractedText = text

	pages, imageURLs, err := p.uploadImages(ctx, entry, data)
	if err != nil {
		res.Outcome, res.NextIndex, res.Message = OutcomeRetryable, index, "upload images: "+err.Error()
		metrics.PaperProcessed("storage_error")
		return res, err
	}
	res.ImageCount = len(imageURLs)

	inferred, err := p.oracle.Infer(ctx, text)
	if err != nil {
		// invalid output and transport failures both leave the cursor put;
		// nothing was appended so the retry is safe
		res.Outcome, res.NextIndex, res.Message = OutcomeRetryable, index, err.Error()
		if oracle.IsInvalidOutput(err) {
			metrics.PaperProcessed("invalid_oracle_output")
		} else {
			metrics.PaperProcessed("oracle_error")
		}
		return res, err
	}
	res.OracleOutput = inferred

	appended := store.AppendSpeciesRecords(entry, inferred, text, pages, imageURLs)
	res.RowsAppended = appended

	if appended > 0 {
		store.MarkProcessed(entry.ContentHash)
		res.Outcome = OutcomeProcessed
		res.Message = fmt.Sprintf("%d species recorded", appended)
		metrics.PaperProcessed("ok")
	} else {
		// the paper stays unprocessed so a later oracle run can try again
		res.Outcome = OutcomeNoSpecies
		res.Message = "oracle found no usable species entries"
		metrics.PaperProcessed("no_species")
	}
	res.NextIndex = index + 1

	snapshotURL, err := store.Save(ctx)
	if err != nil {
		res.Outcome, res.NextIndex, res.Message = OutcomeRetryable, index, "save snapshot: "+err.Error()
		return res, err
	}
	res.SnapshotURL = snapshotURL

	log.Info().Str("file", entry.FileName).
		Int("rows", appended).
		Int("images", res.ImageCount).
		Str("outcome", string(res.Outcome)).
		Msg("pipeline step finished")
	return res, nil
}

// uploadImages stores every embedded plate image and reports per-page image
// metadata plus the flat list of stored image URLs, in page then ordinal
// order. Every page of the paper gets a metadata entry even when it carries
// no images.
func (p *Pipeline) uploadImages(ctx context.Context, entry record.UploadLedgerEntry, data []byte) ([]record.PageImages, []string, error) {
	byPage := make(map[int][]string)
	err := p.extractor.ExtractImages(data, func(img pdf.Image) error {
		key := p.imageKey(entry.ContentHash, img.PageIndex, img.Ordinal, img.MIMEType)
		url, err := p.blob.Put(ctx, key, img.Data, img.MIMEType)
		if err != nil {
			return err
		}
		metrics.ImageUploaded()
		byPage[img.PageIndex] = append(byPage[img.PageIndex], url)
		return nil
	})
	if err != nil && !errors.Is(err, pdf.ErrCorruptDocument) {
		return nil, nil, err
	}
	if errors.Is(err, pdf.ErrCorruptDocument) {
		// text extraction already succeeded; record the pages without plates
		log.Warn().Str("hash", entry.ContentHash).Msg("image extraction failed, continuing without plates")
	}

	pages := make([]record.PageImages, 0, entry.PageCount)
	all := []string{}
	for i := 0; i < entry.PageCount; i++ {
		urls := byPage[i]
		if urls == nil {
			urls = []string{}
		}
		pages = append(pages, record.PageImages{
			PageIndex:  i,
			TotalPages: entry.PageCount,
			HasImages:  len(urls) > 0,
			NumImages:  len(urls),
			ImageURLs:  urls,
		})
		all = append(all, urls...)
	}
	return pages, all, nil
}

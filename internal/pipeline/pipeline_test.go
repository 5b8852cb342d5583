package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/diatomatlas/internal/oracle"
	"github.com/local/diatomatlas/internal/pdf"
	"github.com/local/diatomatlas/internal/record"
	"github.com/local/diatomatlas/internal/status"
	"github.com/local/diatomatlas/internal/storage"
)

type stubExtractor struct {
	pages   int
	text    string
	textErr error
	images  []pdf.Image
	imgErr  error
}

func (s *stubExtractor) PageCount([]byte) (int, error) {
	if s.pages == 0 {
		return 1, nil
	}
	return s.pages, nil
}

func (s *stubExtractor) ExtractText([]byte) (string, error) {
	if s.textErr != nil {
		return "", s.textErr
	}
	return s.text, nil
}

func (s *stubExtractor) ExtractImages(_ []byte, fn func(pdf.Image) error) error {
	if s.imgErr != nil {
		return s.imgErr
	}
	for _, img := range s.images {
		if err := fn(img); err != nil {
			return err
		}
	}
	return nil
}

type stubOracle struct {
	res   *oracle.Result
	err   error
	calls int
}

func (s *stubOracle) Infer(context.Context, string) (*oracle.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.res, nil
}

func speciesResult(names ...string) *oracle.Result {
	res := &oracle.Result{FigureCaption: "Plate 1", Species: []oracle.SpeciesCandidate{}}
	for i, n := range names {
		res.Species = append(res.Species, oracle.SpeciesCandidate{
			SpeciesIndex: oracle.FlexString(fmt.Sprintf("%d", i+1)),
			SpeciesName:  n,
		})
	}
	return res
}

type fixture struct {
	blob *storage.Memory
	orc  *stubOracle
	ext  *stubExtractor
	pipe *Pipeline
}

func newFixture(t *testing.T, ext *stubExtractor, orc *stubOracle) *fixture {
	t.Helper()
	blob := storage.NewMemory()
	pipe := New(Options{
		Blob:         blob,
		Extractor:    ext,
		Oracle:       orc,
		Locker:       status.NewLocalLocker(),
		PapersRoot:   "papers",
		SnapshotRoot: "trackers",
		SessionID:    "test-session",
	})
	return &fixture{blob: blob, orc: orc, ext: ext, pipe: pipe}
}

// loadSession re-reads the persisted session state the way a fresh pipeline
// instance would.
func (f *fixture) loadSession(t *testing.T) *record.Store {
	t.Helper()
	store, err := record.Load(context.Background(), f.blob, "trackers", "test-session", "")
	require.NoError(t, err)
	return store
}

var pdfBytes = []byte("%PDF-1.4 fake but fingerprintable body")

func TestUploadThenAdvance(t *testing.T) {
	ctx := context.Background()
	ext := &stubExtractor{
		pages: 3,
		text:  "Diploneis bombus, Cook Strait sample",
		images: []pdf.Image{
			{PageIndex: 0, Ordinal: 1, Data: []byte{0xff, 0xd8}, MIMEType: "image/jpeg"},
			{PageIndex: 2, Ordinal: 1, Data: []byte{0xff, 0xd8}, MIMEType: "image/jpeg"},
		},
	}
	f := newFixture(t, ext, &stubOracle{res: speciesResult("Diploneis bombus", "Navicula lyra")})

	entry, err := f.pipe.Upload(ctx, "atlas.pdf", pdfBytes, record.Citation{})
	require.NoError(t, err)
	hash := pdf.Fingerprint(pdfBytes)
	assert.Equal(t, hash, entry.ContentHash)
	assert.Equal(t, 3, entry.PageCount)
	assert.Equal(t, record.DefaultCitation(), entry.Citation)

	// pdf stored under its content hash
	_, err = f.blob.Get(ctx, "papers/pdf/"+hash+"/atlas.pdf")
	require.NoError(t, err)

	res, err := f.pipe.Advance(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, 1, res.NextIndex)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 2, res.RowsAppended)
	assert.Equal(t, 2, res.ImageCount)
	assert.Equal(t, ext.text, res.ExtractedText)
	require.NotNil(t, res.OracleOutput)
	assert.Len(t, res.OracleOutput.Species, 2)
	assert.Equal(t, f.blob.URL("trackers/test-session.csv"), res.SnapshotURL)

	// plate images live under the paper's hash with page and ordinal
	_, err = f.blob.Get(ctx, "papers/"+hash+"/page_1_img_1.jpg")
	assert.NoError(t, err)
	_, err = f.blob.Get(ctx, "papers/"+hash+"/page_3_img_1.jpg")
	assert.NoError(t, err)

	store := f.loadSession(t)
	got, ok := store.LedgerEntry(0)
	require.True(t, ok)
	assert.True(t, got.Processed)

	// snapshot persisted and parseable
	snap, err := f.blob.Get(ctx, "trackers/test-session.csv")
	require.NoError(t, err)
	rows, err := record.UnmarshalCSV(snap)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, entry.PaperURL, rows[0].PaperURL)

	// paper facts denormalized onto every row
	assert.Equal(t, "atlas.pdf", rows[0].OriginalFilename)
	assert.Equal(t, ext.text, rows[0].PDFTextContent)
	assert.Equal(t, entry.UploadedAt, rows[0].UploadTimestamp)
	assert.True(t, rows[0].Processed)
	assert.Equal(t, []string{
		f.blob.URL("papers/" + hash + "/page_1_img_1.jpg"),
		f.blob.URL("papers/" + hash + "/page_3_img_1.jpg"),
	}, rows[1].PaperImageURLs)

	// one metadata entry per page, with or without images
	require.Len(t, rows[0].ImagesInDoc, 3)
	assert.Equal(t, 1, rows[0].ImagesInDoc[0].NumImages)
	assert.False(t, rows[0].ImagesInDoc[1].HasImages)
	assert.True(t, rows[0].ImagesInDoc[2].HasImages)
	assert.Equal(t, 3, rows[0].ImagesInDoc[2].TotalPages)
}

func TestAdvancePastEndIsDone(t *testing.T) {
	f := newFixture(t, &stubExtractor{}, &stubOracle{res: speciesResult()})
	res, err := f.pipe.Advance(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, res.Outcome)
	assert.True(t, res.Done)
}

func TestAdvanceSkipsProcessedPaper(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubExtractor{text: "text"}, &stubOracle{res: speciesResult("Navicula lyra")})

	_, err := f.pipe.Upload(ctx, "a.pdf", pdfBytes, record.Citation{})
	require.NoError(t, err)

	// first pass processes the paper, second pass must skip it
	_, err = f.pipe.Advance(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, f.orc.calls)

	res, err := f.pipe.Advance(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, 1, res.NextIndex)
	assert.Equal(t, 1, f.orc.calls)
	assert.Len(t, f.loadSession(t).Records(), 1)
}

func TestOracleFailureLeavesCursor(t *testing.T) {
	ctx := context.Background()
	orc := &stubOracle{err: fmt.Errorf("%w: gibberish", oracle.ErrInvalidOutput)}
	f := newFixture(t, &stubExtractor{text: "text"}, orc)

	_, err := f.pipe.Upload(ctx, "a.pdf", pdfBytes, record.Citation{})
	require.NoError(t, err)

	res, err := f.pipe.Advance(ctx, 0)
	require.Error(t, err)
	assert.Equal(t, OutcomeRetryable, res.Outcome)
	assert.Equal(t, 0, res.NextIndex)
	assert.Empty(t, f.loadSession(t).Records())

	// retry after the oracle recovers appends exactly one set of rows
	orc.err = nil
	orc.res = speciesResult("Diploneis bombus")
	res, err = f.pipe.Advance(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Len(t, f.loadSession(t).Records(), 1)
}

func TestCorruptDocumentIsSkippedForward(t *testing.T) {
	ctx := context.Background()
	ext := &stubExtractor{textErr: fmt.Errorf("%w: broken xref", pdf.ErrCorruptDocument)}
	f := newFixture(t, ext, &stubOracle{res: speciesResult("x")})

	_, err := f.pipe.Upload(ctx, "broken.pdf", pdfBytes, record.Citation{})
	require.NoError(t, err)

	res, err := f.pipe.Advance(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCorrupt, res.Outcome)
	assert.Equal(t, 1, res.NextIndex)
	assert.Equal(t, 0, f.orc.calls)

	store := f.loadSession(t)
	assert.Empty(t, store.Records())
	entry, _ := store.LedgerEntry(0)
	assert.False(t, entry.Processed)
}

func TestNoSpeciesLeavesPaperUnprocessed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubExtractor{text: "no diatoms here"}, &stubOracle{res: speciesResult()})

	_, err := f.pipe.Upload(ctx, "empty.pdf", pdfBytes, record.Citation{})
	require.NoError(t, err)

	res, err := f.pipe.Advance(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoSpecies, res.Outcome)
	assert.Equal(t, 1, res.NextIndex)

	store := f.loadSession(t)
	assert.Empty(t, store.Records())
	entry, _ := store.LedgerEntry(0)
	assert.False(t, entry.Processed)
}

func TestImageExtractionFailureIsTolerated(t *testing.T) {
	ctx := context.Background()
	ext := &stubExtractor{
		text:   "text ok",
		imgErr: fmt.Errorf("%w: image streams unreadable", pdf.ErrCorruptDocument),
	}
	f := newFixture(t, ext, &stubOracle{res: speciesResult("Navicula lyra")})

	_, err := f.pipe.Upload(ctx, "a.pdf", pdfBytes, record.Citation{})
	require.NoError(t, err)

	res, err := f.pipe.Advance(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, 0, res.ImageCount)
}

func TestAdvanceRefusedWhileLocked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubExtractor{text: "t"}, &stubOracle{res: speciesResult("x")})

	_, err := f.pipe.Upload(ctx, "a.pdf", pdfBytes, record.Citation{})
	require.NoError(t, err)

	release, err := f.pipe.locker.Acquire(ctx, "test-session")
	require.NoError(t, err)

	_, err = f.pipe.Advance(ctx, 0)
	assert.ErrorIs(t, err, status.ErrLocked)
	assert.Empty(t, f.loadSession(t).Records())

	release()
	res, err := f.pipe.Advance(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
}

// Two stores loaded from the same snapshot each hold a full copy of the
// rows, so without exclusion the later Save wins wholesale and silently
// drops the other writer's rows.
func TestInterleavedSavesLoseRows(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()

	first, err := record.Load(ctx, mem, "trackers", "test-session", "")
	require.NoError(t, err)
	second, err := record.Load(ctx, mem, "trackers", "test-session", "")
	require.NoError(t, err)

	entryA := record.UploadLedgerEntry{
		FileName: "a.pdf", PaperURL: "mem://bucket/papers/pdf/aaa/a.pdf",
		ContentHash: "aaa", PageCount: 1, Citation: record.DefaultCitation(),
	}
	entryB := record.UploadLedgerEntry{
		FileName: "b.pdf", PaperURL: "mem://bucket/papers/pdf/bbb/b.pdf",
		ContentHash: "bbb", PageCount: 1, Citation: record.DefaultCitation(),
	}
	require.NoError(t, first.AddLedgerEntry(entryA))
	require.NoError(t, second.AddLedgerEntry(entryB))
	first.AppendSpeciesRecords(entryA, speciesResult("Diploneis bombus"), "text", []record.PageImages{}, []string{})
	second.AppendSpeciesRecords(entryB, speciesResult("Navicula lyra"), "text", []record.PageImages{}, []string{})

	_, err = first.Save(ctx)
	require.NoError(t, err)
	_, err = second.Save(ctx)
	require.NoError(t, err)

	// the second writer never saw the first writer's rows, so its snapshot
	// clobbered them
	loaded, err := record.Load(ctx, mem, "trackers", "test-session", "")
	require.NoError(t, err)
	require.Len(t, loaded.Records(), 1)
	assert.Equal(t, "Navicula lyra", loaded.Records()[0].SpeciesName)
}

// The session lock closes the window above: a pipeline instance cannot even
// begin its read-modify-write while another holds the session, so it always
// reloads a snapshot that includes every earlier writer's rows.
func TestSessionLockPreventsLostUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubExtractor{text: "t"}, &stubOracle{res: speciesResult("Diploneis bombus")})

	_, err := f.pipe.Upload(ctx, "a.pdf", pdfBytes, record.Citation{})
	require.NoError(t, err)
	_, err = f.pipe.Advance(ctx, 0)
	require.NoError(t, err)

	other := New(Options{
		Blob:         f.blob,
		Extractor:    f.ext,
		Oracle:       f.orc,
		Locker:       f.pipe.locker,
		PapersRoot:   "papers",
		SnapshotRoot: "trackers",
		SessionID:    "test-session",
	})

	release, err := f.pipe.locker.Acquire(ctx, "test-session")
	require.NoError(t, err)
	_, err = other.Upload(ctx, "b.pdf", []byte("%PDF-1.4 other body"), record.Citation{})
	assert.ErrorIs(t, err, status.ErrLocked)
	release()

	_, err = other.Upload(ctx, "b.pdf", []byte("%PDF-1.4 other body"), record.Citation{})
	require.NoError(t, err)

	// the second instance saved on top of a fresh snapshot, so the rows from
	// the first instance's step survive
	store := f.loadSession(t)
	assert.Equal(t, 2, store.LedgerLen())
	assert.Len(t, store.Records(), 1)
}

func TestUploadRejectsDuplicateContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubExtractor{}, &stubOracle{res: speciesResult()})

	_, err := f.pipe.Upload(ctx, "a.pdf", pdfBytes, record.Citation{})
	require.NoError(t, err)
	_, err = f.pipe.Upload(ctx, "b.pdf", pdfBytes, record.Citation{})
	assert.Error(t, err)
	assert.Equal(t, 1, f.loadSession(t).LedgerLen())
}

func TestUploadKeepsProvidedCitation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubExtractor{}, &stubOracle{res: speciesResult()})

	cit := record.Citation{Name: "Hustedt 1930", Authors: "Hustedt, F.", Year: "1930"}
	entry, err := f.pipe.Upload(ctx, "h.pdf", pdfBytes, cit)
	require.NoError(t, err)
	assert.Equal(t, cit, entry.Citation)
}

func TestStorageFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubExtractor{text: "t"}, &stubOracle{res: speciesResult("x")})

	entry, err := f.pipe.Upload(ctx, "a.pdf", pdfBytes, record.Citation{})
	require.NoError(t, err)

	// simulate the object disappearing between upload and processing
	f.blob.Delete(ctx, "papers/pdf/"+entry.ContentHash+"/a.pdf")

	res, err := f.pipe.Advance(ctx, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.Equal(t, OutcomeRetryable, res.Outcome)
	assert.Equal(t, 0, res.NextIndex)
}

func TestSecondInstancePicksUpSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubExtractor{text: "t"}, &stubOracle{res: speciesResult("Diploneis bombus")})

	_, err := f.pipe.Upload(ctx, "a.pdf", pdfBytes, record.Citation{})
	require.NoError(t, err)

	// a different pipeline instance over the same blob store sees the upload
	other := New(Options{
		Blob:         f.blob,
		Extractor:    f.ext,
		Oracle:       f.orc,
		Locker:       status.NewLocalLocker(),
		PapersRoot:   "papers",
		SnapshotRoot: "trackers",
		SessionID:    "test-session",
	})
	res, err := other.Advance(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Len(t, f.loadSession(t).Records(), 1)
}

package pipeline

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/diatomatlas/internal/filetype"
	"github.com/local/diatomatlas/internal/record"
	"github.com/local/diatomatlas/internal/status"
)

// RegisterRoutes wires the pipeline API onto mux.
func (p *Pipeline) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); _, _ = w.Write([]byte("ok")) })
	mux.HandleFunc("/upload_paper", p.handleUpload)
	mux.HandleFunc("/advance", p.handleAdvance)
	mux.HandleFunc("/progress", p.handleProgress)
	mux.HandleFunc("/papers", p.handlePapers)
	mux.HandleFunc("/records", p.handleRecords)
	mux.HandleFunc("/view_pdf/", p.handleViewPDF)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type uploadResult struct {
	FileName    string `json:"file_name"`
	Status      string `json:"status"`
	PaperURL    string `json:"paper_url,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	PageCount   int    `json:"page_count,omitempty"`
	Error       string `json:"error,omitempty"`
}

// handleUpload accepts one or more PDF files in a multipart form. Each file
// is validated and appended independently; a bad file does not sink the rest
// of the batch.
func (p *Pipeline) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}

	cit := record.Citation{
		Name:         r.FormValue("citation_name"),
		Authors:      r.FormValue("citation_authors"),
		Year:         r.FormValue("citation_year"),
		Organization: r.FormValue("citation_organization"),
		DOI:          r.FormValue("citation_doi"),
		URL:          r.FormValue("citation_url"),
	}

	results := make([]uploadResult, 0, len(files))
	accepted := 0
	for _, hdr := range files {
		res := p.uploadOne(r, hdr, cit)
		if res.Status == "ok" {
			accepted++
		}
		results = append(results, res)
	}

	code := http.StatusCreated
	if accepted == 0 {
		code = http.StatusUnsupportedMediaType
		if results[0].Error != "" && !strings.Contains(results[0].Error, "PDF") {
			code = http.StatusBadRequest
		}
	}
	writeJSON(w, code, map[string]any{"accepted": accepted, "results": results})
}

func (p *Pipeline) uploadOne(r *http.Request, hdr *multipart.FileHeader, cit record.Citation) uploadResult {
	res := uploadResult{FileName: hdr.Filename, Status: "rejected"}

	file, err := hdr.Open()
	if err != nil {
		res.Error = "open failed"
		return res
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		res.Error = "read failed"
		return res
	}

	info, err := filetype.Detect(data)
	if err != nil || !info.IsPDF {
		res.Error = "only PDF uploads are accepted"
		return res
	}

	entry, err := p.Upload(r.Context(), hdr.Filename, data, cit)
	if err != nil {
		log.Error().Err(err).Str("file", hdr.Filename).Msg("upload rejected")
		res.Error = err.Error()
		return res
	}
	res.Status = "ok"
	res.PaperURL = entry.PaperURL
	res.ContentHash = entry.ContentHash
	res.PageCount = entry.PageCount
	return res
}

// handleAdvance runs one pipeline step. The index comes from the request;
// when absent the first unprocessed paper is used, which lets a dumb driver
// poll /advance until done.
func (p *Pipeline) handleAdvance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	index := -1
	if v := r.FormValue("index"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid index", http.StatusBadRequest)
			return
		}
		index = n
	}
	if index < 0 {
		store, err := p.loadStore(r.Context())
		if err != nil {
			http.Error(w, "session unavailable", http.StatusInternalServerError)
			return
		}
		index = firstUnprocessed(store)
	}

	res, err := p.Advance(r.Context(), index)
	if err != nil {
		code := http.StatusInternalServerError
		if err == status.ErrLocked {
			code = http.StatusConflict
		}
		writeJSON(w, code, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func firstUnprocessed(store *record.Store) int {
	ledger := store.Ledger()
	for i := range ledger {
		if !ledger[i].Processed {
			return i
		}
	}
	return len(ledger)
}

func (p *Pipeline) handleProgress(w http.ResponseWriter, r *http.Request) {
	store, err := p.loadStore(r.Context())
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}
	ledger := store.Ledger()
	processed := 0
	for i := range ledger {
		if ledger[i].Processed {
			processed++
		}
	}
	out := map[string]any{
		"session":   p.sessionID,
		"papers":    len(ledger),
		"processed": processed,
		"records":   len(store.Records()),
	}
	if p.steps != nil {
		if st, ok, err := p.steps.Get(r.Context(), p.sessionID); err == nil && ok {
			out["step"] = st
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type paperListing struct {
	record.UploadLedgerEntry
	PlateImages []string `json:"plate_images"`
}

// handlePapers lists the session's papers with the plate image URLs already
// extracted for each.
func (p *Pipeline) handlePapers(w http.ResponseWriter, r *http.Request) {
	store, err := p.loadStore(r.Context())
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}
	ledger := store.Ledger()
	out := make([]paperListing, 0, len(ledger))
	for _, entry := range ledger {
		listing := paperListing{UploadLedgerEntry: entry, PlateImages: []string{}}
		keys, err := p.blob.List(r.Context(), p.papersRoot+"/"+entry.ContentHash+"/")
		if err != nil {
			log.Warn().Err(err).Str("hash", entry.ContentHash).Msg("plate image listing failed")
		}
		for _, k := range keys {
			listing.PlateImages = append(listing.PlateImages, p.blob.URL(k))
		}
		out = append(out, listing)
	}
	writeJSON(w, http.StatusOK, out)
}

func (p *Pipeline) handleRecords(w http.ResponseWriter, r *http.Request) {
	store, err := p.loadStore(r.Context())
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, store.Records())
}

// handleViewPDF streams a stored paper by content hash.
func (p *Pipeline) handleViewPDF(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimPrefix(r.URL.Path, "/view_pdf/")
	hash = strings.Trim(hash, "/")
	if hash == "" {
		http.Error(w, "missing content hash", http.StatusBadRequest)
		return
	}
	store, err := p.loadStore(r.Context())
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}
	var entry *record.UploadLedgerEntry
	ledger := store.Ledger()
	for i := range ledger {
		if ledger[i].ContentHash == hash {
			entry = &ledger[i]
			break
		}
	}
	if entry == nil {
		http.Error(w, "unknown paper", http.StatusNotFound)
		return
	}
	data, err := p.blob.Get(r.Context(), p.pdfKey(entry.ContentHash, entry.FileName))
	if err != nil {
		http.Error(w, "object unavailable", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="`+entry.FileName+`"`)
	_, _ = w.Write(data)
}

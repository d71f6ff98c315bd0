package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/crucial707/equipment-manager/internal/metrics"
	"github.com/crucial707/equipment-manager/internal/middleware"
	"github.com/crucial707/equipment-manager/internal/models"
	"github.com/crucial707/equipment-manager/internal/repo"
	"github.com/crucial707/equipment-manager/internal/search"
	"github.com/crucial707/equipment-manager/internal/sheet"
	"github.com/crucial707/equipment-manager/internal/validation"
	"go.uber.org/zap"
)

// DefaultImportMaxBytes bounds an uploaded spreadsheet when no limit is configured.
const DefaultImportMaxBytes = 10 << 20

// TransferHandler moves equipment in and out of spreadsheets.
type TransferHandler struct {
	Repo           *repo.EquipmentRepo
	Log            *zap.Logger
	FuzzyThreshold float64
	MaxBytes       int64
	now            func() time.Time
}

// ImportResponse reports the outcome of an import. Rows counts data rows read from the file.
type ImportResponse struct {
	DryRun    bool   `json:"dry_run"`
	Format    string `json:"format"`
	Rows      int    `json:"rows"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
}

//
// ==========================
// Export
// ==========================
//

// Export serves GET /export. It takes the same query as GET /equipment plus
// format (xlsx or csv) and writes every matching record, ignoring limit and offset.
func (h *TransferHandler) Export(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, listRequest(r), r.URL.Query().Get("format"))
}

// ExportSearch serves POST /export with a search.Request body and a format query parameter.
func (h *TransferHandler) ExportSearch(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			JSONError(w, "invalid JSON", http.StatusBadRequest)
			return
		}
	}
	h.export(w, r, req, r.URL.Query().Get("format"))
}

func (h *TransferHandler) export(w http.ResponseWriter, r *http.Request, req search.Request, rawFormat string) {
	format, err := sheet.ParseFormat(rawFormat)
	if err != nil {
		JSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err = req.Normalize(h.FuzzyThreshold)
	if err != nil {
		respondError(w, logger(h.Log), "equipment.export", err)
		return
	}

	list, err := h.Repo.FetchAll(r.Context(), req)
	if err != nil {
		respondError(w, logger(h.Log), "equipment.export", err)
		return
	}

	name := fmt.Sprintf("equipment-%s.%s", h.clock().Format("20060102"), format)
	w.Header().Set("Content-Type", sheet.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-Total-Count", strconv.Itoa(len(list)))
	if err := sheet.Write(w, format, list); err != nil {
		// Headers are already out; all that is left is to log.
		logger(h.Log).Error("equipment.export: write", zap.String("format", format), zap.Error(err))
	}
}

//
// ==========================
// Import
// ==========================
//

// Import serves POST /import with a multipart "file" field. The format comes
// from the format field or the file name. dry_run=true validates and counts
// without storing anything. Any invalid row rejects the whole file, with
// violations numbered by spreadsheet row.
func (h *TransferHandler) Import(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultImportMaxBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			JSONError(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}
		JSONError(w, "expected multipart form with a file field", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		JSONError(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	format := sheet.FormatFromName(header.Filename)
	if f := r.FormValue("format"); f != "" {
		if format, err = sheet.ParseFormat(f); err != nil {
			JSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	dryRun, _ := strconv.ParseBool(r.FormValue("dry_run"))
	log := logger(h.Log).With(
		zap.String("file", header.Filename),
		zap.String("format", format),
		zap.Bool("dry_run", dryRun))

	rows, vs, err := sheet.Read(file, format)
	if err != nil {
		log.Info("import unreadable", zap.Error(err))
		JSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	records, parseVs := sheet.Parse(rows)
	if len(parseVs) > 0 {
		// Report the rest of the file's problems along with the type errors.
		vs = append(vs, parseVs...)
		vs = append(vs, sheet.ToLines(validation.ValidateBatch(records, h.clock()), rows)...)
		vs = append(vs, sheet.ToLines(validation.CheckDuplicates(records, nil), rows)...)
	}
	if len(vs) > 0 {
		h.reject(w, log, rows, vs)
		return
	}

	res, err := h.Repo.Upsert(r.Context(), records, sheet.Columns(rows), middleware.Username(r.Context()), dryRun)
	if err != nil {
		if batchVs, ok := validation.AsViolations(err); ok {
			h.reject(w, log, rows, sheet.ToLines(batchVs, rows))
			return
		}
		respondError(w, log, "equipment.import", err)
		return
	}

	if !dryRun {
		metrics.AddImportRows("inserted", res.Inserted)
		metrics.AddImportRows("updated", res.Updated)
		metrics.AddImportRows("unchanged", res.Unchanged)
	}
	log.Info("import finished",
		zap.Int("rows", len(rows)),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("unchanged", res.Unchanged))
	writeJSON(w, http.StatusOK, importResponse(res, format, len(rows), dryRun))
}

func (h *TransferHandler) reject(w http.ResponseWriter, log *zap.Logger, rows []sheet.Row, vs validation.Violations) {
	metrics.AddImportRows("rejected", len(rows))
	log.Info("import rejected", zap.Int("rows", len(rows)), zap.Int("violations", len(vs)))
	status := http.StatusBadRequest
	if vs.HasCode(validation.CodeDuplicateSerial) {
		status = http.StatusConflict
	}
	JSONValidationError(w, "import rejected, no rows were stored", vs, status)
}

func importResponse(res models.BatchResult, format string, rows int, dryRun bool) ImportResponse {
	return ImportResponse{
		DryRun:    dryRun,
		Format:    format,
		Rows:      rows,
		Inserted:  res.Inserted,
		Updated:   res.Updated,
		Unchanged: res.Unchanged,
	}
}

func (h *TransferHandler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

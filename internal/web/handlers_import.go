package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/catalog/internal/core"
	"github.com/JonMunkholm/catalog/internal/logging"
)

// multipartMemory is the part of an upload kept in memory; the rest spills
// to temporary files.
const multipartMemory = 32 << 20

var errImportRunning = errors.New("import is still running")

// importStarted is the per-file outcome of an import request.
type importStarted struct {
	File     string         `json:"file"`
	ImportID string         `json:"importId,omitempty"`
	Error    *ErrorResponse `json:"error,omitempty"`
}

// importSpec builds the spec for entity from the optional "map" form field,
// a JSON object of header to field name.
func importSpec(entity string, r *http.Request) (core.ImportSpec, error) {
	spec := core.ImportSpec{Entity: entity}
	if raw := r.FormValue("map"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &spec.FieldMap); err != nil {
			return core.ImportSpec{}, badRequest("invalid map: must be a JSON object of header to field")
		}
	}
	return spec, nil
}

// parseUpload reads the multipart form and returns its "file" parts.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) ([]*multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large") {
			return nil, fmt.Errorf("file too large: %w", err)
		}
		return nil, badRequest("invalid multipart form")
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		return nil, badRequest("no file provided")
	}
	return files, nil
}

func readUpload(fh *multipart.FileHeader) (core.Sheet, error) {
	f, err := fh.Open()
	if err != nil {
		return core.Sheet{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	return core.ReadSheet(f, fh.Filename)
}

// handleImport starts one import run per uploaded file and returns their
// ids with 202. A file that cannot be read or started is reported in place;
// the other files still start.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	if _, err := s.definition(entity); err != nil {
		respondError(w, r, err)
		return
	}

	files, err := s.parseUpload(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	spec, err := importSpec(entity, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logger := logging.FromContext(r.Context())
	results := make([]importStarted, 0, len(files))
	started := 0
	for _, fh := range files {
		res := importStarted{File: fh.Filename}

		sheet, err := readUpload(fh)
		if err == nil {
			res.ImportID, err = s.service.StartImport(r.Context(), spec, sheet)
		}
		if err != nil {
			logger.Warn("import not started", "entity", entity, "file", fh.Filename, "error", err)
			msg := core.MapError(err)
			if !core.IsUserFacing(err) {
				msg.Message = err.Error()
			}
			res.Error = &ErrorResponse{Error: msg.Message, Message: msg.Message, Action: msg.Action, Code: msg.Code}
		} else {
			started++
		}
		results = append(results, res)
	}

	status := http.StatusAccepted
	if started == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSONStatus(w, status, map[string]any{"imports": results})
}

// handlePreview reports what importing the first uploaded file would do.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	if _, err := s.definition(entity); err != nil {
		respondError(w, r, err)
		return
	}

	files, err := s.parseUpload(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	spec, err := importSpec(entity, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	sheet, err := readUpload(files[0])
	if err != nil {
		respondError(w, r, badRequest(err.Error()))
		return
	}

	preview, err := s.service.PreviewImport(r.Context(), spec, sheet)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, preview)
}

// handleImportResult returns the report of a run. It blocks until the run
// finishes unless ?wait=false, in which case a running import answers 202
// with its progress.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	if wait, err := strconv.ParseBool(r.URL.Query().Get("wait")); err == nil && !wait {
		progress, err := s.service.ImportProgressOf(importID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if !progress.Phase.Done() {
			writeJSONStatus(w, http.StatusAccepted, progress)
			return
		}
	}

	report, err := s.service.ImportResult(r.Context(), importID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, report)
}

// handleImportProgress streams progress via Server-Sent Events. The event id
// is the progress percentage; ?lastEventId skips events a reconnecting
// client already has.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	lastEventIDStr := r.URL.Query().Get("lastEventId")
	if lastEventIDStr == "" {
		lastEventIDStr = r.Header.Get("Last-Event-ID")
	}
	lastEventID := -1
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID = n
		}
	}

	progressCh, err := s.service.SubscribeImport(importID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				rc.Flush()
				return
			}

			percent := progress.Percent()
			if percent <= lastEventID && !progress.Phase.Done() {
				continue
			}
			lastEventID = percent

			data, err := json.Marshal(progress)
			if err != nil {
				logging.FromContext(r.Context()).Error("encode progress", "error", err)
				return
			}
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", percent, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// handleCancelImport cancels a running import.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelImport(chi.URLParam(r, "importID")); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": "cancelled"})
}

// handleExportFailedRows downloads the failed rows of a finished run as CSV
// with an error column.
func (s *Server) handleExportFailedRows(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	progress, err := s.service.ImportProgressOf(importID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !progress.Phase.Done() {
		respondError(w, r, errImportRunning)
		return
	}
	report, err := s.service.ImportResult(r.Context(), importID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	name := strings.TrimSuffix(report.FileName, ".csv")
	if name == "" {
		name = report.Entity
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"_failed.csv"))
	if err := core.ExportFailedRows(w, report); err != nil {
		logging.FromContext(r.Context()).Error("export failed rows", "import_id", importID, "error", err)
	}
}

// handleImportStatus reports the import limiter state.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.ImportLimiterStatus())
}

package web

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/firefart/dmarcstore/internal/helper"
	"github.com/firefart/dmarcstore/internal/pipeline"
	"github.com/firefart/dmarcstore/internal/store"
)

const outcomeMixed = "mixed"

// statusFor maps a processing outcome to the response status.
func statusFor(k pipeline.Kind) int {
	switch k {
	case pipeline.KindOK:
		return http.StatusOK
	case pipeline.KindUnsupported:
		return http.StatusUnsupportedMediaType
	case pipeline.KindExtraction, pipeline.KindMalformed:
		return http.StatusUnprocessableEntity
	case pipeline.KindConflict:
		return http.StatusConflict
	case pipeline.KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleUpload stores the uploaded file under a fresh directory and runs it
// through the pipeline.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize)
	if err := r.ParseMultipartForm(s.opts.MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	id := uuid.NewString()
	dir := filepath.Join(s.opts.UploadDir, id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		s.logger.Error("could not create upload dir", "dir", dir, "err", err)
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}
	name := helper.SanitizeFilename(header.Filename, "upload")
	dst := filepath.Join(dir, name)
	if err := helper.SaveFile(dst, file); err != nil {
		s.logger.Error("could not store upload", "file", dst, "err", err)
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}

	s.logger.Info("received upload", "file", name, "size", header.Size, "upload_id", id)

	outcomes, err := s.processor.Process(r.Context(), dst, filepath.Join(s.opts.ExtractDir, id))
	view := uploadView{
		File:      name,
		Documents: make([]documentView, 0, len(outcomes)),
	}
	if err != nil && len(outcomes) == 0 {
		kind := pipeline.Classify(err)
		view.Outcome = string(kind)
		view.Error = err.Error()
		writeJSON(w, statusFor(kind), view)
		return
	}
	if len(outcomes) == 0 {
		view.Outcome = string(pipeline.KindExtraction)
		view.Error = "archive contains no xml documents"
		writeJSON(w, http.StatusUnprocessableEntity, view)
		return
	}

	for _, o := range outcomes {
		view.Documents = append(view.Documents, newDocumentView(o))
	}

	kind := outcomes[0].Kind
	status := statusFor(kind)
	view.Outcome = string(kind)
	for _, o := range outcomes[1:] {
		if o.Kind != kind {
			status = http.StatusMultiStatus
			view.Outcome = outcomeMixed
			break
		}
	}
	writeJSON(w, status, view)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.reports.ListReports(r.Context())
	if err != nil {
		s.logger.Error("could not list reports", "err", err)
		writeError(w, http.StatusServiceUnavailable, "could not list reports")
		return
	}
	views := make([]summaryView, 0, len(summaries))
	for _, sum := range summaries {
		views = append(views, newSummaryView(sum))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")
	report, err := s.reports.GetReport(r.Context(), reportID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	} else if err != nil {
		s.logger.Error("could not get report", "report_id", reportID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "could not get report")
		return
	}
	writeJSON(w, http.StatusOK, newReportView(report))
}

func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")
	err := s.reports.DeleteReport(r.Context(), reportID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	} else if err != nil {
		s.logger.Error("could not delete report", "report_id", reportID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "could not delete report")
		return
	}
	s.logger.Info("deleted report", "report_id", reportID)
	w.WriteHeader(http.StatusNoContent)
}

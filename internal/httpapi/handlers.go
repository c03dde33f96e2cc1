package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"chemviz/internal/ingest"
	"chemviz/internal/parser/csv"
	"chemviz/internal/report"
	"chemviz/internal/stats"
	"chemviz/internal/storage"
)

// multipartOverhead is allowed on top of MaxUploadBytes for form boundaries
// and part headers.
const multipartOverhead = 64 << 10

type uploadResponse struct {
	Message          string           `json:"message"`
	Dataset          storage.Dataset  `json:"dataset"`
	RecordsProcessed int              `json:"records_processed"`
	Summary          stats.Statistics `json:"summary"`
	Warnings         []string         `json:"warnings,omitempty"`
}

type historyResponse struct {
	Count    int               `json:"count"`
	Datasets []storage.Dataset `json:"datasets"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "healthy", "service": ServiceName})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	limit := s.opts.MaxUploadBytes
	tooLarge := fmt.Sprintf(msgFileTooLarge, limit>>20)

	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeErrorDetails(w, r, http.StatusBadRequest, msgValidation, fieldErrors("file", tooLarge))
			return
		}
		writeErrorDetails(w, r, http.StatusBadRequest, msgValidation, fieldErrors("file", msgNoFile))
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(hdr.Filename), ".csv") {
		writeErrorDetails(w, r, http.StatusBadRequest, msgValidation, fieldErrors("file", msgOnlyCSV))
		return
	}
	if hdr.Size > limit {
		writeErrorDetails(w, r, http.StatusBadRequest, msgValidation, fieldErrors("file", tooLarge))
		return
	}

	b, err := io.ReadAll(file)
	if err != nil {
		s.log.Error("read upload", zap.String("owner", owner), zap.String("filename", hdr.Filename), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, msgProcessing)
		return
	}
	text, err := ingest.DecodeUpload(b)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.svc.Ingest(r.Context(), owner, hdr.Filename, text)
	if err != nil {
		var ve *csv.ValidationError
		if errors.As(err, &ve) {
			s.log.Warn("csv validation failed",
				zap.String("owner", owner), zap.String("filename", hdr.Filename),
				zap.String("kind", string(ve.Kind)), zap.String("reason", ve.Message))
			writeErrorDetails(w, r, http.StatusBadRequest, msgCSVValidation, ve.Message)
			return
		}
		s.log.Error("upload processing failed", zap.String("owner", owner), zap.String("filename", hdr.Filename), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, msgProcessing)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, uploadResponse{
		Message:          "Upload successful",
		Dataset:          res.Dataset,
		RecordsProcessed: res.Statistics.Count,
		Summary:          res.Statistics,
		Warnings:         res.Warnings,
	})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.History(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		s.internalError(w, r, "history", err)
		return
	}
	if list == nil {
		list = []storage.Dataset{}
	}
	render.JSON(w, r, historyResponse{Count: len(list), Datasets: list})
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	id, ok := datasetID(w, r)
	if !ok {
		return
	}
	sum, err := s.svc.Summary(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		s.lookupError(w, r, "summary", err)
		return
	}
	render.JSON(w, r, sum)
}

func (s *Server) detail(w http.ResponseWriter, r *http.Request) {
	id, ok := datasetID(w, r)
	if !ok {
		return
	}
	d, err := s.svc.Detail(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		s.lookupError(w, r, "detail", err)
		return
	}
	if d.Records == nil {
		d.Records = []storage.Record{}
	}
	render.JSON(w, r, d)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := datasetID(w, r)
	if !ok {
		return
	}
	owner := ownerFrom(r.Context())
	if err := s.svc.Delete(r.Context(), owner, id); err != nil {
		s.lookupError(w, r, "delete", err)
		return
	}
	s.log.Info("dataset deleted", zap.String("owner", owner), zap.Int64("dataset_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	id, ok := datasetID(w, r)
	if !ok {
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = report.FormatXLSX
	}
	ctype := report.ContentType(format)
	if ctype == "" {
		writeError(w, r, http.StatusBadRequest, msgBadFormat)
		return
	}

	d, err := s.svc.Detail(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		s.lookupError(w, r, "report", err)
		return
	}
	in := report.Input{
		Dataset:    d.Dataset,
		Statistics: stats.Compute(ingest.Table(d.Records)),
		Records:    d.Records,
		Generated:  s.opts.Now(),
	}

	var buf bytes.Buffer
	switch format {
	case report.FormatHTML:
		err = report.WriteHTML(&buf, in)
	default:
		err = report.WriteWorkbook(&buf, in)
	}
	if err != nil {
		s.log.Error("report generation failed", zap.Int64("dataset_id", id), zap.String("format", format), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, msgReportFailed)
		return
	}

	name := report.Filename(d.Dataset, format)
	h := w.Header()
	h.Set("Content-Type", ctype)
	h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, name, url.PathEscape(name)))
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func datasetID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusNotFound, msgInvalidID)
		return 0, false
	}
	return id, true
}

func (s *Server) lookupError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, msgNotFound)
		return
	}
	s.internalError(w, r, op, err)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.log.Error(op+" failed", zap.String("owner", ownerFrom(r.Context())), zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, msgInternal)
}

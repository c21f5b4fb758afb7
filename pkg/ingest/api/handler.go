// Package api exposes the ingestion operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tigerroll/ingot/pkg/ingest/application/usecase"
	repository "github.com/tigerroll/ingot/pkg/ingest/core/domain/repository"
	metrics "github.com/tigerroll/ingot/pkg/ingest/core/metrics"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/exception"
	"github.com/tigerroll/ingot/pkg/ingest/support/util/logger"
)

// maxUploadBytes caps the accepted upload size.
const maxUploadBytes = 512 << 20

// Handler builds the HTTP router over the ingestion service.
func Handler(service *usecase.IngestService, recorder metrics.MetricRecorder) http.Handler {
	svr := &server{
		service: service,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", svr.getHealth).Methods("GET").Name("GetHealth")
	router.HandleFunc("/batches", svr.postBatch).Methods("POST").Name("PostBatch")
	router.HandleFunc("/batches/{id}", svr.getBatch).Methods("GET").Name("GetBatch")
	router.HandleFunc("/batches/{id}/chunks", svr.getChunks).Methods("GET").Name("GetChunks")
	router.HandleFunc("/batches/{id}/chunks/{number}", svr.getChunk).Methods("GET").Name("GetChunk")
	router.HandleFunc("/batches/{id}/retry", svr.postRetry).Methods("POST").Name("PostRetry")
	router.HandleFunc("/batches/{id}/cancel", svr.postCancel).Methods("POST").Name("PostCancel")
	router.HandleFunc("/exports", svr.postExport).Methods("POST").Name("PostExport")

	// The Prometheus endpoint is only wired when the recorder carries a registry.
	if reg, ok := recorder.(interface{ GetRegistry() *prometheus.Registry }); ok {
		router.Handle("/metrics", promhttp.HandlerFor(reg.GetRegistry(), promhttp.HandlerOpts{}))
	}

	return router
}

type server struct {
	service *usecase.IngestService
}

// GET /health
func (s *server) getHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// SubmitResponse describes one batch created by a submit request.
type SubmitResponse struct {
	BatchID    string `json:"batch_id"`
	SourceFile string `json:"source_file"`
	Status     string `json:"status"`
}

// POST /batches
// The upload arrives either as a multipart form with a "file" field or as the
// raw request body with a "filename" query parameter. The preferred key column
// comes from the "unique_column" form value or query parameter.
func (s *server) postBatch(w http.ResponseWriter, r *http.Request) {
	filename, data, err := readUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	uniqueColumn := r.FormValue("unique_column")
	if uniqueColumn == "" {
		uniqueColumn = r.URL.Query().Get("unique_column")
	}

	batches, err := s.service.Submit(r.Context(), filename, data, uniqueColumn)
	if err != nil && len(batches) == 0 {
		s.writeError(w, err)
		return
	}
	if err != nil {
		logger.Warnf("Submit of '%s' partially failed: %v", filename, err)
	}

	resp := make([]SubmitResponse, 0, len(batches))
	for _, b := range batches {
		resp = append(resp, SubmitResponse{
			BatchID:    b.ID,
			SourceFile: b.SourceFile,
			Status:     b.Status.String(),
		})
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// GET /batches/{id}
// The "refresh=true" query parameter drops any cached summary before reading.
func (s *server) getBatch(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["id"]
	summary, err := s.service.Status(r.Context(), batchID, wantsRefresh(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GET /batches/{id}/chunks
func (s *server) getChunks(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["id"]
	chunks, err := s.service.ChunkStatuses(r.Context(), batchID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chunks)
}

// GET /batches/{id}/chunks/{number}
// The "refresh=true" query parameter bypasses the terminal-chunk cache.
func (s *server) getChunk(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	number, err := strconv.Atoi(vars["number"])
	if err != nil {
		http.Error(w, "invalid chunk number", http.StatusBadRequest)
		return
	}

	chunk, err := s.service.ChunkDetail(r.Context(), vars["id"], number, wantsRefresh(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chunk)
}

// POST /batches/{id}/retry
func (s *server) postRetry(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["id"]
	retried, err := s.service.Retry(r.Context(), batchID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{
		BatchID:    retried.ID,
		SourceFile: retried.SourceFile,
		Status:     retried.Status.String(),
	})
}

// POST /batches/{id}/cancel
func (s *server) postCancel(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["id"]
	if err := s.service.Cancel(r.Context(), batchID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportRequest names the source file whose active records are exported.
type ExportRequest struct {
	SourceFile string `json:"source_file"`
}

// ExportResponse carries the object path of a finished export.
type ExportResponse struct {
	ObjectPath string `json:"object_path"`
}

// POST /exports
func (s *server) postExport(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	req := ExportRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.SourceFile == "" {
		http.Error(w, "source_file is required", http.StatusBadRequest)
		return
	}

	objectPath, err := s.service.Export(r.Context(), req.SourceFile)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ExportResponse{ObjectPath: objectPath})
}

// writeError maps domain errors onto HTTP status codes.
func (s *server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrBatchNotFound),
		errors.Is(err, repository.ErrChunkNotFound),
		errors.Is(err, usecase.ErrArchiveNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, usecase.ErrBatchNotFinished),
		errors.Is(err, usecase.ErrBatchFinished):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logger.Errorf("Request failed: %v", err)
		http.Error(w, exception.ExtractErrorMessage(err), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

// wantsRefresh reports whether the request asked to bypass cached views.
func wantsRefresh(r *http.Request) bool {
	return r.URL.Query().Get("refresh") == "true"
}

// readUpload extracts the payload from a multipart form or the raw body.
func readUpload(r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(32 << 20); err == nil {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, errors.New("multipart form is missing a 'file' field")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return "", nil, err
		}
		return header.Filename, data, nil
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		return "", nil, errors.New("filename query parameter is required for raw uploads")
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, err
	}
	if len(data) == 0 {
		return "", nil, errors.New("empty request body")
	}
	return filename, data, nil
}

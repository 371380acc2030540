package handlers

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tripletsrewards/server/internal/bulkload"
	"github.com/tripletsrewards/server/internal/middleware"
)

const maxUploadBytes = 5 << 20

// handleBulkUpload reads the multipart "file" field and runs it through the processor
func handleBulkUpload(w http.ResponseWriter, r *http.Request, proc *bulkload.Processor, mode bulkload.Mode, logger *zerolog.Logger) {
	acct, ok := middleware.GetAccount(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "No file selected")
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".txt") {
		respondWithError(w, http.StatusBadRequest, "Please upload a .txt file")
		return
	}

	res, err := proc.Process(r.Context(), file, mode, *acct, header.Filename)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleBulkTemplate serves the example upload file for mode
func handleBulkTemplate(w http.ResponseWriter, mode bulkload.Mode) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="bulk_load_template_`+string(mode)+`.txt"`)
	_, _ = w.Write([]byte(bulkload.Template(mode)))
}

// handleBulkLog serves a processing log written by the processor
func handleBulkLog(w http.ResponseWriter, r *http.Request, proc *bulkload.Processor, logger *zerolog.Logger) {
	path, err := proc.LogPath(urlParam(r, "name"))
	if err != nil {
		if !errors.Is(err, bulkload.ErrBadLogName) {
			logger.Error().Err(err).Msg("resolve bulk log")
		}
		respondWithError(w, http.StatusNotFound, "Log file not found")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	http.ServeFile(w, r, path)
}

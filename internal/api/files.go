package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"sitecheck/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// multipartMemory is the part of a multipart form kept in memory
const multipartMemory = 8 << 20

func (d Dependencies) uploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, d.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "file_too_large", "Upload exceeds the request size limit", d.Log)
			return
		}
		WriteError(w, http.StatusBadRequest, "invalid_request", "Expected multipart form data", d.Log)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "file part required", d.Log)
		return
	}
	defer file.Close()

	meta, err := d.Files.Upload(r.Context(), service.UploadInput{
		ProjectID:   chi.URLParam(r, "projectId"),
		EntityType:  r.FormValue("entity_type"),
		EntityID:    r.FormValue("entity_id"),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (d Dependencies) getFile(w http.ResponseWriter, r *http.Request) {
	meta, rc, err := d.Files.Open(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", meta.MIME)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	if meta.SHA256 != "" {
		w.Header().Set("ETag", `"`+meta.SHA256+`"`)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		d.Log.Warn("File download interrupted", zap.String("storage_path", meta.StoragePath), zap.Error(err))
	}
}

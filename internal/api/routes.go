package api

import (
	"errors"
	"net/http"

	"sitecheck/internal/auth"
	"sitecheck/internal/db"
	"sitecheck/internal/schema"
	"sitecheck/internal/service"
	"sitecheck/internal/storage"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// DefaultMaxUploadBytes caps a multipart upload request
const DefaultMaxUploadBytes = 10 << 20

// maxJSONBytes caps JSON request bodies
const maxJSONBytes = 1 << 20

type Dependencies struct {
	Instances      *service.InstanceService
	Files          *service.FileService
	JWT            *auth.JWTConfig
	Log            *zap.Logger
	MaxUploadBytes int64
}

func Routes(d Dependencies) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = DefaultMaxUploadBytes
	}

	r := chi.NewRouter()
	r.Use(RequestLogger(d.Log))

	// anonymous access is allowed; a bearer token, when sent, must verify
	if d.JWT != nil {
		r.Use(d.JWT.Middleware)
	}

	// Checklist instance endpoints
	r.Get("/checklist-instances/{id}", d.getInstance)
	r.Post("/checklist-instances/{id}/responses", d.createResponse)
	r.Put("/checklist-instances/{id}/responses/{responseId}", d.updateResponse)
	r.Get("/checklist-instances/{id}/events", d.listEvents)

	// Inspection endpoints
	r.Post("/projects/{projectId}/inspections/{inspectionId}/complete", d.completeInspection)

	// File endpoints
	r.Post("/projects/{projectId}/files", d.uploadFile)
	r.Get("/files/*", d.getFile)

	return r
}

// writeServiceError maps service and storage errors onto the error envelope
func (d Dependencies) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", err.Error(), d.Log)
	case errors.Is(err, service.ErrResponseExists):
		WriteError(w, http.StatusConflict, "response_exists", err.Error(), d.Log)
	case errors.Is(err, service.ErrUnknownItem):
		WriteError(w, http.StatusUnprocessableEntity, "unknown_item", err.Error(), d.Log)
	case errors.Is(err, schema.ErrInvalid):
		WriteError(w, http.StatusBadRequest, "validation_failed", err.Error(), d.Log)
	case errors.Is(err, storage.ErrFileTooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, "file_too_large", err.Error(), d.Log)
	case errors.Is(err, storage.ErrTypeNotAllowed):
		WriteError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", err.Error(), d.Log)
	case errors.Is(err, storage.ErrInvalidObjectName):
		WriteError(w, http.StatusBadRequest, "invalid_path", err.Error(), d.Log)
	case errors.Is(err, service.ErrEventsUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "events_unavailable", err.Error(), d.Log)
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), d.Log)
	}
}

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (d Dependencies) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", "Request body too large", d.Log)
		} else {
			WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		}
		return nil, false
	}
	return body, true
}

func (d Dependencies) getInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := d.Instances.GetInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (d Dependencies) createResponse(w http.ResponseWriter, r *http.Request) {
	body, ok := d.readBody(w, r)
	if !ok {
		return
	}

	resp, err := d.Instances.CreateResponse(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (d Dependencies) updateResponse(w http.ResponseWriter, r *http.Request) {
	body, ok := d.readBody(w, r)
	if !ok {
		return
	}

	resp, err := d.Instances.UpdateResponse(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "responseId"), body)
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d Dependencies) completeInspection(w http.ResponseWriter, r *http.Request) {
	body, ok := d.readBody(w, r)
	if !ok {
		return
	}

	inst, err := d.Instances.CompleteInspection(r.Context(), chi.URLParam(r, "projectId"), chi.URLParam(r, "inspectionId"), body)
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instanceId":  inst.ID,
		"status":      inst.Status,
		"completedAt": inst.CompletedAt,
	})
}

func (d Dependencies) listEvents(w http.ResponseWriter, r *http.Request) {
	since, err := queryInt(r, "since", 0)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "since must be an integer", d.Log)
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer", d.Log)
		return
	}

	events, err := d.Instances.Events(r.Context(), chi.URLParam(r, "id"), since, limit)
	if err != nil {
		d.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func queryInt(r *http.Request, name string, fallback int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

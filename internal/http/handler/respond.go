package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"marker/internal/bookmark"
	"marker/internal/logger"
	"marker/internal/tagset"
	"marker/internal/validation"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
	maxBodyBytes = 1 << 20
)

var (
	errBadJSON = errors.New("bad json")
	errBadID   = errors.New("invalid id")
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Page    int    `json:"page,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

// fail maps err to a status. Causes of server side failures stay in the log.
func fail(w http.ResponseWriter, log logger.Logger, err error) {
	status, message := http.StatusInternalServerError, "server error"
	var data any

	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		status, message, data = http.StatusBadRequest, "validation failed", verr.Fields
	case errors.Is(err, errBadJSON), errors.Is(err, errBadID), errors.Is(err, bookmark.ErrInvalidFilterInput):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, bookmark.ErrMalformedTagSet):
		status, message = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, bookmark.ErrNotFound):
		status, message = http.StatusNotFound, "not found"
	case errors.Is(err, bookmark.ErrCascadeConflict):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, bookmark.ErrStoreUnavailable):
		status, message = http.StatusServiceUnavailable, "store unavailable"
	}

	if status >= http.StatusInternalServerError && log != nil {
		log.Error("request failed", logger.Error(err))
	}
	writeJSON(w, status, envelope{Success: false, Message: message, Data: data})
}

// decode reads a JSON body into dst. Tag-sets that fail to parse keep their
// MalformedTagSet identity so they map to 422 rather than 400.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, tagset.ErrMalformed) {
			return err
		}
		return errBadJSON
	}
	if _, err := dec.Token(); err != io.EOF {
		return errBadJSON
	}
	return nil
}

// pathID reads the {id} route parameter in canonical form.
func pathID(r *http.Request) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		return "", errBadID
	}
	return id.String(), nil
}

// pagination reads page and limit. Missing, non-numeric and non-positive
// values fall back to the defaults; limit is capped.
func pagination(r *http.Request) (page, limit int) {
	page = positiveInt(r.URL.Query().Get("page"), 1)
	limit = positiveInt(r.URL.Query().Get("limit"), DefaultLimit)
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

func positiveInt(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return def
	}
	return n
}

// orEmpty keeps empty lists as [] in responses.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

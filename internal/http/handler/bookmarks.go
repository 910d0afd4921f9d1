package handler

import (
	"net/http"
	"strings"

	"marker/internal/bookmark"
	"marker/internal/logger"
	"marker/internal/tagset"
	"marker/internal/validation"
)

type BookmarkHandler struct {
	Svc      *bookmark.Service
	Validate *validation.Validator
	Log      logger.Logger
}

type bookmarkReq struct {
	URL         string     `json:"url" validate:"required,url,max=2048"`
	Title       string     `json:"title" validate:"required,max=256"`
	Description string     `json:"description" validate:"max=4096"`
	Tags        tagset.Set `json:"tags"`
}

func (h *BookmarkHandler) input(w http.ResponseWriter, r *http.Request) (bookmark.BookmarkInput, error) {
	var req bookmarkReq
	if err := decode(w, r, &req); err != nil {
		return bookmark.BookmarkInput{}, err
	}
	req.URL = strings.TrimSpace(req.URL)
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)

	if err := h.Validate.Validate(req); err != nil {
		return bookmark.BookmarkInput{}, err
	}
	return bookmark.BookmarkInput{
		URL:         req.URL,
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
	}, nil
}

func (h *BookmarkHandler) List(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)

	out, err := h.Svc.ListBookmarks(r.Context(), bookmark.ListQuery{
		Term:   strings.TrimSpace(r.URL.Query().Get("term")),
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		fail(w, h.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "bookmarks retrieved",
		Data:    orEmpty(out),
		Page:    page,
		Limit:   limit,
	})
}

// ByTag returns every bookmark carrying all ids in ?tags=a,b. It is not paged.
func (h *BookmarkHandler) ByTag(w http.ResponseWriter, r *http.Request) {
	out, err := h.Svc.FilterByTags(r.Context(), r.URL.Query().Get("tags"))
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	ok(w, http.StatusOK, "bookmarks filtered", orEmpty(out))
}

func (h *BookmarkHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	b, err := h.Svc.GetBookmark(r.Context(), id)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	ok(w, http.StatusOK, "bookmark retrieved", b)
}

func (h *BookmarkHandler) Create(w http.ResponseWriter, r *http.Request) {
	in, err := h.input(w, r)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	b, err := h.Svc.CreateBookmark(r.Context(), in)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	ok(w, http.StatusCreated, "bookmark created", b)
}

func (h *BookmarkHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	in, err := h.input(w, r)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	b, err := h.Svc.UpdateBookmark(r.Context(), id, in)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	ok(w, http.StatusOK, "bookmark updated", b)
}

func (h *BookmarkHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	if err := h.Svc.DeleteBookmark(r.Context(), id); err != nil {
		fail(w, h.Log, err)
		return
	}
	ok(w, http.StatusOK, "bookmark deleted", nil)
}

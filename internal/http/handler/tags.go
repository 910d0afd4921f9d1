package handler

import (
	"net/http"
	"strings"

	"marker/internal/bookmark"
	"marker/internal/logger"
	"marker/internal/validation"
)

type TagHandler struct {
	Svc      *bookmark.Service
	Validate *validation.Validator
	Log      logger.Logger
}

type tagReq struct {
	Title string `json:"title" validate:"required,max=256"`
	Color string `json:"color" validate:"omitempty,hexcolor"`
}

func (h *TagHandler) input(w http.ResponseWriter, r *http.Request) (bookmark.TagInput, error) {
	var req tagReq
	if err := decode(w, r, &req); err != nil {
		return bookmark.TagInput{}, err
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Color = strings.ToLower(strings.TrimSpace(req.Color))

	if err := h.Validate.Validate(req); err != nil {
		return bookmark.TagInput{}, err
	}
	return bookmark.TagInput{Title: req.Title, Color: req.Color}, nil
}

func (h *TagHandler) List(w http.ResponseWriter, r *http.Request) {
	out, err := h.Svc.ListTags(r.Context())
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	ok(w, http.StatusOK, "tags retrieved", orEmpty(out))
}

// Usage reports how many bookmarks reference each tag id, dangling ids included.
func (h *TagHandler) Usage(w http.ResponseWriter, r *http.Request) {
	out, err := h.Svc.TagUsage(r.Context())
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	ok(w, http.StatusOK, "tag usage retrieved", orEmpty(out))
}

func (h *TagHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	t, err := h.Svc.GetTag(r.Context(), id)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	ok(w, http.StatusOK, "tag retrieved", t)
}

func (h *TagHandler) Create(w http.ResponseWriter, r *http.Request) {
	in, err := h.input(w, r)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	t, err := h.Svc.CreateTag(r.Context(), in)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	ok(w, http.StatusCreated, "tag created", t)
}

func (h *TagHandler) Update(w http.ResponseWriter, r *http.Request) {
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
	t, err := h.Svc.UpdateTag(r.Context(), id, in)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	ok(w, http.StatusOK, "tag updated", t)
}

// Delete removes the tag and strips its id from every bookmark in one
// transaction.
func (h *TagHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	if err := h.Svc.DeleteTag(r.Context(), id); err != nil {
		fail(w, h.Log, err)
		return
	}
	ok(w, http.StatusOK, "tag deleted", nil)
}

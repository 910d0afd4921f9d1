// Package importer seeds tags and bookmarks from a YAML file.
//
//	tags:
//	  - key: go
//	    title: Go
//	    color: "#00add8"
//	bookmarks:
//	  - url: https://go.dev
//	    title: The Go site
//	    tags: [go]
//
// Bookmark tags name a key from the same file or an existing tag id.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"marker/internal/bookmark"
	"marker/internal/logger"
	"marker/internal/tagset"
	"marker/internal/validation"
)

var ErrUnknownTag = errors.New("unknown tag reference")

type File struct {
	Tags      []TagSeed      `yaml:"tags"`
	Bookmarks []BookmarkSeed `yaml:"bookmarks"`
}

type TagSeed struct {
	Key   string `yaml:"key" json:"key" validate:"required"`
	Title string `yaml:"title" json:"title" validate:"required,max=256"`
	Color string `yaml:"color" json:"color" validate:"omitempty,hexcolor"`
}

type BookmarkSeed struct {
	URL         string   `yaml:"url" json:"url" validate:"required,url,max=2048"`
	Title       string   `yaml:"title" json:"title" validate:"required,max=256"`
	Description string   `yaml:"description" json:"description" validate:"max=4096"`
	Tags        []string `yaml:"tags" json:"tags"`
}

type Result struct {
	Tags      int
	Bookmarks int
}

type Importer struct {
	Svc      *bookmark.Service
	Validate *validation.Validator
	Log      logger.Logger
}

func New(svc *bookmark.Service, log logger.Logger) *Importer {
	return &Importer{Svc: svc, Validate: validation.New(), Log: log}
}

// ImportFile reads path and imports it.
func (im *Importer) ImportFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return im.Import(ctx, f)
}

// Import parses and checks the whole document before writing anything.
// Tags are created first so bookmarks can reference them by key.
func (im *Importer) Import(ctx context.Context, r io.Reader) (Result, error) {
	var doc File
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Result{}, fmt.Errorf("failed to parse seed yaml: %w", err)
	}

	keys := make(map[string]struct{}, len(doc.Tags))
	for i, t := range doc.Tags {
		if err := im.Validate.Validate(t); err != nil {
			return Result{}, fmt.Errorf("tags[%d]: %w", i, err)
		}
		if _, dup := keys[t.Key]; dup {
			return Result{}, fmt.Errorf("tags[%d]: duplicate key %q", i, t.Key)
		}
		keys[t.Key] = struct{}{}
	}
	for i, b := range doc.Bookmarks {
		if err := im.Validate.Validate(b); err != nil {
			return Result{}, fmt.Errorf("bookmarks[%d]: %w", i, err)
		}
		seen := make(map[string]struct{}, len(b.Tags))
		for _, ref := range b.Tags {
			norm := "key:" + ref
			if _, ok := keys[ref]; !ok {
				id, err := uuid.Parse(ref)
				if err != nil {
					return Result{}, fmt.Errorf("bookmarks[%d]: %w %q", i, ErrUnknownTag, ref)
				}
				norm = id.String()
			}
			if _, dup := seen[norm]; dup {
				return Result{}, fmt.Errorf("bookmarks[%d]: %w", i, &tagset.MalformedError{
					Text:    strings.Join(b.Tags, tagset.Delimiter),
					Segment: ref,
					Reason:  "is duplicated",
				})
			}
			seen[norm] = struct{}{}
		}
	}

	var res Result
	ids := make(map[string]string, len(doc.Tags))
	for _, t := range doc.Tags {
		tag, err := im.Svc.CreateTag(ctx, bookmark.TagInput{
			Title: strings.TrimSpace(t.Title),
			Color: strings.ToLower(t.Color),
		})
		if err != nil {
			return res, fmt.Errorf("create tag %q: %w", t.Key, err)
		}
		ids[t.Key] = tag.ID
		res.Tags++
	}

	for i, b := range doc.Bookmarks {
		refs := make([]string, 0, len(b.Tags))
		for _, ref := range b.Tags {
			if id, ok := ids[ref]; ok {
				ref = id
			}
			refs = append(refs, ref)
		}
		set, err := tagset.Parse(refs)
		if err != nil {
			return res, fmt.Errorf("bookmarks[%d]: %w", i, err)
		}

		if _, err := im.Svc.CreateBookmark(ctx, bookmark.BookmarkInput{
			URL:         strings.TrimSpace(b.URL),
			Title:       strings.TrimSpace(b.Title),
			Description: strings.TrimSpace(b.Description),
			Tags:        set,
		}); err != nil {
			return res, fmt.Errorf("create bookmark %q: %w", b.Title, err)
		}
		res.Bookmarks++
	}

	if im.Log != nil {
		im.Log.Info("seed imported",
			logger.Int("tags", res.Tags),
			logger.Int("bookmarks", res.Bookmarks),
		)
	}
	return res, nil
}

package bookmark

import (
	"time"

	"marker/internal/tagset"
)

// Bookmark carries its tag ids denormalized in one text column.
// CreatedAt is assigned by the store on insert and never taken from clients.
type Bookmark struct {
	ID          string     `gorm:"primaryKey;type:text" json:"id"`
	URL         string     `gorm:"type:text;not null" json:"url"`
	Title       string     `gorm:"type:text;not null" json:"title"`
	Description string     `gorm:"type:text;not null;default:''" json:"description"`
	Tags        tagset.Set `gorm:"type:text;not null;default:''" json:"tags"`
	CreatedAt   *time.Time `gorm:"index;autoCreateTime" json:"created_at"`
}

// Tag is referenced by bookmarks through their tag-set; nothing enforces it.
type Tag struct {
	ID        string     `gorm:"primaryKey;type:text" json:"id"`
	Title     string     `gorm:"type:text;not null" json:"title"`
	Color     string     `gorm:"type:text;not null;default:''" json:"color"`
	CreatedAt *time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TagUsage counts the bookmarks referencing one tag id. Title is empty when
// the id has no tag record.
type TagUsage struct {
	TagID       string   `json:"tag_id"`
	Title       string   `json:"title"`
	Count       int      `json:"count"`
	BookmarkIDs []string `json:"bookmark_ids"`
}

// ListQuery selects a page of bookmarks whose title contains Term.
type ListQuery struct {
	Term   string
	Limit  int
	Offset int
}

type BookmarkInput struct {
	URL         string
	Title       string
	Description string
	Tags        tagset.Set
}

type TagInput struct {
	Title string
	Color string
}

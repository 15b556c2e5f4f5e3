package models

import "time"

const (
	EntryFile   = "file"
	EntryFolder = "folder"
)

// FileEntry is one item of a user's logical file tree.
type FileEntry struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Kind         string    `json:"kind"`
	Size         int64     `json:"size"`
	ModifiedAt   time.Time `json:"modified_at"`
	MimeType     string    `json:"mime_type,omitempty"`
	Category     string    `json:"category,omitempty"`
	Checksum     string    `json:"checksum,omitempty"`
	HasThumbnail bool      `json:"has_thumbnail"`
}

func (e FileEntry) IsFolder() bool { return e.Kind == EntryFolder }

// FileMetadata is the database row kept next to every stored file.
type FileMetadata struct {
	ID           int64     `json:"id"`
	OwnerID      int64     `json:"owner_id"`
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	SizeBytes    int64     `json:"size_bytes"`
	MimeType     string    `json:"mime_type"`
	Category     string    `json:"category"`
	Checksum     string    `json:"checksum"`
	HasThumbnail bool      `json:"has_thumbnail"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CategoryUsage struct {
	Category  string `json:"category"`
	SizeBytes int64  `json:"size_bytes"`
	FileCount int64  `json:"file_count"`
}

type StorageUsage struct {
	UsedBytes  int64           `json:"used_bytes"`
	QuotaBytes int64           `json:"quota_bytes"`
	Percent    float64         `json:"percent"`
	ByCategory []CategoryUsage `json:"by_category"`
}

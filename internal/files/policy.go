package files

import (
	"fmt"
	"path/filepath"
	"strings"

	"emberframe/internal/apperr"
)

const (
	CategoryImage    = "image"
	CategoryVideo    = "video"
	CategoryAudio    = "audio"
	CategoryDocument = "document"
	CategoryArchive  = "archive"
	CategoryCode     = "code"
	CategoryOther    = "other"
)

const mb = 1 << 20

type Category struct {
	Name       string
	MaxSize    int64
	Extensions []string
}

var DefaultCategories = []Category{
	{CategoryImage, 50 * mb, []string{"jpg", "jpeg", "png", "gif", "bmp", "webp", "svg", "tiff", "tif"}},
	{CategoryVideo, 500 * mb, []string{"mp4", "avi", "mkv", "mov", "wmv", "flv", "webm"}},
	{CategoryAudio, 100 * mb, []string{"mp3", "wav", "ogg", "flac", "m4a", "aac"}},
	{CategoryDocument, 100 * mb, []string{"pdf", "doc", "docx", "txt", "rtf", "odt", "pages", "md", "xls", "xlsx", "ppt", "pptx", "csv"}},
	{CategoryArchive, 1024 * mb, []string{"zip", "rar", "7z", "tar", "gz", "bz2"}},
	{CategoryCode, 10 * mb, []string{"py", "js", "ts", "go", "html", "css", "json", "xml", "sql", "php", "java", "cpp", "c", "h", "sh", "yml", "yaml"}},
}

var otherCategory = Category{Name: CategoryOther, MaxSize: 50 * mb}

// Policy decides which uploads are accepted.
type Policy struct {
	maxFileSize int64
	blocked     map[string]bool
	byExt       map[string]Category
}

func NewPolicy(maxFileSize int64, blockedExtensions []string) *Policy {
	p := &Policy{
		maxFileSize: maxFileSize,
		blocked:     make(map[string]bool, len(blockedExtensions)),
		byExt:       make(map[string]Category),
	}
	for _, ext := range blockedExtensions {
		p.blocked[normalizeExt(ext)] = true
	}
	for _, c := range DefaultCategories {
		for _, ext := range c.Extensions {
			p.byExt[ext] = c
		}
	}
	return p
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func extOf(name string) string {
	return normalizeExt(filepath.Ext(name))
}

func (p *Policy) Classify(name string) Category {
	if c, ok := p.byExt[extOf(name)]; ok {
		return c
	}
	return otherCategory
}

// Limit is the largest accepted size for files of category c.
func (p *Policy) Limit(c Category) int64 {
	if p.maxFileSize > 0 && p.maxFileSize < c.MaxSize {
		return p.maxFileSize
	}
	return c.MaxSize
}

// Check validates an upload of size bytes named name and returns its
// category.
func (p *Policy) Check(name string, size int64) (Category, error) {
	ext := extOf(name)
	if p.blocked[ext] {
		return Category{}, fmt.Errorf("%w: .%s files are not allowed", apperr.ErrInvalidFile, ext)
	}
	if size < 0 {
		return Category{}, fmt.Errorf("%w: unknown file size", apperr.ErrInvalidFile)
	}

	c := p.Classify(name)
	if limit := p.Limit(c); size > limit {
		return Category{}, fmt.Errorf("%w: %s files are limited to %d bytes", apperr.ErrInvalidFile, c.Name, limit)
	}
	return c, nil
}

func IsCategory(name string) bool {
	if name == CategoryOther {
		return true
	}
	for _, c := range DefaultCategories {
		if c.Name == name {
			return true
		}
	}
	return false
}

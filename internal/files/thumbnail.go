package files

import (
	"bytes"
	"context"
	"fmt"

	"emberframe/internal/storage"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
)

type ThumbnailJob struct {
	UserID   int64
	Path     string
	Checksum string
}

type ThumbnailStore interface {
	MarkThumbnail(ctx context.Context, ownerID int64, checksum string) error
}

// Thumbnailer renders JPEG previews in the background. Previews are keyed
// by content hash, so copies and renames share one file.
type Thumbnailer struct {
	sb    *storage.Sandbox
	store ThumbnailStore
	size  int
	jobs  chan ThumbnailJob
	log   *zap.Logger
}

func NewThumbnailer(sb *storage.Sandbox, store ThumbnailStore, size int, log *zap.Logger) *Thumbnailer {
	if size <= 0 {
		size = 200
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Thumbnailer{
		sb:    sb,
		store: store,
		size:  size,
		jobs:  make(chan ThumbnailJob, 256),
		log:   log,
	}
}

func (t *Thumbnailer) Enqueue(job ThumbnailJob) bool {
	select {
	case t.jobs <- job:
		return true
	default:
		return false
	}
}

// Run processes queued jobs until ctx is done.
func (t *Thumbnailer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-t.jobs:
			if err := t.Generate(ctx, job); err != nil {
				t.log.Warn("thumbnail generation failed",
					zap.Int64("user_id", job.UserID),
					zap.String("path", job.Path),
					zap.Error(err),
				)
			}
		}
	}
}

func (t *Thumbnailer) Generate(ctx context.Context, job ThumbnailJob) error {
	dst := thumbnailPath(t.sb, job.UserID, job.Checksum)

	exists, err := t.sb.Exists(dst)
	if err != nil {
		return err
	}
	if !exists {
		if err := t.render(job, dst); err != nil {
			return err
		}
	}
	return t.store.MarkThumbnail(ctx, job.UserID, job.Checksum)
}

func (t *Thumbnailer) render(job ThumbnailJob, dst string) error {
	src, err := t.sb.Resolve(job.UserID, job.Path)
	if err != nil {
		return err
	}
	f, err := t.sb.Open(src.Physical)
	if err != nil {
		return err
	}
	defer f.Close()

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	thumb := imaging.Fit(img, t.size, t.size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}

	if _, err := t.sb.InternalDir(job.UserID, storage.ThumbnailDir); err != nil {
		return err
	}
	_, err = t.sb.Save(dst, &buf)
	return err
}

package files

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"emberframe/internal/apperr"
	"emberframe/internal/audit"
	"emberframe/internal/models"
	"emberframe/internal/storage"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// UploadResult describes a stored upload. Renamed is set when the requested
// name was taken and a numbered variant was used.
type UploadResult struct {
	Entry   models.FileEntry `json:"entry"`
	Renamed bool             `json:"renamed"`
}

const maxCollisionSuffix = 10000

var thumbnailMimes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/webp": true,
	"image/tiff": true,
}

// Upload stores size bytes read from r as filename inside the folder dir,
// creating the folder if needed. Quota is reserved before any byte is
// written and released again if the upload fails.
func (s *Service) Upload(ctx context.Context, actor models.Actor, dir, filename string, size int64, r io.Reader) (res *UploadResult, err error) {
	target := path.Join("/", dir, filename)
	defer func() {
		details := map[string]any{"size": size}
		if res != nil {
			target = displayPath(res.Entry.Path)
			details["renamed"] = res.Renamed
		}
		s.record(ctx, actor, audit.ActionFilesUploaded, target, err, details)
	}()

	unlock := s.locks.shared(actor.UserID)
	res, err = s.upload(ctx, actor.UserID, dir, filename, size, r)
	unlock()
	if err != nil {
		return nil, err
	}
	s.changed(actor.UserID, path.Dir("/" + res.Entry.Path)[1:])
	return res, nil
}

func (s *Service) upload(ctx context.Context, userID int64, dir, filename string, size int64, r io.Reader) (*UploadResult, error) {
	name := storage.SanitizeFilename(filename)
	if err := storage.ValidateName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidFile, err)
	}
	category, err := s.policy.Check(name, size)
	if err != nil {
		return nil, err
	}

	folder, err := s.sb.Resolve(userID, dir)
	if err != nil {
		return nil, err
	}
	if err := s.ensureFolder(userID, folder); err != nil {
		return nil, err
	}

	ok, err := s.repo.ReserveStorage(ctx, userID, size)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d bytes do not fit", apperr.ErrQuotaExceeded, size)
	}

	staged, err := s.stage(ctx, userID, size, r)
	if err != nil {
		s.release(ctx, userID, size)
		return nil, err
	}

	final, err := s.place(userID, folder, name, staged.path)
	if err != nil {
		_ = s.sb.Remove(staged.path)
		s.release(ctx, userID, size)
		return nil, err
	}

	meta, err := s.repo.UpsertFileMetadata(context.WithoutCancel(ctx), models.FileMetadata{
		OwnerID:   userID,
		Path:      final.Logical,
		Name:      final.Name(),
		SizeBytes: size,
		MimeType:  staged.mime,
		Category:  category.Name,
		Checksum:  staged.checksum,
	})
	if err != nil {
		_ = s.sb.Remove(final.Physical)
		s.release(ctx, userID, size)
		return nil, err
	}

	if s.thumbs != nil && thumbnailMimes[staged.mime] {
		if !s.thumbs.Enqueue(ThumbnailJob{UserID: userID, Path: final.Logical, Checksum: staged.checksum}) {
			s.log.Warn("thumbnail queue full, skipping", zap.Int64("user_id", userID), zap.String("path", final.Logical))
		}
	}

	fi, err := s.stat(final)
	if err != nil {
		return nil, err
	}
	entry := entryFromInfo(final.Logical, fi)
	applyMetadata(&entry, meta)

	return &UploadResult{Entry: entry, Renamed: final.Name() != name}, nil
}

func (s *Service) release(ctx context.Context, userID, size int64) {
	if err := s.repo.UpdateUserStorage(context.WithoutCancel(ctx), userID, -size); err != nil {
		s.log.Error("failed to release reserved storage", zap.Int64("user_id", userID), zap.Int64("bytes", size), zap.Error(err))
	}
}

// ensureFolder creates the folder chain of r. An existing file in the way
// is an error.
func (s *Service) ensureFolder(userID int64, r storage.Resolved) error {
	if r.IsRoot() {
		_, err := s.sb.UserRoot(userID)
		return err
	}
	fi, err := s.sb.Stat(r.Physical)
	switch {
	case err == nil && !fi.IsDir():
		return fmt.Errorf("%w: %s is a file", apperr.ErrAlreadyExists, displayPath(r.Logical))
	case err == nil:
		return nil
	case errors.Is(err, apperr.ErrNotFound):
		return s.sb.Fs().MkdirAll(r.Physical, 0o755)
	default:
		return err
	}
}

type stagedFile struct {
	path     string
	checksum string
	mime     string
}

// stage streams the upload into the staging area, hashing it on the way.
func (s *Service) stage(ctx context.Context, userID, size int64, r io.Reader) (*stagedFile, error) {
	dir, err := s.sb.InternalDir(userID, storage.StagingDir)
	if err != nil {
		return nil, err
	}
	tmp := filepath.Join(dir, s.newID())

	f, err := s.sb.Fs().Create(tmp)
	if err != nil {
		return nil, err
	}

	hasher := sha256.New()
	sniff := &headBuffer{limit: 3072}
	n, err := io.Copy(io.MultiWriter(f, hasher, sniff), ctxReader{ctx: ctx, r: io.LimitReader(r, size+1)})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n != size {
		err = fmt.Errorf("%w: expected %d bytes, received %d", apperr.ErrInvalidFile, size, n)
	}
	if err != nil {
		_ = s.sb.Remove(tmp)
		return nil, err
	}

	mime := mimetype.Detect(sniff.buf)
	return &stagedFile{
		path:     tmp,
		checksum: hex.EncodeToString(hasher.Sum(nil)),
		mime:     baseMime(mime.String()),
	}, nil
}

// place moves the staged file into folder under the first free variant of
// name: "report.pdf", "report (1).pdf", "report (2).pdf", ...
func (s *Service) place(userID int64, folder storage.Resolved, name, staged string) (storage.Resolved, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		stem, ext = name, ""
	}

	for i := 0; i < maxCollisionSuffix; i++ {
		candidate := name
		if i > 0 {
			candidate = stem + " (" + strconv.Itoa(i) + ")" + ext
		}
		if len(candidate) > storage.MaxNameBytes {
			return storage.Resolved{}, fmt.Errorf("%w: name too long", apperr.ErrInvalidFile)
		}

		target, err := s.sb.Join(userID, folder, candidate)
		if err != nil {
			return storage.Resolved{}, err
		}
		exists, err := s.sb.Exists(target.Physical)
		if err != nil {
			return storage.Resolved{}, err
		}
		if exists {
			continue
		}

		if err := s.sb.Fs().Rename(staged, target.Physical); err != nil {
			return storage.Resolved{}, err
		}
		return target, nil
	}
	return storage.Resolved{}, fmt.Errorf("%w: too many files named %s", apperr.ErrAlreadyExists, name)
}

func baseMime(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.TrimSpace(m)
}

// headBuffer keeps the first limit bytes written to it.
type headBuffer struct {
	buf   []byte
	limit int
}

func (h *headBuffer) Write(p []byte) (int, error) {
	if room := h.limit - len(h.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		h.buf = append(h.buf, p[:room]...)
	}
	return len(p), nil
}

// Package files implements the per-user file tree: listing, uploads, folder
// management, move and copy, downloads, thumbnails, search and quota
// accounting on top of the storage sandbox.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"emberframe/internal/apperr"
	"emberframe/internal/audit"
	"emberframe/internal/models"
	"emberframe/internal/storage"

	"github.com/jaevor/go-nanoid"
	"go.uber.org/zap"
)

// EventFilesChanged is pushed to the owner after every successful mutation.
const EventFilesChanged = "files_changed"

const searchLimit = 50

type Repository interface {
	ReserveStorage(ctx context.Context, userID int64, n int64) (bool, error)
	UpdateUserStorage(ctx context.Context, userID int64, delta int64) error
	GetUserStorage(ctx context.Context, userID int64) (used int64, quota int64, err error)

	UpsertFileMetadata(ctx context.Context, arg models.FileMetadata) (*models.FileMetadata, error)
	GetFileMetadata(ctx context.Context, ownerID int64, path string) (*models.FileMetadata, error)
	ListFileMetadata(ctx context.Context, ownerID int64, paths []string) ([]models.FileMetadata, error)
	ListAllFileMetadata(ctx context.Context, ownerID int64) ([]models.FileMetadata, error)
	RenameFileMetadata(ctx context.Context, ownerID int64, oldPath, newPath, newName string) (int64, error)
	CopyFileMetadata(ctx context.Context, ownerID int64, srcPath, dstPath, dstName string) (int64, error)
	DeleteFileMetadata(ctx context.Context, ownerID int64, path string) (int64, error)
	MarkThumbnail(ctx context.Context, ownerID int64, checksum string) error
	SearchFiles(ctx context.Context, ownerID int64, term, category string, limit int) ([]models.FileMetadata, error)
	StorageByCategory(ctx context.Context, ownerID *int64) ([]models.CategoryUsage, error)
	ListChecksums(ctx context.Context, ownerID int64) ([]string, error)
	ReplaceFileMetadata(ctx context.Context, ownerID int64, rows []models.FileMetadata, usedBytes int64) error
}

// ThumbnailQueue accepts thumbnail work without blocking the caller.
type ThumbnailQueue interface {
	Enqueue(job ThumbnailJob) bool
}

type Notifier interface {
	Publish(userID int64, eventType string, payload interface{})
}

type Config struct {
	Repo       Repository
	Sandbox    *storage.Sandbox
	Policy     *Policy
	Audit      audit.Sink
	Thumbnails ThumbnailQueue
	Events     Notifier
	Logger     *zap.Logger
}

type Service struct {
	repo   Repository
	sb     *storage.Sandbox
	policy *Policy
	audit  audit.Sink
	thumbs ThumbnailQueue
	events Notifier
	log    *zap.Logger
	locks  *userLocks

	newID func() string
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Repo == nil || cfg.Sandbox == nil {
		return nil, errors.New("files: repository and sandbox are required")
	}
	generateID, err := nanoid.Standard(21)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize nanoid generator: %w", err)
	}

	s := &Service{
		repo:   cfg.Repo,
		sb:     cfg.Sandbox,
		policy: cfg.Policy,
		audit:  cfg.Audit,
		thumbs: cfg.Thumbnails,
		events: cfg.Events,
		log:    cfg.Logger,
		locks:  newUserLocks(),
		newID:  generateID,
	}
	if s.policy == nil {
		s.policy = NewPolicy(0, nil)
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s, nil
}

// ItemResult is the outcome of one source of a batch move or copy.
type ItemResult struct {
	Source string
	Target string
	Err    error
}

func (r ItemResult) OK() bool { return r.Err == nil }

func (s *Service) record(ctx context.Context, actor models.Actor, action, target string, err error, details map[string]any) {
	e := audit.Entry{Actor: actor, Action: action, Target: target, Outcome: models.OutcomeSuccess, Details: details}
	if err != nil {
		e.Outcome = models.OutcomeFailure
		e.Message = publicMessage(err)
	}
	s.audit.Record(ctx, e)
}

func (s *Service) changed(userID int64, folder string) {
	if s.events != nil {
		s.events.Publish(userID, EventFilesChanged, map[string]string{"path": folder})
	}
}

// publicMessage hides errors outside the taxonomy; they can carry physical
// paths.
func publicMessage(err error) string {
	if apperr.IsInternal(err) {
		return "internal error"
	}
	return err.Error()
}

// stat returns the entry info at r, mapping a missing path to ErrNotFound.
func (s *Service) stat(r storage.Resolved) (os.FileInfo, error) {
	fi, err := s.sb.Stat(r.Physical)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, displayPath(r.Logical))
		}
		return nil, err
	}
	return fi, nil
}

// folder resolves a path that must name an existing folder.
func (s *Service) folder(userID int64, logical string) (storage.Resolved, error) {
	r, err := s.sb.Resolve(userID, logical)
	if err != nil {
		return storage.Resolved{}, err
	}
	if r.IsRoot() {
		if _, err := s.sb.UserRoot(userID); err != nil {
			return storage.Resolved{}, err
		}
		return r, nil
	}
	fi, err := s.stat(r)
	if err != nil {
		return storage.Resolved{}, err
	}
	if !fi.IsDir() {
		return storage.Resolved{}, fmt.Errorf("%w: %s is not a folder", apperr.ErrNotFound, r.Logical)
	}
	return r, nil
}

func displayPath(logical string) string {
	return "/" + logical
}

func entryFromInfo(logical string, fi os.FileInfo) models.FileEntry {
	e := models.FileEntry{
		Name:       fi.Name(),
		Path:       logical,
		ModifiedAt: fi.ModTime().UTC(),
	}
	if fi.IsDir() {
		e.Kind = models.EntryFolder
	} else {
		e.Kind = models.EntryFile
		e.Size = fi.Size()
	}
	return e
}

func applyMetadata(e *models.FileEntry, m *models.FileMetadata) {
	if m == nil {
		return
	}
	e.MimeType = m.MimeType
	e.Category = m.Category
	e.Checksum = m.Checksum
	e.HasThumbnail = m.HasThumbnail
}

func entryFromMetadata(m models.FileMetadata) models.FileEntry {
	e := models.FileEntry{
		Name:       m.Name,
		Path:       m.Path,
		Kind:       models.EntryFile,
		Size:       m.SizeBytes,
		ModifiedAt: m.UpdatedAt,
	}
	applyMetadata(&e, &m)
	return e
}

func joinLogical(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// List returns the entries of a folder, folders first.
func (s *Service) List(ctx context.Context, actor models.Actor, logical, sortBy, order string) ([]models.FileEntry, error) {
	dir, err := s.folder(actor.UserID, logical)
	if err != nil {
		return nil, err
	}

	infos, err := readDir(s.sb, dir.Physical)
	if err != nil {
		return nil, err
	}

	entries := make([]models.FileEntry, 0, len(infos))
	var filePaths []string
	for _, fi := range infos {
		if storage.IsInternal(fi.Name()) || storage.IsReserved(fi.Name()) {
			continue
		}
		if !fi.IsDir() && !fi.Mode().IsRegular() {
			continue
		}
		e := entryFromInfo(joinLogical(dir.Logical, fi.Name()), fi)
		if !e.IsFolder() {
			filePaths = append(filePaths, e.Path)
		}
		entries = append(entries, e)
	}

	meta, err := s.repo.ListFileMetadata(ctx, actor.UserID, filePaths)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]*models.FileMetadata, len(meta))
	for i := range meta {
		byPath[meta[i].Path] = &meta[i]
	}
	for i := range entries {
		if !entries[i].IsFolder() {
			applyMetadata(&entries[i], byPath[entries[i].Path])
		}
	}

	if err := SortEntries(entries, sortBy, order); err != nil {
		return nil, err
	}
	return entries, nil
}

// SortEntries orders folders before files, then by name, size or date.
func SortEntries(entries []models.FileEntry, sortBy, order string) error {
	var less func(a, b models.FileEntry) bool
	switch sortBy {
	case "", "name":
		less = func(a, b models.FileEntry) bool {
			an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
			if an == bn {
				return a.Name < b.Name
			}
			return an < bn
		}
	case "size":
		less = func(a, b models.FileEntry) bool { return a.Size < b.Size }
	case "date", "modified":
		less = func(a, b models.FileEntry) bool { return a.ModifiedAt.Before(b.ModifiedAt) }
	default:
		return fmt.Errorf("%w: unknown sort key %q", apperr.ErrInvalidArgument, sortBy)
	}

	desc := false
	switch order {
	case "", "asc":
	case "desc":
		desc = true
	default:
		return fmt.Errorf("%w: unknown sort order %q", apperr.ErrInvalidArgument, order)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsFolder() != b.IsFolder() {
			return a.IsFolder()
		}
		if desc {
			return less(b, a)
		}
		return less(a, b)
	})
	return nil
}

// Open returns a read handle on a stored file. The caller closes it.
func (s *Service) Open(ctx context.Context, actor models.Actor, logical string) (io.ReadSeekCloser, *models.FileEntry, error) {
	r, err := s.sb.Resolve(actor.UserID, logical)
	if err != nil {
		return nil, nil, err
	}
	fi, err := s.stat(r)
	if err != nil {
		return nil, nil, err
	}
	if fi.IsDir() {
		return nil, nil, fmt.Errorf("%w: cannot download a folder", apperr.ErrInvalidArgument)
	}

	meta, err := s.repo.GetFileMetadata(ctx, actor.UserID, r.Logical)
	if err != nil {
		return nil, nil, err
	}

	f, err := s.sb.Open(r.Physical)
	if err != nil {
		return nil, nil, err
	}

	entry := entryFromInfo(r.Logical, fi)
	applyMetadata(&entry, meta)
	return f, &entry, nil
}

// Stat describes one entry of the tree.
func (s *Service) Stat(ctx context.Context, actor models.Actor, logical string) (*models.FileEntry, error) {
	r, err := s.sb.Resolve(actor.UserID, logical)
	if err != nil {
		return nil, err
	}
	if r.IsRoot() {
		if _, err := s.sb.UserRoot(actor.UserID); err != nil {
			return nil, err
		}
		return &models.FileEntry{Name: "/", Kind: models.EntryFolder}, nil
	}
	fi, err := s.stat(r)
	if err != nil {
		return nil, err
	}
	e := entryFromInfo(r.Logical, fi)
	if !e.IsFolder() {
		meta, err := s.repo.GetFileMetadata(ctx, actor.UserID, r.Logical)
		if err != nil {
			return nil, err
		}
		applyMetadata(&e, meta)
	}
	return &e, nil
}

// Thumbnail returns the JPEG preview of an image file.
func (s *Service) Thumbnail(ctx context.Context, actor models.Actor, logical string) ([]byte, error) {
	r, err := s.sb.Resolve(actor.UserID, logical)
	if err != nil {
		return nil, err
	}
	meta, err := s.repo.GetFileMetadata(ctx, actor.UserID, r.Logical)
	if err != nil {
		return nil, err
	}
	if meta == nil || !meta.HasThumbnail || meta.Checksum == "" {
		return nil, fmt.Errorf("%w: no thumbnail for %s", apperr.ErrNotFound, displayPath(r.Logical))
	}

	data, err := readFile(s.sb, thumbnailPath(s.sb, actor.UserID, meta.Checksum))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("%w: no thumbnail for %s", apperr.ErrNotFound, displayPath(r.Logical))
		}
		return nil, err
	}
	return data, nil
}

// Search matches file names case-insensitively, optionally within one
// category.
func (s *Service) Search(ctx context.Context, actor models.Actor, query, category string) ([]models.FileEntry, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < 2 {
		return nil, fmt.Errorf("%w: search query must be at least 2 characters", apperr.ErrInvalidArgument)
	}
	if category != "" && !IsCategory(category) {
		return nil, fmt.Errorf("%w: unknown category %q", apperr.ErrInvalidArgument, category)
	}

	rows, err := s.repo.SearchFiles(ctx, actor.UserID, query, category, searchLimit)
	if err != nil {
		return nil, err
	}
	out := make([]models.FileEntry, 0, len(rows))
	for _, m := range rows {
		out = append(out, entryFromMetadata(m))
	}
	return out, nil
}

func (s *Service) Usage(ctx context.Context, userID int64) (*models.StorageUsage, error) {
	used, quota, err := s.repo.GetUserStorage(ctx, userID)
	if err != nil {
		return nil, err
	}
	byCategory, err := s.repo.StorageByCategory(ctx, &userID)
	if err != nil {
		return nil, err
	}

	u := &models.StorageUsage{
		UsedBytes:  used,
		QuotaBytes: quota,
		ByCategory: byCategory,
	}
	if quota > 0 {
		u.Percent = float64(used) / float64(quota) * 100
	}
	return u, nil
}

func (s *Service) CreateFolder(ctx context.Context, actor models.Actor, parent, name string) (entry *models.FileEntry, err error) {
	target := path.Join("/", parent, name)
	defer func() {
		s.record(ctx, actor, audit.ActionFolderCreated, target, err, nil)
	}()

	name = storage.SanitizeFilename(name)
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}

	dir, err := s.folder(actor.UserID, parent)
	if err != nil {
		return nil, err
	}
	r, err := s.sb.Join(actor.UserID, dir, name)
	if err != nil {
		return nil, err
	}
	target = displayPath(r.Logical)

	exists, err := s.sb.Exists(r.Physical)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", apperr.ErrAlreadyExists, target)
	}

	if err := s.sb.Fs().Mkdir(r.Physical, 0o755); err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrAlreadyExists, target)
		}
		return nil, err
	}

	fi, err := s.stat(r)
	if err != nil {
		return nil, err
	}
	e := entryFromInfo(r.Logical, fi)
	s.changed(actor.UserID, dir.Logical)
	return &e, nil
}

// Delete removes a file or a folder with everything below it and returns
// the number of bytes freed.
func (s *Service) Delete(ctx context.Context, actor models.Actor, logical string) (freed int64, err error) {
	target := logical
	defer func() {
		s.record(ctx, actor, audit.ActionFileDeleted, target, err, map[string]any{"bytes": freed})
	}()
	defer s.locks.shared(actor.UserID)()

	r, err := s.sb.Resolve(actor.UserID, logical)
	if err != nil {
		return 0, err
	}
	target = displayPath(r.Logical)
	if r.IsRoot() {
		return 0, fmt.Errorf("%w: cannot delete the root folder", apperr.ErrPermissionDenied)
	}

	fi, err := s.stat(r)
	if err != nil {
		return 0, err
	}

	var size int64
	if fi.IsDir() {
		size, err = s.sb.Usage(r.Physical)
		if err != nil {
			return 0, err
		}
	} else {
		size = fi.Size()
	}

	if err := s.sb.Remove(r.Physical); err != nil {
		return 0, err
	}

	bg := context.WithoutCancel(ctx)
	if _, err := s.repo.DeleteFileMetadata(bg, actor.UserID, r.Logical); err != nil {
		s.log.Error("failed to delete file metadata", zap.Int64("user_id", actor.UserID), zap.String("path", r.Logical), zap.Error(err))
	}
	if err := s.repo.UpdateUserStorage(bg, actor.UserID, -size); err != nil {
		s.log.Error("failed to release storage", zap.Int64("user_id", actor.UserID), zap.Int64("bytes", size), zap.Error(err))
	}

	s.changed(actor.UserID, r.Parent())
	return size, nil
}

func (s *Service) Rename(ctx context.Context, actor models.Actor, logical, newName string) (entry *models.FileEntry, err error) {
	target := logical
	details := map[string]any{"new_name": newName}
	defer func() {
		s.record(ctx, actor, audit.ActionFileRenamed, target, err, details)
	}()
	defer s.locks.shared(actor.UserID)()

	src, err := s.sb.Resolve(actor.UserID, logical)
	if err != nil {
		return nil, err
	}
	target = displayPath(src.Logical)
	if src.IsRoot() {
		return nil, fmt.Errorf("%w: cannot rename the root folder", apperr.ErrPermissionDenied)
	}
	if _, err := s.stat(src); err != nil {
		return nil, err
	}

	name := storage.SanitizeFilename(newName)
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}

	dst, err := s.sb.Resolve(actor.UserID, joinLogical(src.Parent(), name))
	if err != nil {
		return nil, err
	}
	details["new_path"] = displayPath(dst.Logical)

	if dst.Logical != src.Logical {
		if err := s.moveEntry(ctx, actor.UserID, src, dst); err != nil {
			return nil, err
		}
		s.changed(actor.UserID, src.Parent())
	}

	fi, err := s.stat(dst)
	if err != nil {
		return nil, err
	}
	e := entryFromInfo(dst.Logical, fi)
	if !e.IsFolder() {
		meta, err := s.repo.GetFileMetadata(ctx, actor.UserID, dst.Logical)
		if err != nil {
			return nil, err
		}
		applyMetadata(&e, meta)
	}
	return &e, nil
}

// moveEntry renames src to dst on disk and rewrites the metadata rows.
func (s *Service) moveEntry(ctx context.Context, userID int64, src, dst storage.Resolved) error {
	exists, err := s.sb.Exists(dst.Physical)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", apperr.ErrAlreadyExists, displayPath(dst.Logical))
	}

	if err := s.sb.Fs().Rename(src.Physical, dst.Physical); err != nil {
		return err
	}

	if _, err := s.repo.RenameFileMetadata(context.WithoutCancel(ctx), userID, src.Logical, dst.Logical, dst.Name()); err != nil {
		s.log.Error("failed to rewrite file metadata",
			zap.Int64("user_id", userID),
			zap.String("from", src.Logical),
			zap.String("to", dst.Logical),
			zap.Error(err),
		)
	}
	return nil
}

// checkBatchItem validates one source of a move or copy into dest.
func (s *Service) checkBatchItem(userID int64, source string, dest storage.Resolved) (storage.Resolved, os.FileInfo, error) {
	src, err := s.sb.Resolve(userID, source)
	if err != nil {
		return storage.Resolved{}, nil, err
	}
	if src.IsRoot() {
		return storage.Resolved{}, nil, fmt.Errorf("%w: cannot move or copy the root folder", apperr.ErrPermissionDenied)
	}
	fi, err := s.stat(src)
	if err != nil {
		return storage.Resolved{}, nil, err
	}
	if fi.IsDir() && (dest.Logical == src.Logical || strings.HasPrefix(dest.Logical, src.Logical+"/")) {
		return storage.Resolved{}, nil, fmt.Errorf("%w: cannot place a folder inside itself", apperr.ErrInvalidArgument)
	}
	return src, fi, nil
}

// Move relocates every source into dest. Items fail independently.
func (s *Service) Move(ctx context.Context, actor models.Actor, sources []string, dest string) (results []ItemResult, err error) {
	return s.batch(ctx, actor, audit.ActionFilesMoved, sources, dest, s.moveItem)
}

// Copy duplicates every source into dest. Items fail independently.
func (s *Service) Copy(ctx context.Context, actor models.Actor, sources []string, dest string) (results []ItemResult, err error) {
	return s.batch(ctx, actor, audit.ActionFilesCopied, sources, dest, s.copyItem)
}

type itemFunc func(ctx context.Context, userID int64, source string, dest storage.Resolved) (string, error)

func (s *Service) batch(ctx context.Context, actor models.Actor, action string, sources []string, dest string, fn itemFunc) (results []ItemResult, err error) {
	target := dest
	var succeeded, failed int
	defer func() {
		e := audit.Entry{
			Actor:  actor,
			Action: action,
			Target: target,
			Details: map[string]any{
				"sources":   sources,
				"succeeded": succeeded,
				"failed":    failed,
			},
		}
		if err != nil {
			e.Outcome = models.OutcomeFailure
			e.Message = publicMessage(err)
		} else {
			e.Outcome = audit.Outcome(succeeded, failed)
		}
		s.audit.Record(ctx, e)
	}()

	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no sources given", apperr.ErrInvalidArgument)
	}
	defer s.locks.shared(actor.UserID)()

	destDir, err := s.folder(actor.UserID, dest)
	if err != nil {
		return nil, err
	}
	target = displayPath(destDir.Logical)

	results = make([]ItemResult, 0, len(sources))
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			results = append(results, ItemResult{Source: source, Err: err})
			failed++
			continue
		}
		to, err := fn(ctx, actor.UserID, source, destDir)
		results = append(results, ItemResult{Source: source, Target: to, Err: err})
		if err != nil {
			failed++
		} else {
			succeeded++
		}
	}

	if succeeded > 0 {
		s.changed(actor.UserID, destDir.Logical)
	}
	return results, nil
}

func (s *Service) moveItem(ctx context.Context, userID int64, source string, dest storage.Resolved) (string, error) {
	src, _, err := s.checkBatchItem(userID, source, dest)
	if err != nil {
		return "", err
	}
	if src.Parent() == dest.Logical {
		return src.Logical, nil
	}

	dst, err := s.sb.Join(userID, dest, src.Name())
	if err != nil {
		return "", err
	}
	if err := s.moveEntry(ctx, userID, src, dst); err != nil {
		return "", err
	}
	s.changed(userID, src.Parent())
	return dst.Logical, nil
}

func (s *Service) copyItem(ctx context.Context, userID int64, source string, dest storage.Resolved) (string, error) {
	src, fi, err := s.checkBatchItem(userID, source, dest)
	if err != nil {
		return "", err
	}

	dst, err := s.sb.Join(userID, dest, src.Name())
	if err != nil {
		return "", err
	}
	exists, err := s.sb.Exists(dst.Physical)
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("%w: %s", apperr.ErrAlreadyExists, displayPath(dst.Logical))
	}

	size := fi.Size()
	if fi.IsDir() {
		if size, err = s.sb.Usage(src.Physical); err != nil {
			return "", err
		}
	}

	ok, err := s.repo.ReserveStorage(ctx, userID, size)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: copying %s needs %d bytes", apperr.ErrQuotaExceeded, displayPath(src.Logical), size)
	}

	if err := copyTree(ctx, s.sb.Fs(), src.Physical, dst.Physical); err != nil {
		bg := context.WithoutCancel(ctx)
		if rmErr := s.sb.Remove(dst.Physical); rmErr != nil {
			s.log.Error("failed to clean up partial copy", zap.String("path", dst.Logical), zap.Error(rmErr))
		}
		if relErr := s.repo.UpdateUserStorage(bg, userID, -size); relErr != nil {
			s.log.Error("failed to release storage", zap.Int64("user_id", userID), zap.Error(relErr))
		}
		return "", err
	}

	if _, err := s.repo.CopyFileMetadata(context.WithoutCancel(ctx), userID, src.Logical, dst.Logical, dst.Name()); err != nil {
		s.log.Error("failed to copy file metadata", zap.String("from", src.Logical), zap.String("to", dst.Logical), zap.Error(err))
	}
	return dst.Logical, nil
}

func strconvID(id int64) string {
	return strconv.FormatInt(id, 10)
}

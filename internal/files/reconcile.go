package files

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"emberframe/internal/audit"
	"emberframe/internal/models"
	"emberframe/internal/storage"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// staleStaging is how old an abandoned staging file must be before
// reconciliation removes it.
const staleStaging = time.Hour

type ReconcileResult struct {
	UserID           int64 `json:"user_id"`
	BeforeBytes      int64 `json:"before_bytes"`
	AfterBytes       int64 `json:"after_bytes"`
	Files            int   `json:"files"`
	PrunedThumbnails int   `json:"pruned_thumbnails"`
	PrunedStaging    int   `json:"pruned_staging"`
}

// Reconcile rebuilds the metadata and the storage counter of a user from
// what is actually on disk. It waits for the user's in-flight mutations and
// holds new ones back until it is done.
func (s *Service) Reconcile(ctx context.Context, actor models.Actor, userID int64) (res *ReconcileResult, err error) {
	defer func() {
		var details map[string]any
		if res != nil {
			details = map[string]any{
				"before_bytes": res.BeforeBytes,
				"after_bytes":  res.AfterBytes,
				"files":        res.Files,
			}
		}
		s.record(ctx, actor, audit.ActionStorageReconciled, strconvID(userID), err, details)
	}()
	defer s.locks.exclusive(userID)()

	before, _, err := s.repo.GetUserStorage(ctx, userID)
	if err != nil {
		return nil, err
	}

	root, err := s.sb.UserRoot(userID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.ListAllFileMetadata(ctx, userID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]models.FileMetadata, len(existing))
	for _, m := range existing {
		known[m.Path] = m
	}

	var (
		rows  []models.FileMetadata
		total int64
	)
	fs := s.sb.Fs()
	err = afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if info.IsDir() {
			if filepath.Dir(p) == root && storage.IsInternal(info.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		logical := filepath.ToSlash(rel)

		row, ok := known[logical]
		if !ok || row.SizeBytes != info.Size() || row.Checksum == "" {
			row, err = s.describe(p, logical, info)
			if err != nil {
				return err
			}
		}
		rows = append(rows, row)
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.ReplaceFileMetadata(ctx, userID, rows, total); err != nil {
		return nil, err
	}

	if s.thumbs != nil {
		for _, row := range rows {
			if !row.HasThumbnail && thumbnailMimes[row.MimeType] {
				s.thumbs.Enqueue(ThumbnailJob{UserID: userID, Path: row.Path, Checksum: row.Checksum})
			}
		}
	}

	res = &ReconcileResult{
		UserID:      userID,
		BeforeBytes: before,
		AfterBytes:  total,
		Files:       len(rows),
	}
	res.PrunedThumbnails = s.pruneThumbnails(ctx, userID, root)
	res.PrunedStaging = s.pruneStaging(root)

	if before != total {
		s.log.Info("storage usage corrected",
			zap.Int64("user_id", userID),
			zap.Int64("before", before),
			zap.Int64("after", total),
		)
	}
	return res, nil
}

func (s *Service) describe(physical, logical string, info os.FileInfo) (models.FileMetadata, error) {
	f, err := s.sb.Fs().Open(physical)
	if err != nil {
		return models.FileMetadata{}, err
	}
	defer f.Close()

	hasher := sha256.New()
	sniff := &headBuffer{limit: 3072}
	if _, err := io.Copy(io.MultiWriter(hasher, sniff), f); err != nil {
		return models.FileMetadata{}, err
	}

	name := info.Name()
	return models.FileMetadata{
		Path:      logical,
		Name:      name,
		SizeBytes: info.Size(),
		MimeType:  baseMime(mimetype.Detect(sniff.buf).String()),
		Category:  s.policy.Classify(name).Name,
		Checksum:  hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// pruneThumbnails deletes previews no stored file refers to any more.
func (s *Service) pruneThumbnails(ctx context.Context, userID int64, root string) int {
	checksums, err := s.repo.ListChecksums(ctx, userID)
	if err != nil {
		s.log.Warn("failed to list checksums", zap.Int64("user_id", userID), zap.Error(err))
		return 0
	}
	live := make(map[string]bool, len(checksums))
	for _, c := range checksums {
		live[c] = true
	}

	dir := filepath.Join(root, storage.ThumbnailDir)
	infos, err := readDir(s.sb, dir)
	if err != nil {
		s.log.Warn("failed to read thumbnail directory", zap.Error(err))
		return 0
	}

	pruned := 0
	for _, fi := range infos {
		if live[strings.TrimSuffix(fi.Name(), ".jpg")] {
			continue
		}
		if err := s.sb.Remove(filepath.Join(dir, fi.Name())); err == nil {
			pruned++
		}
	}
	return pruned
}

// pruneStaging removes uploads abandoned by a crashed process.
func (s *Service) pruneStaging(root string) int {
	dir := filepath.Join(root, storage.StagingDir)
	infos, err := readDir(s.sb, dir)
	if err != nil {
		return 0
	}

	cutoff := time.Now().Add(-staleStaging)
	pruned := 0
	for _, fi := range infos {
		if fi.ModTime().After(cutoff) {
			continue
		}
		if err := s.sb.Remove(filepath.Join(dir, fi.Name())); err == nil {
			pruned++
		}
	}
	return pruned
}

// ReconcileAll reconciles every listed user, logging failures.
func (s *Service) ReconcileAll(ctx context.Context, actor models.Actor, userIDs []int64) int {
	done := 0
	for _, id := range userIDs {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.Reconcile(ctx, actor, id); err != nil {
			s.log.Error("storage reconciliation failed", zap.Int64("user_id", id), zap.Error(err))
			continue
		}
		done++
	}
	return done
}

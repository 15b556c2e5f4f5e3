package files

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"emberframe/internal/audit"
	"emberframe/internal/models"
)

type fakeUser struct {
	used  int64
	quota int64
}

type fakeRepo struct {
	mu    sync.Mutex
	users map[int64]*fakeUser
	files map[int64]map[string]models.FileMetadata
	ids   int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users: map[int64]*fakeUser{},
		files: map[int64]map[string]models.FileMetadata{},
	}
}

func (f *fakeRepo) addUser(id, quota int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = &fakeUser{quota: quota}
	f.files[id] = map[string]models.FileMetadata{}
}

func (f *fakeRepo) used(id int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id].used
}

func under(p, prefix string) bool {
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func (f *fakeRepo) ReserveStorage(_ context.Context, userID, n int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	if u.used+n > u.quota {
		return false, nil
	}
	u.used += n
	return true, nil
}

func (f *fakeRepo) UpdateUserStorage(_ context.Context, userID, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.used += delta
	if u.used < 0 {
		u.used = 0
	}
	return nil
}

func (f *fakeRepo) GetUserStorage(_ context.Context, userID int64) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	return u.used, u.quota, nil
}

func (f *fakeRepo) UpsertFileMetadata(_ context.Context, arg models.FileMetadata) (*models.FileMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids++
	arg.ID = f.ids
	arg.UpdatedAt = time.Now()
	f.files[arg.OwnerID][arg.Path] = arg
	return &arg, nil
}

func (f *fakeRepo) GetFileMetadata(_ context.Context, ownerID int64, path string) (*models.FileMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.files[ownerID][path]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *fakeRepo) ListFileMetadata(_ context.Context, ownerID int64, paths []string) ([]models.FileMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.FileMetadata{}
	for _, p := range paths {
		if m, ok := f.files[ownerID][p]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListAllFileMetadata(_ context.Context, ownerID int64) ([]models.FileMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.FileMetadata{}
	for _, m := range f.files[ownerID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (f *fakeRepo) RenameFileMetadata(_ context.Context, ownerID int64, oldPath, newPath, newName string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	rows := f.files[ownerID]
	for p, m := range rows {
		if !under(p, oldPath) {
			continue
		}
		delete(rows, p)
		m.Path = newPath + p[len(oldPath):]
		if p == oldPath {
			m.Name = newName
		}
		rows[m.Path] = m
		n++
	}
	return n, nil
}

func (f *fakeRepo) CopyFileMetadata(_ context.Context, ownerID int64, srcPath, dstPath, dstName string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	rows := f.files[ownerID]
	var copies []models.FileMetadata
	for p, m := range rows {
		if !under(p, srcPath) {
			continue
		}
		m.Path = dstPath + p[len(srcPath):]
		if p == srcPath {
			m.Name = dstName
		}
		copies = append(copies, m)
	}
	for _, m := range copies {
		rows[m.Path] = m
		n++
	}
	return n, nil
}

func (f *fakeRepo) DeleteFileMetadata(_ context.Context, ownerID int64, path string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for p := range f.files[ownerID] {
		if under(p, path) {
			delete(f.files[ownerID], p)
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) MarkThumbnail(_ context.Context, ownerID int64, checksum string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for p, m := range f.files[ownerID] {
		if m.Checksum == checksum {
			m.HasThumbnail = true
			f.files[ownerID][p] = m
		}
	}
	return nil
}

func (f *fakeRepo) SearchFiles(_ context.Context, ownerID int64, term, category string, limit int) ([]models.FileMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.FileMetadata{}
	for _, m := range f.files[ownerID] {
		if !strings.Contains(strings.ToLower(m.Name), strings.ToLower(term)) {
			continue
		}
		if category != "" && m.Category != category {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) StorageByCategory(_ context.Context, ownerID *int64) ([]models.CategoryUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	totals := map[string]*models.CategoryUsage{}
	for _, m := range f.files[*ownerID] {
		c, ok := totals[m.Category]
		if !ok {
			c = &models.CategoryUsage{Category: m.Category}
			totals[m.Category] = c
		}
		c.SizeBytes += m.SizeBytes
		c.FileCount++
	}
	out := []models.CategoryUsage{}
	for _, c := range totals {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

func (f *fakeRepo) ListChecksums(_ context.Context, ownerID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	out := []string{}
	for _, m := range f.files[ownerID] {
		if m.Checksum != "" && !seen[m.Checksum] {
			seen[m.Checksum] = true
			out = append(out, m.Checksum)
		}
	}
	return out, nil
}

func (f *fakeRepo) ReplaceFileMetadata(_ context.Context, ownerID int64, rows []models.FileMetadata, usedBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[ownerID] = map[string]models.FileMetadata{}
	for _, r := range rows {
		r.OwnerID = ownerID
		f.files[ownerID][r.Path] = r
	}
	f.users[ownerID].used = usedBytes
	return nil
}

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingSink) Record(_ context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingSink) all() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

type queue struct {
	jobs []ThumbnailJob
}

func (q *queue) Enqueue(job ThumbnailJob) bool {
	q.jobs = append(q.jobs, job)
	return true
}

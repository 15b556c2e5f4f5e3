// Package storage maps the logical path space of each user onto a private
// directory under the upload root and rejects every path that would leave it.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"emberframe/internal/apperr"

	"github.com/spf13/afero"
)

const (
	ThumbnailDir = ".thumbnails"
	StagingDir   = ".staging"

	MaxNameBytes = 255
)

var deviceNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// Resolved is a validated path. Logical is "" for the user root.
type Resolved struct {
	Logical  string
	Physical string
}

func (r Resolved) IsRoot() bool { return r.Logical == "" }

// Name is the last segment of the logical path.
func (r Resolved) Name() string {
	if r.Logical == "" {
		return ""
	}
	return r.Logical[strings.LastIndexByte(r.Logical, '/')+1:]
}

// Parent is the logical path of the containing folder.
func (r Resolved) Parent() string {
	i := strings.LastIndexByte(r.Logical, '/')
	if i < 0 {
		return ""
	}
	return r.Logical[:i]
}

type Sandbox struct {
	fs   afero.Fs
	root string
}

func NewSandbox(fs afero.Fs, root string) (*Sandbox, error) {
	if root == "" {
		return nil, errors.New("storage root is required")
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Sandbox{fs: fs, root: filepath.Clean(root)}, nil
}

func (s *Sandbox) Fs() afero.Fs { return s.fs }
func (s *Sandbox) Root() string { return s.root }

func (s *Sandbox) userDir(userID int64) string {
	return filepath.Join(s.root, strconv.FormatInt(userID, 10))
}

// UserRoot returns the physical root of the user, creating it on first use.
func (s *Sandbox) UserRoot(userID int64) (string, error) {
	dir := s.userDir(userID)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// InternalDir returns a hidden per-user directory such as StagingDir,
// creating it if needed.
func (s *Sandbox) InternalDir(userID int64, name string) (string, error) {
	dir := filepath.Join(s.userDir(userID), name)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Resolve validates a logical path of userID and maps it to its physical
// location. Nothing is created.
func (s *Sandbox) Resolve(userID int64, logical string) (Resolved, error) {
	clean, err := Clean(logical)
	if err != nil {
		return Resolved{}, err
	}

	base := s.userDir(userID)
	physical := base
	if clean != "" {
		physical = filepath.Join(base, filepath.FromSlash(clean))
	}
	if !isWithin(base, physical) {
		return Resolved{}, apperr.ErrPathTraversal
	}

	if err := s.checkSymlinks(base, clean); err != nil {
		return Resolved{}, err
	}

	return Resolved{Logical: clean, Physical: physical}, nil
}

// Join resolves name inside the folder dir.
func (s *Sandbox) Join(userID int64, dir Resolved, name string) (Resolved, error) {
	if dir.Logical == "" {
		return s.Resolve(userID, name)
	}
	return s.Resolve(userID, dir.Logical+"/"+name)
}

// checkSymlinks rejects any existing component below base that is a
// symlink. Filesystems without Lstat support have no symlinks to follow.
func (s *Sandbox) checkSymlinks(base, clean string) error {
	ls, ok := s.fs.(afero.Lstater)
	if !ok || clean == "" {
		return nil
	}

	cur := base
	for _, part := range strings.Split(clean, "/") {
		cur = filepath.Join(cur, part)
		fi, lstatCalled, err := ls.LstatIfPossible(cur)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !lstatCalled {
			return nil
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: symlink in path", apperr.ErrPathTraversal)
		}
	}
	return nil
}

// Clean normalizes a logical path: backslashes become slashes, leading
// slashes and "." segments are dropped and ".." is applied. Climbing above
// the root fails with ErrPathTraversal; reserved segment names fail with
// ErrPermissionDenied.
func Clean(logical string) (string, error) {
	if strings.ContainsRune(logical, 0) {
		return "", fmt.Errorf("%w: path contains a NUL byte", apperr.ErrInvalidArgument)
	}

	parts := strings.Split(strings.ReplaceAll(logical, `\`, "/"), "/")
	stack := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(stack) == 0 {
				return "", apperr.ErrPathTraversal
			}
			stack = stack[:len(stack)-1]
		default:
			if IsReserved(part) {
				return "", fmt.Errorf("%w: reserved name %q", apperr.ErrPermissionDenied, part)
			}
			stack = append(stack, part)
		}
	}
	return strings.Join(stack, "/"), nil
}

// IsReserved reports whether name is an internal directory or a Windows
// device name, with or without an extension.
func IsReserved(name string) bool {
	lower := strings.ToLower(name)
	if lower == ThumbnailDir || lower == StagingDir {
		return true
	}
	stem := name
	if i := strings.IndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	return deviceNames[strings.ToUpper(strings.TrimSpace(stem))]
}

// IsInternal reports whether a directory entry of the user root is hidden
// from listings.
func IsInternal(name string) bool {
	return name == ThumbnailDir || name == StagingDir
}

// SanitizeFilename replaces characters that are unsafe in file names with
// '_', trims surrounding blanks and caps the result at MaxNameBytes while
// keeping the extension.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == utf8.RuneError:
			b.WriteRune('_')
		case strings.ContainsRune(`<>:"/\|?*`, r), unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())

	if len(out) > MaxNameBytes {
		ext := filepath.Ext(out)
		if len(ext) > 32 {
			ext = ""
		}
		stem := truncateUTF8(out[:len(out)-len(ext)], MaxNameBytes-len(ext))
		out = stem + ext
	}
	return out
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// ValidateName checks a single user-supplied entry name.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: invalid name %q", apperr.ErrInvalidArgument, name)
	case len(name) > MaxNameBytes:
		return fmt.Errorf("%w: name longer than %d bytes", apperr.ErrInvalidArgument, MaxNameBytes)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: name must not contain path separators", apperr.ErrInvalidArgument)
	case IsReserved(name):
		return fmt.Errorf("%w: reserved name %q", apperr.ErrPermissionDenied, name)
	}
	return nil
}

func isWithin(root, candidate string) bool {
	root = filepath.Clean(root)
	candidate = filepath.Clean(candidate)
	if root == candidate {
		return true
	}
	sep := string(filepath.Separator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(candidate, root)
}

// Save writes data to the physical path, creating parent directories.
func (s *Sandbox) Save(physical string, data io.Reader) (int64, error) {
	if err := s.fs.MkdirAll(filepath.Dir(physical), 0o755); err != nil {
		return 0, err
	}

	file, err := s.fs.Create(physical)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(file, data)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func (s *Sandbox) Open(physical string) (afero.File, error) {
	file, err := s.fs.Open(physical)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return file, nil
}

func (s *Sandbox) Stat(physical string) (os.FileInfo, error) {
	fi, err := s.fs.Stat(physical)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return fi, nil
}

// Exists reports whether anything is stored at the physical path.
func (s *Sandbox) Exists(physical string) (bool, error) {
	return afero.Exists(s.fs, physical)
}

// Remove deletes a file, or a folder with everything below it. A missing
// path is not an error.
func (s *Sandbox) Remove(physical string) error {
	err := s.fs.RemoveAll(physical)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Usage walks dir and sums the size of regular files, skipping the
// internal directories of a user root.
func (s *Sandbox) Usage(dir string) (int64, error) {
	var total int64
	err := afero.Walk(s.fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && p != dir && IsInternal(info.Name()) && filepath.Dir(p) == dir {
			return filepath.SkipDir
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	return total, err
}

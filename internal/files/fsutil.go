package files

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"emberframe/internal/storage"

	"github.com/spf13/afero"
)

func readDir(sb *storage.Sandbox, dir string) ([]os.FileInfo, error) {
	infos, err := afero.ReadDir(sb.Fs(), dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []os.FileInfo{}, nil
		}
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return infos, nil
}

func readFile(sb *storage.Sandbox, physical string) ([]byte, error) {
	f, err := sb.Open(physical)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func thumbnailPath(sb *storage.Sandbox, userID int64, checksum string) string {
	root, _ := sb.Resolve(userID, "")
	return filepath.Join(root.Physical, storage.ThumbnailDir, checksum+".jpg")
}

// copyTree copies a file or a folder with its contents. Symlinks are
// skipped. The copy stops when ctx is done.
func copyTree(ctx context.Context, fs afero.Fs, src, dst string) error {
	return afero.Walk(fs, src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			return fs.MkdirAll(target, 0o755)
		case info.Mode().IsRegular():
			return copyFile(ctx, fs, p, target)
		default:
			return nil
		}
	})
}

func copyFile(ctx context.Context, fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, ctxReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

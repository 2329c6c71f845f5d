package objectstore

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// object pairs a local file with its destination key.
type object struct {
	path string
	key  string
}

// Uploader publishes a finished rendition tree to the object store with
// bounded concurrency. Permits is shared process-wide so concurrent jobs do
// not multiply the connection count.
type Uploader struct {
	Client  *Client
	Permits *semaphore.Weighted
	Logger  *slog.Logger

	// OnProgress receives the number of uploaded and total files.
	OnProgress func(done, total int)
}

func (u *Uploader) logger() *slog.Logger {
	if u.Logger != nil {
		return u.Logger
	}
	return slog.Default()
}

// UploadTree walks root and uploads every regular file under it, keyed as
// prefix joined with the file's path relative to root. All files are
// attempted even after a failure so a transient error does not leave the
// remote tree half-empty on retry; the first error is returned once every
// transfer has settled. The returned key is the master playlist key, found
// as the index.m3u8 that sits directly under the prefix.
func (u *Uploader) UploadTree(ctx context.Context, root, prefix string) (masterKey string, err error) {
	objects, err := enumerate(root, prefix)
	if err != nil {
		return "", err
	}
	if len(objects) == 0 {
		return "", fmt.Errorf("nothing to upload under %s", root)
	}

	total := len(objects)
	var done atomic.Int64
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, obj := range objects {
		obj := obj
		if err := u.Permits.Acquire(ctx, 1); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer u.Permits.Release(1)
			if err := u.Client.PutFile(ctx, obj.key, contentTypeFor(obj.key), obj.path); err != nil {
				u.logger().Error("object upload failed", "key", obj.key, "error", err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			if u.OnProgress != nil {
				u.OnProgress(int(done.Add(1)), total)
			}
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return "", firstErr
	}

	for _, obj := range objects {
		if isMasterKey(obj.key, prefix) {
			return obj.key, nil
		}
	}
	return "", fmt.Errorf("no master playlist found under %s", prefix)
}

// enumerate flattens the tree into destination objects before any transfer
// starts, so progress totals are exact.
func enumerate(root, prefix string) ([]object, error) {
	var objects []object
	err := filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		objects = append(objects, object{path: p, key: key})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", root, err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].key < objects[j].key })
	return objects, nil
}

// isMasterKey reports whether key is the top-level index.m3u8 directly under
// the prefix rather than a rendition playlist one level deeper.
func isMasterKey(key, prefix string) bool {
	if path.Base(key) != "index.m3u8" {
		return false
	}
	return path.Dir(key) == strings.Trim(prefix, "/")
}

// contentTypeFor maps destination keys to MIME types the player cares
// about. Unknown extensions fall back to octet-stream.
func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".vtt":
		return "text/vtt"
	case ".srt":
		return "application/x-subrip"
	case ".ass":
		return "text/x-ssa"
	case ".ttml":
		return "application/ttml+xml"
	case ".sup", ".sub", ".idx":
		return "application/octet-stream"
	case ".ttf":
		return "font/ttf"
	case ".otf":
		return "font/otf"
	case ".woff":
		return "font/woff"
	case ".woff2":
		return "font/woff2"
	default:
		return "application/octet-stream"
	}
}

// Package storage holds uploaded source files for bulk-import runs.
package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by Download when the key does not exist.
var ErrNotFound = eris.New("storage: object not found")

// Storage is the object store the importer reads and writes source files in.
type Storage interface {
	Upload(ctx context.Context, key string, r io.Reader) (int64, error)
	Download(ctx context.Context, key string, maxBytes int64) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// TooLargeError is returned by Download when the object exceeds maxBytes.
type TooLargeError struct {
	Key   string
	Limit int64
}

func (e *TooLargeError) Error() string {
	return "storage: object " + e.Key + " exceeds size limit"
}

// Key builds the object key for a run's source file.
func Key(orgID, runID, filename string) string {
	return path.Join("bulk-imports", orgID, runID, path.Base(strings.ReplaceAll(filename, `\`, "/")))
}

// Local stores objects as files under Root.
type Local struct {
	Root string
}

// NewLocal creates the root directory if needed.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, eris.New("storage: local root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: resolve root %s", root)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, eris.Wrapf(err, "storage: create root %s", abs)
	}
	return &Local{Root: abs}, nil
}

func (l *Local) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || strings.Contains(key, "..") {
		return "", eris.Errorf("storage: invalid key %q", key)
	}
	return filepath.Join(l.Root, filepath.FromSlash(clean)), nil
}

// Upload writes r to key through a temp file and rename.
func (l *Local) Upload(ctx context.Context, key string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dst, err := l.path(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return 0, eris.Wrapf(err, "storage: mkdir for %s", key)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return 0, eris.Wrapf(err, "storage: temp file for %s", key)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, eris.Wrapf(err, "storage: write %s", key)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, eris.Wrapf(err, "storage: commit %s", key)
	}
	return n, nil
}

// Download reads key. Objects larger than maxBytes (when positive) are
// rejected with a TooLargeError.
func (l *Local) Download(ctx context.Context, key string, maxBytes int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "storage: %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: open %s", key)
	}
	defer f.Close() //nolint:errcheck

	var rd io.Reader = f
	if maxBytes > 0 {
		rd = io.LimitReader(f, maxBytes+1)
	}
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: read %s", key)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, &TooLargeError{Key: key, Limit: maxBytes}
	}
	return data, nil
}

// Delete removes key. Missing objects are not an error.
func (l *Local) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "storage: delete %s", key)
	}
	return nil
}

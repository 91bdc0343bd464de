// Package state persists pipeline state between runs: per-source watermarks,
// the surrogate-key registry and the accumulated datasets. Every store sits on
// a Blobs backend, either a local directory or a MinIO bucket.
package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"
)

// ErrNotFound is returned when a blob does not exist yet.
var ErrNotFound = errors.New("state: blob not found")

// Blobs reads and writes whole named objects.
type Blobs interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
}

// FSBlobs stores blobs as files under a root directory.
type FSBlobs struct {
	fs   afero.Fs
	root string
}

// NewFSBlobs returns a directory-backed store. Use afero.NewOsFs in
// production and afero.NewMemMapFs in tests.
func NewFSBlobs(fs afero.Fs, root string) *FSBlobs {
	return &FSBlobs{fs: fs, root: root}
}

func (b *FSBlobs) path(name string) string {
	return filepath.Join(b.root, filepath.FromSlash(name))
}

// Read returns the file contents or ErrNotFound.
func (b *FSBlobs) Read(_ context.Context, name string) ([]byte, error) {
	data, err := afero.ReadFile(b.fs, b.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// Write replaces the file atomically: the data goes to a temp file in the
// same directory which is then renamed over the target.
func (b *FSBlobs) Write(_ context.Context, name string, data []byte) error {
	target := b.path(name)
	dir := filepath.Dir(target)
	if err := b.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(b.fs, dir, "."+path.Base(name)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := b.fs.Rename(tmpName, target); err != nil {
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

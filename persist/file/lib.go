package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jrhy/segment"
)

// Persist implements the segment.Persist interface for storing and
// loading segments and the head pointer from files.
type Persist struct {
	basepath string
}

// Load loads the bytes persisted in the named file.
func (p Persist) Load(ctx context.Context, name string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(p.basepath, filepath.FromSlash(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %w", segment.ErrNotFound, err)
	}
	return b, err
}

// Store persists the given bytes in a file of the given name, replacing
// it if it exists. The file is written under a temporary name and renamed,
// so readers see either the old or the new contents.
func (p Persist) Store(ctx context.Context, name string, bytes []byte) error {
	path := filepath.Join(p.basepath, filepath.FromSlash(name))
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(bytes); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// List returns the names stored under the given prefix, sorted.
func (p Persist) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(p.basepath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(p.basepath, path)
		if err != nil {
			return err
		}
		if name := filepath.ToSlash(rel); strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// NewPersistForPath returns a Persist that loads and stores segments as
// files in the directory at the given path.
//
//	p := NewPersistForPath("/var/db/content")
//	b, err := p.Load(ctx, "root")
func NewPersistForPath(path string) Persist {
	return Persist{path}
}

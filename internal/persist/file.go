package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"segclient/internal/common/fsutil"
)

var namespaceRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// File writes one <namespace>.json per namespace under a directory.
type File struct {
	dir string
	mu  sync.Mutex
}

// NewFile uses dir, which must exist.
func NewFile(dir string) (*File, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("persist: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("persist: %s is not a directory", dir)
	}
	return &File{dir: dir}, nil
}

func (f *File) path(namespace string) (string, error) {
	if !namespaceRe.MatchString(namespace) {
		return "", fmt.Errorf("persist: invalid namespace %q", namespace)
	}
	return filepath.Join(f.dir, namespace+".json"), nil
}

func (f *File) Load(_ context.Context, namespace string) ([]byte, error) {
	p, err := f.path(namespace)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("persist: read %s: %w", namespace, err)
	}
	return b, nil
}

func (f *File) Save(_ context.Context, namespace string, data []byte) error {
	p, err := f.path(namespace)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := fsutil.WriteFileAtomic(p, data, 0o600); err != nil {
		return fmt.Errorf("persist: write %s: %w", namespace, err)
	}
	return nil
}

func (f *File) Delete(_ context.Context, namespace string) error {
	p, err := f.path(namespace)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("persist: delete %s: %w", namespace, err)
	}
	return nil
}

func (f *File) Close() error { return nil }

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPerm     = 0o700
	filePerm    = 0o600
	backupExt   = ".bak"
	tempPattern = ".margin-*.tmp"
)

// FS implements Provider on a local directory. Files are private to the
// owner since they may hold key material.
type FS struct {
	dir string
}

var _ Provider = (*FS)(nil)

// NewFS opens dir, creating it with owner-only permissions if needed.
func NewFS(dir string) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", abs, err)
	}
	if info, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("storage: stat %s: %w", abs, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("storage: %s is not a directory", abs)
	}
	return &FS{dir: abs}, nil
}

// resolve maps a file name into the directory. Names that climb out of it
// are rejected.
func (f *FS) resolve(name string) (string, error) {
	if name == "" {
		return "", errors.New("storage: empty name")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("storage: %s: absolute names not allowed", name)
	}
	p := filepath.Join(f.dir, name)
	if !strings.HasPrefix(p, f.dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: %s escapes %s", name, f.dir)
	}
	return p, nil
}

// Abs implements Provider.
func (f *FS) Abs(name string) (string, error) {
	return f.resolve(name)
}

// Read implements Provider. A missing file reports os.ErrNotExist.
func (f *FS) Read(name string) ([]byte, error) {
	p, err := f.resolve(name)
	if err != nil {
		return nil, err
	}
	return readFile(p)
}

// Backup implements Provider.
func (f *FS) Backup(name string) ([]byte, error) {
	p, err := f.resolve(name)
	if err != nil {
		return nil, err
	}
	return readFile(p + backupExt)
}

func readFile(p string) ([]byte, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", filepath.Base(p), err)
	}
	return data, nil
}

// Write implements Provider. The new content is synced to a temp file and
// renamed over the target, so readers see the old or the new file and never
// a torn one.
func (f *FS) Write(name string, content []byte) error {
	p, err := f.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), dirPerm); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	if prev, err := os.ReadFile(p); err == nil {
		if err := replace(p+backupExt, prev); err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: read %s: %w", name, err)
	}
	return replace(p, content)
}

func replace(p string, content []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(p), tempPattern)
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = tmp.Chmod(filePerm); err != nil {
		return fmt.Errorf("storage: chmod temp: %w", err)
	}
	if _, err = tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err = os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

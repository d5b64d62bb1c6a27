// Package staging manages the scratch directories an upload writes to before
// its chunks are committed: raw input under uploads/ and sealed chunks under
// encrypted/.
package staging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/filex"
)

const (
	uploadsDir   = "uploads"
	encryptedDir = "encrypted"
)

type Area struct {
	uploads   string
	encrypted string
}

func New(root string) (*Area, error) {
	uploads, err := filex.EnsureDir(filepath.Join(root, uploadsDir))
	if err != nil {
		return nil, err
	}
	encrypted, err := filex.EnsureDir(filepath.Join(root, encryptedDir))
	if err != nil {
		return nil, err
	}
	return &Area{uploads: uploads, encrypted: encrypted}, nil
}

// Stage copies r into uploads/<uploadID>.upload and returns the path and the
// number of bytes written. A partial file is removed on error.
func (a *Area) Stage(uploadID string, r io.Reader) (string, int64, error) {
	path := filepath.Join(a.uploads, filepath.Base(uploadID)+".upload")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", 0, fmt.Errorf("create staging file: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("stage upload: %w", err)
	}
	return path, n, nil
}

// EncryptedPath is where the sealed chunk index of fileID is staged.
func (a *Area) EncryptedPath(fileID string, index int) string {
	return filepath.Join(a.encrypted, filepath.Base(fileID)+"_"+strconv.Itoa(index)+".enc")
}

// WriteEncrypted stages a sealed chunk and returns its path.
func (a *Area) WriteEncrypted(fileID string, index int, data []byte) (string, error) {
	path := a.EncryptedPath(fileID, index)
	if err := filex.WriteFileAtomic(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// Cleanup removes paths, ignoring ones that are already gone.
func (a *Area) Cleanup(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if _, err := filex.RemoveIfExists(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sweep removes staging files last modified before cutoff, left behind by
// uploads that crashed. It returns how many files were removed.
func (a *Area) Sweep(cutoff time.Time) (int, error) {
	removed := 0
	var errs []error
	for _, dir := range []string{a.uploads, a.encrypted} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
			ok, err := filex.RemoveIfExists(filepath.Join(dir, e.Name()))
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				removed++
			}
		}
	}
	return removed, errors.Join(errs...)
}

package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/filex"
)

// LocalStore keeps blobs under <root>/<userID>/.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filex.EnsureDir(root)
	if err != nil {
		return nil, err
	}
	return &LocalStore{root: abs}, nil
}

func (s *LocalStore) Backend() string { return BackendLocal }

func (s *LocalStore) userDir(userID string) (string, error) {
	if userID == "" || userID != filepath.Base(userID) || userID == "." || userID == ".." {
		return "", fmt.Errorf("%w: bad user id %q", common.ErrInvalidOperation, userID)
	}
	return filepath.Join(s.root, userID), nil
}

// resolve checks that loc points inside the user's directory.
func (s *LocalStore) resolve(userID string, loc Locator) (string, error) {
	dir, err := s.userDir(userID)
	if err != nil {
		return "", err
	}
	if loc.Path == "" {
		return "", fmt.Errorf("%w: empty local locator", common.ErrorNotFound)
	}
	p := filepath.Clean(loc.Path)
	if !strings.HasPrefix(p, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: locator outside user storage", common.ErrInvalidOperation)
	}
	return p, nil
}

func (s *LocalStore) Put(ctx context.Context, ref ChunkRef, data []byte) (Locator, error) {
	if err := ctx.Err(); err != nil {
		return Locator{}, err
	}
	dir, err := s.userDir(ref.UserID)
	if err != nil {
		return Locator{}, err
	}
	if _, err := filex.EnsureDir(dir); err != nil {
		return Locator{}, err
	}
	path := filepath.Join(dir, ref.ObjectName())
	if err := filex.WriteFileAtomic(path, data, 0o600); err != nil {
		return Locator{}, err
	}
	return Locator{Path: path, Backend: BackendLocal}, nil
}

func (s *LocalStore) Get(ctx context.Context, userID string, loc Locator) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.resolve(userID, loc)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", common.ErrorNotFound, filepath.Base(path))
	}
	return data, err
}

func (s *LocalStore) Delete(ctx context.Context, userID string, loc Locator) error {
	path, err := s.resolve(userID, loc)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return err
	}
	_, err = filex.RemoveIfExists(path)
	return err
}

// RemoveFileChunks deletes every blob of fileID, including ones whose rows
// were never committed. It returns how many blobs were removed.
func (s *LocalStore) RemoveFileChunks(userID, fileID string) (int, error) {
	dir, err := s.userDir(userID)
	if err != nil {
		return 0, err
	}
	matches, err := filepath.Glob(filepath.Join(dir, filepath.Base(fileID)+"_*.enc"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		ok, err := filex.RemoveIfExists(m)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

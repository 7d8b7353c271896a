// Package filesystem provides the on-disk helpers the overlay core relies
// on: creating the downloads directory and reserving non-clobbering output
// paths for received files.
package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"meshchat/internal/errors"
)

const (
	DirPerms = 0755

	// maxCollisionSuffix bounds the `name_N.ext` rename loop.
	maxCollisionSuffix = 10000
)

// FileInfo describes a local file offered for transfer.
type FileInfo struct {
	Name string
	Size int64
	Path string
}

// GetFileInfo stats a file and rejects directories, which cannot be offered.
func GetFileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewFileSystemError("stat", path, err)
	}
	if stat.IsDir() {
		return nil, errors.NewValidationError("file_path", path, "is a directory")
	}

	return &FileInfo{
		Name: stat.Name(),
		Size: stat.Size(),
		Path: path,
	}, nil
}

// EnsureDirectoryExists creates a directory if it doesn't exist.
func EnsureDirectoryExists(dir string) error {
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return errors.NewFileSystemError("mkdir", dir, err)
	}
	return nil
}

// ReservePath opens a new file under dir for the announced name without
// overwriting anything already there. Collisions are resolved by appending
// an incrementing counter before the extension: f.txt, f_1.txt, f_2.txt.
// The announced name is reduced to its base component so a peer cannot
// steer the write outside dir. The returned file is created exclusively,
// which makes the resolution deterministic for the directory contents at
// call time even when several receive loops reserve concurrently.
func ReservePath(dir, name string) (string, *os.File, error) {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", nil, errors.NewValidationError("file_name", name, "unusable file name")
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for i := 0; i <= maxCollisionSuffix; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return path, f, nil
		}
		if !os.IsExist(err) {
			return "", nil, errors.NewFileSystemError("reserve_path", path, err)
		}
	}

	return "", nil, errors.NewFileSystemError("reserve_path", filepath.Join(dir, base),
		fmt.Errorf("no free name after %d attempts", maxCollisionSuffix))
}

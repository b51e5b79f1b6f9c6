package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ourgoal/teambot/app/errs"
)

// loadJSON reads path into out. A missing file is not an error: out is left
// untouched and ok=false is returned so the caller starts from an empty
// collection. A present-but-unreadable file is a startup failure.
func loadJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, &errs.StorageError{Op: "read", File: filepath.Base(path), Err: err}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, &errs.StorageError{Op: "decode", File: filepath.Base(path), Err: err}
	}
	return true, nil
}

// saveJSON writes v to path atomically: marshal, write to a temp file in the
// same directory, keep the previous version as .backup, rename over. A crash
// leaves either the old or the new file in place, never a torn one.
func saveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &errs.StorageError{Op: "encode", File: filepath.Base(path), Err: err}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return &errs.StorageError{Op: "write", File: filepath.Base(path), Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &errs.StorageError{Op: "write", File: filepath.Base(path), Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &errs.StorageError{Op: "sync", File: filepath.Base(path), Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &errs.StorageError{Op: "close", File: filepath.Base(path), Err: err}
	}

	if _, err := os.Stat(path); err == nil {
		backup := path + ".backup"
		if err := copyFile(path, backup); err != nil {
			return &errs.StorageError{Op: "backup", File: filepath.Base(path), Err: err}
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return &errs.StorageError{Op: "rename", File: filepath.Base(path), Err: err}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	return os.WriteFile(dst, data, 0o644)
}

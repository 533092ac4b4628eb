// Package atomicfile writes files so readers never observe a partial
// document: content goes to a sibling temp file that is synced and then
// renamed over the target.
package atomicfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Encode streams the output of encode into path atomically. The parent
// directory must exist. On any failure the target is left untouched and the
// temp file is removed.
func Encode(path string, perm os.FileMode, encode func(w io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = encode(bw); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", filepath.Base(path), err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Write is [Encode] for an in-memory payload.
func Write(path string, data []byte, perm os.FileMode) error {
	return Encode(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// Backup copies data next to path with the given suffix (for example
// ".corrupted") and returns the backup's path.
func Backup(path, suffix string, data []byte) (string, error) {
	dst := path + suffix
	if err := Write(dst, data, 0o600); err != nil {
		return "", err
	}
	return dst, nil
}

package artifacts

import (
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileChecksum returns the size and md5 hex digest of the file at path.
func FileChecksum(path string) (int64, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	h := md5.New() //nolint:gosec
	size, err := io.Copy(h, file)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read file: %w", err)
	}

	return size, hex.EncodeToString(h.Sum(nil)), nil
}

// cacheIsValid reports whether the bytes at path agree with the size and
// checksum recorded in base.
func cacheIsValid(path string, base Family) bool {
	wantSize, ok := base.Int64("size")
	if !ok {
		return false
	}
	wantSum := base.String("checksum")
	if wantSum == "" {
		return false
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() != wantSize {
		return false
	}

	_, sum, err := FileChecksum(path)
	if err != nil {
		return false
	}
	return sum == wantSum
}

// copyFile copies src to dest through a temporary file in the destination directory.
func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer func() { _ = in.Close() }()

	return writeAtomically(dest, in)
}

func writeAtomically(dest string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

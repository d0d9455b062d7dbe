// Package fsutil holds the file copying shared by the sandbox and the
// placement engine.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyFile copies the regular file src to dst with the given mode. When
// exclusive is set an existing dst is an error; otherwise it is replaced,
// so a read-only dst does not block the copy and always ends up with perm.
// The copy is synced before returning.
func CopyFile(dst, src string, perm os.FileMode, exclusive bool) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("copy %s: not a regular file", src)
	}

	flags := os.O_WRONLY | os.O_CREATE
	if exclusive {
		flags |= os.O_EXCL
	} else {
		if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("replace %s: %w", dst, err)
		}
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(dst, flags, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", dst, closeErr)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", dst, err)
	}
	return nil
}

// CopyDirFiles copies every non-directory entry of srcDir into dstDir,
// preserving the source mode bits plus owner write. A missing srcDir copies
// nothing and reports found=false.
func CopyDirFiles(dstDir, srcDir string) (copied []string, found bool, err error) {
	entries, err := os.ReadDir(srcDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", srcDir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := filepath.Join(srcDir, e.Name())
		info, err := os.Stat(src)
		if err != nil {
			return copied, true, fmt.Errorf("stat %s: %w", src, err)
		}
		// Symlinks are followed; ones pointing at directories or devices are skipped.
		if !info.Mode().IsRegular() {
			continue
		}
		if err := CopyFile(filepath.Join(dstDir, e.Name()), src, info.Mode().Perm()|0o200, false); err != nil {
			return copied, true, err
		}
		copied = append(copied, e.Name())
	}
	return copied, true, nil
}

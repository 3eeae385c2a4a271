package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// CopyFile copies a single regular file from srcFs to dstFs, creating parent
// directories and overwriting dst. The destination keeps the source
// permissions plus owner write, so a later copy can overwrite it again.
func CopyFile(srcFs afero.Fs, src string, dstFs afero.Fs, dst string) error {
	in, err := srcFs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	if err := dstFs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}

	out, err := dstFs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm()|0o200)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}

// CopyTree copies src into dst recursively with overwrite and
// create-if-missing semantics. A regular file src is copied to dst itself.
// Entries already in dst that are absent from src are left untouched.
func CopyTree(srcFs afero.Fs, src string, dstFs afero.Fs, dst string) error {
	info, err := srcFs.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return CopyFile(srcFs, src, dstFs, dst)
	}

	return afero.Walk(srcFs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return dstFs.MkdirAll(target, 0o755)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return CopyFile(srcFs, path, dstFs, target)
	})
}

// Package upload copies the rig's data files to remote storage during idle
// maintenance.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Uploader sends a set of local files somewhere safer.
type Uploader interface {
	// Upload attempts every file and returns the joined errors.
	Upload(ctx context.Context, files []string) error
	Name() string
}

// Dir mirrors files into a directory, typically a mounted network share.
type Dir struct {
	dst string
}

// NewDir returns an uploader copying into dst, which must already exist.
func NewDir(dst string) (*Dir, error) {
	info, err := os.Stat(dst)
	if err != nil {
		return nil, fmt.Errorf("upload dir %s: %w", dst, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("upload dir %s is not a directory", dst)
	}
	return &Dir{dst: dst}, nil
}

func (d *Dir) Name() string { return "dir:" + d.dst }

// Upload copies each file over its previous copy.
func (d *Dir) Upload(ctx context.Context, files []string) error {
	var errs []error
	for _, src := range files {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := copyFile(src, filepath.Join(d.dst, filepath.Base(src))); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// copyFile writes to a temporary name and renames, so readers never see a
// partial copy.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

package remaster

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kdomanski/iso9660"
)

// ExtractISO unpacks the full ISO9660 directory tree into destDir. The
// image is read in pure Go, so no loop mount or root privilege is needed.
func ExtractISO(isoPath, destDir string) error {
	f, err := os.Open(isoPath)
	if err != nil {
		return fmt.Errorf("opening image %s: %w", isoPath, err)
	}
	defer f.Close()

	img, err := iso9660.OpenImage(f)
	if err != nil {
		return fmt.Errorf("reading image %s: %w", isoPath, err)
	}
	root, err := img.RootDir()
	if err != nil {
		return fmt.Errorf("reading image root %s: %w", isoPath, err)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", destDir, err)
	}
	return extractDir(root, destDir)
}

func extractDir(dir *iso9660.File, destDir string) error {
	children, err := dir.GetChildren()
	if err != nil {
		return fmt.Errorf("listing %s: %w", destDir, err)
	}

	for _, child := range children {
		target := filepath.Join(destDir, child.Name())
		if child.IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
			if err := extractDir(child, target); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(child, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *iso9660.File, target string) error {
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, f.Reader()); err != nil {
		return fmt.Errorf("extracting %s: %w", target, err)
	}
	return nil
}

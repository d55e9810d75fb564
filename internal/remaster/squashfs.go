package remaster

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	backendfile "github.com/diskfs/go-diskfs/backend/file"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/filesystem/squashfs"

	"github.com/microcore-linux/ext-composer/internal/utils/logger"
)

// ExtractExtension unpacks a squashfs extension archive onto destDir,
// overlaying whatever is already there. The archive is a bare filesystem
// image, not a partitioned disk, so it is read directly; blocksize 0 lets
// the superblock's own value win. Regular files and directories are
// carried over; anything else in the archive is skipped with a debug note.
func ExtractExtension(tczPath, destDir string) error {
	st, err := os.Stat(tczPath)
	if err != nil {
		return fmt.Errorf("opening extension %s: %w", tczPath, err)
	}
	b, err := backendfile.OpenFromPath(tczPath, true)
	if err != nil {
		return fmt.Errorf("opening extension %s: %w", tczPath, err)
	}
	defer b.Close()

	fs, err := squashfs.Read(b, st.Size(), 0, 0)
	if err != nil {
		return fmt.Errorf("reading extension filesystem %s: %w", tczPath, err)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", destDir, err)
	}
	return copyFSDir(fs, "/", destDir)
}

func copyFSDir(fs filesystem.FileSystem, dir, destDir string) error {
	log := logger.Logger()

	entries, err := fs.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}

	for _, entry := range entries {
		srcPath := filepath.Join(dir, entry.Name())
		target := filepath.Join(destDir, entry.Name())

		switch {
		case entry.IsDir():
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
			if err := copyFSDir(fs, srcPath, target); err != nil {
				return err
			}
		case entry.Mode().IsRegular():
			if err := copyFSFile(fs, srcPath, target, entry.Mode().Perm()); err != nil {
				return err
			}
		default:
			log.Debugf("skipping special file %s in extension", srcPath)
		}
	}
	return nil
}

func copyFSFile(fs filesystem.FileSystem, srcPath, target string, perm os.FileMode) error {
	in, err := fs.OpenFile(srcPath, os.O_RDONLY)
	if err != nil {
		return fmt.Errorf("opening %s: %w", srcPath, err)
	}
	defer in.Close()

	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s: %w", srcPath, err)
	}
	return nil
}

package remaster

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/microcore-linux/ext-composer/internal/utils/shell"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// UnpackRootfs decompresses the root filesystem archive (gzip or xz,
// sniffed by magic bytes) and unpacks the contained newc cpio stream into
// destDir. The cpio step shells out; device nodes need root, hence sudo.
func UnpackRootfs(archivePath, destDir string, useSudo bool) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", destDir, err)
	}

	cpioPath := filepath.Join(filepath.Dir(destDir), "rootfs.cpio")
	if err := decompressFile(archivePath, cpioPath); err != nil {
		return err
	}
	defer os.Remove(cpioPath)

	cmdStr := fmt.Sprintf("cd %q && cpio -i -d -H newc --no-absolute-filenames < %q",
		destDir, cpioPath)
	if _, err := shell.ExecCmdWithStream(cmdStr, useSudo, nil); err != nil {
		return fmt.Errorf("unpacking rootfs archive: %w", err)
	}
	return nil
}

// RepackRootfs archives treeDir as a newc cpio stream and recompresses it
// with the requested codec, writing the result to outPath.
func RepackRootfs(treeDir, outPath, compression string, useSudo bool) error {
	cpioPath := filepath.Join(filepath.Dir(outPath), "rootfs.cpio")

	cmdStr := fmt.Sprintf("cd %q && find . | cpio -o -H newc > %q", treeDir, cpioPath)
	if _, err := shell.ExecCmdWithStream(cmdStr, useSudo, nil); err != nil {
		return fmt.Errorf("repacking rootfs archive: %w", err)
	}
	defer os.Remove(cpioPath)

	return compressFile(cpioPath, outPath, compression)
}

// decompressFile inflates a gzip or xz compressed file to outPath; a file
// with neither magic is copied through unchanged.
func decompressFile(inPath, outPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", inPath, err)
	}
	defer in.Close()

	magic := make([]byte, len(xzMagic))
	n, err := io.ReadFull(in, magic)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return fmt.Errorf("reading %s: %w", inPath, err)
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding %s: %w", inPath, err)
	}

	var reader io.Reader = in
	switch {
	case n >= len(gzipMagic) && bytes.HasPrefix(magic[:n], gzipMagic):
		zr, err := gzip.NewReader(in)
		if err != nil {
			return fmt.Errorf("gzip %s: %w", inPath, err)
		}
		defer zr.Close()
		reader = zr
	case n >= len(xzMagic) && bytes.HasPrefix(magic[:n], xzMagic):
		xr, err := xz.NewReader(in)
		if err != nil {
			return fmt.Errorf("xz %s: %w", inPath, err)
		}
		reader = xr
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, reader); err != nil {
		return fmt.Errorf("decompressing %s: %w", inPath, err)
	}
	return nil
}

// compressFile writes inPath compressed with the named codec to outPath.
func compressFile(inPath, outPath, compression string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", inPath, err)
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outPath, err)
	}
	defer out.Close()

	var writer io.WriteCloser
	switch compression {
	case "gzip":
		zw, err := gzip.NewWriterLevel(out, gzip.BestCompression)
		if err != nil {
			return fmt.Errorf("gzip writer: %w", err)
		}
		writer = zw
	case "xz":
		xw, err := xz.NewWriter(out)
		if err != nil {
			return fmt.Errorf("xz writer: %w", err)
		}
		writer = xw
	default:
		return fmt.Errorf("unsupported compression %q", compression)
	}

	if _, err := io.Copy(writer, in); err != nil {
		writer.Close()
		return fmt.Errorf("compressing %s: %w", inPath, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finishing %s: %w", outPath, err)
	}
	return nil
}

package fetcher

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// VerifyMD5Sidecar checks artifactPath against its checksum sidecar
// content ("<md5hex>  <filename>", the md5sum output format).
func VerifyMD5Sidecar(artifactPath string, sidecar []byte) error {
	fields := strings.Fields(string(sidecar))
	if len(fields) == 0 {
		return fmt.Errorf("empty checksum sidecar for %s", artifactPath)
	}
	want := strings.ToLower(fields[0])
	if len(want) != md5.Size*2 {
		return fmt.Errorf("malformed checksum %q for %s", fields[0], artifactPath)
	}

	f, err := os.Open(artifactPath)
	if err != nil {
		return fmt.Errorf("opening %s for verification: %w", artifactPath, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hashing %s: %w", artifactPath, err)
	}
	got := hex.EncodeToString(h.Sum(nil))

	if got != want {
		return fmt.Errorf("checksum mismatch for %s: got %s, want %s", artifactPath, got, want)
	}
	return nil
}

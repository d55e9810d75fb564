package repo

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/microcore-linux/ext-composer/internal/utils/logger"
)

const (
	indexGzName = "info.lst.gz"
	indexXzName = "info.lst.xz"
	indexSigExt = ".sig"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// IndexCache maintains the local, decompressed copy of the repository's
// package index. The cache survives across runs until it goes stale.
type IndexCache struct {
	client     *Client
	path       string
	maxAge     time.Duration
	signingKey string

	// overridable in tests
	now        func() time.Time
	executable func() (string, error)
}

// NewIndexCache wires an index cache stored (decompressed) at path.
// signingKey may be empty to skip signature verification.
func NewIndexCache(client *Client, path string, maxAge time.Duration, signingKey string) *IndexCache {
	return &IndexCache{
		client:     client,
		path:       path,
		maxAge:     maxAge,
		signingKey: signingKey,
		now:        time.Now,
		executable: os.Executable,
	}
}

// Path returns the location of the decompressed index cache file.
func (ic *IndexCache) Path() string { return ic.path }

// Ensure makes the cache file present and fresh, re-fetching it when
// missing or stale. A refresh failure is fatal to the run.
func (ic *IndexCache) Ensure() error {
	log := logger.Logger()

	st, err := os.Stat(ic.path)
	if err == nil && !ic.stale(st.ModTime()) {
		log.Debugf("package index cache %s is fresh, reusing", ic.path)
		return nil
	}
	if err == nil {
		log.Infof("package index cache %s is stale, refreshing", ic.path)
		if err := os.Remove(ic.path); err != nil {
			return fmt.Errorf("removing stale index cache: %w", err)
		}
	}
	return ic.refresh()
}

// stale applies the two staleness rules: age threshold, and a tool binary
// newer than the cache.
func (ic *IndexCache) stale(cacheTime time.Time) bool {
	if ic.now().Sub(cacheTime) > ic.maxAge {
		return true
	}
	exe, err := ic.executable()
	if err != nil {
		return false
	}
	est, err := os.Stat(exe)
	if err != nil {
		return false
	}
	return est.ModTime().After(cacheTime)
}

func (ic *IndexCache) refresh() error {
	log := logger.Logger()

	name := indexGzName
	raw, err := ic.client.FetchBytes(name)
	if errors.Is(err, ErrNotFound) {
		name = indexXzName
		raw, err = ic.client.FetchBytes(name)
	}
	if err != nil {
		return fmt.Errorf("refreshing package index: %w", err)
	}

	if ic.signingKey != "" {
		if err := ic.verifySignature(name, raw); err != nil {
			return fmt.Errorf("package index signature: %w", err)
		}
		log.Infof("package index signature verified")
	}

	plain, err := decompress(raw)
	if err != nil {
		return fmt.Errorf("decompressing package index: %w", err)
	}

	if err := os.WriteFile(ic.path, plain, 0644); err != nil {
		return fmt.Errorf("writing index cache %s: %w", ic.path, err)
	}
	log.Infof("package index cached at %s (%d bytes)", ic.path, len(plain))
	return nil
}

// verifySignature checks the detached armored signature published next to
// the index against the configured public key.
func (ic *IndexCache) verifySignature(indexName string, indexData []byte) error {
	keyData, err := os.ReadFile(ic.signingKey)
	if err != nil {
		return fmt.Errorf("reading signing key %s: %w", ic.signingKey, err)
	}
	keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(keyData))
	if err != nil {
		return fmt.Errorf("parsing signing key: %w", err)
	}

	sigData, err := ic.client.FetchBytes(indexName + indexSigExt)
	if err != nil {
		return fmt.Errorf("fetching signature: %w", err)
	}

	_, err = openpgp.CheckArmoredDetachedSignature(
		keyring, bytes.NewReader(indexData), bytes.NewReader(sigData), nil)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	return nil
}

// decompress sniffs the magic bytes and inflates gzip or xz payloads.
func decompress(raw []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(raw, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case bytes.HasPrefix(raw, xzMagic):
		xr, err := xz.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("xz: %w", err)
		}
		return io.ReadAll(xr)
	default:
		// plain text index; some mirrors serve it uncompressed
		return raw, nil
	}
}

// Open returns a reader over the decompressed cache. Call Ensure first.
func (ic *IndexCache) Open() (io.ReadCloser, error) {
	f, err := os.Open(ic.path)
	if err != nil {
		return nil, fmt.Errorf("opening index cache %s: %w", ic.path, err)
	}
	return f, nil
}

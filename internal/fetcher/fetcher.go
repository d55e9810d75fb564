// Package fetcher implements the extension download pipeline: resolve a
// package's dependency descriptor into concrete file names, download each
// with its sidecars, and verify checksums. Per-item failures are journaled
// and never stop the batch.
package fetcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/microcore-linux/ext-composer/internal/config"
	"github.com/microcore-linux/ext-composer/internal/journal"
	"github.com/microcore-linux/ext-composer/internal/kernel"
	"github.com/microcore-linux/ext-composer/internal/repo"
	"github.com/microcore-linux/ext-composer/internal/utils/file"
	"github.com/microcore-linux/ext-composer/internal/utils/logger"
)

const (
	indexCacheName   = "info.lst"
	kernelListName   = "kernels.lst"
	resolvedListName = "resolved.lst"
	journalName      = "fetch.log"
)

// Fetcher ties the repository client, index cache, journal and ownership
// policy together for one configuration.
type Fetcher struct {
	cfg    *config.GlobalConfig
	flavor kernel.Flavor
	client *repo.Client
	index  *repo.IndexCache
	jnl    *journal.Journal
	owner  OwnerPolicy

	extDir  string
	workDir string
}

// New validates the configuration and prepares the working directories.
// An invalid architecture or an unusable ownership policy is fatal here.
func New(cfg *config.GlobalConfig) (*Fetcher, error) {
	flavor, err := kernel.FlavorForArch(cfg.Repo.Arch)
	if err != nil {
		return nil, err
	}

	owner, err := NewOwnerPolicy(cfg.Owner)
	if err != nil {
		return nil, err
	}

	if err := cfg.CreateDirs(); err != nil {
		return nil, err
	}
	extDir, err := cfg.ExtensionDir()
	if err != nil {
		return nil, err
	}
	workDir, err := cfg.WorkDir()
	if err != nil {
		return nil, err
	}

	client := repo.NewClient(cfg.TczDirURL())
	index := repo.NewIndexCache(client,
		filepath.Join(workDir, indexCacheName), cfg.CacheMaxAge(), cfg.Index.SigningKey)

	jnl, err := journal.Open(filepath.Join(workDir, journalName))
	if err != nil {
		return nil, err
	}

	return &Fetcher{
		cfg:     cfg,
		flavor:  flavor,
		client:  client,
		index:   index,
		jnl:     jnl,
		owner:   owner,
		extDir:  extDir,
		workDir: workDir,
	}, nil
}

// Close releases the journal.
func (f *Fetcher) Close() error { return f.jnl.Close() }

// IndexPath returns the decompressed package index cache location.
func (f *Fetcher) IndexPath() string { return f.index.Path() }

// JournalPath returns the fetch journal location.
func (f *Fetcher) JournalPath() string { return f.jnl.Path() }

// ResolvedListPath returns where the resolved dependency list is written.
func (f *Fetcher) ResolvedListPath() string {
	return filepath.Join(f.workDir, resolvedListName)
}

// IndexCacheFile returns where the decompressed package index cache lives
// for the given configuration, without touching the filesystem.
func IndexCacheFile(cfg *config.GlobalConfig) (string, error) {
	workDir, err := cfg.WorkDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(workDir, indexCacheName), nil
}

// JournalFile returns where the fetch journal lives for the given
// configuration, without creating it.
func JournalFile(cfg *config.GlobalConfig) (string, error) {
	workDir, err := cfg.WorkDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(workDir, journalName), nil
}

// Run processes the requested package names in order and returns the
// sorted union of every resolved reference. Only environment failures
// (index refresh, ownership) abort; everything else is journaled and the
// batch carries on.
func (f *Fetcher) Run(names []string) ([]string, error) {
	log := logger.Logger()
	f.jnl.BeginSession(names)

	if err := f.index.Ensure(); err != nil {
		return nil, err
	}

	tags, err := f.kernelTags()
	if err != nil {
		return nil, err
	}
	log.Infof("kernel version set has %d entries", len(tags))

	resolver := NewResolver(f.client, tags)

	resolvedAll := make(map[string]struct{})
	for _, raw := range names {
		name, err := NormalizeName(raw)
		if err != nil {
			log.Errorf("rejecting %q: %v", raw, err)
			f.jnl.Failuref("%q rejected: %v", raw, err)
			continue
		}

		refs, err := resolver.Resolve(name)
		if err != nil {
			log.Errorf("skipping %s: %v", name, err)
			f.jnl.Failuref("%s skipped: %v", name, err)
			continue
		}
		log.Infof("%s resolves to %d files", name, len(refs))
		for _, ref := range refs {
			resolvedAll[ref] = struct{}{}
		}

		if err := f.fetchRefs(name, refs); err != nil {
			return nil, err
		}
	}

	sorted := make([]string, 0, len(resolvedAll))
	for ref := range resolvedAll {
		sorted = append(sorted, ref)
	}
	sort.Strings(sorted)

	if err := f.writeResolvedList(sorted); err != nil {
		return nil, err
	}

	// the kernel list is scratch state; a clean exit removes it
	if err := os.Remove(filepath.Join(f.workDir, kernelListName)); err != nil && !os.IsNotExist(err) {
		log.Warnf("removing kernel list: %v", err)
	}
	return sorted, nil
}

// kernelTags scrapes the version set from the cached index and writes the
// transient kernel list file for inspection while the run is in flight.
func (f *Fetcher) kernelTags() ([]kernel.Tag, error) {
	rc, err := f.index.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	tags, err := kernel.ScrapeTags(rc, f.flavor)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, t := range tags {
		sb.WriteString(t.String())
		sb.WriteByte('\n')
	}
	listPath := filepath.Join(f.workDir, kernelListName)
	if err := os.WriteFile(listPath, []byte(sb.String()), 0644); err != nil {
		return nil, fmt.Errorf("writing kernel list %s: %w", listPath, err)
	}
	return tags, nil
}

func (f *Fetcher) fetchRefs(name string, refs []string) error {
	bar := progressbar.NewOptions(len(refs),
		progressbar.OptionFullWidth(),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetDescription(fmt.Sprintf("fetching %s", name)),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	for _, ref := range refs {
		bar.Describe(fmt.Sprintf("fetching %s", ref))
		if err := f.fetchOne(ref); err != nil {
			return err
		}
		bar.Add(1)
	}
	bar.Finish()
	return nil
}

// fetchOne downloads a single resolved reference plus sidecars. Its only
// error return is the fatal ownership case; per-item problems go to the
// journal.
func (f *Fetcher) fetchOne(ref string) error {
	log := logger.Logger()
	dest := filepath.Join(f.extDir, ref)

	if file.Exists(dest) {
		log.Debugf("%s already downloaded", ref)
		f.jnl.Notef("%s already downloaded", ref)
		return nil
	}

	if err := f.client.Download(ref, dest); err != nil {
		log.Errorf("downloading %s failed: %v", ref, err)
		f.jnl.Failuref("%s download failed: %v", ref, err)
		return nil
	}
	if err := f.owner.Apply(dest); err != nil {
		return err
	}

	// optional dependency sidecar; absence is normal for leaf packages
	depDest := dest + DepSuffix
	if err := f.client.Download(ref+DepSuffix, depDest); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			log.Errorf("downloading %s%s failed: %v", ref, DepSuffix, err)
			f.jnl.Failuref("%s%s download failed: %v", ref, DepSuffix, err)
		}
	} else if err := f.owner.Apply(depDest); err != nil {
		return err
	}

	sidecar, err := f.client.FetchBytes(ref + MD5Suffix)
	if errors.Is(err, repo.ErrNotFound) {
		log.Warnf("%s has no checksum sidecar, verification skipped", ref)
		f.jnl.Notef("%s: no checksum sidecar, verification skipped", ref)
		return nil
	}
	if err != nil {
		log.Errorf("fetching checksum for %s failed: %v", ref, err)
		f.jnl.Failuref("%s checksum fetch failed: %v", ref, err)
		return nil
	}

	md5Dest := dest + MD5Suffix
	if err := os.WriteFile(md5Dest, sidecar, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", md5Dest, err)
	}
	if err := f.owner.Apply(md5Dest); err != nil {
		return err
	}

	if err := VerifyMD5Sidecar(dest, sidecar); err != nil {
		log.Errorf("%v", err)
		f.jnl.Failuref("%s verification failed: %v", ref, err)
		return nil
	}

	log.Infof("%s downloaded and verified", ref)
	f.jnl.Successf("%s downloaded and verified", ref)
	return nil
}

// writeResolvedList persists the union of all resolved references for the
// run; the file is deliberately left behind for inspection.
func (f *Fetcher) writeResolvedList(refs []string) error {
	var sb strings.Builder
	for _, ref := range refs {
		sb.WriteString(ref)
		sb.WriteByte('\n')
	}
	path := f.ResolvedListPath()
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("writing resolved list %s: %w", path, err)
	}
	return nil
}

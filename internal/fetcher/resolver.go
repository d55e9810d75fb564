package fetcher

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/microcore-linux/ext-composer/internal/kernel"
	"github.com/microcore-linux/ext-composer/internal/repo"
)

const (
	// TczSuffix is the extension archive suffix.
	TczSuffix = ".tcz"
	// DepSuffix marks the dependency descriptor sidecar.
	DepSuffix = ".dep"
	// MD5Suffix marks the checksum sidecar.
	MD5Suffix = ".md5.txt"
)

// ErrPackageMissing reports that neither the descriptor nor the bare
// package exists in the repository.
var ErrPackageMissing = errors.New("package not present in repository")

// Caller-supplied names are opaque identifiers, never paths: reject
// anything that could escape the store directory or confuse the shell.
var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)

// NormalizeName validates a requested package name and appends the .tcz
// suffix when absent.
func NormalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if !validName.MatchString(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid package name %q", raw)
	}
	if !strings.HasSuffix(name, TczSuffix) {
		name += TczSuffix
	}
	return name, nil
}

// Resolver turns one package name into the flat, deduplicated, sorted
// list of concrete file names to download.
type Resolver struct {
	client *repo.Client
	tags   []kernel.Tag
}

// NewResolver wires a resolver against the repository with the current
// kernel version set.
func NewResolver(client *repo.Client, tags []kernel.Tag) *Resolver {
	return &Resolver{client: client, tags: tags}
}

// Resolve fetches the package's dependency descriptor and expands it.
// A package with no descriptor but an existing archive resolves to just
// itself; a package with neither returns ErrPackageMissing.
func (r *Resolver) Resolve(name string) ([]string, error) {
	data, err := r.client.FetchBytes(name + DepSuffix)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("resolving %s: %w", name, err)
		}
		// no descriptor: probe for the bare package
		ok, probeErr := r.client.Exists(name)
		if probeErr != nil {
			return nil, fmt.Errorf("resolving %s: %w", name, probeErr)
		}
		if !ok {
			return nil, fmt.Errorf("resolving %s: %w", name, ErrPackageMissing)
		}
		data = nil
	}

	entries := append(strings.Split(string(data), "\n"), name)
	return r.expand(entries), nil
}

// expand normalizes descriptor entries: whitespace stripped, empties
// dropped, KERNEL placeholders resolved, the result deduplicated and
// sorted.
func (r *Resolver) expand(entries []string) []string {
	seen := make(map[string]struct{})
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		for _, concrete := range kernel.Expand(entry, r.tags) {
			seen[concrete] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for ref := range seen {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}

// Package kernel models the kernel version tags that extension file names
// carry. A dependency entry may name the generic KERNEL placeholder, which
// expands into one concrete entry per kernel build published in the
// repository index.
package kernel

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/microcore-linux/ext-composer/internal/utils/logger"
)

// Placeholder is the literal token inside a dependency entry that stands
// for "the current kernel".
const Placeholder = "KERNEL"

// Flavor selects which kernel tag pattern a target architecture uses.
type Flavor string

const (
	// FlavorMainline matches mainline-style tags like 6.1.2-tinycore64.
	FlavorMainline Flavor = "mainline"
	// FlavorARMFork matches ARM fork tags like 6.1.68-piCore-v8.
	FlavorARMFork Flavor = "armfork"
)

var (
	mainlinePattern = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)-(tinycore(?:64)?)`)
	armForkPattern  = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)-(piCore(?:-v[0-9a-z]+)?)`)
)

// Tag is one concrete kernel build, e.g. version "6.1.2" with suffix
// "tinycore64".
type Tag struct {
	Version string
	Suffix  string
	Flavor  Flavor
}

// String renders the tag the way extension file names embed it.
func (t Tag) String() string { return t.Version + "-" + t.Suffix }

// FlavorForArch maps a target architecture to its tag flavor.
func FlavorForArch(arch string) (Flavor, error) {
	switch arch {
	case "x86", "x86_64":
		return FlavorMainline, nil
	case "armv7", "aarch64":
		return FlavorARMFork, nil
	default:
		return "", fmt.Errorf("no kernel tag pattern for architecture %q", arch)
	}
}

func pattern(f Flavor) (*regexp.Regexp, error) {
	switch f {
	case FlavorMainline:
		return mainlinePattern, nil
	case FlavorARMFork:
		return armForkPattern, nil
	default:
		return nil, fmt.Errorf("unknown kernel flavor %q", f)
	}
}

// ParseTag validates a single version-suffix string against the flavor's
// pattern and returns the structured tag.
func ParseTag(s string, f Flavor) (Tag, error) {
	re, err := pattern(f)
	if err != nil {
		return Tag{}, err
	}
	m := re.FindStringSubmatch(s)
	if m == nil || m[0] != s {
		return Tag{}, fmt.Errorf("%q is not a valid %s kernel tag", s, f)
	}
	return Tag{Version: m[1], Suffix: m[2], Flavor: f}, nil
}

// ScrapeTags scans a package index line by line and collects every kernel
// tag embedded in a file name, deduplicated and sorted.
func ScrapeTags(r io.Reader, f Flavor) ([]Tag, error) {
	re, err := pattern(f)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]Tag)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		for _, m := range re.FindAllStringSubmatch(scanner.Text(), -1) {
			tag := Tag{Version: m[1], Suffix: m[2], Flavor: f}
			seen[tag.String()] = tag
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning index: %w", err)
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tags := make([]Tag, len(keys))
	for i, k := range keys {
		tags[i] = seen[k]
	}
	return tags, nil
}

// Expand replaces the KERNEL placeholder in entry with each tag, one
// output entry per tag. Entries without the placeholder come back as a
// single-element slice, untouched. An empty tag set drops the entry and
// is worth a warning: the image would be missing its kernel modules.
func Expand(entry string, tags []Tag) []string {
	if !strings.Contains(entry, Placeholder) {
		return []string{entry}
	}
	if len(tags) == 0 {
		logger.Logger().Warnf("no kernel tags available, dropping entry %s", entry)
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, strings.ReplaceAll(entry, Placeholder, t.String()))
	}
	return out
}

package fetcher

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"github.com/microcore-linux/ext-composer/internal/config"
)

// OwnerPolicy is applied to every artifact the fetcher writes. The
// download/verify logic does not depend on it; single-user setups run the
// no-op policy.
type OwnerPolicy interface {
	Apply(path string) error
}

// NopOwnerPolicy leaves file ownership alone.
type NopOwnerPolicy struct{}

func (NopOwnerPolicy) Apply(string) error { return nil }

// ChownOwnerPolicy reassigns artifacts to a fixed uid/gid.
type ChownOwnerPolicy struct {
	uid int
	gid int
}

// NewOwnerPolicy builds the policy from configuration. A configured owner
// that cannot be resolved, or one we lack the privilege to assign, is a
// fatal setup error.
func NewOwnerPolicy(cfg config.OwnerConfig) (OwnerPolicy, error) {
	if cfg.User == "" && cfg.Group == "" {
		return NopOwnerPolicy{}, nil
	}

	uid := -1
	gid := -1

	if cfg.User != "" {
		u, err := user.Lookup(cfg.User)
		if err != nil {
			return nil, fmt.Errorf("looking up owner user %q: %w", cfg.User, err)
		}
		uid, err = strconv.Atoi(u.Uid)
		if err != nil {
			return nil, fmt.Errorf("parsing uid for %q: %w", cfg.User, err)
		}
		if gid == -1 {
			if g, err := strconv.Atoi(u.Gid); err == nil {
				gid = g
			}
		}
	}
	if cfg.Group != "" {
		g, err := user.LookupGroup(cfg.Group)
		if err != nil {
			return nil, fmt.Errorf("looking up owner group %q: %w", cfg.Group, err)
		}
		gid, err = strconv.Atoi(g.Gid)
		if err != nil {
			return nil, fmt.Errorf("parsing gid for %q: %w", cfg.Group, err)
		}
	}

	// chowning to another user needs root
	if os.Geteuid() != 0 && uid != -1 && uid != os.Geteuid() {
		return nil, fmt.Errorf("owner policy %s:%s requires root privileges", cfg.User, cfg.Group)
	}

	return &ChownOwnerPolicy{uid: uid, gid: gid}, nil
}

func (p *ChownOwnerPolicy) Apply(path string) error {
	if err := os.Chown(path, p.uid, p.gid); err != nil {
		return fmt.Errorf("assigning ownership of %s: %w", path, err)
	}
	return nil
}

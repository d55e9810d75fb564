// Package remaster rebuilds a bootable ISO image: unpack the base image,
// inject fetched extensions into its compressed root filesystem, repack,
// and author a new ISO. The pipeline is strictly sequential and aborts on
// the first failure; it is a one-shot build utility, not a service.
package remaster

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/microcore-linux/ext-composer/internal/config"
	"github.com/microcore-linux/ext-composer/internal/fetcher"
	"github.com/microcore-linux/ext-composer/internal/utils/file"
	"github.com/microcore-linux/ext-composer/internal/utils/logger"
	"github.com/microcore-linux/ext-composer/internal/utils/shell"
)

// startupScriptDir is where the injected script lands inside the rootfs;
// files there run at login time.
const startupScriptDir = "etc/profile.d"

// findISOTool locates an ISO authoring binary. Overridable in tests.
var findISOTool = func() (string, error) {
	for _, tool := range []string{"mkisofs", "genisoimage", "xorriso"} {
		if shell.IsCommandExist(tool) {
			return tool, nil
		}
	}
	return "", fmt.Errorf("no ISO authoring tool found (need mkisofs, genisoimage or xorriso)")
}

// Builder drives one remaster run.
type Builder struct {
	cfg *config.GlobalConfig
}

// NewBuilder validates the remaster section of the configuration.
func NewBuilder(cfg *config.GlobalConfig) (*Builder, error) {
	r := cfg.Remaster
	if r.BaseISO == "" {
		return nil, fmt.Errorf("remaster: base_iso is required")
	}
	if r.OutputISO == "" {
		return nil, fmt.Errorf("remaster: output_iso is required")
	}
	if r.RootfsPath == "" {
		return nil, fmt.Errorf("remaster: rootfs_path is required")
	}
	return &Builder{cfg: cfg}, nil
}

// Run executes the full pipeline.
func (b *Builder) Run() error {
	log := logger.Logger()
	r := b.cfg.Remaster

	if err := b.cfg.CreateDirs(); err != nil {
		return err
	}
	workDir, err := b.cfg.WorkDir()
	if err != nil {
		return err
	}
	ws := filepath.Join(workDir, "remaster-"+uuid.New().String()[:8])
	isoRoot := filepath.Join(ws, "iso")
	rootfsRoot := filepath.Join(ws, "rootfs")

	log.Infof("remaster workspace: %s", ws)
	log.Infof("extracting base image %s", r.BaseISO)
	if err := ExtractISO(r.BaseISO, isoRoot); err != nil {
		return err
	}

	rootfsArchive := filepath.Join(isoRoot, filepath.FromSlash(r.RootfsPath))
	if !file.Exists(rootfsArchive) {
		return fmt.Errorf("rootfs archive %s not present in base image", r.RootfsPath)
	}

	log.Infof("unpacking root filesystem %s", r.RootfsPath)
	if err := UnpackRootfs(rootfsArchive, rootfsRoot, r.UseSudo); err != nil {
		return err
	}

	log.Infof("fetching %d extensions", len(r.Extensions))
	extDir, refs, err := b.fetchExtensions(r.Extensions)
	if err != nil {
		return err
	}

	// every requested extension must have resolved; a name the fetcher
	// could only journal-and-skip aborts the build here
	for _, name := range r.Extensions {
		ref, err := fetcher.NormalizeName(name)
		if err != nil {
			return err
		}
		if !file.Exists(filepath.Join(extDir, ref)) {
			return fmt.Errorf("extension %s was not fetched, cannot continue", ref)
		}
	}

	// the overlay covers the full resolved set, dependencies included
	if err := overlayExtensions(extDir, refs, rootfsRoot); err != nil {
		return err
	}

	if r.StartupScript != "" {
		if err := b.installStartupScript(r.StartupScript, rootfsRoot); err != nil {
			return err
		}
	}

	log.Infof("repacking root filesystem (%s)", r.Compression)
	if err := RepackRootfs(rootfsRoot, rootfsArchive, r.Compression, r.UseSudo); err != nil {
		return err
	}

	log.Infof("authoring %s", r.OutputISO)
	if err := AuthorISO(isoRoot, r.OutputISO, r.VolumeLabel, r.UseSudo); err != nil {
		return err
	}

	log.Infof("remastered image written to %s", r.OutputISO)
	return nil
}

// fetchExtensions runs the extension fetcher for the configured list and
// returns the store directory plus the full resolved reference set.
func (b *Builder) fetchExtensions(names []string) (string, []string, error) {
	f, err := fetcher.New(b.cfg)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	refs, err := f.Run(names)
	if err != nil {
		return "", nil, err
	}
	extDir, err := b.cfg.ExtensionDir()
	if err != nil {
		return "", nil, err
	}
	return extDir, refs, nil
}

// overlayExtensions unpacks every resolved archive onto the rootfs tree,
// aborting on the first missing or unreadable one.
func overlayExtensions(extDir string, refs []string, rootfsRoot string) error {
	log := logger.Logger()
	for _, ref := range refs {
		tczPath := filepath.Join(extDir, ref)
		if !file.Exists(tczPath) {
			return fmt.Errorf("extension %s was not fetched, cannot continue", ref)
		}
		log.Infof("overlaying %s onto root filesystem", ref)
		if err := ExtractExtension(tczPath, rootfsRoot); err != nil {
			return err
		}
	}
	return nil
}

// installStartupScript copies the configured script into the rootfs
// login-time startup directory, executable.
func (b *Builder) installStartupScript(script, rootfsRoot string) error {
	target := filepath.Join(rootfsRoot, startupScriptDir, filepath.Base(script))
	if err := file.CopyFile(script, target); err != nil {
		return fmt.Errorf("installing startup script: %w", err)
	}
	if err := os.Chmod(target, 0755); err != nil {
		return fmt.Errorf("marking startup script executable: %w", err)
	}
	logger.Logger().Infof("installed startup script %s", filepath.Join(startupScriptDir, filepath.Base(script)))
	return nil
}

// AuthorISO builds a bootable image from the modified tree. El Torito
// boot flags are added when the tree carries an isolinux loader.
func AuthorISO(treeDir, outPath, label string, useSudo bool) error {
	tool, err := findISOTool()
	if err != nil {
		return err
	}
	if tool == "xorriso" {
		tool = "xorriso -as mkisofs"
	}

	cmdStr := fmt.Sprintf("%s -l -J -R -V %q -o %q", tool, label, outPath)
	if file.Exists(filepath.Join(treeDir, "boot", "isolinux", "isolinux.bin")) {
		cmdStr += " -no-emul-boot -boot-load-size 4 -boot-info-table" +
			" -b boot/isolinux/isolinux.bin -c boot/isolinux/boot.cat"
	}
	cmdStr += fmt.Sprintf(" %q", treeDir)

	if _, err := shell.ExecCmdWithStream(cmdStr, useSudo, nil); err != nil {
		return fmt.Errorf("authoring image: %w", err)
	}
	return nil
}

package remaster

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/microcore-linux/ext-composer/internal/config"
	"github.com/microcore-linux/ext-composer/internal/utils/file"
)

func stubISOTool(t *testing.T, tool string) {
	t.Helper()
	orig := findISOTool
	findISOTool = func() (string, error) { return tool, nil }
	t.Cleanup(func() { findISOTool = orig })
}

func TestNewBuilderValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.GlobalConfig)
	}{
		{"missing base_iso", func(c *config.GlobalConfig) { c.Remaster.OutputISO = "out.iso" }},
		{"missing output_iso", func(c *config.GlobalConfig) { c.Remaster.BaseISO = "base.iso" }},
		{"missing rootfs_path", func(c *config.GlobalConfig) {
			c.Remaster.BaseISO = "base.iso"
			c.Remaster.OutputISO = "out.iso"
			c.Remaster.RootfsPath = ""
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			if _, err := NewBuilder(cfg); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestNewBuilderAcceptsCompleteConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Remaster.BaseISO = "base.iso"
	cfg.Remaster.OutputISO = "out.iso"
	if _, err := NewBuilder(cfg); err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
}

func TestExtractExtensionRealArchive(t *testing.T) {
	dest := t.TempDir()
	if err := ExtractExtension(filepath.Join("testdata", "sample.tcz"), dest); err != nil {
		t.Fatalf("ExtractExtension failed: %v", err)
	}
	for _, name := range []string{"file_001", "file_150", "file_300"} {
		if _, err := os.Stat(filepath.Join(dest, name)); err != nil {
			t.Errorf("Expected %s in extracted tree: %v", name, err)
		}
	}
}

func TestOverlayExtensionsCoversResolvedSet(t *testing.T) {
	extDir := t.TempDir()
	rootfs := t.TempDir()
	for _, name := range []string{"nano.tcz", "ncurses.tcz"} {
		if err := file.CopyFile(filepath.Join("testdata", "sample.tcz"),
			filepath.Join(extDir, name)); err != nil {
			t.Fatalf("staging %s: %v", name, err)
		}
	}

	if err := overlayExtensions(extDir, []string{"nano.tcz", "ncurses.tcz"}, rootfs); err != nil {
		t.Fatalf("overlayExtensions failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(rootfs, "file_001")); err != nil {
		t.Errorf("Expected overlaid content in rootfs: %v", err)
	}
}

func TestOverlayExtensionsFailsOnMissingArchive(t *testing.T) {
	err := overlayExtensions(t.TempDir(), []string{"ghost.tcz"}, t.TempDir())
	if err == nil {
		t.Fatal("Expected error for an archive absent from the store")
	}
}

func TestExtractISORejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	bogus := filepath.Join(dir, "bogus.iso")
	if err := os.WriteFile(bogus, []byte("definitely not iso9660"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ExtractISO(bogus, filepath.Join(dir, "out")); err == nil {
		t.Fatal("Expected error for a non-ISO input")
	}
}

func TestAuthorISOCommand(t *testing.T) {
	dir := t.TempDir()
	stubISOTool(t, "genisoimage")
	cmds := stubStream(t, nil)

	if err := AuthorISO(dir, filepath.Join(dir, "out.iso"), "mylabel", false); err != nil {
		t.Fatalf("AuthorISO failed: %v", err)
	}
	cmd := (*cmds)[0]
	if !strings.HasPrefix(cmd, "genisoimage ") {
		t.Errorf("Unexpected tool in %q", cmd)
	}
	if !strings.Contains(cmd, `-V "mylabel"`) {
		t.Errorf("Missing volume label in %q", cmd)
	}
	if strings.Contains(cmd, "-no-emul-boot") {
		t.Errorf("Boot flags present without a boot loader in the tree: %q", cmd)
	}
}

func TestAuthorISOAddsBootFlagsWhenLoaderPresent(t *testing.T) {
	dir := t.TempDir()
	loader := filepath.Join(dir, "boot", "isolinux", "isolinux.bin")
	if err := os.MkdirAll(filepath.Dir(loader), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(loader, []byte{0x90}, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	stubISOTool(t, "mkisofs")
	cmds := stubStream(t, nil)

	if err := AuthorISO(dir, filepath.Join(dir, "out.iso"), "core", false); err != nil {
		t.Fatalf("AuthorISO failed: %v", err)
	}
	cmd := (*cmds)[0]
	for _, flag := range []string{"-no-emul-boot", "-boot-load-size 4", "-boot-info-table",
		"-b boot/isolinux/isolinux.bin", "-c boot/isolinux/boot.cat"} {
		if !strings.Contains(cmd, flag) {
			t.Errorf("Missing %q in %q", flag, cmd)
		}
	}
}

func TestAuthorISOXorrisoUsesCompatMode(t *testing.T) {
	dir := t.TempDir()
	stubISOTool(t, "xorriso")
	cmds := stubStream(t, nil)

	if err := AuthorISO(dir, filepath.Join(dir, "out.iso"), "core", false); err != nil {
		t.Fatalf("AuthorISO failed: %v", err)
	}
	if !strings.HasPrefix((*cmds)[0], "xorriso -as mkisofs ") {
		t.Errorf("Expected mkisofs emulation, got %q", (*cmds)[0])
	}
}

func TestInstallStartupScript(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "bootlocal.sh")
	rootfs := filepath.Join(dir, "rootfs")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho hi\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	b := &Builder{cfg: config.Default()}
	if err := b.installStartupScript(script, rootfs); err != nil {
		t.Fatalf("installStartupScript failed: %v", err)
	}

	target := filepath.Join(rootfs, "etc", "profile.d", "bootlocal.sh")
	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("Expected script at %s: %v", target, err)
	}
	if info.Mode().Perm() != 0755 {
		t.Errorf("Expected mode 0755, got %v", info.Mode().Perm())
	}
}

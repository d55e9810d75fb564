package main

import (
	"fmt"
	"os"

	"github.com/gdamore/tcell"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"github.com/microcore-linux/ext-composer/internal/config"
	"github.com/microcore-linux/ext-composer/internal/fetcher"
	"github.com/microcore-linux/ext-composer/internal/utils/file"
)

// createInfoCommand creates the info subcommand
func createInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Browse the cached package index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return viewFetcherFile("package index", fetcher.IndexCacheFile)
		},
	}
}

// createLogCommand creates the log subcommand
func createLogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Browse the fetch journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return viewFetcherFile("fetch journal", fetcher.JournalFile)
		},
	}
}

// viewFetcherFile resolves the file's location from configuration alone;
// a view must never create the file it would show.
func viewFetcherFile(title string, pathOf func(*config.GlobalConfig) (string, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path, err := pathOf(cfg)
	if err != nil {
		return err
	}
	if !file.Exists(path) {
		return fmt.Errorf("no %s at %s, run a fetch first", title, path)
	}
	return runPager(title, path)
}

// runPager shows the file in a scrollable full screen view; q or Escape
// quits. Overridable so command tests stay headless.
var runPager = func(title, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	app := tview.NewApplication()
	text := tview.NewTextView().
		SetScrollable(true).
		SetText(string(data))
	text.SetBorder(true).SetTitle(fmt.Sprintf(" %s (%s) ", title, path))
	text.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == 'q' || event.Key() == tcell.KeyEscape {
			app.Stop()
			return nil
		}
		return event
	})

	return app.SetRoot(text, true).Run()
}

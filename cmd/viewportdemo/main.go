// Command viewportdemo drives a Controller against either a synthetic
// in-memory collection or a real HTTP backend, for manual exercise of
// scrolling, lazy loading and eviction from an actual terminal.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/scrollcore/viewport/adapter"
	"github.com/scrollcore/viewport/config"
	"github.com/scrollcore/viewport/controller"
	"github.com/scrollcore/viewport/logging"
	"github.com/scrollcore/viewport/style"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		profile    string
		items      int
		backendURL string
		noColor    bool
		showVers   bool
	)

	cmd := &cobra.Command{
		Use:   "viewportdemo",
		Short: "Drive a virtual-scrolling viewport Controller in a terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVers {
				fmt.Printf("viewportdemo %s\n", version)
				return nil
			}
			if noColor {
				os.Setenv("NO_COLOR", "1")
			}
			return run(profile, items, backendURL)
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "default", "named profile for state isolation (~/.viewportdemo/profiles/<name>)")
	cmd.Flags().IntVar(&items, "items", 50_000, "number of synthetic rows to serve when --backend-url is unset")
	cmd.Flags().StringVar(&backendURL, "backend-url", "", "HTTP backend to page from instead of the synthetic collection (overrides config/env)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
	cmd.Flags().BoolVar(&showVers, "version", false, "show version and exit")

	return cmd
}

func run(profile string, items int, backendURL string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	profileDir := filepath.Join(home, ".viewportdemo", "profiles", profile)
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	cfg := config.Load(profileDir)
	if backendURL != "" {
		cfg.BackendURL = backendURL
	}

	logger := logging.New(logging.Options{
		Path:       filepath.Join(profileDir, cfg.LogPath),
		Level:      cfg.LogLevel,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	if !style.SetTheme(cfg.Theme) {
		if lipgloss.HasDarkBackground(os.Stdin, os.Stdout) {
			style.SetTheme("dark")
		} else {
			style.SetTheme("light")
		}
	}

	var ad adapter.Adapter
	if cfg.BackendURL != "" {
		ad = adapter.NewHTTPAdapter(cfg.BackendURL)
	} else {
		ad = adapter.NewInMemoryAdapter(generateRows(items), 500)
	}

	sender := &lazySender{}

	vp := controller.New(ad, sender, controller.Config{
		ItemSize:              cfg.ItemSize,
		ContainerSize:         cfg.ContainerSize,
		Overscan:              cfg.Overscan,
		RangeSize:             cfg.RangeSize,
		MaxCachedItems:        cfg.MaxCachedItems,
		EvictionBuffer:        cfg.EvictionBuffer,
		Strategy:              adapter.Strategy(cfg.Strategy),
		MaxConcurrentRequests: cfg.MaxConcurrentRequests,
		Sensitivity:           cfg.Sensitivity,
		ItemRenderer:          renderRow,
		Logger:                logger,
	})

	p := tea.NewProgram(newModel(vp))
	sender.program = p

	_, err = p.Run()
	return err
}

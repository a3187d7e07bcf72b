package root

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/config"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/profile"
)

func newProfilesCmd() *cobra.Command {
	var (
		profilesDir string
		watch       bool
	)

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List the specialist catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if profilesDir != "" {
				cfg.ProfilesDir = profilesDir
			}

			catalog, err := profile.LoadCatalog(cfg.ProfilesDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printCatalog(out, catalog)

			if !watch {
				return nil
			}
			return watchCatalog(cmd.Context(), out, cfg.ProfilesDir)
		},
	}

	cmd.Flags().StringVar(&profilesDir, "profiles-dir", "", "Directory of extra specialist profiles")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep watching the profiles directory and reprint on change")

	return cmd
}

func printCatalog(out io.Writer, catalog *profile.Catalog) {
	fmt.Fprintf(out, "%-20s %-26s %-40s %s\n", "ID", "NAME", "SPECIALTIES", "TOOLS")
	for _, p := range catalog.List() {
		toolList := "all"
		if len(p.Tools) > 0 {
			toolList = strings.Join(p.Tools, ", ")
		}
		fmt.Fprintf(out, "%-20s %-26s %-40s %s\n", p.ID, p.DisplayName(), strings.Join(p.Specialties, ", "), toolList)
	}
}

// watchCatalog reprints the catalog whenever a profile file changes, until
// the context ends. A reload failure is reported and watching continues, so
// a half-saved file does not kill the watch.
func watchCatalog(ctx context.Context, out io.Writer, dir string) error {
	if dir == "" {
		return fmt.Errorf("--watch needs a profiles directory (set profiles_dir or --profiles-dir)")
	}

	watcher, err := profile.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Watch(dir); err != nil {
		return err
	}
	watcher.Start(ctx)
	fmt.Fprintf(out, "\n%s\n", gray("watching %s for changes (Ctrl+C to stop)", dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			catalog, err := profile.LoadCatalog(dir)
			if err != nil {
				slog.Warn("Catalog reload failed", "path", event.Path, "error", err)
				continue
			}
			fmt.Fprintf(out, "\n%s\n", gray("%s changed", event.Path))
			printCatalog(out, catalog)
		}
	}
}

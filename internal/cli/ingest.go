package cli

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/0xcro3dile/docrag/internal/app"
	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/domain/usecases"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Index files or directories",
		Long:  `The 'ingest' command parses, chunks and embeds the given files. Directories are walked recursively and only supported formats are picked up.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				paths, err := expandPaths(args, a.Ingest.SupportedFormats())
				if err != nil {
					return err
				}
				if len(paths) == 0 {
					return fmt.Errorf("no supported files found (supported: %s)", strings.Join(a.Ingest.SupportedFormats(), ", "))
				}

				var uploads []entities.Upload
				for _, p := range paths {
					up, err := a.Loader.Load(ctx, p)
					if err != nil {
						return err
					}
					uploads = append(uploads, *up)
				}

				results := a.Ingest.IngestMany(ctx, uploads)
				if err := printIngestResults(cmd, opts, results); err != nil {
					return err
				}
				failed := 0
				for _, r := range results {
					if r.Err != nil {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d files failed", failed, len(results))
				}
				return nil
			})
		},
	}
}

func printIngestResults(cmd *cobra.Command, opts *rootOptions, results []usecases.IngestResult) error {
	out := cmd.OutOrStdout()
	if opts.jsonOut {
		files := make([]*entities.File, 0, len(results))
		for _, r := range results {
			files = append(files, r.File)
		}
		return printJSON(out, files)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tID\tSTATUS\tCHUNKS\tERROR")
	for _, r := range results {
		id, status, chunks := "-", string(entities.StatusFailed), 0
		if r.File != nil {
			id, status, chunks = r.File.ID, string(r.File.Status), r.File.ChunkCount
		}
		errMsg := ""
		if r.Err != nil {
			errMsg = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.Upload, id, status, chunks, errMsg)
	}
	return tw.Flush()
}

// expandPaths walks directories and keeps files with a supported extension.
// Files named explicitly are always kept so unsupported formats are reported.
func expandPaths(args []string, exts []string) ([]string, error) {
	supported := make(map[string]bool, len(exts))
	for _, e := range exts {
		supported[e] = true
	}
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != arg && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if supported[strings.ToLower(filepath.Ext(p))] {
				paths = append(paths, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}

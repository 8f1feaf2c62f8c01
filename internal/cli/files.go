package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/0xcro3dile/docrag/internal/app"
)

func newFilesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Group commands for indexed files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List indexed files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				files, err := a.Ingest.Files(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonOut {
					return printJSON(out, files)
				}
				if len(files) == 0 {
					fmt.Fprintln(out, "no files indexed")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tCHUNKS\tUPLOADED")
				for _, f := range files {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", f.ID, f.Name, f.Status, f.ChunkCount, f.UploadedAt.Local().Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one file and its ingestion state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f, err := a.Ingest.File(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonOut {
					return printJSON(out, f)
				}
				fmt.Fprintf(out, "ID:       %s\n", f.ID)
				fmt.Fprintf(out, "Name:     %s\n", f.Name)
				fmt.Fprintf(out, "Type:     %s\n", f.ContentType)
				fmt.Fprintf(out, "Size:     %d bytes\n", f.Size)
				fmt.Fprintf(out, "Status:   %s (%s)\n", f.Status, f.State)
				fmt.Fprintf(out, "Chunks:   %d\n", f.ChunkCount)
				if f.SourcePath != "" {
					fmt.Fprintf(out, "Source:   %s\n", f.SourcePath)
				}
				if f.ErrorKind != "" {
					fmt.Fprintf(out, "Error:    %s: %s\n", f.ErrorKind, f.ErrorMessage)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete files and their chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				for _, id := range args {
					if err := a.Ingest.Delete(ctx, id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "chunks <id>",
		Short: "Print the chunks of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				chunks, err := a.Ingest.Chunks(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonOut {
					return printJSON(out, chunks)
				}
				for _, c := range chunks {
					fmt.Fprintf(out, "--- chunk %d [%d:%d]\n%s\n", c.Index, c.StartOffset, c.EndOffset, c.Text)
				}
				return nil
			})
		},
	})
	return cmd
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/0xcro3dile/docrag/internal/app"
)

var errNoModelManager = errors.New("model management needs an ollama backend in llm.backends")

func newModelsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Group commands for language models",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List models installed on the Ollama server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Models == nil {
					return errNoModelManager
				}
				models, err := a.Models.ListModels(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonOut {
					return printJSON(out, models)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tSIZE")
				for _, m := range models {
					fmt.Fprintf(tw, "%s\t%.1f GB\n", m.Name, float64(m.Size)/1e9)
				}
				return tw.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "pull <name>",
		Short: "Download a model onto the Ollama server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Models == nil {
					return errNoModelManager
				}
				if err := a.Models.PullModel(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pulled %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

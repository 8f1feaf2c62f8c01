package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/0xcro3dile/docrag/internal/app"
	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/domain/usecases"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		k       int
		fileIDs []string
		stream  bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := usecases.AskRequest{
				Question: strings.Join(args, " "),
				K:        k,
				FileIDs:  fileIDs,
			}
			return opts.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				if stream && !opts.jsonOut {
					var cited []entities.RetrievalResult
					sources, err := a.Query.AskStream(ctx, req, func(ev usecases.StreamEvent) error {
						switch ev.Type {
						case "sources":
							cited = ev.Citations
						case "token":
							fmt.Fprint(out, ev.Content)
						}
						return nil
					})
					fmt.Fprintln(out)
					if err != nil {
						if cited == nil && len(sources) > 0 {
							fmt.Fprintln(cmd.ErrOrStderr(), "The answer could not be generated. Retrieved sources:")
							printSources(cmd, sources)
						}
						return err
					}
					printSources(cmd, cited)
					return nil
				}

				answer, err := a.Query.Ask(ctx, req)
				if err != nil {
					if answer != nil && len(answer.Sources) > 0 {
						fmt.Fprintln(cmd.ErrOrStderr(), "The answer could not be generated. Retrieved sources:")
						printSources(cmd, answer.Sources)
					}
					return err
				}
				if opts.jsonOut {
					return printJSON(out, answer)
				}
				fmt.Fprintln(out, answer.Answer)
				printSources(cmd, answer.Citations)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "number of chunks to retrieve (default retrieval.default_k)")
	cmd.Flags().StringSliceVar(&fileIDs, "file", nil, "restrict the search to these file IDs")
	cmd.Flags().BoolVar(&stream, "stream", false, "print the answer as it is generated")
	return cmd
}

func printSources(cmd *cobra.Command, results []entities.RetrievalResult) {
	if len(results) == 0 {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\nSources:")
	for i, r := range results {
		fmt.Fprintf(out, "  [%d] %s (chunk %d, score %.3f)\n", i+1, r.FileName, r.Chunk.Index, r.Score)
	}
}

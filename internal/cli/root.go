// Package cli implements the docrag command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/0xcro3dile/docrag/internal/app"
	"github.com/0xcro3dile/docrag/internal/config"
	"github.com/0xcro3dile/docrag/internal/platform/logger"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	cfgFile string
	debug   bool
	jsonOut bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "docrag",
		Short:         "docrag - ask questions about your documents",
		Long:          `docrag ingests PDF, DOCX, Markdown and text files, indexes them as embedded chunks and answers questions with cited sources.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file (default ./docrag.yaml or ~/.config/docrag/config.yaml)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newServeCmd(opts),
		newIngestCmd(opts),
		newAskCmd(opts),
		newFilesCmd(opts),
		newModelsCmd(opts),
		newHistoryCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, err
	}
	if o.debug {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// withApp loads configuration, wires the application and runs fn with it.
func (o *rootOptions) withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a, err := app.New(*cfg, log)
	if err != nil {
		log.Sync()
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

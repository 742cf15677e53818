package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/soyeahso/tally/internal/analysis"
	"github.com/soyeahso/tally/internal/engine"
	"github.com/spf13/cobra"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		provider string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Read the line items off one receipt photo",
		Long: "Sends a single image through the configured analysis backend and prints\n" +
			"what it found. Nothing is added to any session or to the ledger.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if provider != "" {
				cfg.Analysis.Provider = provider
				cfg.Analysis.Fallbacks = nil
			}
			if err := validate(&cfg); err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			img := analysis.Image{
				Data:     data,
				MimeType: http.DetectContentType(data),
				Filename: filepath.Base(args[0]),
			}

			analyzer, err := analysis.NewFromConfig(cfg.Analysis, log)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Analysis.AnalysisTimeout())
			defer cancel()

			log.Debug().
				Str("provider", analyzer.Name()).
				Str("file", img.Filename).
				Str("mime", img.MimeType).
				Int("bytes", len(data)).
				Msg("analyzing image")

			res, err := analyzer.Analyze(ctx, img)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res, asJSON)
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "use this provider instead of the configured chain (service, anthropic, openai)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")

	return cmd
}

func printResult(w io.Writer, res *analysis.Result, asJSON bool) error {
	if asJSON {
		return writeJSON(w, res)
	}

	fmt.Fprintln(w, engine.FormatSummary(res.Total, res.Items))
	if sum := res.ItemsTotal(); !sum.Equal(res.Total) {
		fmt.Fprintf(w, "\nItems add up to %s\n", engine.FormatAmount(sum))
	}
	return nil
}

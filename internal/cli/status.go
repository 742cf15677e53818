package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/soyeahso/tally/internal/config"
	"github.com/soyeahso/tally/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tally paths and a configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "tally %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(w, "Config:   %s\n", paths.Config)
			fmt.Fprintf(w, "Data:     %s\n", paths.Data)
			fmt.Fprintf(w, "Logs:     %s\n", paths.Logs)
			fmt.Fprintln(w)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(w, "Config:   not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(w, "Config:   error loading: %v\n", err)
				return nil
			}

			printStatus(w, cfg)
			return nil
		},
	}

	return cmd
}

func printStatus(w io.Writer, cfg config.Config) {
	// Analysis
	a := cfg.Analysis
	chain := a.Provider
	if len(a.Fallbacks) > 0 {
		chain += " -> " + strings.Join(a.Fallbacks, " -> ")
	}
	fmt.Fprintf(w, "Analysis: %s timeout=%s", chain, a.AnalysisTimeout())
	if a.MaxConcurrent > 0 {
		fmt.Fprintf(w, " maxConcurrent=%d", a.MaxConcurrent)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Session:  scope=%s\n", cfg.Session.Scope)

	// Channels
	if tg := cfg.Channels.Telegram; tg != nil {
		fmt.Fprintf(w, "Telegram: token=%s pollTimeout=%ds\n", redact(tg.Token), tg.PollTimeout)
	} else {
		fmt.Fprintln(w, "Telegram: (not configured)")
	}
	if irc := cfg.Channels.IRC; irc != nil {
		fmt.Fprintf(w, "IRC:      server=%s:%d nick=%s channels=%s tls=%v\n",
			irc.Server, irc.Port, irc.Nick, strings.Join(irc.Channels, ","), irc.UseTLS)
	} else {
		fmt.Fprintln(w, "IRC:      (not configured)")
	}
	if gw := cfg.Gateway; gw.Enabled {
		fmt.Fprintf(w, "Gateway:  port=%d bind=%s auth=%s tls=%v\n", gw.Port, gw.Bind, gw.Auth.Mode, gw.TLS.Enabled)
	} else {
		fmt.Fprintln(w, "Gateway:  (disabled)")
	}

	// Ledger
	if cfg.Ledger.Enabled {
		fmt.Fprintf(w, "Ledger:   %s\n", paths.LedgerPath(cfg.Ledger))
	} else {
		fmt.Fprintln(w, "Ledger:   (disabled)")
	}

	// Validation
	issues := config.Validate(&cfg)
	if len(issues) > 0 {
		fmt.Fprintf(w, "\nValidation issues (%d):\n", len(issues))
		for _, issue := range issues {
			fmt.Fprintf(w, "  - %s\n", issue)
		}
	}
}

// redact keeps just enough of a secret to tell two apart.
func redact(secret string) string {
	switch {
	case secret == "":
		return "(unset)"
	case len(secret) <= 8:
		return "****"
	default:
		return secret[:4] + "****"
	}
}

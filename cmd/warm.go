package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/edge-warmer/internal/orchestrator"
)

func newWarmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warm",
		Short: "Run one warming pass over every configured domain",
		Long: `Resolves every domain's sitemap, warms each URL in paced batches, purges
cold URLs, and flushes the run log once at the end. Per-URL and per-domain
failures are recorded in the run log and never fail the command.`,
		Args: cobra.NoArgs,
		RunE: runWarmCommand,
	}
}

func runWarmCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	// A started run always completes and flushes.
	summary := appInstance.RunOnce(context.WithoutCancel(cmd.Context()))
	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

func printSummary(w io.Writer, s orchestrator.Summary) {
	found, warmed, failed, purged := s.Totals()
	fmt.Fprintf(w, "run %s finished in %s\n", s.RunID, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	for _, d := range s.Domains {
		line := fmt.Sprintf("  %-6s found=%d warmed=%d failed=%d purged=%d",
			d.Key, d.URLsFound, d.Stats.Warmed, d.Stats.Failed, d.Stats.Purged)
		if d.Panic != "" {
			line += " panic=" + d.Panic
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "total found=%d warmed=%d failed=%d purged=%d\n", found, warmed, failed, purged)
}

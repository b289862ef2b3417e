package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/txclassifier/internal/core/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending retries and classification history totals",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	s, err := openStores(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open stores", "error", err)
		os.Exit(1)
	}
	defer s.close()

	counts, err := s.retries.CountByStatus(ctx)
	if err != nil {
		slog.Error("Failed to count retry records", "error", err)
		os.Exit(1)
	}
	history, err := s.history.Stats(ctx)
	if err != nil {
		slog.Error("Failed to load history stats", "error", err)
		os.Exit(1)
	}

	writeStatus(os.Stdout, counts, history)
}

func writeStatus(out io.Writer, counts map[domain.RetryStatus]int, history *domain.HistoryStats) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "RETRY STATUS\tRECORDS")
	for _, status := range domain.RetryStatuses {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", status, counts[status])
	}
	_ = w.Flush()
	_, _ = fmt.Fprintln(out)

	names := make([]string, 0, len(history.Categories))
	for name := range history.Categories {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := history.Categories[names[i]], history.Categories[names[j]]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return names[i] < names[j]
	})

	w = tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CATEGORY\tCOUNT\tAVG CONFIDENCE")
	for _, name := range names {
		agg := history.Categories[name]
		_, _ = fmt.Fprintf(w, "%s\t%d\t%.2f\n", name, agg.Count, agg.AvgConfidence)
	}
	_, _ = fmt.Fprintf(w, "TOTAL\t%d\t\n", history.Total)
	_ = w.Flush()
}

package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/optipress/optipress/internal/models"
	"github.com/optipress/optipress/internal/repository"
	"github.com/optipress/optipress/pkg/bytesize"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show conversion statistics and quota usage",
	Long: `Show per-format conversion counts, byte totals, and size
reduction, plus quota usage for the current period.`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringSlice("format", nil, "limit to formats (webp, avif, av1, webm)")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	application, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer application.cleanup()

	var filter repository.StatisticsFilter
	names, _ := cmd.Flags().GetStringSlice("format")
	for _, name := range names {
		format, err := models.ParseFormat(name)
		if err != nil {
			return err
		}
		filter.Formats = append(filter.Formats, format)
	}

	stats, err := application.svc.Statistics(ctx, filter)
	if err != nil {
		return fmt.Errorf("querying statistics: %w", err)
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FORMAT\tCONVERSIONS\tORIGINAL\tCONVERTED\tREDUCTION")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%.1f%%\n",
			s.Format,
			s.Count,
			bytesize.Format(bytesize.Size(s.OriginalSize)),
			bytesize.Format(bytesize.Size(s.ConvertedSize)),
			s.Reduction()*100)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nQuota period %s\n", application.quota.Period())
	for _, media := range []models.MediaType{models.MediaTypeImage, models.MediaTypeVideo} {
		counter, err := application.quota.Usage(ctx, media)
		if err != nil {
			return fmt.Errorf("querying %s quota: %w", media, err)
		}
		if counter.Limit == models.QuotaUnlimited {
			fmt.Fprintf(out, "  %s: %d used (unlimited)\n", media, counter.Used)
			continue
		}
		fmt.Fprintf(out, "  %s: %d of %d used\n", media, counter.Used, counter.Limit)
	}
	return nil
}

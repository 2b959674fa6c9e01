package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"scrapidx/internal/scrap"
)

const dateLayout = "2006-01-02"

// stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show totals and the most recent files",
	RunE: func(cmd *cobra.Command, args []string) error {
		recent, _ := cmd.Flags().GetInt("recent")

		a, err := newApp(cmd.Context(), "Stats")
		if err != nil {
			return err
		}
		defer closeApp(a)

		stats, err := a.Stats(cmd.Context(), recent)
		if err != nil {
			return err
		}

		st := stats.Store
		fmt.Printf("Files:           %s (%s active)\n", humanize.Comma(st.Files), humanize.Comma(st.ActiveFiles))
		fmt.Printf("Total size:      %s\n", formatSize(st.TotalSizeMB))
		fmt.Printf("Records:         %s\n", humanize.Comma(st.Records))
		fmt.Printf("Indexed records: %s\n", humanize.Comma(st.IndexedRecords))
		fmt.Printf("Documents:       %s\n", humanize.Comma(stats.Documents))
		fmt.Printf("Avg per file:    %s\n", humanize.CommafWithDigits(stats.AverageRecords, 1))
		if len(stats.Recent) > 0 {
			fmt.Println("\nRecent files:")
			printAggregates(stats.Recent)
		}
		return nil
	},
}

// search command
var searchCmd = &cobra.Command{
	Use:   "search TEXT",
	Short: "Search indexed credentials by substring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := scrap.SearchQuery{Text: args[0]}
		q.FileID, _ = cmd.Flags().GetInt64("file")
		q.Limit, _ = cmd.Flags().GetInt("limit")

		var err error
		for flag, dst := range map[string]*time.Time{
			"created-after":  &q.CreatedAfter,
			"created-before": &q.CreatedBefore,
			"indexed-after":  &q.IndexedAfter,
			"indexed-before": &q.IndexedBefore,
		} {
			if *dst, err = dateFlag(cmd, flag); err != nil {
				return err
			}
		}

		a, err := newApp(cmd.Context(), "Search")
		if err != nil {
			return err
		}
		defer closeApp(a)

		docs, err := a.Search(cmd.Context(), q)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("No matches.")
			return nil
		}

		t := newTable(os.Stdout, "LINE", "FILE", "SIZE", "INDEXED")
		for _, d := range docs {
			t.Append([]string{d.Line, d.FileKey, formatSize(d.FileSizeMB), formatTime(d.IndexedAt)})
		}
		t.Render()
		fmt.Printf("\n%d match(es)\n", len(docs))
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "GetHistory")
		if err != nil {
			return err
		}
		defer closeApp(a)

		runs, err := a.GetHistory(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		t := newTable(os.Stdout, "ID", "OPERATION", "PARAMETERS", "STARTED", "STATUS", "DURATION")
		for _, r := range runs {
			duration := ""
			if r.FinishedAt != nil {
				duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			t.Append([]string{
				id(r.ID),
				r.Operation,
				r.Parameters,
				humanize.Time(r.StartedAt),
				r.Status,
				duration,
			})
		}
		t.Render()
		return nil
	},
}

// dateFlag parses a YYYY-MM-DD flag in local time. Unset flags give the zero time.
func dateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, v, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return t, nil
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().IntP("recent", "r", 5, "Number of recent files to show")

	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().Int64("file", 0, "Only match lines of this file ID")
	searchCmd.Flags().IntP("limit", "n", 20, "Maximum number of matches")
	searchCmd.Flags().String("created-after", "", "Only files created on or after this date (YYYY-MM-DD)")
	searchCmd.Flags().String("created-before", "", "Only files created before this date (YYYY-MM-DD)")
	searchCmd.Flags().String("indexed-after", "", "Only lines indexed on or after this date (YYYY-MM-DD)")
	searchCmd.Flags().String("indexed-before", "", "Only lines indexed before this date (YYYY-MM-DD)")

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}

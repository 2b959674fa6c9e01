package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"scrapidx/internal/scrap"
)

// newTable returns a borderless, left-aligned table writing to w.
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetBorder(false)
	t.SetColumnSeparator("")
	t.SetHeaderLine(false)
	return t
}

func formatSize(mb float64) string {
	return humanize.Bytes(uint64(mb * 1024 * 1024))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func id(v int64) string {
	return strconv.FormatInt(v, 10)
}

func printAggregates(aggs []*scrap.FileAggregate) {
	t := newTable(os.Stdout, "ID", "KEY", "SIZE", "RECORDS", "STATE", "ACTIVE", "CREATED")
	for _, agg := range aggs {
		active := "yes"
		if !agg.Active {
			active = "no"
		}
		t.Append([]string{
			id(agg.ID),
			agg.SourceKey,
			formatSize(agg.SizeMB),
			humanize.Comma(agg.RecordCount),
			string(agg.State),
			active,
			formatTime(agg.CreatedAt),
		})
	}
	t.Render()
}

func printRun(res *scrap.RunResult, verbose bool) {
	if verbose {
		t := newTable(os.Stdout, "KEY", "ID", "ACTION", "PARSED", "INSERTED", "COUNT", "NOTE")
		for _, r := range res.Results {
			note := ""
			switch {
			case r.Err != nil:
				note = r.Err.Error()
			case r.Mismatch:
				note = "count mismatch"
			}
			t.Append([]string{
				r.Key,
				id(r.AggregateID),
				r.Action.String(),
				humanize.Comma(r.Parsed),
				humanize.Comma(r.Inserted),
				humanize.Comma(r.Count),
				note,
			})
		}
		t.Render()
		fmt.Println()
	}
	fmt.Printf("Objects: %d  ingested: %d  resumed: %d  skipped: %d  failed: %d\n",
		res.Objects, res.Ingested, res.Resumed, res.Skipped, res.Failed)
	fmt.Printf("Records written: %s in %s\n", humanize.Comma(res.Records), res.Elapsed.Truncate(time.Millisecond))
	if res.Mismatches > 0 {
		fmt.Printf("Count mismatches: %d (run reconcile to inspect)\n", res.Mismatches)
	}
}

func printTasks(tasks []*scrap.TaskResult) {
	t := newTable(os.Stdout, "ID", "PROCESSED", "TOTAL", "BATCHES", "FAILED", "ABANDONED", "CREATED", "UPDATED", "STATE", "ELAPSED")
	for _, task := range tasks {
		state := string(task.State)
		if task.Mismatch {
			state += " (mismatch)"
		}
		t.Append([]string{
			id(task.AggregateID),
			humanize.Comma(task.Processed),
			humanize.Comma(task.Total),
			strconv.Itoa(task.Batches),
			strconv.Itoa(task.FailedBatches),
			strconv.Itoa(task.AbandonedBatches),
			humanize.Comma(int64(task.Created)),
			humanize.Comma(int64(task.Updated)),
			state,
			task.Elapsed.Truncate(time.Millisecond).String(),
		})
	}
	t.Render()
}

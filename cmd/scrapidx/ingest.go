package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"scrapidx/internal/scrap"
)

// collect command
var collectCmd = &cobra.Command{
	Use:   "collect [PATH...]",
	Short: "Upload local leak files to the object store",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(cmd.Context(), "Collect", args...)
		if err != nil {
			return err
		}
		defer closeApp(a)

		res, err := a.Collect(cmd.Context(), args, force)
		if err != nil {
			return fmt.Errorf("collect failed: %w", err)
		}

		fmt.Printf("Scanned %d file(s): uploaded %d, skipped %d, ignored %d, failed %d\n",
			res.Scanned, res.Uploaded, res.Skipped, res.Ignored, res.Failed)
		return nil
	},
}

// ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Parse and store every new object in the object store",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		index, _ := cmd.Flags().GetBool("index")
		verbose, _ := cmd.Flags().GetBool("verbose")
		prefixes, _ := cmd.Flags().GetStringSlice("prefix")
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		workers, _ := cmd.Flags().GetInt("workers")

		var params []string
		if force {
			params = append(params, "--force")
		}
		params = append(params, prefixes...)

		a, err := newApp(cmd.Context(), "Ingest", params...)
		if err != nil {
			return err
		}
		defer closeApp(a)

		res, err := a.Ingest(cmd.Context(), scrap.IngestOptions{
			Force:     force,
			Prefixes:  prefixes,
			BatchSize: batchSize,
			Workers:   workers,
			Index:     index,
		})
		if err != nil {
			return fmt.Errorf("ingest failed: %w", err)
		}

		printRun(res, verbose)
		if index {
			var tasks []*scrap.TaskResult
			for _, r := range res.Results {
				if r.Task != nil {
					tasks = append(tasks, r.Task)
				}
			}
			if len(tasks) > 0 {
				fmt.Println()
				printTasks(tasks)
			}
		}
		if res.Failed > 0 {
			return fmt.Errorf("%d object(s) failed", res.Failed)
		}
		return nil
	},
}

// index command
var indexCmd = &cobra.Command{
	Use:   "index [ID]",
	Short: "Push stored records into the search index",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		fromSource, _ := cmd.Flags().GetBool("from-source")
		if all == (len(args) == 1) {
			return errors.New("give either an aggregate ID or --all")
		}
		opts := scrap.IndexOptions{FromSource: fromSource}

		a, err := newApp(cmd.Context(), "Index", args...)
		if err != nil {
			return err
		}
		defer closeApp(a)

		if all {
			tasks, err := a.IndexAll(cmd.Context(), opts)
			if len(tasks) > 0 {
				printTasks(tasks)
			}
			if err != nil {
				return fmt.Errorf("indexing failed: %w", err)
			}
			return nil
		}

		aggID, err := parseID(args[0])
		if err != nil {
			return err
		}
		task, err := a.Index(cmd.Context(), aggID, opts)
		if err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}
		printTasks([]*scrap.TaskResult{task})
		if task.Failed {
			return fmt.Errorf("indexing of %d stopped early: %v", aggID, task.Err)
		}
		return nil
	},
}

// reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Recount the records of every file",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Reconcile")
		if err != nil {
			return err
		}
		defer closeApp(a)

		recs, err := a.Reconcile(cmd.Context())
		if err != nil {
			return fmt.Errorf("reconcile failed: %w", err)
		}

		changed := 0
		t := newTable(os.Stdout, "ID", "PREVIOUS", "COUNTED")
		for _, r := range recs {
			if r.Previous == r.Counted {
				continue
			}
			changed++
			t.Append([]string{id(r.AggregateID), humanize.Comma(r.Previous), humanize.Comma(r.Counted)})
		}
		if changed > 0 {
			t.Render()
			fmt.Println()
		}
		fmt.Printf("Reconciled %d file(s), %d corrected\n", len(recs), changed)
		return nil
	},
}

func parseID(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid aggregate ID: %q", s)
	}
	return v, nil
}

func init() {
	rootCmd.AddCommand(collectCmd)
	collectCmd.Flags().BoolP("force", "f", false, "Upload files even when their content is already known")

	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolP("force", "f", false, "Purge and rewrite files that were already ingested")
	ingestCmd.Flags().Bool("index", false, "Index every file once it is written")
	ingestCmd.Flags().BoolP("verbose", "v", false, "Show one line per object")
	ingestCmd.Flags().StringSliceP("prefix", "p", nil, "Only ingest keys under these prefixes")
	ingestCmd.Flags().Int("batch-size", 0, "Records per insert batch (default from config)")
	ingestCmd.Flags().Int("workers", 0, "Objects ingested concurrently (default from config)")

	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().Bool("all", false, "Index every active file")
	indexCmd.Flags().Bool("from-source", false, "Re-read the raw object instead of the stored records")

	rootCmd.AddCommand(reconcileCmd)
}

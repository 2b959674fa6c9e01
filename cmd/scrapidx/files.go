package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scrapidx/internal/scrap"
)

// files command
var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage ingested files",
}

var filesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested files",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := aggregateFilter(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "ListFiles")
		if err != nil {
			return err
		}
		defer closeApp(a)

		aggs, err := a.ListFiles(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(aggs) == 0 {
			fmt.Println("No files found.")
			return nil
		}
		printAggregates(aggs)
		return nil
	},
}

var filesActivateCmd = &cobra.Command{
	Use:   "activate ID",
	Short: "Include a file in search results and indexing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		aggID, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), "Activate", args...)
		if err != nil {
			return err
		}
		defer closeApp(a)

		if err := a.Activate(cmd.Context(), aggID); err != nil {
			return fmt.Errorf("activating %d: %w", aggID, err)
		}
		fmt.Printf("Activated file %d\n", aggID)
		return nil
	},
}

var filesDeactivateCmd = &cobra.Command{
	Use:   "deactivate ID",
	Short: "Hide a file from search results and indexing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		aggID, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), "Deactivate", args...)
		if err != nil {
			return err
		}
		defer closeApp(a)

		if err := a.Deactivate(cmd.Context(), aggID); err != nil {
			return fmt.Errorf("deactivating %d: %w", aggID, err)
		}
		fmt.Printf("Deactivated file %d\n", aggID)
		return nil
	},
}

var filesDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a file with its records and documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		aggID, err := parseID(args[0])
		if err != nil {
			return err
		}
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			ok, err := confirm(fmt.Sprintf("Delete file %d and all of its records?", aggID))
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("aborted")
			}
		}

		a, err := newApp(cmd.Context(), "Delete", args...)
		if err != nil {
			return err
		}
		defer closeApp(a)

		if err := a.Delete(cmd.Context(), aggID); err != nil {
			return fmt.Errorf("deleting %d: %w", aggID, err)
		}
		fmt.Printf("Deleted file %d\n", aggID)
		return nil
	},
}

// fix-sizes command
var fixSizesCmd = &cobra.Command{
	Use:   "fix-sizes",
	Short: "Correct recorded file sizes from the object store",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		a, err := newApp(cmd.Context(), "FixSizes")
		if err != nil {
			return err
		}
		defer closeApp(a)

		fixes, err := a.FixSizes(cmd.Context(), all)
		if err != nil {
			return fmt.Errorf("fixing sizes: %w", err)
		}
		if len(fixes) == 0 {
			fmt.Println("All sizes are correct.")
			return nil
		}

		t := newTable(os.Stdout, "ID", "KEY", "RECORDED", "ACTUAL")
		for _, f := range fixes {
			t.Append([]string{id(f.AggregateID), f.Key, formatSize(f.Previous), formatSize(f.Current)})
		}
		t.Render()
		fmt.Printf("\nFixed %d file(s)\n", len(fixes))
		return nil
	},
}

// clear command
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every file, record and search document",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			ok, err := confirm("This deletes ALL ingested data. Continue?")
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("aborted")
			}
		}

		a, err := newApp(cmd.Context(), "ClearAll")
		if err != nil {
			return err
		}
		defer closeApp(a)

		if err := a.ClearAll(cmd.Context()); err != nil {
			return fmt.Errorf("clearing data: %w", err)
		}
		fmt.Println("All data cleared.")
		return nil
	},
}

// cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the hash cache",
}

var cacheRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the hash cache from the stored files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "RebuildHashCache")
		if err != nil {
			return err
		}
		defer closeApp(a)

		n, err := a.RebuildHashCache(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Hash cache rebuilt with %d entries\n", n)
		return nil
	},
}

func aggregateFilter(cmd *cobra.Command) (scrap.AggregateFilter, error) {
	var f scrap.AggregateFilter
	f.ActiveOnly, _ = cmd.Flags().GetBool("active")
	f.MinRecords, _ = cmd.Flags().GetInt64("min-records")
	f.MinSizeMB, _ = cmd.Flags().GetFloat64("min-size")
	f.Limit, _ = cmd.Flags().GetInt("limit")
	if f.MinRecords < 0 || f.MinSizeMB < 0 || f.Limit < 0 {
		return f, errors.New("filters must not be negative")
	}
	return f, nil
}

func init() {
	filesCmd.AddCommand(filesListCmd)
	filesListCmd.Flags().Bool("active", false, "Only active files")
	filesListCmd.Flags().Int64("min-records", 0, "Only files with at least this many records")
	filesListCmd.Flags().Float64("min-size", 0, "Only files of at least this many MB")
	filesListCmd.Flags().IntP("limit", "n", 0, "Maximum number of files to show")
	filesCmd.AddCommand(filesActivateCmd)
	filesCmd.AddCommand(filesDeactivateCmd)
	filesCmd.AddCommand(filesDeleteCmd)
	filesDeleteCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(filesCmd)

	rootCmd.AddCommand(fixSizesCmd)
	fixSizesCmd.Flags().Bool("all", false, "Check every file, not only the large ones")

	rootCmd.AddCommand(clearCmd)
	clearCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	cacheCmd.AddCommand(cacheRebuildCmd)
	rootCmd.AddCommand(cacheCmd)
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect bulk-import runs",
	Long:  "Commands for listing runs, viewing one run and listing its staged items.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs for an organization",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		org, _ := cmd.Flags().GetString("org")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := env.Service.ListRuns(ctx, org, model.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		org, _ := cmd.Flags().GetString("org")
		run, err := env.Service.GetRun(ctx, org, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		return printJSON(os.Stdout, run)
	},
}

// -- runs items --

var runsItemsCmd = &cobra.Command{
	Use:   "items <run-id>",
	Short: "List the staged items of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		org, _ := cmd.Flags().GetString("org")
		status, _ := cmd.Flags().GetString("status")
		itemType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		items, err := env.Service.ListItems(ctx, org, args[0], model.ItemFilter{
			Status:   model.ItemStatus(status),
			ItemType: model.ItemType(itemType),
			Limit:    limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs items")
		}
		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "No items found.")
			return nil
		}

		formatItemsList(os.Stdout, items)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{runsListCmd, runsShowCmd, runsItemsCmd} {
		c.Flags().String("org", "", "organization id (required)")
		_ = c.MarkFlagRequired("org")
	}
	runsListCmd.Flags().String("status", "", "filter by run status (uploaded, processing, review_ready, ...)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsItemsCmd.Flags().String("status", "", "filter by item status (pending_review, accepted, ...)")
	runsItemsCmd.Flags().String("type", "", "filter by item type (location, project)")
	runsItemsCmd.Flags().Int("limit", 200, "max number of items to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsItemsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.ImportRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFILE\tSTATUS\tITEMS\tPENDING\tATTEMPTS\tERROR\tCREATED")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID,
			r.SourceFilename,
			r.Status,
			r.TotalItems,
			r.PendingCount,
			r.ProcessingAttempts,
			dash(r.ProcessingError),
			r.CreatedAt.Format(time.DateTime),
		)
	}
	_ = w.Flush()
}

// formatItemsList writes a tabular list of items to w.
func formatItemsList(out io.Writer, items []model.ImportItem) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tREVIEW\tCONF\tDUPES\tNAME")
	for _, it := range items {
		review := ""
		if it.NeedsReview {
			review = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			it.ID,
			it.ItemType,
			it.Status,
			dash(review),
			it.Confidence,
			len(it.DuplicateCandidates),
			dash(itemName(it)),
		)
	}
	_ = w.Flush()
}

func itemName(it model.ImportItem) string {
	data, err := model.PayloadMap(it.NormalizedData)
	if err != nil || len(data) == 0 {
		data = it.ExtractedData
	}
	s, _ := data["name"].(string)
	return s
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

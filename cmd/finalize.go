package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/importer"
)

var finalizeCmd = &cobra.Command{
	Use:   "finalize <run-id>",
	Short: "Materialize the approved items of a reviewed run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		org, _ := cmd.Flags().GetString("org")
		user, _ := cmd.Flags().GetString("user")
		summary, err := env.Service.FinalizeRun(ctx, org, args[0], user)
		if err != nil {
			return eris.Wrap(err, "finalize")
		}
		return printJSON(os.Stdout, summary)
	},
}

var decideCmd = &cobra.Command{
	Use:   "decide <run-id> <item-id>...",
	Short: "Apply one review action to staged items",
	Long:  "Applies accept, reject or reset to the listed items in one transaction. Amendments go through the HTTP API.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		org, _ := cmd.Flags().GetString("org")
		action, _ := cmd.Flags().GetString("action")
		confirm, _ := cmd.Flags().GetBool("confirm-create-new")

		d := importer.BulkDecision{ItemIDs: args[1:], Action: importer.Action(action)}
		if cmd.Flags().Changed("confirm-create-new") {
			d.ConfirmCreateNew = &confirm
		}

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		counters, err := env.Service.BulkUpdateItems(ctx, org, args[0], d)
		if err != nil {
			return eris.Wrap(err, "decide")
		}
		return printJSON(os.Stdout, counters)
	},
}

func init() {
	finalizeCmd.Flags().String("org", "", "organization id (required)")
	finalizeCmd.Flags().String("user", "", "finalizing user id")
	_ = finalizeCmd.MarkFlagRequired("org")

	decideCmd.Flags().String("org", "", "organization id (required)")
	decideCmd.Flags().String("action", "accept", "accept, reject or reset")
	decideCmd.Flags().Bool("confirm-create-new", false, "confirm creating records despite duplicate candidates")
	_ = decideCmd.MarkFlagRequired("org")

	rootCmd.AddCommand(finalizeCmd)
	rootCmd.AddCommand(decideCmd)
}

package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/worker"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Requeue expired leases, fail exhausted runs and purge old artifacts once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate(""); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := worker.NewSweeper(env.Service, cfg.WorkerSettings()).Sweep(ctx)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

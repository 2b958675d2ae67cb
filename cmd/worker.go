package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/worker"
)

var workerOnce bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process uploaded runs and sweep stale ones",
	Long:  "Starts the worker pool and the sweeper. With --once, processes every claimable run and exits.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("worker"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		wcfg := cfg.WorkerSettings()
		if workerOnce {
			n, err := worker.NewPool(env.Service, wcfg).Drain(ctx)
			zap.L().Info("worker: drain complete", zap.Int("processed", n))
			return err
		}
		return worker.Run(ctx, env.Service, wcfg)
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "process claimable runs and exit")
	rootCmd.AddCommand(workerCmd)
}

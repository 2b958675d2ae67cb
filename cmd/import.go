package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/importer"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/worker"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Upload a source file and queue a bulk-import run",
	Long:  "Uploads a .xlsx, .docx or .pdf file against a company or location. With --process, drains the queue so the run is staged before returning.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		org, _ := cmd.Flags().GetString("org")
		user, _ := cmd.Flags().GetString("user")
		companyID, _ := cmd.Flags().GetString("company")
		locationID, _ := cmd.Flags().GetString("location")
		process, _ := cmd.Flags().GetBool("process")

		in, err := importInput(org, user, companyID, locationID, args[0])
		if err != nil {
			return err
		}

		mode := ""
		if process {
			mode = "worker"
		}
		if err := cfg.Validate(mode); err != nil {
			return err
		}

		env, err := initEnv(ctx, process)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Service.CreateRun(ctx, in)
		if err != nil {
			return eris.Wrap(err, "import")
		}
		zap.L().Info("run queued",
			zap.String("run_id", run.ID),
			zap.String("file", run.SourceFilename),
		)

		if process {
			if _, err := worker.NewPool(env.Service, cfg.WorkerSettings()).Drain(ctx); err != nil {
				return err
			}
			if run, err = env.Service.GetRun(ctx, org, run.ID); err != nil {
				return eris.Wrap(err, "import: reload run")
			}
		}
		return printJSON(os.Stdout, run)
	},
}

// importInput reads the file and picks the entrypoint from the flags.
func importInput(org, user, companyID, locationID, path string) (importer.CreateRunInput, error) {
	in := importer.CreateRunInput{OrganizationID: org, UserID: user, Filename: filepath.Base(path)}
	switch {
	case companyID != "" && locationID != "":
		return in, eris.New("use either --company or --location, not both")
	case companyID != "":
		in.EntrypointType, in.EntrypointID = model.EntrypointCompany, companyID
	case locationID != "":
		in.EntrypointType, in.EntrypointID = model.EntrypointLocation, locationID
	default:
		return in, eris.New("one of --company or --location is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return in, eris.Wrapf(err, "read %s", path)
	}
	in.Data = data
	return in, nil
}

func init() {
	importCmd.Flags().String("org", "", "organization id (required)")
	importCmd.Flags().String("user", "", "uploading user id")
	importCmd.Flags().String("company", "", "entrypoint company id")
	importCmd.Flags().String("location", "", "entrypoint location id")
	importCmd.Flags().Bool("process", false, "process queued runs before returning")
	_ = importCmd.MarkFlagRequired("org")
	rootCmd.AddCommand(importCmd)
}

package importer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/extract"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/normalize"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/resilience"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/storage"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/store"
)

// errLeaseLost means another actor moved the run on while this worker held
// it; the worker drops the run without writing.
var errLeaseLost = eris.New("importer: lease lost")

// Process outcomes recorded in metrics.
const (
	OutcomeReviewReady = "review_ready"
	OutcomeNoData      = "no_data"
	OutcomeRequeued    = "requeued"
	OutcomeFailed      = "failed"
	OutcomeLeaseLost   = "lease_lost"
)

// ClaimNextRun leases the oldest eligible uploaded run, or returns nil when
// none is available.
func (s *Service) ClaimNextRun(ctx context.Context) (*model.ImportRun, error) {
	run, err := s.store.ClaimNextRun(ctx, store.ClaimParams{
		Now:         s.clock(),
		MaxAttempts: s.cfg.MaxAttempts,
		Lease:       s.cfg.Lease,
	})
	if err != nil {
		return nil, eris.Wrap(err, "importer: claim next run")
	}
	if run != nil {
		s.metrics.RunClaimed()
		zap.L().Info("importer: run claimed",
			zap.String("run_id", run.ID),
			zap.String("organization_id", run.OrganizationID),
			zap.Int("attempt", run.ProcessingAttempts),
		)
	}
	return run, nil
}

// ProcessRun extracts and stages the items of a claimed run. Pipeline
// failures are recorded on the run, not returned: the error result only
// reports that the outcome itself could not be persisted.
func (s *Service) ProcessRun(ctx context.Context, run *model.ImportRun) error {
	if run == nil || run.Status != model.RunStatusProcessing {
		return conflict(CodeRunNotReady, "run must be processing")
	}
	start := time.Now()
	log := zap.L().With(
		zap.String("run_id", run.ID),
		zap.String("organization_id", run.OrganizationID),
		zap.Int("attempt", run.ProcessingAttempts),
	)

	outcome, err := s.process(ctx, run, log)
	switch {
	case err == nil:
		s.metrics.RunProcessed(outcome, time.Since(start))
		log.Info("importer: run processed", zap.String("outcome", outcome))
		return nil
	case errors.Is(err, errLeaseLost):
		s.metrics.RunProcessed(OutcomeLeaseLost, time.Since(start))
		log.Warn("importer: lease lost, dropping run")
		return nil
	case ctx.Err() != nil:
		// Shutting down; the lease will expire and the sweeper requeues.
		return ctx.Err()
	}

	outcome, ferr := s.recordFailure(ctx, run, err)
	if ferr != nil {
		return eris.Wrapf(ferr, "importer: record failure for run %s", run.ID)
	}
	s.metrics.RunProcessed(outcome, time.Since(start))
	log.Warn("importer: run processing failed",
		zap.String("outcome", outcome),
		zap.String("error_code", ErrorCode(err)),
		zap.Error(err),
	)
	return nil
}

func (s *Service) process(ctx context.Context, run *model.ImportRun, log *zap.Logger) (string, error) {
	if err := s.checkpoint(ctx, run, model.StepReadingFile); err != nil {
		return "", err
	}
	data, err := s.download(ctx, run.SourceFilePath)
	if err != nil {
		return "", err
	}
	if ext := strings.ToLower(filepath.Ext(run.SourceFilename)); !extract.SupportedExtension(ext) {
		code := extract.CodeUnsupportedFileType
		if ext == ".xls" {
			code = extract.CodeLegacyXLS
		}
		return "", &extract.Error{Code: code}
	}

	if err := s.checkpoint(ctx, run, model.StepIdentifyingLocations); err != nil {
		return "", err
	}
	callStart := time.Now()
	res, err := s.extractor.Extract(ctx, data, run.SourceFilename,
		extract.OnStep(func(ctx context.Context, step model.ProgressStep) error {
			return s.checkpoint(ctx, run, step)
		}),
	)
	route := strings.TrimPrefix(strings.ToLower(filepath.Ext(run.SourceFilename)), ".")
	if err != nil {
		s.metrics.AgentCall(route, ErrorCode(err), time.Since(callStart))
		return "", err
	}
	s.metrics.AgentCall(res.Diagnostics.Route, "ok", time.Since(callStart))
	log.Info("importer: extraction finished",
		zap.String("route", res.Diagnostics.Route),
		zap.Int("rows", len(res.Rows)),
		zap.Int("char_count", res.Diagnostics.CharCount),
		zap.Bool("truncated", res.Diagnostics.Truncated),
	)

	// Linking streams to sites and matching duplicates happens under categorizing.
	if err := s.checkpoint(ctx, run, model.StepCategorizing); err != nil {
		return "", err
	}

	var outcome string
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		cur, err := s.lockOwned(ctx, tx, run)
		if err != nil {
			return err
		}
		items, err := s.buildItems(ctx, tx, cur, res)
		if err != nil {
			return err
		}
		if len(items) > s.cfg.MaxItems {
			return invalid(CodeMaxItems, "%d items exceed the limit of %d", len(items), s.cfg.MaxItems)
		}
		if _, err := tx.DeleteRunItems(ctx, cur.OrganizationID, cur.ID); err != nil {
			return err
		}
		if err := tx.InsertItems(ctx, items); err != nil {
			return err
		}
		now := s.clock()
		counters, err := tx.RefreshRunCounters(ctx, cur.OrganizationID, cur.ID, now)
		if err != nil {
			return err
		}

		cur.RunCounters = counters
		cur.Status = model.RunStatusReviewReady
		outcome = OutcomeReviewReady
		if len(items) == 0 {
			cur.Status = model.RunStatusNoData
			outcome = OutcomeNoData
		}
		cur.ProgressStep = ""
		cur.ProcessingError = ""
		cur.ProcessingStartedAt = nil
		cur.ProcessingAvailableAt = nil
		cur.UpdatedAt = now
		if err := tx.UpdateRun(ctx, cur); err != nil {
			return err
		}
		*run = *cur
		return nil
	})
	return outcome, err
}

// checkpoint durably records the phase the run is entering.
func (s *Service) checkpoint(ctx context.Context, run *model.ImportRun, step model.ProgressStep) error {
	return s.store.InTx(ctx, func(tx store.Tx) error {
		cur, err := s.lockOwned(ctx, tx, run)
		if err != nil {
			return err
		}
		cur.ProgressStep = step
		cur.UpdatedAt = s.clock()
		if err := tx.UpdateRun(ctx, cur); err != nil {
			return err
		}
		*run = *cur
		return nil
	})
}

// lockOwned locks the run and checks that it is still the processing
// attempt this worker claimed.
func (s *Service) lockOwned(ctx context.Context, tx store.Tx, run *model.ImportRun) (*model.ImportRun, error) {
	cur, err := tx.LockRun(ctx, run.OrganizationID, run.ID)
	if err != nil {
		return nil, err
	}
	if cur == nil || cur.Status != model.RunStatusProcessing || cur.ProcessingAttempts != run.ProcessingAttempts {
		return nil, errLeaseLost
	}
	return cur, nil
}

func (s *Service) download(ctx context.Context, key string) ([]byte, error) {
	data, err := resilience.DoVal(ctx, s.cfg.Retry, func(ctx context.Context) ([]byte, error) {
		return s.storage.Download(ctx, key, s.cfg.MaxFileBytes)
	})
	var tooLarge *storage.TooLargeError
	switch {
	case errors.As(err, &tooLarge):
		return nil, &extract.Error{Code: extract.CodeMaxFileSize, Err: err}
	case err != nil:
		return nil, eris.Wrap(err, "importer: download source file")
	case len(data) == 0:
		return nil, &extract.Error{Code: extract.CodeEmptyFile}
	}
	return data, nil
}

// recordFailure requeues the run with backoff or fails it for good.
func (s *Service) recordFailure(ctx context.Context, run *model.ImportRun, cause error) (string, error) {
	code := normalize.Truncate(ErrorCode(cause), store.MaxErrorLen)
	permanent := IsPermanent(cause)

	var outcome string
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		cur, err := s.lockOwned(ctx, tx, run)
		if err != nil {
			return err
		}
		now := s.clock()
		cur.ProcessingError = code
		cur.ProgressStep = ""
		cur.ProcessingStartedAt = nil
		cur.UpdatedAt = now
		if permanent || cur.ProcessingAttempts >= s.cfg.MaxAttempts {
			cur.Status = model.RunStatusFailed
			cur.ProcessingAvailableAt = nil
			outcome = OutcomeFailed
		} else {
			next := now.Add(s.cfg.Backoff.Delay(cur.ID, cur.ProcessingAttempts))
			cur.Status = model.RunStatusUploaded
			cur.ProcessingAvailableAt = &next
			outcome = OutcomeRequeued
		}
		if err := tx.UpdateRun(ctx, cur); err != nil {
			return err
		}
		*run = *cur
		return nil
	})
	if errors.Is(err, errLeaseLost) {
		return OutcomeLeaseLost, nil
	}
	return outcome, err
}

package importer

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/store"
)

// RequeueStaleRuns returns processing runs whose lease expired to the queue.
func (s *Service) RequeueStaleRuns(ctx context.Context, limit int) (int, error) {
	n, err := s.store.RequeueStaleRuns(ctx, s.clock(), s.cfg.MaxAttempts, limit, CodeLeaseExpired)
	if err != nil {
		return 0, eris.Wrap(err, "importer: requeue stale runs")
	}
	s.metrics.RunsSwept("requeued", n)
	if n > 0 {
		zap.L().Info("importer: requeued stale runs", zap.Int("count", n))
	}
	return n, nil
}

// FailExhaustedRuns fails queued or expired runs that have used every attempt.
func (s *Service) FailExhaustedRuns(ctx context.Context, limit int) (int, error) {
	n, err := s.store.FailExhaustedRuns(ctx, s.clock(), s.cfg.MaxAttempts, limit, CodeMaxAttempts)
	if err != nil {
		return 0, eris.Wrap(err, "importer: fail exhausted runs")
	}
	s.metrics.RunsSwept("failed", n)
	if n > 0 {
		zap.L().Warn("importer: failed exhausted runs", zap.Int("count", n))
	}
	return n, nil
}

// PurgeResult reports one purge sweep.
type PurgeResult struct {
	Purged  int `json:"purged"`
	Skipped int `json:"skipped"`
}

// PurgeExpiredArtifacts deletes the source files of runs past the retention
// window and scrubs their item payloads. A run whose file cannot be deleted
// is left untouched for the next sweep.
func (s *Service) PurgeExpiredArtifacts(ctx context.Context, limit int) (PurgeResult, error) {
	var res PurgeResult
	now := s.clock()
	runs, err := s.store.ListPurgeCandidates(ctx, now.Add(-s.cfg.Retention), limit)
	if err != nil {
		return res, eris.Wrap(err, "importer: list purge candidates")
	}

	for i := range runs {
		run := &runs[i]
		log := zap.L().With(zap.String("run_id", run.ID), zap.String("organization_id", run.OrganizationID))

		if run.SourceFilePath != "" {
			if err := s.storage.Delete(ctx, run.SourceFilePath); err != nil {
				res.Skipped++
				s.metrics.Purged("storage_error")
				log.Warn("importer: purge skipped, storage delete failed", zap.Error(err))
				continue
			}
		}
		err := s.store.InTx(ctx, func(tx store.Tx) error {
			return tx.ScrubRunArtifacts(ctx, run.ID, now)
		})
		switch {
		case errors.Is(err, store.ErrNotFound):
			// Purged concurrently.
			res.Skipped++
		case err != nil:
			return res, eris.Wrapf(err, "importer: scrub run %s", run.ID)
		default:
			res.Purged++
			s.metrics.Purged("ok")
			log.Info("importer: run artifacts purged")
		}
	}
	return res, nil
}

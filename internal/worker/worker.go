// Package worker runs the background side of bulk import: a pool of
// goroutines that claim and process uploaded runs, and a sweeper that
// requeues expired leases, fails exhausted runs and purges old artifacts.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/importer"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
)

// Importer is the slice of the importer service the worker drives.
type Importer interface {
	ClaimNextRun(ctx context.Context) (*model.ImportRun, error)
	ProcessRun(ctx context.Context, run *model.ImportRun) error
	RequeueStaleRuns(ctx context.Context, limit int) (int, error)
	FailExhaustedRuns(ctx context.Context, limit int) (int, error)
	PurgeExpiredArtifacts(ctx context.Context, limit int) (importer.PurgeResult, error)
}

// Config sizes the pool and paces both loops.
type Config struct {
	Concurrency   int
	PollInterval  time.Duration
	SweepInterval time.Duration
	SweepLimit    int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.SweepLimit <= 0 {
		c.SweepLimit = 100
	}
	return c
}

// Pool claims and processes runs with a fixed number of goroutines.
type Pool struct {
	svc Importer
	cfg Config
}

// NewPool creates a Pool.
func NewPool(svc Importer, cfg Config) *Pool {
	return &Pool{svc: svc, cfg: cfg.withDefaults()}
}

// Run starts the workers and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	zap.L().Info("worker: pool starting",
		zap.Int("concurrency", p.cfg.Concurrency),
		zap.Duration("poll_interval", p.cfg.PollInterval),
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		id := i
		g.Go(func() error {
			p.loop(gctx, id)
			return nil
		})
	}
	err := g.Wait()
	zap.L().Info("worker: pool stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, id int) {
	log := zap.L().With(zap.String("component", "worker.pool"), zap.Int("worker", id))
	for ctx.Err() == nil {
		worked, err := p.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error("worker: iteration failed", zap.Error(err))
		}
		if worked && err == nil {
			continue
		}
		sleep(ctx, p.cfg.PollInterval)
	}
}

// RunOnce claims at most one run and processes it. It reports whether a
// run was claimed.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	run, err := p.svc.ClaimNextRun(ctx)
	if err != nil {
		return false, eris.Wrap(err, "worker: claim")
	}
	if run == nil {
		return false, nil
	}
	if err := p.svc.ProcessRun(ctx, run); err != nil {
		return true, eris.Wrapf(err, "worker: process run %s", run.ID)
	}
	return true, nil
}

// Drain processes runs until none is claimable or ctx ends, returning how
// many were handled.
func (p *Pool) Drain(ctx context.Context) (int, error) {
	n := 0
	for ctx.Err() == nil {
		worked, err := p.RunOnce(ctx)
		if err != nil {
			return n, err
		}
		if !worked {
			return n, nil
		}
		n++
	}
	return n, ctx.Err()
}

// SweepResult reports one sweeper pass.
type SweepResult struct {
	Requeued int                  `json:"requeued"`
	Failed   int                  `json:"failed"`
	Purge    importer.PurgeResult `json:"purge"`
}

// Sweeper runs the periodic maintenance passes.
type Sweeper struct {
	svc Importer
	cfg Config
}

// NewSweeper creates a Sweeper.
func NewSweeper(svc Importer, cfg Config) *Sweeper {
	return &Sweeper{svc: svc, cfg: cfg.withDefaults()}
}

// Run sweeps once immediately and then on every interval until ctx is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "worker.sweeper"))
	log.Info("starting sweeper",
		zap.Duration("interval", s.cfg.SweepInterval),
		zap.Int("limit", s.cfg.SweepLimit),
	)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			log.Error("worker: sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			log.Info("sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs requeue, fail and purge once. Each step runs even when an
// earlier one failed; the errors are joined.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var (
		res  SweepResult
		errs []error
		err  error
	)
	if res.Requeued, err = s.svc.RequeueStaleRuns(ctx, s.cfg.SweepLimit); err != nil {
		errs = append(errs, err)
	}
	if res.Failed, err = s.svc.FailExhaustedRuns(ctx, s.cfg.SweepLimit); err != nil {
		errs = append(errs, err)
	}
	if res.Purge, err = s.svc.PurgeExpiredArtifacts(ctx, s.cfg.SweepLimit); err != nil {
		errs = append(errs, err)
	}
	if res != (SweepResult{}) {
		zap.L().Info("worker: sweep complete",
			zap.Int("requeued", res.Requeued),
			zap.Int("failed", res.Failed),
			zap.Int("purged", res.Purge.Purged),
			zap.Int("purge_skipped", res.Purge.Skipped),
		)
	}
	return res, errors.Join(errs...)
}

// Run starts the pool and the sweeper and blocks until ctx is cancelled.
func Run(ctx context.Context, svc Importer, cfg Config) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		NewSweeper(svc, cfg).Run(gctx)
		return nil
	})
	g.Go(func() error {
		return NewPool(svc, cfg).Run(gctx)
	})
	return g.Wait()
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

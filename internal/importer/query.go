package importer

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
)

// GetRun returns a run owned by orgID.
func (s *Service) GetRun(ctx context.Context, orgID, runID string) (*model.ImportRun, error) {
	run, err := s.store.GetRun(ctx, orgID, runID)
	if err != nil {
		return nil, eris.Wrap(err, "importer: get run")
	}
	if run == nil {
		return nil, notFound("run")
	}
	return run, nil
}

// GetItem returns one item of a run owned by orgID.
func (s *Service) GetItem(ctx context.Context, orgID, runID, itemID string) (*model.ImportItem, error) {
	it, err := s.store.GetItem(ctx, orgID, runID, itemID)
	if err != nil {
		return nil, eris.Wrap(err, "importer: get item")
	}
	if it == nil {
		return nil, notFound("item")
	}
	return it, nil
}

// ListItems returns the items of a run in staging order.
func (s *Service) ListItems(ctx context.Context, orgID, runID string, filter model.ItemFilter) ([]model.ImportItem, error) {
	if _, err := s.GetRun(ctx, orgID, runID); err != nil {
		return nil, err
	}
	items, err := s.store.ListItems(ctx, orgID, runID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "importer: list items")
	}
	return items, nil
}

// ListRuns returns the runs of orgID, newest first.
func (s *Service) ListRuns(ctx context.Context, orgID string, filter model.RunFilter) ([]model.ImportRun, error) {
	runs, err := s.store.ListRuns(ctx, orgID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "importer: list runs")
	}
	return runs, nil
}

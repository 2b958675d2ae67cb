package importer

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/dedupe"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/store"
)

// FinalizeRun materializes the approved items of a review_ready run into
// live locations and projects. Finalizing a completed run returns its stored
// summary without writing. Any failure after the run is marked finalizing
// leaves no created rows and returns the run to review_ready. A finalizing
// mark older than the finalize lease belongs to a finalize that died, and the
// call takes the run over.
func (s *Service) FinalizeRun(ctx context.Context, orgID, runID, userID string) (*model.FinalizeSummary, error) {
	log := zap.L().With(zap.String("run_id", runID), zap.String("organization_id", orgID))

	var done *model.FinalizeSummary
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		run, err := tx.LockRun(ctx, orgID, runID)
		if err != nil {
			return eris.Wrap(err, "importer: lock run")
		}
		if run == nil {
			return notFound("run")
		}
		switch run.Status {
		case model.RunStatusCompleted:
			done = run.Summary
			if done == nil {
				done = &model.FinalizeSummary{RunID: run.ID}
			}
			return nil
		case model.RunStatusFinalizing:
			if !s.finalizeStale(run) {
				return conflict(CodeFinalizeInProgress, "run is already finalizing")
			}
			log.Warn("importer: taking over stale finalize", zap.Time("marked_at", run.UpdatedAt))
		case model.RunStatusReviewReady:
		default:
			return conflict(CodeRunNotReady, "run cannot be finalized in status %s", run.Status)
		}

		items, err := tx.ListItems(ctx, orgID, runID, model.ItemFilter{})
		if err != nil {
			return err
		}
		if err := assertFinalizeReady(run, items); err != nil {
			return err
		}
		run.Status = model.RunStatusFinalizing
		run.UpdatedAt = s.clock()
		return tx.UpdateRun(ctx, run)
	})
	if err != nil {
		s.metrics.Finalized(finalizeResult(err))
		return nil, err
	}
	if done != nil {
		s.metrics.Finalized("replayed")
		return done, nil
	}

	var (
		summary    *model.FinalizeSummary
		sourcePath string
	)
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		summary, sourcePath, err = s.materialize(ctx, tx, orgID, runID, userID)
		return err
	})
	if err != nil {
		if rerr := s.restoreReviewReady(ctx, orgID, runID); rerr != nil {
			log.Error("importer: could not restore run after failed finalize", zap.Error(rerr))
		}
		s.metrics.Finalized(finalizeResult(err))
		log.Warn("importer: finalize aborted", zap.Error(err))
		return nil, err
	}

	if sourcePath != "" {
		if err := s.storage.Delete(ctx, sourcePath); err != nil {
			log.Warn("importer: source file not deleted after finalize", zap.String("key", sourcePath), zap.Error(err))
		}
	}
	s.metrics.Finalized("completed")
	log.Info("importer: run finalized",
		zap.Int("locations_created", summary.LocationsCreated),
		zap.Int("projects_created", summary.ProjectsCreated),
		zap.Int("rejected", summary.Rejected),
		zap.Int("invalid", summary.Invalid),
		zap.Int("duplicates_resolved", summary.DuplicatesResolved),
	)
	return summary, nil
}

func (s *Service) finalizeStale(run *model.ImportRun) bool {
	return s.cfg.FinalizeLease > 0 && !run.UpdatedAt.After(s.clock().Add(-s.cfg.FinalizeLease))
}

func finalizeResult(err error) string {
	switch {
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// assertFinalizeReady checks review completeness and structural integrity
// before anything is written.
func assertFinalizeReady(run *model.ImportRun, items []model.ImportItem) error {
	byID := make(map[string]*model.ImportItem, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
	}
	for i := range items {
		it := &items[i]
		if it.Status == model.ItemStatusPendingReview {
			return conflict(CodeItemsPending, "item %s is still pending review", it.ID)
		}
		if !it.Status.IsApproved() {
			continue
		}
		if !it.DuplicateConfirmed() {
			return conflict(CodeDuplicateUnconfirmed, "item %s has unconfirmed duplicate candidates", it.ID)
		}
		if it.NeedsReview {
			return conflict(CodeItemNeedsReview, "item %s still needs review", it.ID)
		}
		if it.ItemType == model.ItemTypeLocation && run.EntrypointType == model.EntrypointLocation {
			return conflict(CodeLocationItemForbidden, "item %s: location items are not allowed under a location entrypoint", it.ID)
		}
		if it.ItemType == model.ItemTypeProject && it.ParentItemID != "" {
			parent := byID[it.ParentItemID]
			if parent == nil || parent.ItemType != model.ItemTypeLocation || !parent.Status.IsApproved() {
				return conflict(CodeParentNotApproved, "item %s: parent location is not approved", it.ID)
			}
		}
	}
	return nil
}

// materialize runs inside the finalize transaction.
func (s *Service) materialize(ctx context.Context, tx store.Tx, orgID, runID, userID string) (*model.FinalizeSummary, string, error) {
	run, err := tx.LockRun(ctx, orgID, runID)
	if err != nil {
		return nil, "", eris.Wrap(err, "importer: lock run")
	}
	if run == nil {
		return nil, "", notFound("run")
	}
	if run.Status != model.RunStatusFinalizing {
		return nil, "", conflict(CodeRunNotReady, "run left finalizing state")
	}
	items, err := tx.ListItems(ctx, orgID, runID, model.ItemFilter{})
	if err != nil {
		return nil, "", err
	}
	tgt, err := s.resolveTarget(ctx, tx, run)
	if err != nil {
		var ie *Error
		if errors.As(err, &ie) {
			return nil, "", conflict(ie.Code, "%s", ie.Msg)
		}
		return nil, "", err
	}

	locIx, err := dedupe.LoadLocations(ctx, tx, orgID, tgt.companyID)
	if err != nil {
		return nil, "", err
	}
	if err := s.assertNoNewLiveDuplicates(ctx, tx, run, tgt, locIx, items); err != nil {
		return nil, "", err
	}

	now := s.clock()
	summary := &model.FinalizeSummary{RunID: run.ID}
	created := map[string]string{}

	for i := range items {
		it := &items[i]
		switch it.Status {
		case model.ItemStatusRejected:
			summary.Rejected++
		case model.ItemStatusInvalid:
			summary.Invalid++
		}
		if !it.Status.IsApproved() {
			continue
		}
		if it.HasDuplicates() && it.ConfirmCreateNew {
			summary.DuplicatesResolved++
		}
		if it.ItemType != model.ItemTypeLocation {
			continue
		}
		payload, err := it.Location()
		if err != nil {
			return nil, "", err
		}
		loc := &model.Location{
			ID:              s.newID(),
			OrganizationID:  orgID,
			CompanyID:       tgt.companyID,
			Name:            payload.Name,
			City:            payload.City,
			State:           payload.State,
			Address:         payload.Address,
			CreatedByUserID: userID,
			CreatedAt:       now,
		}
		if err := tx.InsertLocation(ctx, loc); err != nil {
			return nil, "", err
		}
		created[it.ID] = loc.ID
		it.CreatedLocationID = loc.ID
		it.UpdatedAt = now
		if err := tx.UpdateItem(ctx, it); err != nil {
			return nil, "", err
		}
		summary.LocationsCreated++
	}

	for i := range items {
		it := &items[i]
		if it.ItemType != model.ItemTypeProject || !it.Status.IsApproved() {
			continue
		}
		locID, companyID, err := s.projectLocation(it, tgt, locIx, created)
		if err != nil {
			return nil, "", err
		}
		payload, err := it.Project()
		if err != nil {
			return nil, "", err
		}
		data, err := s.questionnaire.Template(ctx)
		if err != nil {
			return nil, "", eris.Wrap(err, "importer: questionnaire template")
		}
		if payload.Category != "" {
			data["bulk_import_category"] = payload.Category
		}
		p := &model.Project{
			ID:              s.newID(),
			OrganizationID:  orgID,
			LocationID:      locID,
			CompanyID:       companyID,
			Name:            payload.Name,
			Category:        payload.Category,
			ProjectType:     payload.ProjectType,
			Description:     payload.Description,
			Sector:          payload.Sector,
			Subsector:       payload.Subsector,
			EstimatedVolume: payload.EstimatedVolume,
			ProjectData:     data,
			CreatedByUserID: userID,
			CreatedAt:       now,
		}
		if err := tx.InsertProject(ctx, p); err != nil {
			return nil, "", err
		}
		it.CreatedProjectID = p.ID
		it.UpdatedAt = now
		if err := tx.UpdateItem(ctx, it); err != nil {
			return nil, "", err
		}
		summary.ProjectsCreated++
	}

	run.Status = model.RunStatusCompleted
	run.Summary = summary
	run.FinalizedByUserID = userID
	run.FinalizedAt = &now
	run.UpdatedAt = now
	if err := tx.UpdateRun(ctx, run); err != nil {
		return nil, "", err
	}
	return summary, run.SourceFilePath, nil
}

// projectLocation resolves where an approved project item is created: its
// parent's new location, the entrypoint location, or the live location its
// site fields name under the entrypoint company.
func (s *Service) projectLocation(it *model.ImportItem, tgt target, locIx *dedupe.LocationIndex, created map[string]string) (string, string, error) {
	switch {
	case it.ParentItemID != "":
		id, ok := created[it.ParentItemID]
		if !ok {
			return "", "", conflict(CodeParentNotApproved, "item %s: parent location was not created", it.ID)
		}
		return id, tgt.companyID, nil
	case tgt.location != nil:
		return tgt.location.ID, tgt.location.CompanyID, nil
	}
	p, err := it.Project()
	if err != nil {
		return "", "", err
	}
	name, city, state := p.SiteName, p.SiteCity, p.SiteState
	if live := locIx.Lookup(name, city, state); live != nil {
		return live.ID, live.CompanyID, nil
	}
	// A bare reference resolves only when exactly one live location has that name.
	if city == "" && state == "" {
		if m := locIx.Match(model.LocationNormalized{Name: name}); len(m) == 1 {
			return m[0].ID, tgt.companyID, nil
		}
	}
	return "", "", conflict(CodeLocationUnresolved, "item %s: no live location matches its site", it.ID)
}

// assertNoNewLiveDuplicates re-runs the matcher for approved items that were
// not explicitly confirmed, catching live rows created since review.
func (s *Service) assertNoNewLiveDuplicates(ctx context.Context, tx store.Tx, run *model.ImportRun, tgt target, locIx *dedupe.LocationIndex, items []model.ImportItem) error {
	liveIDs := map[string][]string{}
	var scope []string
	if tgt.location != nil {
		scope = append(scope, tgt.location.ID)
	}

	for i := range items {
		it := &items[i]
		if it.ItemType != model.ItemTypeLocation || !it.Status.IsApproved() {
			continue
		}
		payload, err := it.Location()
		if err != nil {
			return err
		}
		matches := locIx.Match(payload)
		if len(matches) > 0 && !it.ConfirmCreateNew {
			return conflict(CodeNewLiveDuplicate, "location item %s now collides with live location %s", it.ID, matches[0].ID)
		}
		for _, m := range matches {
			liveIDs[it.ID] = append(liveIDs[it.ID], m.ID)
			scope = append(scope, m.ID)
		}
	}

	orphans := map[string]string{}
	for i := range items {
		it := &items[i]
		if it.ItemType != model.ItemTypeProject || !it.Status.IsApproved() || it.ConfirmCreateNew ||
			it.ParentItemID != "" || tgt.location != nil {
			continue
		}
		if locID, _, err := s.projectLocation(it, tgt, locIx, nil); err == nil {
			orphans[it.ID] = locID
			scope = append(scope, locID)
		}
	}

	projIx, err := dedupe.PrefetchProjects(ctx, tx, run.OrganizationID, scope)
	if err != nil {
		return err
	}
	for i := range items {
		it := &items[i]
		if it.ItemType != model.ItemTypeProject || !it.Status.IsApproved() || it.ConfirmCreateNew {
			continue
		}
		var ids []string
		switch {
		case tgt.location != nil:
			ids = []string{tgt.location.ID}
		case it.ParentItemID != "":
			ids = liveIDs[it.ParentItemID]
		case orphans[it.ID] != "":
			ids = []string{orphans[it.ID]}
		}
		payload, err := it.Project()
		if err != nil {
			return err
		}
		if matches := projIx.Match(payload.Name, ids...); len(matches) > 0 {
			return conflict(CodeNewLiveDuplicate, "project item %s now collides with live project %s", it.ID, matches[0].ID)
		}
	}
	return nil
}

func (s *Service) restoreReviewReady(ctx context.Context, orgID, runID string) error {
	ctx = context.WithoutCancel(ctx)
	return s.store.InTx(ctx, func(tx store.Tx) error {
		run, err := tx.LockRun(ctx, orgID, runID)
		if err != nil || run == nil || run.Status != model.RunStatusFinalizing {
			return err
		}
		run.Status = model.RunStatusReviewReady
		run.UpdatedAt = s.clock()
		return tx.UpdateRun(ctx, run)
	})
}

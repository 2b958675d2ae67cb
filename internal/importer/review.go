package importer

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/normalize"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/store"
)

// Action is a reviewer decision on a staged item.
type Action string

const (
	ActionAccept Action = "accept"
	ActionAmend  Action = "amend"
	ActionReject Action = "reject"
	ActionReset  Action = "reset"
)

// Decision is one reviewer request against an item.
type Decision struct {
	Action           Action         `json:"action"`
	NormalizedData   map[string]any `json:"normalized_data,omitempty"`
	ReviewNotes      *string        `json:"review_notes,omitempty"`
	ConfirmCreateNew *bool          `json:"confirm_create_new,omitempty"`
}

// UpdateItemDecision applies d to one item and refreshes the run counters
// in the same transaction.
func (s *Service) UpdateItemDecision(ctx context.Context, orgID, runID, itemID string, d Decision) (*model.ImportItem, error) {
	var out *model.ImportItem
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		run, err := s.lockEditableRun(ctx, tx, orgID, runID)
		if err != nil {
			return err
		}
		it, err := tx.LockItem(ctx, orgID, runID, itemID)
		if err != nil {
			return eris.Wrap(err, "importer: lock item")
		}
		if it == nil {
			return notFound("item")
		}
		if err := s.applyDecision(ctx, tx, run, it, d); err != nil {
			return err
		}
		if _, err := tx.RefreshRunCounters(ctx, orgID, runID, s.clock()); err != nil {
			return err
		}
		out = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ItemDecision(string(d.Action), 1)
	return out, nil
}

// BulkDecision applies one action to many items.
type BulkDecision struct {
	ItemIDs          []string `json:"item_ids"`
	Action           Action   `json:"action"`
	ReviewNotes      *string  `json:"review_notes,omitempty"`
	ConfirmCreateNew *bool    `json:"confirm_create_new,omitempty"`
}

// BulkUpdateItems applies d to every listed item in one transaction. Any
// rejected item aborts the whole batch.
func (s *Service) BulkUpdateItems(ctx context.Context, orgID, runID string, d BulkDecision) (model.RunCounters, error) {
	if len(d.ItemIDs) == 0 {
		return model.RunCounters{}, invalid("invalid_input", "item_ids is required")
	}
	if d.Action == ActionAmend {
		return model.RunCounters{}, invalid(CodeInvalidAction, "amend applies to one item at a time")
	}
	var counters model.RunCounters
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		run, err := s.lockEditableRun(ctx, tx, orgID, runID)
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(d.ItemIDs))
		for _, id := range d.ItemIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			it, err := tx.LockItem(ctx, orgID, runID, id)
			if err != nil {
				return eris.Wrap(err, "importer: lock item")
			}
			if it == nil {
				return notFound("item " + id)
			}
			if err := s.applyDecision(ctx, tx, run, it, Decision{
				Action:           d.Action,
				ReviewNotes:      d.ReviewNotes,
				ConfirmCreateNew: d.ConfirmCreateNew,
			}); err != nil {
				return err
			}
		}
		counters, err = tx.RefreshRunCounters(ctx, orgID, runID, s.clock())
		return err
	})
	if err != nil {
		return model.RunCounters{}, err
	}
	s.metrics.ItemDecision(string(d.Action), len(d.ItemIDs))
	zap.L().Info("importer: bulk decision applied",
		zap.String("run_id", runID),
		zap.String("organization_id", orgID),
		zap.String("action", string(d.Action)),
		zap.Int("items", len(d.ItemIDs)),
	)
	return counters, nil
}

// RefreshRunCounters recomputes a run's aggregate counts.
func (s *Service) RefreshRunCounters(ctx context.Context, orgID, runID string) (model.RunCounters, error) {
	c, err := s.store.RefreshRunCounters(ctx, orgID, runID, s.clock())
	if errors.Is(err, store.ErrNotFound) {
		return c, notFound("run")
	}
	return c, err
}

func (s *Service) lockEditableRun(ctx context.Context, tx store.Tx, orgID, runID string) (*model.ImportRun, error) {
	run, err := tx.LockRun(ctx, orgID, runID)
	if err != nil {
		return nil, eris.Wrap(err, "importer: lock run")
	}
	if run == nil {
		return nil, notFound("run")
	}
	if run.Status != model.RunStatusReviewReady {
		return nil, conflict(CodeRunNotEditable, "run is not editable in status %s", run.Status)
	}
	return run, nil
}

// applyDecision mutates and persists it. The duplicate gate runs before any
// approval so an unconfirmed duplicate can never become accepted or amended.
func (s *Service) applyDecision(ctx context.Context, tx store.Tx, run *model.ImportRun, it *model.ImportItem, d Decision) error {
	if it.Status == model.ItemStatusInvalid {
		return conflict(CodeItemInvalid, "item %s is invalid", it.ID)
	}
	if d.ReviewNotes != nil {
		it.ReviewNotes = *d.ReviewNotes
	}
	if d.ConfirmCreateNew != nil {
		it.ConfirmCreateNew = *d.ConfirmCreateNew
	}

	switch d.Action {
	case ActionAccept:
		if !it.DuplicateConfirmed() {
			return conflict(CodeDuplicateUnconfirmed, "item %s has duplicate candidates", it.ID)
		}
		it.Status = model.ItemStatusAccepted
		it.NeedsReview = !model.PayloadComplete(it.ItemType, it.NormalizedData)

	case ActionAmend:
		if len(d.NormalizedData) == 0 {
			return invalid(CodeNormalizedDataRequired, "amend requires normalized_data")
		}
		if !it.DuplicateConfirmed() {
			return conflict(CodeDuplicateUnconfirmed, "item %s has duplicate candidates", it.ID)
		}
		patch := normalize.SanitizePatch(it.ItemType, d.NormalizedData)
		base, err := model.PayloadMap(it.NormalizedData)
		if err != nil {
			return err
		}
		raw, err := model.DecodeNormalized(it.ItemType, normalize.ShallowMerge(base, patch))
		if err != nil {
			if errors.Is(err, model.ErrInvalidPayload) {
				return invalid(CodeInvalidPayload, "%s", err.Error())
			}
			return err
		}
		it.NormalizedData = raw
		it.UserAmendments = patch
		it.Status = model.ItemStatusAmended
		it.NeedsReview = !model.PayloadComplete(it.ItemType, raw)

	case ActionReject:
		it.Status = model.ItemStatusRejected
		it.NeedsReview = false
		if it.ItemType == model.ItemTypeLocation {
			if err := s.rejectChildren(ctx, tx, run, it.ID); err != nil {
				return err
			}
		}

	case ActionReset:
		it.Status = model.ItemStatusPendingReview
		it.NeedsReview = true
		it.ConfirmCreateNew = false

	default:
		return invalid(CodeInvalidAction, "unknown action %q", d.Action)
	}

	it.UpdatedAt = s.clock()
	return tx.UpdateItem(ctx, it)
}

// rejectChildren force-rejects the project items parented to locationItemID.
func (s *Service) rejectChildren(ctx context.Context, tx store.Tx, run *model.ImportRun, locationItemID string) error {
	projects, err := tx.ListItems(ctx, run.OrganizationID, run.ID, model.ItemFilter{ItemType: model.ItemTypeProject})
	if err != nil {
		return err
	}
	now := s.clock()
	for i := range projects {
		child := &projects[i]
		if child.ParentItemID != locationItemID ||
			child.Status == model.ItemStatusRejected || child.Status == model.ItemStatusInvalid {
			continue
		}
		child.Status = model.ItemStatusRejected
		child.NeedsReview = false
		child.UpdatedAt = now
		if err := tx.UpdateItem(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

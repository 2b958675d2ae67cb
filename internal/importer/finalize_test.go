package importer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/agent"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/storage"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/store"
)

func TestFinalizeRun_EndToEnd(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	run := f.staged(t, plantaNorte())
	loc := f.item(t, run.ID, model.ItemTypeLocation, "Planta Norte")
	proj := f.item(t, run.ID, model.ItemTypeProject, "Corriente PET")

	f.decide(t, run.ID, loc.ID, Decision{Action: ActionAccept})
	f.decide(t, run.ID, proj.ID, Decision{Action: ActionAccept})

	summary, err := f.svc.FinalizeRun(ctx, f.orgID, run.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, &model.FinalizeSummary{RunID: run.ID, LocationsCreated: 1, ProjectsCreated: 1}, summary)

	done := f.run(t, run.ID)
	assert.Equal(t, model.RunStatusCompleted, done.Status)
	assert.Equal(t, f.userID, done.FinalizedByUserID)
	require.NotNil(t, done.FinalizedAt)
	assert.Equal(t, summary, done.Summary)

	locs, err := f.store.ListLocations(ctx, f.orgID, f.company.ID)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "Planta Norte", locs[0].Name)
	assert.Equal(t, f.userID, locs[0].CreatedByUserID)

	projects, err := f.store.ListProjectsForLocations(ctx, f.orgID, []string{locs[0].ID})
	require.NoError(t, err)
	require.Len(t, projects, 1)
	p := projects[0]
	assert.Equal(t, "Corriente PET", p.Name)
	assert.Equal(t, f.company.ID, p.CompanyID)
	assert.Equal(t, "plastics", p.ProjectData["bulk_import_category"])
	assert.Contains(t, p.ProjectData, "sections")

	items := f.items(t, run.ID)
	assert.Equal(t, locs[0].ID, items[0].CreatedLocationID)
	assert.Equal(t, p.ID, items[1].CreatedProjectID)

	_, err = f.objects.Download(ctx, run.SourceFilePath, 1<<20)
	assert.ErrorIs(t, err, storage.ErrNotFound, "source file is removed after finalize")
}

func TestFinalizeRun_Idempotent(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	run := f.staged(t, plantaNorte())
	f.acceptAll(t, run.ID)

	first, err := f.svc.FinalizeRun(ctx, f.orgID, run.ID, f.userID)
	require.NoError(t, err)
	locs, projects := f.counts(t)

	second, err := f.svc.FinalizeRun(ctx, f.orgID, run.ID, "someone-else")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	locs2, projects2 := f.counts(t)
	assert.Equal(t, locs, locs2)
	assert.Equal(t, projects, projects2)
	assert.Equal(t, f.userID, f.run(t, run.ID).FinalizedByUserID)
}

// failingStore fails the Nth InsertProject made inside a transaction.
type failingStore struct {
	store.Store
	failOn int32
	calls  atomic.Int32
}

func (s *failingStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.InTx(ctx, func(tx store.Tx) error {
		return fn(&failingTx{Tx: tx, parent: s})
	})
}

type failingTx struct {
	store.Tx
	parent *failingStore
}

func (t *failingTx) InsertProject(ctx context.Context, p *model.Project) error {
	if t.parent.calls.Add(1) == t.parent.failOn {
		return errors.New("disk full")
	}
	return t.Tx.InsertProject(ctx, p)
}

func TestFinalizeRun_AtomicOnFailure(t *testing.T) {
	fs := &failingStore{failOn: 2}
	f := newFixture(t, fixtureOptions{wrapStore: func(s store.Store) store.Store {
		fs.Store = s
		return fs
	}})
	ctx := context.Background()
	run := f.staged(t, rowsResult(
		[]agent.LocationCandidate{{Ref: "L1", Name: "Planta Norte", City: "Monterrey", State: "NL", Confidence: 90}},
		[]agent.StreamCandidate{
			{Name: "Corriente PET", LocationRef: "L1", Confidence: 90},
			{Name: "Cartón", LocationRef: "L1", Confidence: 90},
		},
	))
	f.acceptAll(t, run.ID)
	locsBefore, projectsBefore := f.counts(t)

	_, err := f.svc.FinalizeRun(ctx, f.orgID, run.ID, f.userID)
	require.Error(t, err)

	locs, projects := f.counts(t)
	assert.Equal(t, locsBefore, locs)
	assert.Equal(t, projectsBefore, projects)

	after := f.run(t, run.ID)
	assert.Equal(t, model.RunStatusReviewReady, after.Status)
	assert.Nil(t, after.Summary)
	for _, it := range f.items(t, run.ID) {
		assert.Empty(t, it.CreatedLocationID)
		assert.Empty(t, it.CreatedProjectID)
	}
	_, err = f.objects.Download(ctx, run.SourceFilePath, 1<<20)
	assert.NoError(t, err, "source file survives a failed finalize")

	// The same run finalizes once the fault clears.
	fs.failOn = -1
	summary, err := f.svc.FinalizeRun(ctx, f.orgID, run.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LocationsCreated)
	assert.Equal(t, 2, summary.ProjectsCreated)
}

func TestFinalizeRun_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("pending items", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		run := f.staged(t, plantaNorte())
		_, err := f.svc.FinalizeRun(ctx, f.orgID, run.ID, f.userID)
		require.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, CodeItemsPending, ErrorCode(err))
		assert.Equal(t, model.RunStatusReviewReady, f.run(t, run.ID).Status)
	})

	t.Run("approved item still needs review", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		run := f.staged(t, rowsResult(
			[]agent.LocationCandidate{{Ref: "L1", Name: "Bodega Sur", City: "Saltillo", Confidence: 90}},
			nil,
		))
		loc := f.item(t, run.ID, model.ItemTypeLocation, "Bodega Sur")
		accepted := f.decide(t, run.ID, loc.ID, Decision{Action: ActionAccept})
		require.True(t, accepted.NeedsReview)

		_, err := f.svc.FinalizeRun(ctx, f.orgID, run.ID, f.userID)
		assert.Equal(t, CodeItemNeedsReview, ErrorCode(err))

		f.decide(t, run.ID, loc.ID, Decision{Action: ActionAmend, NormalizedData: map[string]any{"state": "COAH"}})
		summary, err := f.svc.FinalizeRun(ctx, f.orgID, run.ID, f.userID)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.LocationsCreated)
	})

	t.Run("parent not approved", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		run := f.staged(t, plantaNorte())
		loc := f.item(t, run.ID, model.ItemTypeLocation, "Planta Norte")
		proj := f.item(t, run.ID, model.ItemTypeProject, "Corriente PET")
		f.decide(t, run.ID, loc.ID, Decision{Action: ActionReject})
		f.decide(t, run.ID, proj.ID, Decision{Action: ActionAccept})

		_, err := f.svc.FinalizeRun(ctx, f.orgID, run.ID, f.userID)
		require.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, CodeParentNotApproved, ErrorCode(err))
	})

	t.Run("run not ready", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		run := f.createRun(t)
		_, err := f.svc.FinalizeRun(ctx, f.orgID, run.ID, f.userID)
		require.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, CodeRunNotReady, ErrorCode(err))
	})

	t.Run("all rejected", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		run := f.staged(t, plantaNorte())
		loc := f.item(t, run.ID, model.ItemTypeLocation, "Planta Norte")
		f.decide(t, run.ID, loc.ID, Decision{Action: ActionReject})

		summary, err := f.svc.FinalizeRun(ctx, f.orgID, run.ID, f.userID)
		require.NoError(t, err)
		assert.Equal(t, &model.FinalizeSummary{RunID: run.ID, Rejected: 2}, summary)
		locs, projects := f.counts(t)
		assert.Zero(t, locs)
		assert.Zero(t, projects)
	})
}

func TestFinalizeRun_NewLiveDuplicate(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	run := f.staged(t, plantaNorte())
	loc := f.item(t, run.ID, model.ItemTypeLocation, "Planta Norte")
	proj := f.item(t, run.ID, model.ItemTypeProject, "Corriente PET")
	f.decide(t, run.ID, loc.ID, Decision{Action: ActionAccept})
	f.decide(t, run.ID, proj.ID, Decision{Action: ActionAccept})

	// Someone creates the same site while the run sits in review.
	f.seedLocation(t, "planta norte", "MONTERREY", "NL")

	_, err := f.svc.FinalizeRun(ctx, f.orgID, run.ID, f.userID)
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, CodeNewLiveDuplicate, ErrorCode(err))
	assert.Equal(t, model.RunStatusReviewReady, f.run(t, run.ID).Status)
	locs, projects := f.counts(t)
	assert.Equal(t, 1, locs)
	assert.Zero(t, projects)

	f.decide(t, run.ID, loc.ID, Decision{Action: ActionAccept, ConfirmCreateNew: boolPtr(true)})
	summary, err := f.svc.FinalizeRun(ctx, f.orgID, run.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LocationsCreated)
	assert.Equal(t, 0, summary.DuplicatesResolved, "candidates were empty when the item was staged")
}

func TestFinalizeRun_OrphanProjectResolvesLiveSite(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	live := f.seedLocation(t, "Planta Oriente", "Apodaca", "NL")

	run := f.staged(t, rowsResult(nil, []agent.StreamCandidate{
		{Name: "Lodos", LocationRef: "Planta Oriente", Confidence: 95},
		{Name: "Escoria", LocationRef: "Planta Fantasma", Confidence: 95},
	}))
	lodos := f.item(t, run.ID, model.ItemTypeProject, "Lodos")
	escoria := f.item(t, run.ID, model.ItemTypeProject, "Escoria")
	assert.True(t, lodos.NeedsReview, "projects without a staged site need review")
	assert.Empty(t, lodos.ParentItemID)

	f.decide(t, run.ID, lodos.ID, Decision{Action: ActionAccept})
	f.decide(t, run.ID, escoria.ID, Decision{Action: ActionAccept})

	_, err := f.svc.FinalizeRun(ctx, f.orgID, run.ID, f.userID)
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, CodeLocationUnresolved, ErrorCode(err))
	_, projects := f.counts(t)
	assert.Zero(t, projects)

	f.decide(t, run.ID, escoria.ID, Decision{Action: ActionReject})
	summary, err := f.svc.FinalizeRun(ctx, f.orgID, run.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ProjectsCreated)

	created, err := f.store.ListProjectsForLocations(ctx, f.orgID, []string{live.ID})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "Lodos", created[0].Name)
}

func TestFinalizeRun_TakesOverStaleFinalizing(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	run := f.staged(t, plantaNorte())
	f.acceptAll(t, run.ID)

	// A finalize that died after its checkpoint.
	stuck := f.run(t, run.ID)
	stuck.Status = model.RunStatusFinalizing
	stuck.UpdatedAt = f.now
	require.NoError(t, f.store.UpdateRun(ctx, stuck))

	f.now = f.now.Add(time.Minute)
	_, err := f.svc.FinalizeRun(ctx, f.orgID, run.ID, f.userID)
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, CodeFinalizeInProgress, ErrorCode(err))

	f.now = f.now.Add(48 * time.Hour)
	summary, err := f.svc.FinalizeRun(ctx, f.orgID, run.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LocationsCreated)
	assert.Equal(t, 1, summary.ProjectsCreated)
	assert.Equal(t, model.RunStatusCompleted, f.run(t, run.ID).Status)
}

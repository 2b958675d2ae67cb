package importer

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/agent"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/extract"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/questionnaire"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/resilience"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/storage"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/store"
)

var (
	t0       = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<<>>\n%%EOF\n")
)

// stubExtractor returns whatever fn returns and counts calls.
type stubExtractor struct {
	mu    sync.Mutex
	calls int
	fn    func() (*extract.Result, error)
}

func (s *stubExtractor) Extract(ctx context.Context, _ []byte, _ string, opts ...extract.Option) (*extract.Result, error) {
	s.mu.Lock()
	s.calls++
	fn := s.fn
	s.mu.Unlock()
	if fn == nil {
		return &extract.Result{}, nil
	}
	res, err := fn()
	if err != nil {
		return nil, err
	}
	if err := extract.ReportStep(ctx, model.StepExtractingStreams, opts...); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *stubExtractor) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func returns(res *extract.Result) func() (*extract.Result, error) {
	return func() (*extract.Result, error) { return res, nil }
}

func fails(err error) func() (*extract.Result, error) {
	return func() (*extract.Result, error) { return nil, err }
}

func rowsResult(locs []agent.LocationCandidate, streams []agent.StreamCandidate) *extract.Result {
	return &extract.Result{
		Rows: extract.BuildRows(locs, extract.CollapseStreams(streams)),
		Diagnostics: extract.Diagnostics{
			Route:      "pdf",
			MediaType:  "application/pdf",
			Locations:  len(locs),
			StreamsIn:  len(streams),
			StreamsOut: len(streams),
		},
	}
}

// plantaNorte is one complete site with one PET stream.
func plantaNorte() *extract.Result {
	return rowsResult(
		[]agent.LocationCandidate{{Ref: "L1", Name: "Planta Norte", City: "Monterrey", State: "NL", Confidence: 92}},
		[]agent.StreamCandidate{{Name: "Corriente PET", Category: "plastics", LocationRef: "L1", Confidence: 88}},
	)
}

type fixtureOptions struct {
	cfg         func(*Config)
	wrapStore   func(store.Store) store.Store
	wrapStorage func(storage.Storage) storage.Storage
}

type fixture struct {
	svc     *Service
	store   store.Store
	objects storage.Storage
	ex      *stubExtractor
	now     time.Time
	orgID   string
	userID  string
	company *model.Company
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "importer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	local, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		store:   st,
		objects: local,
		ex:      &stubExtractor{},
		now:     t0,
		orgID:   "org-" + uuid.NewString()[:8],
		userID:  "user-1",
	}

	cfg := DefaultConfig()
	cfg.Retry = resilience.RetryConfig{MaxAttempts: 1}
	if opts.cfg != nil {
		opts.cfg(&cfg)
	}
	var svcStore store.Store = st
	if opts.wrapStore != nil {
		svcStore = opts.wrapStore(st)
	}
	var svcStorage storage.Storage = local
	if opts.wrapStorage != nil {
		svcStorage = opts.wrapStorage(local)
	}

	f.svc = New(svcStore, svcStorage, f.ex, mustTemplate(t), cfg,
		WithClock(func() time.Time { return f.now }),
	)

	f.company = f.seedCompany(t, f.orgID, "Acme Reciclaje")
	return f
}

func mustTemplate(t *testing.T) *questionnaire.Static {
	t.Helper()
	q, err := questionnaire.Default()
	require.NoError(t, err)
	return q
}

func (f *fixture) seedCompany(t *testing.T, orgID, name string) *model.Company {
	t.Helper()
	c := &model.Company{ID: uuid.NewString(), OrganizationID: orgID, Name: name, CreatedAt: t0}
	require.NoError(t, f.store.InsertCompany(context.Background(), c))
	return c
}

func (f *fixture) seedLocation(t *testing.T, name, city, state string) *model.Location {
	t.Helper()
	l := &model.Location{
		ID:             uuid.NewString(),
		OrganizationID: f.orgID,
		CompanyID:      f.company.ID,
		Name:           name,
		City:           city,
		State:          state,
		CreatedAt:      t0,
	}
	require.NoError(t, f.store.InsertLocation(context.Background(), l))
	return l
}

func (f *fixture) seedProject(t *testing.T, loc *model.Location, name string) *model.Project {
	t.Helper()
	p := &model.Project{
		ID:             uuid.NewString(),
		OrganizationID: f.orgID,
		LocationID:     loc.ID,
		CompanyID:      loc.CompanyID,
		Name:           name,
		CreatedAt:      t0,
	}
	require.NoError(t, f.store.InsertProject(context.Background(), p))
	return p
}

func (f *fixture) createRun(t *testing.T) *model.ImportRun {
	t.Helper()
	run, err := f.svc.CreateRun(context.Background(), CreateRunInput{
		OrganizationID: f.orgID,
		UserID:         f.userID,
		EntrypointType: model.EntrypointCompany,
		EntrypointID:   f.company.ID,
		Filename:       "inventario.pdf",
		Data:           pdfBytes,
	})
	require.NoError(t, err)
	return run
}

// process claims the next run, processes it and returns its stored state.
func (f *fixture) process(t *testing.T) *model.ImportRun {
	t.Helper()
	ctx := context.Background()
	claimed, err := f.svc.ClaimNextRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed, "expected a claimable run")
	require.NoError(t, f.svc.ProcessRun(ctx, claimed))
	return f.run(t, claimed.ID)
}

// staged creates a run with res as extraction output and processes it.
func (f *fixture) staged(t *testing.T, res *extract.Result) *model.ImportRun {
	t.Helper()
	f.ex.fn = returns(res)
	f.createRun(t)
	return f.process(t)
}

func (f *fixture) run(t *testing.T, runID string) *model.ImportRun {
	t.Helper()
	run, err := f.svc.GetRun(context.Background(), f.orgID, runID)
	require.NoError(t, err)
	return run
}

func (f *fixture) items(t *testing.T, runID string) []model.ImportItem {
	t.Helper()
	items, err := f.svc.ListItems(context.Background(), f.orgID, runID, model.ItemFilter{})
	require.NoError(t, err)
	return items
}

// item returns the staged item whose payload name is name.
func (f *fixture) item(t *testing.T, runID string, typ model.ItemType, name string) *model.ImportItem {
	t.Helper()
	for _, it := range f.items(t, runID) {
		if it.ItemType != typ {
			continue
		}
		payload, err := model.PayloadMap(it.NormalizedData)
		require.NoError(t, err)
		if payload["name"] == name {
			it := it
			return &it
		}
	}
	t.Fatalf("no %s item named %q in run %s", typ, name, runID)
	return nil
}

func (f *fixture) decide(t *testing.T, runID, itemID string, d Decision) *model.ImportItem {
	t.Helper()
	it, err := f.svc.UpdateItemDecision(context.Background(), f.orgID, runID, itemID, d)
	require.NoError(t, err)
	return it
}

func (f *fixture) acceptAll(t *testing.T, runID string) {
	t.Helper()
	var ids []string
	for _, it := range f.items(t, runID) {
		if it.Status != model.ItemStatusInvalid {
			ids = append(ids, it.ID)
		}
	}
	_, err := f.svc.BulkUpdateItems(context.Background(), f.orgID, runID, BulkDecision{
		ItemIDs:          ids,
		Action:           ActionAccept,
		ConfirmCreateNew: boolPtr(true),
	})
	require.NoError(t, err)
}

func (f *fixture) counts(t *testing.T) (int, int) {
	t.Helper()
	locs, projects, err := f.store.CountEntities(context.Background(), f.orgID)
	require.NoError(t, err)
	return locs, projects
}

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }

// Package store persists import runs, staged items and the live domain rows
// finalize writes. Every org-scoped read filters by organization_id and
// returns nil, nil when nothing matches.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
)

// ErrNotFound is returned by writes that matched no row.
var ErrNotFound = eris.New("store: no matching row")

// ClaimParams bound which runs ClaimNextRun may pick.
type ClaimParams struct {
	Now         time.Time
	MaxAttempts int
	Lease       time.Duration
}

// Tx is the query surface available inside (and outside) a transaction.
type Tx interface {
	// Runs
	InsertRun(ctx context.Context, run *model.ImportRun) error
	GetRun(ctx context.Context, orgID, runID string) (*model.ImportRun, error)
	// LockRun reads a run and holds its row lock until the transaction ends.
	LockRun(ctx context.Context, orgID, runID string) (*model.ImportRun, error)
	ListRuns(ctx context.Context, orgID string, filter model.RunFilter) ([]model.ImportRun, error)
	UpdateRun(ctx context.Context, run *model.ImportRun) error
	ClaimNextRun(ctx context.Context, p ClaimParams) (*model.ImportRun, error)
	RequeueStaleRuns(ctx context.Context, now time.Time, maxAttempts, limit int, reason string) (int, error)
	FailExhaustedRuns(ctx context.Context, now time.Time, maxAttempts, limit int, reason string) (int, error)
	ListPurgeCandidates(ctx context.Context, cutoff time.Time, limit int) ([]model.ImportRun, error)
	ScrubRunArtifacts(ctx context.Context, runID string, now time.Time) error
	RefreshRunCounters(ctx context.Context, orgID, runID string, now time.Time) (model.RunCounters, error)

	// Items
	InsertItems(ctx context.Context, items []model.ImportItem) error
	DeleteRunItems(ctx context.Context, orgID, runID string) (int, error)
	GetItem(ctx context.Context, orgID, runID, itemID string) (*model.ImportItem, error)
	LockItem(ctx context.Context, orgID, runID, itemID string) (*model.ImportItem, error)
	ListItems(ctx context.Context, orgID, runID string, filter model.ItemFilter) ([]model.ImportItem, error)
	UpdateItem(ctx context.Context, item *model.ImportItem) error

	// Live domain rows
	InsertCompany(ctx context.Context, c *model.Company) error
	GetCompany(ctx context.Context, orgID, id string) (*model.Company, error)
	InsertLocation(ctx context.Context, l *model.Location) error
	GetLocation(ctx context.Context, orgID, id string) (*model.Location, error)
	ListLocations(ctx context.Context, orgID, companyID string) ([]model.Location, error)
	InsertProject(ctx context.Context, p *model.Project) error
	ListProjectsForLocations(ctx context.Context, orgID string, locationIDs []string) ([]model.Project, error)
	CountEntities(ctx context.Context, orgID string) (locations, projects int, err error)
}

// Store is a Tx bound to the connection pool plus transaction control.
type Store interface {
	Tx
	// InTx runs fn in one transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Migrate(ctx context.Context) error
	Close() error
}

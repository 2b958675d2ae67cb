package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
)

// sqliteTimeLayout is fixed width so TEXT comparison orders chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite. It holds a single
// connection, so transactions are serialized and row locks are implicit.
type SQLiteStore struct {
	sqliteQueries
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{sqliteQueries: sqliteQueries{q: db}, db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	name            TEXT NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS locations (
	id                 TEXT PRIMARY KEY,
	organization_id    TEXT NOT NULL,
	company_id         TEXT NOT NULL REFERENCES companies(id),
	name               TEXT NOT NULL,
	city               TEXT NOT NULL DEFAULT '',
	state              TEXT NOT NULL DEFAULT '',
	address            TEXT NOT NULL DEFAULT '',
	created_by_user_id TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
	id                 TEXT PRIMARY KEY,
	organization_id    TEXT NOT NULL,
	location_id        TEXT NOT NULL REFERENCES locations(id),
	company_id         TEXT NOT NULL REFERENCES companies(id),
	name               TEXT NOT NULL,
	category           TEXT NOT NULL DEFAULT '',
	project_type       TEXT NOT NULL DEFAULT '',
	description        TEXT NOT NULL DEFAULT '',
	sector             TEXT NOT NULL DEFAULT '',
	subsector          TEXT NOT NULL DEFAULT '',
	estimated_volume   TEXT NOT NULL DEFAULT '',
	project_data       TEXT,
	created_by_user_id TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_locations_org_company ON locations(organization_id, company_id);
CREATE INDEX IF NOT EXISTS idx_projects_org_location ON projects(organization_id, location_id);

CREATE TABLE IF NOT EXISTS import_runs (
	id                      TEXT PRIMARY KEY,
	organization_id         TEXT NOT NULL,
	created_by_user_id      TEXT NOT NULL DEFAULT '',
	entrypoint_type         TEXT NOT NULL CHECK (entrypoint_type IN ('company', 'location')),
	entrypoint_id           TEXT NOT NULL,
	source_file_path        TEXT NOT NULL,
	source_filename         TEXT NOT NULL,
	status                  TEXT NOT NULL DEFAULT 'uploaded',
	progress_step           TEXT,
	processing_attempts     INTEGER NOT NULL DEFAULT 0,
	processing_started_at   TEXT,
	processing_available_at TEXT,
	processing_error        TEXT,
	finalized_by_user_id    TEXT,
	finalized_at            TEXT,
	summary_data            TEXT,
	artifacts_purged_at     TEXT,
	total_items             INTEGER NOT NULL DEFAULT 0,
	accepted_count          INTEGER NOT NULL DEFAULT 0,
	rejected_count          INTEGER NOT NULL DEFAULT 0,
	amended_count           INTEGER NOT NULL DEFAULT 0,
	invalid_count           INTEGER NOT NULL DEFAULT 0,
	duplicate_count         INTEGER NOT NULL DEFAULT 0,
	pending_count           INTEGER NOT NULL DEFAULT 0,
	created_at              TEXT NOT NULL,
	updated_at              TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_import_runs_org ON import_runs(organization_id, created_at);
CREATE INDEX IF NOT EXISTS idx_import_runs_claim ON import_runs(status, processing_available_at, created_at);

CREATE TABLE IF NOT EXISTS import_items (
	id                   TEXT PRIMARY KEY,
	organization_id      TEXT NOT NULL,
	run_id               TEXT NOT NULL REFERENCES import_runs(id) ON DELETE CASCADE,
	item_type            TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'pending_review',
	needs_review         INTEGER NOT NULL DEFAULT 1,
	confidence           INTEGER NOT NULL DEFAULT 0 CHECK (confidence BETWEEN 0 AND 100),
	extracted_data       TEXT,
	normalized_data      TEXT NOT NULL,
	user_amendments      TEXT,
	duplicate_candidates TEXT,
	confirm_create_new   INTEGER NOT NULL DEFAULT 0,
	parent_item_id       TEXT REFERENCES import_items(id) ON DELETE SET NULL,
	review_notes         TEXT,
	created_location_id  TEXT,
	created_project_id   TEXT,
	position             INTEGER NOT NULL DEFAULT 0,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_import_items_run ON import_items(run_id, position);
CREATE INDEX IF NOT EXISTS idx_import_items_parent ON import_items(parent_item_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InTx runs fn inside one database/sql transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteQueries{q: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqliteQueries implements Tx over *sql.DB or *sql.Tx.
type sqliteQueries struct {
	q sqlQuerier
}

func (s *sqliteQueries) InsertRun(ctx context.Context, r *model.ImportRun) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO import_runs (id, organization_id, created_by_user_id, entrypoint_type, entrypoint_id,
			source_file_path, source_filename, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OrganizationID, r.CreatedByUserID, string(r.EntrypointType), r.EntrypointID,
		r.SourceFilePath, r.SourceFilename, string(r.Status), sqliteTime(r.CreatedAt), sqliteTime(r.UpdatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert run %s", r.ID)
}

func (s *sqliteQueries) GetRun(ctx context.Context, orgID, runID string) (*model.ImportRun, error) {
	return s.getRun(ctx, "get run", `SELECT `+runColumnList+` FROM import_runs WHERE id = ? AND organization_id = ?`, runID, orgID)
}

// LockRun is GetRun; the single connection already serializes writers.
func (s *sqliteQueries) LockRun(ctx context.Context, orgID, runID string) (*model.ImportRun, error) {
	return s.GetRun(ctx, orgID, runID)
}

func (s *sqliteQueries) getRun(ctx context.Context, op, query string, args ...any) (*model.ImportRun, error) {
	run, err := scanSQLiteRun(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	return run, nil
}

func (s *sqliteQueries) ListRuns(ctx context.Context, orgID string, filter model.RunFilter) ([]model.ImportRun, error) {
	ph := &placeholders{}
	where := runFilterSQL(ph, orgID, filter)
	return s.queryRuns(ctx, "list runs", `SELECT `+runColumnList+` FROM import_runs`+where, ph.args...)
}

func (s *sqliteQueries) queryRuns(ctx context.Context, op, query string, args ...any) ([]model.ImportRun, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close()

	var runs []model.ImportRun
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s: scan", op)
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrapf(rows.Err(), "sqlite: %s: iterate", op)
}

func (s *sqliteQueries) UpdateRun(ctx context.Context, r *model.ImportRun) error {
	summary, err := jsonOrNil(r.Summary)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE import_runs SET status = ?, progress_step = ?, processing_attempts = ?,
			processing_started_at = ?, processing_available_at = ?, processing_error = ?,
			finalized_by_user_id = ?, finalized_at = ?, summary_data = ?, artifacts_purged_at = ?,
			total_items = ?, accepted_count = ?, rejected_count = ?, amended_count = ?,
			invalid_count = ?, duplicate_count = ?, pending_count = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?`,
		string(r.Status), nullable(string(r.ProgressStep)), r.ProcessingAttempts,
		sqliteTimePtr(r.ProcessingStartedAt), sqliteTimePtr(r.ProcessingAvailableAt), nullable(truncateError(r.ProcessingError)),
		nullable(r.FinalizedByUserID), sqliteTimePtr(r.FinalizedAt), textOrNil(summary), sqliteTimePtr(r.ArtifactsPurgedAt),
		r.TotalItems, r.AcceptedCount, r.RejectedCount, r.AmendedCount,
		r.InvalidCount, r.DuplicateCount, r.PendingCount, sqliteTime(r.UpdatedAt),
		r.ID, r.OrganizationID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", r.ID)
	}
	return checkRowsAffected(res, "run", r.ID)
}

func (s *sqliteQueries) ClaimNextRun(ctx context.Context, cp ClaimParams) (*model.ImportRun, error) {
	now := sqliteTime(cp.Now)
	return s.getRun(ctx, "claim next run",
		`UPDATE import_runs SET
			status = 'processing',
			processing_attempts = processing_attempts + 1,
			processing_started_at = ?,
			processing_available_at = ?,
			progress_step = NULL,
			updated_at = ?
		WHERE id = (
			SELECT id FROM import_runs
			WHERE status = 'uploaded'
				AND processing_attempts < ?
				AND (processing_available_at IS NULL OR processing_available_at <= ?)
			ORDER BY processing_available_at ASC NULLS FIRST, created_at ASC
			LIMIT 1
		)
		RETURNING `+runColumnList,
		now, sqliteTime(cp.Now.Add(cp.Lease)), now, cp.MaxAttempts, now,
	)
}

func (s *sqliteQueries) RequeueStaleRuns(ctx context.Context, now time.Time, maxAttempts, limit int, reason string) (int, error) {
	ts := sqliteTime(now)
	res, err := s.q.ExecContext(ctx,
		`UPDATE import_runs SET
			status = 'uploaded',
			processing_error = ?,
			processing_started_at = NULL,
			progress_step = NULL,
			updated_at = ?
		WHERE id IN (
			SELECT id FROM import_runs
			WHERE status = 'processing'
				AND processing_available_at < ?
				AND processing_attempts < ?
			ORDER BY processing_available_at
			LIMIT ?
		)`,
		reason, ts, ts, maxAttempts, limit,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: requeue stale runs")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: requeue stale runs")
}

func (s *sqliteQueries) FailExhaustedRuns(ctx context.Context, now time.Time, maxAttempts, limit int, reason string) (int, error) {
	ts := sqliteTime(now)
	res, err := s.q.ExecContext(ctx,
		`UPDATE import_runs SET
			status = 'failed',
			processing_error = ?,
			processing_started_at = NULL,
			processing_available_at = NULL,
			updated_at = ?
		WHERE id IN (
			SELECT id FROM import_runs
			WHERE processing_attempts >= ?
				AND (status = 'uploaded'
					OR (status = 'processing' AND processing_available_at < ?))
			ORDER BY created_at
			LIMIT ?
		)`,
		reason, ts, maxAttempts, ts, limit,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: fail exhausted runs")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: fail exhausted runs")
}

func (s *sqliteQueries) ListPurgeCandidates(ctx context.Context, cutoff time.Time, limit int) ([]model.ImportRun, error) {
	return s.queryRuns(ctx, "list purge candidates",
		`SELECT `+runColumnList+` FROM import_runs
		WHERE created_at < ?
			AND artifacts_purged_at IS NULL
			AND status IN ('completed', 'failed', 'no_data', 'review_ready')
		ORDER BY created_at
		LIMIT ?`,
		sqliteTime(cutoff), limit,
	)
}

func (s *sqliteQueries) ScrubRunArtifacts(ctx context.Context, runID string, now time.Time) error {
	ts := sqliteTime(now)
	if _, err := s.q.ExecContext(ctx,
		`UPDATE import_items SET extracted_data = NULL, user_amendments = NULL, review_notes = NULL, updated_at = ?
		WHERE run_id = ?`,
		ts, runID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: scrub items for run %s", runID)
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE import_runs SET artifacts_purged_at = ?, updated_at = ? WHERE id = ? AND artifacts_purged_at IS NULL`,
		ts, ts, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: stamp purge for run %s", runID)
	}
	return checkRowsAffected(res, "unpurged run", runID)
}

func (s *sqliteQueries) RefreshRunCounters(ctx context.Context, orgID, runID string, now time.Time) (model.RunCounters, error) {
	var c model.RunCounters
	err := s.q.QueryRowContext(ctx,
		`SELECT
			count(*),
			count(*) FILTER (WHERE status = 'accepted'),
			count(*) FILTER (WHERE status = 'rejected'),
			count(*) FILTER (WHERE status = 'amended'),
			count(*) FILTER (WHERE status = 'invalid'),
			count(*) FILTER (WHERE json_array_length(duplicate_candidates) > 0),
			count(*) FILTER (WHERE status = 'pending_review')
		FROM import_items
		WHERE organization_id = ? AND run_id = ?`,
		orgID, runID,
	).Scan(&c.TotalItems, &c.AcceptedCount, &c.RejectedCount, &c.AmendedCount,
		&c.InvalidCount, &c.DuplicateCount, &c.PendingCount)
	if err != nil {
		return c, eris.Wrapf(err, "sqlite: count items for run %s", runID)
	}

	res, err := s.q.ExecContext(ctx,
		`UPDATE import_runs SET total_items = ?, accepted_count = ?, rejected_count = ?, amended_count = ?,
			invalid_count = ?, duplicate_count = ?, pending_count = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?`,
		c.TotalItems, c.AcceptedCount, c.RejectedCount, c.AmendedCount,
		c.InvalidCount, c.DuplicateCount, c.PendingCount, sqliteTime(now),
		runID, orgID,
	)
	if err != nil {
		return c, eris.Wrapf(err, "sqlite: refresh counters for run %s", runID)
	}
	return c, checkRowsAffected(res, "run", runID)
}

func (s *sqliteQueries) InsertItems(ctx context.Context, items []model.ImportItem) error {
	for i := range items {
		it := &items[i]
		j, err := encodeItemJSON(it)
		if err != nil {
			return err
		}
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO import_items (`+itemColumnList+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			it.ID, it.OrganizationID, it.RunID, string(it.ItemType), string(it.Status),
			it.NeedsReview, it.Confidence, textOrNil(j.extracted), textOrNil(j.normalized),
			textOrNil(j.amendments), textOrNil(j.candidates),
			it.ConfirmCreateNew, nullable(it.ParentItemID), nullable(it.ReviewNotes),
			nullable(it.CreatedLocationID), nullable(it.CreatedProjectID), it.Position,
			sqliteTime(it.CreatedAt), sqliteTime(it.UpdatedAt),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert item %s", it.ID)
		}
	}
	return nil
}

func (s *sqliteQueries) DeleteRunItems(ctx context.Context, orgID, runID string) (int, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM import_items WHERE organization_id = ? AND run_id = ?`, orgID, runID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete items for run %s", runID)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: delete items")
}

func (s *sqliteQueries) GetItem(ctx context.Context, orgID, runID, itemID string) (*model.ImportItem, error) {
	it, err := scanSQLiteItem(s.q.QueryRowContext(ctx,
		`SELECT `+itemColumnList+` FROM import_items WHERE id = ? AND run_id = ? AND organization_id = ?`,
		itemID, runID, orgID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get item")
	}
	return it, nil
}

func (s *sqliteQueries) LockItem(ctx context.Context, orgID, runID, itemID string) (*model.ImportItem, error) {
	return s.GetItem(ctx, orgID, runID, itemID)
}

func (s *sqliteQueries) ListItems(ctx context.Context, orgID, runID string, filter model.ItemFilter) ([]model.ImportItem, error) {
	ph := &placeholders{}
	where := itemFilterSQL(ph, orgID, runID, filter)
	rows, err := s.q.QueryContext(ctx, `SELECT `+itemColumnList+` FROM import_items`+where, ph.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list items")
	}
	defer rows.Close()

	var items []model.ImportItem
	for rows.Next() {
		it, err := scanSQLiteItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item")
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: iterate items")
}

func (s *sqliteQueries) UpdateItem(ctx context.Context, it *model.ImportItem) error {
	j, err := encodeItemJSON(it)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE import_items SET status = ?, needs_review = ?, confidence = ?,
			normalized_data = ?, user_amendments = ?, duplicate_candidates = ?,
			confirm_create_new = ?, review_notes = ?, created_location_id = ?,
			created_project_id = ?, updated_at = ?
		WHERE id = ? AND run_id = ? AND organization_id = ?`,
		string(it.Status), it.NeedsReview, it.Confidence,
		textOrNil(j.normalized), textOrNil(j.amendments), textOrNil(j.candidates),
		it.ConfirmCreateNew, nullable(it.ReviewNotes), nullable(it.CreatedLocationID),
		nullable(it.CreatedProjectID), sqliteTime(it.UpdatedAt),
		it.ID, it.RunID, it.OrganizationID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update item %s", it.ID)
	}
	return checkRowsAffected(res, "item", it.ID)
}

func (s *sqliteQueries) InsertCompany(ctx context.Context, c *model.Company) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO companies (id, organization_id, name, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.OrganizationID, c.Name, sqliteTime(c.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert company %s", c.ID)
}

func (s *sqliteQueries) GetCompany(ctx context.Context, orgID, id string) (*model.Company, error) {
	var (
		c       model.Company
		created string
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT id, organization_id, name, created_at FROM companies WHERE id = ? AND organization_id = ?`,
		id, orgID,
	).Scan(&c.ID, &c.OrganizationID, &c.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get company")
	}
	c.CreatedAt, err = parseSQLiteTime(created)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *sqliteQueries) InsertLocation(ctx context.Context, l *model.Location) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO locations (`+locationColumnList+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.OrganizationID, l.CompanyID, l.Name, l.City, l.State, l.Address, l.CreatedByUserID, sqliteTime(l.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert location %s", l.ID)
}

func (s *sqliteQueries) GetLocation(ctx context.Context, orgID, id string) (*model.Location, error) {
	l, err := scanSQLiteLocation(s.q.QueryRowContext(ctx,
		`SELECT `+locationColumnList+` FROM locations WHERE id = ? AND organization_id = ?`,
		id, orgID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get location")
	}
	return l, nil
}

func (s *sqliteQueries) ListLocations(ctx context.Context, orgID, companyID string) ([]model.Location, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+locationColumnList+` FROM locations WHERE organization_id = ? AND company_id = ? ORDER BY name, id`,
		orgID, companyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list locations")
	}
	defer rows.Close()

	var out []model.Location
	for rows.Next() {
		l, err := scanSQLiteLocation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan location")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate locations")
}

func (s *sqliteQueries) InsertProject(ctx context.Context, p *model.Project) error {
	data, err := jsonOrNil(p.ProjectData)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumnList+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OrganizationID, p.LocationID, p.CompanyID, p.Name, p.Category, p.ProjectType,
		p.Description, p.Sector, p.Subsector, p.EstimatedVolume, textOrNil(data), p.CreatedByUserID, sqliteTime(p.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert project %s", p.ID)
}

func (s *sqliteQueries) ListProjectsForLocations(ctx context.Context, orgID string, locationIDs []string) ([]model.Project, error) {
	if len(locationIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(locationIDs)+1)
	args = append(args, orgID)
	for _, id := range locationIDs {
		args = append(args, id)
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(locationIDs)), ", ")
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+projectColumnList+` FROM projects WHERE organization_id = ? AND location_id IN (`+marks+`) ORDER BY name, id`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list projects")
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		var (
			p       model.Project
			data    []byte
			created string
		)
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.LocationID, &p.CompanyID, &p.Name, &p.Category,
			&p.ProjectType, &p.Description, &p.Sector, &p.Subsector, &p.EstimatedVolume, &data,
			&p.CreatedByUserID, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan project")
		}
		if p.ProjectData, err = decodeMap(data); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseSQLiteTime(created); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate projects")
}

func (s *sqliteQueries) CountEntities(ctx context.Context, orgID string) (int, int, error) {
	var locs, projects int
	err := s.q.QueryRowContext(ctx,
		`SELECT
			(SELECT count(*) FROM locations WHERE organization_id = ?),
			(SELECT count(*) FROM projects WHERE organization_id = ?)`,
		orgID, orgID,
	).Scan(&locs, &projects)
	return locs, projects, eris.Wrap(err, "sqlite: count entities")
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row sqlScanner) (*model.ImportRun, error) {
	var (
		r                                           model.ImportRun
		entrypoint, status, created, updated        string
		step, procErr, finalizedBy                  sql.NullString
		startedAt, availableAt, finalizedAt, purged sql.NullString
		summary                                     []byte
	)
	if err := row.Scan(&r.ID, &r.OrganizationID, &r.CreatedByUserID, &entrypoint, &r.EntrypointID,
		&r.SourceFilePath, &r.SourceFilename, &status, &step, &r.ProcessingAttempts,
		&startedAt, &availableAt, &procErr,
		&finalizedBy, &finalizedAt, &summary, &purged,
		&r.TotalItems, &r.AcceptedCount, &r.RejectedCount, &r.AmendedCount, &r.InvalidCount,
		&r.DuplicateCount, &r.PendingCount, &created, &updated); err != nil {
		return nil, err
	}
	r.EntrypointType = model.EntrypointType(entrypoint)
	r.Status = model.RunStatus(status)
	r.ProgressStep = model.ProgressStep(step.String)
	r.ProcessingError = procErr.String
	r.FinalizedByUserID = finalizedBy.String

	var err error
	if r.Summary, err = decodeSummary(summary); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{startedAt, &r.ProcessingStartedAt},
		{availableAt, &r.ProcessingAvailableAt},
		{finalizedAt, &r.FinalizedAt},
		{purged, &r.ArtifactsPurgedAt},
	} {
		if *f.dst, err = parseSQLiteTimePtr(f.src); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

func scanSQLiteItem(row sqlScanner) (*model.ImportItem, error) {
	var (
		it                                        model.ImportItem
		itemType, status, created, updated        string
		parent, notes, createdLoc, createdProject sql.NullString
		j                                         itemJSON
	)
	if err := row.Scan(&it.ID, &it.OrganizationID, &it.RunID, &itemType, &status, &it.NeedsReview, &it.Confidence,
		&j.extracted, &j.normalized, &j.amendments, &j.candidates,
		&it.ConfirmCreateNew, &parent, &notes, &createdLoc,
		&createdProject, &it.Position, &created, &updated); err != nil {
		return nil, err
	}
	it.ItemType = model.ItemType(itemType)
	it.Status = model.ItemStatus(status)
	it.ParentItemID = parent.String
	it.ReviewNotes = notes.String
	it.CreatedLocationID = createdLoc.String
	it.CreatedProjectID = createdProject.String
	if err := j.decodeInto(&it); err != nil {
		return nil, err
	}
	var err error
	if it.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if it.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return nil, err
	}
	return &it, nil
}

func scanSQLiteLocation(row sqlScanner) (*model.Location, error) {
	var (
		l       model.Location
		created string
	)
	if err := row.Scan(&l.ID, &l.OrganizationID, &l.CompanyID, &l.Name, &l.City, &l.State, &l.Address,
		&l.CreatedByUserID, &created); err != nil {
		return nil, err
	}
	var err error
	if l.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	return &l, nil
}

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func sqliteTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return sqliteTime(*t)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t, nil
}

func parseSQLiteTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseSQLiteTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// textOrNil stores JSON as TEXT; SQLite reads BLOBs as binary JSONB.
func textOrNil(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", entity, id)
	}
	return nil
}

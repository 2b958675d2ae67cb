package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/db"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pgQueries
	pool    db.Pool
	dsn     string
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	s := newPostgresStore(pool)
	s.dsn = connString
	s.closeFn = pool.Close
	return s, nil
}

func newPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{q: pool}, pool: pool}
}

// Migrate applies the embedded schema migrations.
func (s *PostgresStore) Migrate(_ context.Context) error {
	if s.dsn == "" {
		return eris.New("postgres: migrate requires a connection string")
	}
	sqlDB, err := sql.Open("pgx", s.dsn)
	if err != nil {
		return eris.Wrap(err, "postgres: open migration connection")
	}
	defer sqlDB.Close() //nolint:errcheck

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return eris.Wrap(err, "postgres: migration driver")
	}
	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return eris.Wrap(err, "postgres: migration source")
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return eris.Wrap(err, "postgres: migration instance")
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			zap.L().Info("postgres: schema up to date")
			return nil
		}
		return eris.Wrap(err, "postgres: migrate up")
	}
	version, _, _ := m.Version()
	zap.L().Info("postgres: migrations applied", zap.Uint("version", version))
	return nil
}

// InTx runs fn inside one pgx transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgQueries{q: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// pgQueries implements Tx over a pool or an open transaction.
type pgQueries struct {
	q db.Querier
}

func (p *pgQueries) InsertRun(ctx context.Context, r *model.ImportRun) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO import_runs (id, organization_id, created_by_user_id, entrypoint_type, entrypoint_id,
			source_file_path, source_filename, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.OrganizationID, r.CreatedByUserID, string(r.EntrypointType), r.EntrypointID,
		r.SourceFilePath, r.SourceFilename, string(r.Status), r.CreatedAt, r.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert run %s", r.ID)
}

func (p *pgQueries) GetRun(ctx context.Context, orgID, runID string) (*model.ImportRun, error) {
	return p.getRun(ctx, "get run", `SELECT `+runColumnList+` FROM import_runs WHERE id = $1 AND organization_id = $2`, runID, orgID)
}

func (p *pgQueries) LockRun(ctx context.Context, orgID, runID string) (*model.ImportRun, error) {
	return p.getRun(ctx, "lock run", `SELECT `+runColumnList+` FROM import_runs WHERE id = $1 AND organization_id = $2 FOR UPDATE`, runID, orgID)
}

func (p *pgQueries) getRun(ctx context.Context, op, query string, args ...any) (*model.ImportRun, error) {
	run, err := scanPGRun(p.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	return run, nil
}

func (p *pgQueries) ListRuns(ctx context.Context, orgID string, filter model.RunFilter) ([]model.ImportRun, error) {
	ph := &placeholders{dollar: true}
	where := runFilterSQL(ph, orgID, filter)
	rows, err := p.q.Query(ctx, `SELECT `+runColumnList+` FROM import_runs`+where, ph.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	return collectPGRuns(rows, "list runs")
}

func (p *pgQueries) UpdateRun(ctx context.Context, r *model.ImportRun) error {
	summary, err := jsonOrNil(r.Summary)
	if err != nil {
		return err
	}
	tag, err := p.q.Exec(ctx,
		`UPDATE import_runs SET status = $1, progress_step = $2, processing_attempts = $3,
			processing_started_at = $4, processing_available_at = $5, processing_error = $6,
			finalized_by_user_id = $7, finalized_at = $8, summary_data = $9, artifacts_purged_at = $10,
			total_items = $11, accepted_count = $12, rejected_count = $13, amended_count = $14,
			invalid_count = $15, duplicate_count = $16, pending_count = $17, updated_at = $18
		WHERE id = $19 AND organization_id = $20`,
		string(r.Status), nullable(string(r.ProgressStep)), r.ProcessingAttempts,
		r.ProcessingStartedAt, r.ProcessingAvailableAt, nullable(truncateError(r.ProcessingError)),
		nullable(r.FinalizedByUserID), r.FinalizedAt, summary, r.ArtifactsPurgedAt,
		r.TotalItems, r.AcceptedCount, r.RejectedCount, r.AmendedCount,
		r.InvalidCount, r.DuplicateCount, r.PendingCount, r.UpdatedAt,
		r.ID, r.OrganizationID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", r.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", r.ID)
	}
	return nil
}

func (p *pgQueries) ClaimNextRun(ctx context.Context, cp ClaimParams) (*model.ImportRun, error) {
	leaseUntil := cp.Now.Add(cp.Lease)
	return p.getRun(ctx, "claim next run",
		`WITH candidate AS (
			SELECT id FROM import_runs
			WHERE status = 'uploaded'
				AND processing_attempts < $2
				AND (processing_available_at IS NULL OR processing_available_at <= $1)
			ORDER BY processing_available_at ASC NULLS FIRST, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE import_runs r SET
			status = 'processing',
			processing_attempts = r.processing_attempts + 1,
			processing_started_at = $1,
			processing_available_at = $3,
			progress_step = NULL,
			updated_at = $1
		FROM candidate
		WHERE r.id = candidate.id
		RETURNING `+qualify("r", runColumnList),
		cp.Now, cp.MaxAttempts, leaseUntil,
	)
}

func (p *pgQueries) RequeueStaleRuns(ctx context.Context, now time.Time, maxAttempts, limit int, reason string) (int, error) {
	tag, err := p.q.Exec(ctx,
		`WITH stale AS (
			SELECT id FROM import_runs
			WHERE status = 'processing'
				AND processing_available_at < $1
				AND processing_attempts < $2
			ORDER BY processing_available_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE import_runs r SET
			status = 'uploaded',
			processing_error = $4,
			processing_started_at = NULL,
			progress_step = NULL,
			updated_at = $1
		FROM stale
		WHERE r.id = stale.id`,
		now, maxAttempts, limit, reason,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: requeue stale runs")
	}
	return int(tag.RowsAffected()), nil
}

func (p *pgQueries) FailExhaustedRuns(ctx context.Context, now time.Time, maxAttempts, limit int, reason string) (int, error) {
	tag, err := p.q.Exec(ctx,
		`WITH exhausted AS (
			SELECT id FROM import_runs
			WHERE processing_attempts >= $2
				AND (status = 'uploaded'
					OR (status = 'processing' AND processing_available_at < $1))
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE import_runs r SET
			status = 'failed',
			processing_error = $4,
			processing_started_at = NULL,
			processing_available_at = NULL,
			updated_at = $1
		FROM exhausted
		WHERE r.id = exhausted.id`,
		now, maxAttempts, limit, reason,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: fail exhausted runs")
	}
	return int(tag.RowsAffected()), nil
}

func (p *pgQueries) ListPurgeCandidates(ctx context.Context, cutoff time.Time, limit int) ([]model.ImportRun, error) {
	rows, err := p.q.Query(ctx,
		`SELECT `+runColumnList+` FROM import_runs
		WHERE created_at < $1
			AND artifacts_purged_at IS NULL
			AND status IN ('completed', 'failed', 'no_data', 'review_ready')
		ORDER BY created_at
		LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list purge candidates")
	}
	return collectPGRuns(rows, "list purge candidates")
}

func (p *pgQueries) ScrubRunArtifacts(ctx context.Context, runID string, now time.Time) error {
	if _, err := p.q.Exec(ctx,
		`UPDATE import_items SET extracted_data = NULL, user_amendments = NULL, review_notes = NULL, updated_at = $2
		WHERE run_id = $1`,
		runID, now,
	); err != nil {
		return eris.Wrapf(err, "postgres: scrub items for run %s", runID)
	}
	tag, err := p.q.Exec(ctx,
		`UPDATE import_runs SET artifacts_purged_at = $2, updated_at = $2 WHERE id = $1 AND artifacts_purged_at IS NULL`,
		runID, now,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: stamp purge for run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: unpurged run %s", runID)
	}
	return nil
}

func (p *pgQueries) RefreshRunCounters(ctx context.Context, orgID, runID string, now time.Time) (model.RunCounters, error) {
	var c model.RunCounters
	err := p.q.QueryRow(ctx,
		`UPDATE import_runs r SET
			total_items = c.total,
			accepted_count = c.accepted,
			rejected_count = c.rejected,
			amended_count = c.amended,
			invalid_count = c.invalid,
			duplicate_count = c.duplicates,
			pending_count = c.pending,
			updated_at = $3
		FROM (
			SELECT
				count(*) AS total,
				count(*) FILTER (WHERE status = 'accepted') AS accepted,
				count(*) FILTER (WHERE status = 'rejected') AS rejected,
				count(*) FILTER (WHERE status = 'amended') AS amended,
				count(*) FILTER (WHERE status = 'invalid') AS invalid,
				count(*) FILTER (WHERE jsonb_typeof(duplicate_candidates) = 'array'
					AND jsonb_array_length(duplicate_candidates) > 0) AS duplicates,
				count(*) FILTER (WHERE status = 'pending_review') AS pending
			FROM import_items
			WHERE organization_id = $1 AND run_id = $2
		) c
		WHERE r.id = $2 AND r.organization_id = $1
		RETURNING r.total_items, r.accepted_count, r.rejected_count, r.amended_count,
			r.invalid_count, r.duplicate_count, r.pending_count`,
		orgID, runID, now,
	).Scan(&c.TotalItems, &c.AcceptedCount, &c.RejectedCount, &c.AmendedCount,
		&c.InvalidCount, &c.DuplicateCount, &c.PendingCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return c, eris.Wrapf(err, "postgres: refresh counters for run %s", runID)
}

func (p *pgQueries) InsertItems(ctx context.Context, items []model.ImportItem) error {
	rows := make([][]any, 0, len(items))
	for i := range items {
		it := &items[i]
		j, err := encodeItemJSON(it)
		if err != nil {
			return err
		}
		rows = append(rows, []any{
			it.ID, it.OrganizationID, it.RunID, string(it.ItemType), string(it.Status),
			it.NeedsReview, it.Confidence, j.extracted, j.normalized, j.amendments, j.candidates,
			it.ConfirmCreateNew, nullable(it.ParentItemID), nullable(it.ReviewNotes),
			nullable(it.CreatedLocationID), nullable(it.CreatedProjectID), it.Position,
			it.CreatedAt, it.UpdatedAt,
		})
	}
	_, err := db.CopyFrom(ctx, p.q, "import_items", columns(itemColumnList), rows)
	return err
}

func (p *pgQueries) DeleteRunItems(ctx context.Context, orgID, runID string) (int, error) {
	tag, err := p.q.Exec(ctx, `DELETE FROM import_items WHERE organization_id = $1 AND run_id = $2`, orgID, runID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete items for run %s", runID)
	}
	return int(tag.RowsAffected()), nil
}

func (p *pgQueries) GetItem(ctx context.Context, orgID, runID, itemID string) (*model.ImportItem, error) {
	return p.getItem(ctx, "get item", `SELECT `+itemColumnList+` FROM import_items
		WHERE id = $1 AND run_id = $2 AND organization_id = $3`, itemID, runID, orgID)
}

func (p *pgQueries) LockItem(ctx context.Context, orgID, runID, itemID string) (*model.ImportItem, error) {
	return p.getItem(ctx, "lock item", `SELECT `+itemColumnList+` FROM import_items
		WHERE id = $1 AND run_id = $2 AND organization_id = $3 FOR UPDATE`, itemID, runID, orgID)
}

func (p *pgQueries) getItem(ctx context.Context, op, query string, args ...any) (*model.ImportItem, error) {
	it, err := scanPGItem(p.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	return it, nil
}

func (p *pgQueries) ListItems(ctx context.Context, orgID, runID string, filter model.ItemFilter) ([]model.ImportItem, error) {
	ph := &placeholders{dollar: true}
	where := itemFilterSQL(ph, orgID, runID, filter)
	rows, err := p.q.Query(ctx, `SELECT `+itemColumnList+` FROM import_items`+where, ph.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list items")
	}
	defer rows.Close()

	var items []model.ImportItem
	for rows.Next() {
		it, err := scanPGItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: iterate items")
}

func (p *pgQueries) UpdateItem(ctx context.Context, it *model.ImportItem) error {
	j, err := encodeItemJSON(it)
	if err != nil {
		return err
	}
	tag, err := p.q.Exec(ctx,
		`UPDATE import_items SET status = $1, needs_review = $2, confidence = $3,
			normalized_data = $4, user_amendments = $5, duplicate_candidates = $6,
			confirm_create_new = $7, review_notes = $8, created_location_id = $9,
			created_project_id = $10, updated_at = $11
		WHERE id = $12 AND run_id = $13 AND organization_id = $14`,
		string(it.Status), it.NeedsReview, it.Confidence,
		j.normalized, j.amendments, j.candidates,
		it.ConfirmCreateNew, nullable(it.ReviewNotes), nullable(it.CreatedLocationID),
		nullable(it.CreatedProjectID), it.UpdatedAt,
		it.ID, it.RunID, it.OrganizationID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update item %s", it.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: item %s", it.ID)
	}
	return nil
}

func (p *pgQueries) InsertCompany(ctx context.Context, c *model.Company) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO companies (id, organization_id, name, created_at) VALUES ($1, $2, $3, $4)`,
		c.ID, c.OrganizationID, c.Name, c.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert company %s", c.ID)
}

func (p *pgQueries) GetCompany(ctx context.Context, orgID, id string) (*model.Company, error) {
	var c model.Company
	err := p.q.QueryRow(ctx,
		`SELECT id, organization_id, name, created_at FROM companies WHERE id = $1 AND organization_id = $2`,
		id, orgID,
	).Scan(&c.ID, &c.OrganizationID, &c.Name, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get company")
	}
	return &c, nil
}

func (p *pgQueries) InsertLocation(ctx context.Context, l *model.Location) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO locations (`+locationColumnList+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, l.OrganizationID, l.CompanyID, l.Name, l.City, l.State, l.Address, l.CreatedByUserID, l.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert location %s", l.ID)
}

func (p *pgQueries) GetLocation(ctx context.Context, orgID, id string) (*model.Location, error) {
	var l model.Location
	err := p.q.QueryRow(ctx,
		`SELECT `+locationColumnList+` FROM locations WHERE id = $1 AND organization_id = $2`,
		id, orgID,
	).Scan(&l.ID, &l.OrganizationID, &l.CompanyID, &l.Name, &l.City, &l.State, &l.Address, &l.CreatedByUserID, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get location")
	}
	return &l, nil
}

func (p *pgQueries) ListLocations(ctx context.Context, orgID, companyID string) ([]model.Location, error) {
	rows, err := p.q.Query(ctx,
		`SELECT `+locationColumnList+` FROM locations WHERE organization_id = $1 AND company_id = $2 ORDER BY name, id`,
		orgID, companyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list locations")
	}
	defer rows.Close()

	var out []model.Location
	for rows.Next() {
		var l model.Location
		if err := rows.Scan(&l.ID, &l.OrganizationID, &l.CompanyID, &l.Name, &l.City, &l.State, &l.Address, &l.CreatedByUserID, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan location")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate locations")
}

func (p *pgQueries) InsertProject(ctx context.Context, pr *model.Project) error {
	data, err := jsonOrNil(pr.ProjectData)
	if err != nil {
		return err
	}
	_, err = p.q.Exec(ctx,
		`INSERT INTO projects (`+projectColumnList+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		pr.ID, pr.OrganizationID, pr.LocationID, pr.CompanyID, pr.Name, pr.Category, pr.ProjectType,
		pr.Description, pr.Sector, pr.Subsector, pr.EstimatedVolume, data, pr.CreatedByUserID, pr.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert project %s", pr.ID)
}

func (p *pgQueries) ListProjectsForLocations(ctx context.Context, orgID string, locationIDs []string) ([]model.Project, error) {
	if len(locationIDs) == 0 {
		return nil, nil
	}
	rows, err := p.q.Query(ctx,
		`SELECT `+projectColumnList+` FROM projects WHERE organization_id = $1 AND location_id = ANY($2) ORDER BY name, id`,
		orgID, locationIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list projects")
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		var (
			pr   model.Project
			data []byte
		)
		if err := rows.Scan(&pr.ID, &pr.OrganizationID, &pr.LocationID, &pr.CompanyID, &pr.Name, &pr.Category,
			&pr.ProjectType, &pr.Description, &pr.Sector, &pr.Subsector, &pr.EstimatedVolume, &data,
			&pr.CreatedByUserID, &pr.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan project")
		}
		if pr.ProjectData, err = decodeMap(data); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate projects")
}

func (p *pgQueries) CountEntities(ctx context.Context, orgID string) (int, int, error) {
	var locs, projects int
	err := p.q.QueryRow(ctx,
		`SELECT
			(SELECT count(*) FROM locations WHERE organization_id = $1),
			(SELECT count(*) FROM projects WHERE organization_id = $1)`,
		orgID,
	).Scan(&locs, &projects)
	return locs, projects, eris.Wrap(err, "postgres: count entities")
}

func scanPGRun(row pgx.Row) (*model.ImportRun, error) {
	var (
		r                          model.ImportRun
		entrypoint, status         string
		step, procErr, finalizedBy *string
		summary                    []byte
	)
	if err := row.Scan(&r.ID, &r.OrganizationID, &r.CreatedByUserID, &entrypoint, &r.EntrypointID,
		&r.SourceFilePath, &r.SourceFilename, &status, &step, &r.ProcessingAttempts,
		&r.ProcessingStartedAt, &r.ProcessingAvailableAt, &procErr,
		&finalizedBy, &r.FinalizedAt, &summary, &r.ArtifactsPurgedAt,
		&r.TotalItems, &r.AcceptedCount, &r.RejectedCount, &r.AmendedCount, &r.InvalidCount,
		&r.DuplicateCount, &r.PendingCount, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.EntrypointType = model.EntrypointType(entrypoint)
	r.Status = model.RunStatus(status)
	r.ProgressStep = model.ProgressStep(deref(step))
	r.ProcessingError = deref(procErr)
	r.FinalizedByUserID = deref(finalizedBy)
	var err error
	if r.Summary, err = decodeSummary(summary); err != nil {
		return nil, err
	}
	return &r, nil
}

func collectPGRuns(rows pgx.Rows, op string) ([]model.ImportRun, error) {
	defer rows.Close()
	var runs []model.ImportRun
	for rows.Next() {
		r, err := scanPGRun(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: %s: scan", op)
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrapf(rows.Err(), "postgres: %s: iterate", op)
}

func scanPGItem(row pgx.Row) (*model.ImportItem, error) {
	var (
		it                                        model.ImportItem
		itemType, status                          string
		parent, notes, createdLoc, createdProject *string
		j                                         itemJSON
	)
	if err := row.Scan(&it.ID, &it.OrganizationID, &it.RunID, &itemType, &status, &it.NeedsReview, &it.Confidence,
		&j.extracted, &j.normalized, &j.amendments, &j.candidates,
		&it.ConfirmCreateNew, &parent, &notes, &createdLoc,
		&createdProject, &it.Position, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	it.ItemType = model.ItemType(itemType)
	it.Status = model.ItemStatus(status)
	it.ParentItemID = deref(parent)
	it.ReviewNotes = deref(notes)
	it.CreatedLocationID = deref(createdLoc)
	it.CreatedProjectID = deref(createdProject)
	if err := j.decodeInto(&it); err != nil {
		return nil, err
	}
	return &it, nil
}

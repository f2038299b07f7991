package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/barharvest/internal/db"
	"github.com/sells-group/barharvest/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// checkpointUpsert is the single-statement atomic checkpoint save.
var checkpointUpsert = db.UpsertSQL(db.UpsertConfig{
	Table:        "checkpoints",
	Columns:      []string{"source", "cursor", "updated_at", "records_count"},
	ConflictKeys: []string{"source"},
	UpdateCols:   []string{"cursor", "updated_at"},
}) + ", records_count = checkpoints.records_count + EXCLUDED.records_count"

// firmUpsert resolves or creates a firm in one statement, so two workers
// first-sighting the same (norm_name, jurisdiction) cannot race into a unique
// violation. The conflict arm keeps RETURNING usable on the existing row.
var firmUpsert = db.UpsertSQL(db.UpsertConfig{
	Table:        "firms",
	Columns:      []string{"name", "norm_name", "jurisdiction", "city"},
	ConflictKeys: []string{"norm_name", "jurisdiction"},
	UpdateCols:   []string{"name"},
}) + " RETURNING id"

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool-compatible handle. Tests pass a
// pgxmock pool here.
func NewPostgresFromPool(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: closeFn}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS firms (
	id           BIGSERIAL PRIMARY KEY,
	name         TEXT NOT NULL,
	norm_name    TEXT NOT NULL,
	jurisdiction TEXT NOT NULL,
	city         TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(norm_name, jurisdiction)
);

CREATE TABLE IF NOT EXISTS attorneys (
	id             BIGSERIAL PRIMARY KEY,
	jurisdiction   TEXT NOT NULL,
	bar_number     TEXT NOT NULL,
	full_name      TEXT NOT NULL,
	first_name     TEXT,
	last_name      TEXT,
	status         TEXT NOT NULL DEFAULT 'other',
	admission_date DATE,
	city           TEXT,
	firm_id        BIGINT REFERENCES firms(id),
	phone          TEXT,
	email          TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(jurisdiction, bar_number)
);

CREATE TABLE IF NOT EXISTS practice_areas (
	attorney_id BIGINT NOT NULL REFERENCES attorneys(id),
	label       TEXT NOT NULL,
	UNIQUE(attorney_id, label)
);

CREATE TABLE IF NOT EXISTS run_log (
	id             UUID PRIMARY KEY,
	source         TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'running',
	started_at     TIMESTAMPTZ NOT NULL,
	completed_at   TIMESTAMPTZ,
	pages          BIGINT NOT NULL DEFAULT 0,
	fetched        BIGINT NOT NULL DEFAULT 0,
	persisted      BIGINT NOT NULL DEFAULT 0,
	skipped        BIGINT NOT NULL DEFAULT 0,
	failed         BIGINT NOT NULL DEFAULT 0,
	name_conflicts BIGINT NOT NULL DEFAULT 0,
	error          TEXT
);

CREATE TABLE IF NOT EXISTS checkpoints (
	source        TEXT PRIMARY KEY,
	cursor        TEXT NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	records_count BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_attorneys_status ON attorneys(status);
CREATE INDEX IF NOT EXISTS idx_attorneys_city ON attorneys(city);
CREATE INDEX IF NOT EXISTS idx_attorneys_name ON attorneys(last_name, first_name);
CREATE INDEX IF NOT EXISTS idx_practice_areas_label ON practice_areas(label);
CREATE INDEX IF NOT EXISTS idx_run_log_source ON run_log(source, started_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertAttorney(ctx context.Context, a *model.Attorney) (UpsertOutcome, error) {
	var out UpsertOutcome

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return out, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()

	var firmID *int64
	if a.FirmName != "" {
		id, err := s.resolveFirm(ctx, tx, a)
		if err != nil {
			return out, err
		}
		firmID = &id
	}

	var (
		attorneyID   int64
		existingName string
	)
	err = tx.QueryRow(ctx,
		`SELECT id, full_name FROM attorneys WHERE jurisdiction = $1 AND bar_number = $2`,
		a.Jurisdiction, a.BarNumber,
	).Scan(&attorneyID, &existingName)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx,
			`INSERT INTO attorneys (jurisdiction, bar_number, full_name, first_name, last_name,
				status, admission_date, city, firm_id, phone, email, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 RETURNING id`,
			a.Jurisdiction, a.BarNumber, a.FullName, a.FirstName, a.LastName,
			string(a.Status), a.AdmissionDate, a.City, firmID, a.Phone, a.Email, now, now,
		).Scan(&attorneyID)
		if err != nil {
			return out, eris.Wrapf(err, "postgres: insert attorney %s", a.Key())
		}
		out.Created = true
	case err != nil:
		return out, eris.Wrapf(err, "postgres: lookup attorney %s", a.Key())
	default:
		out.NameConflict = existingName != a.FullName
		_, err = tx.Exec(ctx,
			`UPDATE attorneys SET
				full_name = $1, first_name = $2, last_name = $3,
				status = $4, city = $5, firm_id = $6, phone = $7, email = $8,
				admission_date = COALESCE(admission_date, $9),
				updated_at = $10
			 WHERE id = $11`,
			a.FullName, a.FirstName, a.LastName,
			string(a.Status), a.City, firmID, a.Phone, a.Email,
			a.AdmissionDate, now, attorneyID,
		)
		if err != nil {
			return out, eris.Wrapf(err, "postgres: update attorney %s", a.Key())
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM practice_areas WHERE attorney_id = $1`, attorneyID); err != nil {
		return out, eris.Wrapf(err, "postgres: clear practice areas for %s", a.Key())
	}
	for _, label := range a.PracticeAreas {
		if _, err := tx.Exec(ctx,
			`INSERT INTO practice_areas (attorney_id, label) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			attorneyID, label,
		); err != nil {
			return out, eris.Wrapf(err, "postgres: insert practice area for %s", a.Key())
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return out, eris.Wrap(err, "postgres: commit")
	}
	a.ID = attorneyID
	a.FirmID = firmID
	return out, nil
}

func (s *PostgresStore) resolveFirm(ctx context.Context, tx pgx.Tx, a *model.Attorney) (int64, error) {
	norm := model.NormalizeFirmName(a.FirmName)

	var id int64
	err := tx.QueryRow(ctx, firmUpsert,
		a.FirmName, norm, a.Jurisdiction, a.City,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert firm %q", norm)
	}
	return id, nil
}

func (s *PostgresStore) SearchAttorneys(ctx context.Context, f SearchFilter) ([]model.Attorney, error) {
	query := `SELECT DISTINCT a.id, a.jurisdiction, a.bar_number, a.full_name, a.first_name, a.last_name,
		a.status, a.admission_date, a.city, a.firm_id, COALESCE(fi.name, ''), a.phone, a.email,
		a.created_at, a.updated_at
		FROM attorneys a
		LEFT JOIN firms fi ON a.firm_id = fi.id
		LEFT JOIN practice_areas pa ON a.id = pa.attorney_id
		WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if f.Jurisdiction != "" {
		query += ` AND a.jurisdiction = ` + arg(f.Jurisdiction)
	}
	if f.Status != "" {
		query += ` AND a.status = ` + arg(string(f.Status))
	}
	if f.City != "" {
		query += ` AND a.city ILIKE ` + arg("%"+f.City+"%")
	}
	if f.Firm != "" {
		query += ` AND fi.name ILIKE ` + arg("%"+f.Firm+"%")
	}
	if f.PracticeArea != "" {
		query += ` AND pa.label ILIKE ` + arg("%"+f.PracticeArea+"%")
	}
	if f.Name != "" {
		p := arg("%" + f.Name + "%")
		query += ` AND (a.full_name ILIKE ` + p + ` OR a.last_name ILIKE ` + p + `)`
	}
	query += ` ORDER BY a.last_name, a.first_name`

	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search attorneys")
	}
	defer rows.Close()

	var result []model.Attorney
	for rows.Next() {
		a, err := scanAttorney(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: search iterate")
	}

	for i := range result {
		labels, err := s.practiceAreas(ctx, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].PracticeAreas = labels
	}
	return result, nil
}

func (s *PostgresStore) practiceAreas(ctx context.Context, attorneyID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT label FROM practice_areas WHERE attorney_id = $1 ORDER BY label`, attorneyID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load practice areas")
	}
	defer rows.Close()
	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, eris.Wrap(err, "postgres: scan practice area")
		}
		labels = append(labels, l)
	}
	return labels, eris.Wrap(rows.Err(), "postgres: practice areas iterate")
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByJurisdiction: make(map[string]int64),
		ByStatus:       make(map[string]int64),
	}

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM attorneys`).Scan(&st.TotalAttorneys); err != nil {
		return nil, eris.Wrap(err, "postgres: stats total")
	}
	if err := s.countInto(ctx, `SELECT jurisdiction, COUNT(*) FROM attorneys GROUP BY jurisdiction`, st.ByJurisdiction); err != nil {
		return nil, err
	}
	if err := s.countInto(ctx, `SELECT status, COUNT(*) FROM attorneys GROUP BY status`, st.ByStatus); err != nil {
		return nil, err
	}

	var err error
	st.TopPracticeAreas, err = s.topLabels(ctx,
		`SELECT label, COUNT(*) AS c FROM practice_areas GROUP BY label ORDER BY c DESC LIMIT 20`)
	if err != nil {
		return nil, err
	}
	st.TopFirms, err = s.topLabels(ctx,
		`SELECT fi.name, COUNT(*) AS c FROM attorneys a JOIN firms fi ON a.firm_id = fi.id
		 GROUP BY fi.name ORDER BY c DESC LIMIT 20`)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *PostgresStore) countInto(ctx context.Context, query string, dest map[string]int64) error {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return eris.Wrap(err, "postgres: stats query")
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return eris.Wrap(err, "postgres: stats scan")
		}
		dest[k] = n
	}
	return eris.Wrap(rows.Err(), "postgres: stats iterate")
}

func (s *PostgresStore) topLabels(ctx context.Context, query string) ([]LabelCount, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: top labels")
	}
	defer rows.Close()
	var out []LabelCount
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: top labels scan")
		}
		out = append(out, lc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: top labels iterate")
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context, sourceName string) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := s.pool.QueryRow(ctx,
		`SELECT source, cursor, updated_at, records_count FROM checkpoints WHERE source = $1`,
		sourceName,
	).Scan(&cp.Source, &cp.Cursor, &cp.UpdatedAt, &cp.RecordsCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load checkpoint %s", sourceName)
	}
	return &cp, nil
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, sourceName, cursor string, countDelta int64) error {
	_, err := s.pool.Exec(ctx, checkpointUpsert,
		sourceName, cursor, time.Now().UTC(), countDelta)
	return eris.Wrapf(err, "postgres: save checkpoint %s", sourceName)
}

func (s *PostgresStore) ResetCheckpoint(ctx context.Context, sourceName string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE source = $1`, sourceName)
	return eris.Wrapf(err, "postgres: reset checkpoint %s", sourceName)
}

func (s *PostgresStore) ListCheckpoints(ctx context.Context) ([]model.Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source, cursor, updated_at, records_count FROM checkpoints ORDER BY source`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list checkpoints")
	}
	defer rows.Close()
	var out []model.Checkpoint
	for rows.Next() {
		var cp model.Checkpoint
		if err := rows.Scan(&cp.Source, &cp.Cursor, &cp.UpdatedAt, &cp.RecordsCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan checkpoint")
		}
		out = append(out, cp)
	}
	return out, eris.Wrap(rows.Err(), "postgres: checkpoints iterate")
}

func (s *PostgresStore) StartRun(ctx context.Context, sourceName string) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_log (id, source, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, sourceName, string(model.RunStatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: start run for %s", sourceName)
	}
	return id, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, stats model.RunStats, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_log SET status = $1, completed_at = $2, pages = $3, fetched = $4,
			persisted = $5, skipped = $6, failed = $7, name_conflicts = $8, error = $9
		 WHERE id = $10`,
		string(status), time.Now().UTC(), stats.Pages, stats.Fetched,
		stats.Persisted, stats.Skipped, stats.Failed, stats.NameConflicts, nullString(errMsg),
		runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.RunEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, started_at, completed_at, pages, fetched,
			persisted, skipped, failed, name_conflicts, error
		 FROM run_log ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var entries []model.RunEntry
	for rows.Next() {
		var e model.RunEntry
		var completedAt *time.Time
		var errStr *string
		if err := rows.Scan(&e.ID, &e.Source, &e.Status, &e.StartedAt, &completedAt,
			&e.Stats.Pages, &e.Stats.Fetched, &e.Stats.Persisted, &e.Stats.Skipped,
			&e.Stats.Failed, &e.Stats.NameConflicts, &errStr); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		e.CompletedAt = completedAt
		if errStr != nil {
			e.Error = *errStr
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: runs iterate")
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

var _ Store = (*PostgresStore)(nil)

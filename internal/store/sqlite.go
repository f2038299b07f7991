package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/barharvest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Serialized writes keep the per-key critical sections simple; the
	// harvester's write volume is page-sized batches, not a hot path.
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
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS firms (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL,
	norm_name    TEXT NOT NULL,
	jurisdiction TEXT NOT NULL,
	city         TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(norm_name, jurisdiction)
);

CREATE TABLE IF NOT EXISTS attorneys (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	jurisdiction   TEXT NOT NULL,
	bar_number     TEXT NOT NULL,
	full_name      TEXT NOT NULL,
	first_name     TEXT,
	last_name      TEXT,
	status         TEXT NOT NULL DEFAULT 'other',
	admission_date DATETIME,
	city           TEXT,
	firm_id        INTEGER REFERENCES firms(id),
	phone          TEXT,
	email          TEXT,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(jurisdiction, bar_number)
);

CREATE TABLE IF NOT EXISTS practice_areas (
	attorney_id INTEGER NOT NULL REFERENCES attorneys(id),
	label       TEXT NOT NULL,
	UNIQUE(attorney_id, label)
);

CREATE TABLE IF NOT EXISTS run_log (
	id             TEXT PRIMARY KEY,
	source         TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'running',
	started_at     DATETIME NOT NULL,
	completed_at   DATETIME,
	pages          INTEGER NOT NULL DEFAULT 0,
	fetched        INTEGER NOT NULL DEFAULT 0,
	persisted      INTEGER NOT NULL DEFAULT 0,
	skipped        INTEGER NOT NULL DEFAULT 0,
	failed         INTEGER NOT NULL DEFAULT 0,
	name_conflicts INTEGER NOT NULL DEFAULT 0,
	error          TEXT
);

CREATE TABLE IF NOT EXISTS checkpoints (
	source        TEXT PRIMARY KEY,
	cursor        TEXT NOT NULL,
	updated_at    DATETIME NOT NULL,
	records_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_attorneys_status ON attorneys(status);
CREATE INDEX IF NOT EXISTS idx_attorneys_city ON attorneys(city);
CREATE INDEX IF NOT EXISTS idx_attorneys_name ON attorneys(last_name, first_name);
CREATE INDEX IF NOT EXISTS idx_practice_areas_label ON practice_areas(label);
CREATE INDEX IF NOT EXISTS idx_run_log_source ON run_log(source, started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertAttorney(ctx context.Context, a *model.Attorney) (UpsertOutcome, error) {
	var out UpsertOutcome

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return out, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()

	var firmID *int64
	if a.FirmName != "" {
		id, err := s.resolveFirm(ctx, tx, a, now)
		if err != nil {
			return out, err
		}
		firmID = &id
	}

	var (
		attorneyID   int64
		existingName string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, full_name FROM attorneys WHERE jurisdiction = ? AND bar_number = ?`,
		a.Jurisdiction, a.BarNumber,
	).Scan(&attorneyID, &existingName)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx,
			`INSERT INTO attorneys (jurisdiction, bar_number, full_name, first_name, last_name,
				status, admission_date, city, firm_id, phone, email, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.Jurisdiction, a.BarNumber, a.FullName, a.FirstName, a.LastName,
			string(a.Status), nullTime(a.AdmissionDate), a.City, firmID, a.Phone, a.Email, now, now,
		)
		if err != nil {
			return out, eris.Wrapf(err, "sqlite: insert attorney %s", a.Key())
		}
		attorneyID, err = res.LastInsertId()
		if err != nil {
			return out, eris.Wrap(err, "sqlite: last insert id")
		}
		out.Created = true
	case err != nil:
		return out, eris.Wrapf(err, "sqlite: lookup attorney %s", a.Key())
	default:
		out.NameConflict = existingName != a.FullName
		// Identity and admission date are immutable once set; the name is
		// overwritten only when the source reports a different one.
		_, err = tx.ExecContext(ctx,
			`UPDATE attorneys SET
				full_name = ?, first_name = ?, last_name = ?,
				status = ?, city = ?, firm_id = ?, phone = ?, email = ?,
				admission_date = COALESCE(admission_date, ?),
				updated_at = ?
			 WHERE id = ?`,
			a.FullName, a.FirstName, a.LastName,
			string(a.Status), a.City, firmID, a.Phone, a.Email,
			nullTime(a.AdmissionDate), now, attorneyID,
		)
		if err != nil {
			return out, eris.Wrapf(err, "sqlite: update attorney %s", a.Key())
		}
	}

	// The page snapshot is authoritative for the record's label set.
	if _, err := tx.ExecContext(ctx, `DELETE FROM practice_areas WHERE attorney_id = ?`, attorneyID); err != nil {
		return out, eris.Wrapf(err, "sqlite: clear practice areas for %s", a.Key())
	}
	for _, label := range a.PracticeAreas {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO practice_areas (attorney_id, label) VALUES (?, ?)`,
			attorneyID, label,
		); err != nil {
			return out, eris.Wrapf(err, "sqlite: insert practice area for %s", a.Key())
		}
	}

	if err := tx.Commit(); err != nil {
		return out, eris.Wrap(err, "sqlite: commit")
	}
	a.ID = attorneyID
	a.FirmID = firmID
	return out, nil
}

func (s *SQLiteStore) resolveFirm(ctx context.Context, tx *sql.Tx, a *model.Attorney, now time.Time) (int64, error) {
	norm := model.NormalizeFirmName(a.FirmName)

	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM firms WHERE norm_name = ? AND jurisdiction = ?`,
		norm, a.Jurisdiction,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, eris.Wrapf(err, "sqlite: lookup firm %q", norm)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO firms (name, norm_name, jurisdiction, city, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.FirmName, norm, a.Jurisdiction, a.City, now,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert firm %q", norm)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: firm insert id")
	}
	return id, nil
}

func (s *SQLiteStore) SearchAttorneys(ctx context.Context, f SearchFilter) ([]model.Attorney, error) {
	query := `SELECT DISTINCT a.id, a.jurisdiction, a.bar_number, a.full_name, a.first_name, a.last_name,
		a.status, a.admission_date, a.city, a.firm_id, COALESCE(fi.name, ''), a.phone, a.email,
		a.created_at, a.updated_at
		FROM attorneys a
		LEFT JOIN firms fi ON a.firm_id = fi.id
		LEFT JOIN practice_areas pa ON a.id = pa.attorney_id
		WHERE 1=1`
	var args []any

	if f.Jurisdiction != "" {
		query += ` AND a.jurisdiction = ?`
		args = append(args, f.Jurisdiction)
	}
	if f.Status != "" {
		query += ` AND a.status = ?`
		args = append(args, string(f.Status))
	}
	if f.City != "" {
		query += ` AND a.city LIKE ?`
		args = append(args, "%"+f.City+"%")
	}
	if f.Firm != "" {
		query += ` AND fi.name LIKE ?`
		args = append(args, "%"+f.Firm+"%")
	}
	if f.PracticeArea != "" {
		query += ` AND pa.label LIKE ?`
		args = append(args, "%"+f.PracticeArea+"%")
	}
	if f.Name != "" {
		query += ` AND (a.full_name LIKE ? OR a.last_name LIKE ?)`
		args = append(args, "%"+f.Name+"%", "%"+f.Name+"%")
	}
	query += ` ORDER BY a.last_name, a.first_name`

	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search attorneys")
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
		return nil, eris.Wrap(err, "sqlite: search iterate")
	}

	if err := s.attachPracticeAreas(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLiteStore) attachPracticeAreas(ctx context.Context, attorneys []model.Attorney) error {
	for i := range attorneys {
		rows, err := s.db.QueryContext(ctx,
			`SELECT label FROM practice_areas WHERE attorney_id = ? ORDER BY label`,
			attorneys[i].ID,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: load practice areas")
		}
		var labels []string
		for rows.Next() {
			var l string
			if err := rows.Scan(&l); err != nil {
				rows.Close()
				return eris.Wrap(err, "sqlite: scan practice area")
			}
			labels = append(labels, l)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return eris.Wrap(err, "sqlite: practice areas iterate")
		}
		attorneys[i].PracticeAreas = labels
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByJurisdiction: make(map[string]int64),
		ByStatus:       make(map[string]int64),
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attorneys`).Scan(&st.TotalAttorneys); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats total")
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

func (s *SQLiteStore) countInto(ctx context.Context, query string, dest map[string]int64) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return eris.Wrap(err, "sqlite: stats query")
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return eris.Wrap(err, "sqlite: stats scan")
		}
		dest[k] = n
	}
	return eris.Wrap(rows.Err(), "sqlite: stats iterate")
}

func (s *SQLiteStore) topLabels(ctx context.Context, query string) ([]LabelCount, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: top labels")
	}
	defer rows.Close()
	var out []LabelCount
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: top labels scan")
		}
		out = append(out, lc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: top labels iterate")
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, sourceName string) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := s.db.QueryRowContext(ctx,
		`SELECT source, cursor, updated_at, records_count FROM checkpoints WHERE source = ?`,
		sourceName,
	).Scan(&cp.Source, &cp.Cursor, &cp.UpdatedAt, &cp.RecordsCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load checkpoint %s", sourceName)
	}
	return &cp, nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, sourceName, cursor string, countDelta int64) error {
	// Single statement: a crashed process observes either the old or the new
	// checkpoint, never a torn one.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (source, cursor, updated_at, records_count)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(source) DO UPDATE SET
			cursor = excluded.cursor,
			updated_at = excluded.updated_at,
			records_count = checkpoints.records_count + ?`,
		sourceName, cursor, time.Now().UTC(), countDelta, countDelta,
	)
	return eris.Wrapf(err, "sqlite: save checkpoint %s", sourceName)
}

func (s *SQLiteStore) ResetCheckpoint(ctx context.Context, sourceName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE source = ?`, sourceName)
	return eris.Wrapf(err, "sqlite: reset checkpoint %s", sourceName)
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context) ([]model.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, cursor, updated_at, records_count FROM checkpoints ORDER BY source`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list checkpoints")
	}
	defer rows.Close()
	var out []model.Checkpoint
	for rows.Next() {
		var cp model.Checkpoint
		if err := rows.Scan(&cp.Source, &cp.Cursor, &cp.UpdatedAt, &cp.RecordsCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan checkpoint")
		}
		out = append(out, cp)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: checkpoints iterate")
}

func (s *SQLiteStore) StartRun(ctx context.Context, sourceName string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_log (id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		id, sourceName, string(model.RunStatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: start run for %s", sourceName)
	}
	return id, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, stats model.RunStats, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_log SET status = ?, completed_at = ?, pages = ?, fetched = ?,
			persisted = ?, skipped = ?, failed = ?, name_conflicts = ?, error = ?
		 WHERE id = ?`,
		string(status), time.Now().UTC(), stats.Pages, stats.Fetched,
		stats.Persisted, stats.Skipped, stats.Failed, stats.NameConflicts, nullString(errMsg),
		runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: run not found: %s", runID)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RunEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, started_at, completed_at, pages, fetched,
			persisted, skipped, failed, name_conflicts, error
		 FROM run_log ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var entries []model.RunEntry
	for rows.Next() {
		var e model.RunEntry
		var completedAt sql.NullTime
		var errStr sql.NullString
		if err := rows.Scan(&e.ID, &e.Source, &e.Status, &e.StartedAt, &completedAt,
			&e.Stats.Pages, &e.Stats.Fetched, &e.Stats.Persisted, &e.Stats.Skipped,
			&e.Stats.Failed, &e.Stats.NameConflicts, &errStr); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if completedAt.Valid {
			e.CompletedAt = &completedAt.Time
		}
		e.Error = errStr.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: runs iterate")
}

// helpers

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAttorney(row scannable) (*model.Attorney, error) {
	var a model.Attorney
	var firstName, lastName, city, phone, email sql.NullString
	var admission sql.NullTime
	var firmID sql.NullInt64

	err := row.Scan(&a.ID, &a.Jurisdiction, &a.BarNumber, &a.FullName, &firstName, &lastName,
		&a.Status, &admission, &city, &firmID, &a.FirmName, &phone, &email,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "scan attorney")
	}

	a.FirstName = firstName.String
	a.LastName = lastName.String
	a.City = city.String
	a.Phone = phone.String
	a.Email = email.String
	if admission.Valid {
		t := admission.Time
		a.AdmissionDate = &t
	}
	if firmID.Valid {
		id := firmID.Int64
		a.FirmID = &id
	}
	return &a, nil
}

var _ Store = (*SQLiteStore)(nil)

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/listing-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS listings (
	id                TEXT PRIMARY KEY,
	unit              TEXT NOT NULL,
	region            TEXT NOT NULL DEFAULT '',
	country           TEXT NOT NULL DEFAULT '',
	currency          TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	provider          TEXT NOT NULL DEFAULT '',
	url               TEXT NOT NULL DEFAULT '',
	price             INTEGER,
	price_display     TEXT NOT NULL DEFAULT '',
	previous_price    INTEGER,
	price_change_date DATETIME,
	street            TEXT NOT NULL DEFAULT '',
	city              TEXT NOT NULL DEFAULT '',
	address_region    TEXT NOT NULL DEFAULT '',
	postal_code       TEXT NOT NULL DEFAULT '',
	beds              INTEGER,
	baths             INTEGER,
	area_sqft         INTEGER,
	lat               REAL,
	lng               REAL,
	media             TEXT NOT NULL DEFAULT '[]',
	run_id            TEXT NOT NULL DEFAULT '',
	first_seen_at     DATETIME NOT NULL,
	last_seen_at      DATETIME NOT NULL,
	last_updated_at   DATETIME NOT NULL,
	removed_at        DATETIME,
	relisted_at       DATETIME,
	relist_count      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_listings_unit_status ON listings(unit, status);
CREATE INDEX IF NOT EXISTS idx_listings_last_seen ON listings(unit, last_seen_at);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	region       TEXT NOT NULL DEFAULT '',
	units        TEXT NOT NULL DEFAULT '[]',
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	counts       TEXT NOT NULL DEFAULT '{}',
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	details      TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Listings ---

var (
	sqliteListingSelect = "SELECT " + strings.Join(listingColumns, ", ") + " FROM listings"
	sqliteListingUpsert = buildSQLiteUpsert()
)

func buildSQLiteUpsert() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(listingColumns)), ", ")
	var sets []string
	for _, c := range listingColumns {
		switch c {
		case "id":
		case "first_seen_at":
			sets = append(sets, "first_seen_at = COALESCE(listings.first_seen_at, excluded.first_seen_at)")
		default:
			sets = append(sets, c+" = excluded."+c)
		}
	}
	return "INSERT INTO listings (" + strings.Join(listingColumns, ", ") + ") VALUES (" + placeholders +
		") ON CONFLICT(id) DO UPDATE SET " + strings.Join(sets, ", ")
}

func (s *SQLiteStore) GetListings(ctx context.Context, ids []string) (map[string]model.Listing, error) {
	out := make(map[string]model.Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	// SQLite caps bound parameters; query in slices.
	const maxParams = 500
	for start := 0; start < len(ids); start += maxParams {
		end := min(start+maxParams, len(ids))
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		query := sqliteListingSelect + ` WHERE id IN (` + placeholders(len(chunk)) + `)`

		listings, err := s.queryListings(ctx, query, args...)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: get listings")
		}
		for _, l := range listings {
			out[l.ID] = l
		}
	}
	return out, nil
}

func (s *SQLiteStore) ListListings(ctx context.Context, filter ListingFilter) ([]model.Listing, error) {
	query := sqliteListingSelect + ` WHERE 1=1`
	var args []any

	if filter.Unit != "" {
		query += ` AND unit = ?`
		args = append(args, filter.Unit)
	}
	if len(filter.Statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(filter.Statuses)) + `)`
		for _, st := range statusStrings(filter.Statuses) {
			args = append(args, st)
		}
	}
	if !filter.SeenBefore.IsZero() {
		query += ` AND last_seen_at < ?`
		args = append(args, filter.SeenBefore.UTC())
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	listings, err := s.queryListings(ctx, query, args...)
	return listings, eris.Wrap(err, "sqlite: list listings")
}

// UpsertListings writes all listings in one transaction. The stored
// first_seen_at always wins.
func (s *SQLiteStore) UpsertListings(ctx context.Context, listings []model.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert listings: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteListingUpsert)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert listings: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	for i := range listings {
		args, err := sqliteListingRow(&listings[i])
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "sqlite: upsert listing %s", listings[i].ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: upsert listings: commit")
}

func (s *SQLiteStore) queryListings(ctx context.Context, query string, args ...any) ([]model.Listing, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanSQLiteListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func sqliteListingRow(l *model.Listing) ([]any, error) {
	media := l.Media
	if media == nil {
		media = []string{}
	}
	mediaJSON, err := json.Marshal(media)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal media")
	}
	lat, lng := geoValues(l.Geo)
	return []any{
		l.ID, l.Unit, l.Region, l.Country, l.Currency, string(l.Status), l.Provider, l.URL,
		nullInt64(l.Price), l.PriceDisplay, nullInt64(l.PreviousPrice), nullTime(l.PriceChangedAt),
		l.Address.Street, l.Address.City, l.Address.Region, l.Address.PostalCode,
		nullInt(l.Beds), nullInt(l.Baths), nullInt(l.AreaSqft), lat, lng, string(mediaJSON),
		l.RunID, l.FirstSeenAt.UTC(), l.LastSeenAt.UTC(), l.LastUpdatedAt.UTC(),
		nullTime(l.RemovedAt), nullTime(l.RelistedAt), l.RelistCount,
	}, nil
}

func scanSQLiteListing(row scannable) (*model.Listing, error) {
	var l model.Listing
	var price, prevPrice, beds, baths, area sql.NullInt64
	var lat, lng sql.NullFloat64
	var priceChanged, removed, relisted sql.NullTime
	var mediaJSON string

	err := row.Scan(
		&l.ID, &l.Unit, &l.Region, &l.Country, &l.Currency, &l.Status, &l.Provider, &l.URL,
		&price, &l.PriceDisplay, &prevPrice, &priceChanged,
		&l.Address.Street, &l.Address.City, &l.Address.Region, &l.Address.PostalCode,
		&beds, &baths, &area, &lat, &lng, &mediaJSON,
		&l.RunID, &l.FirstSeenAt, &l.LastSeenAt, &l.LastUpdatedAt,
		&removed, &relisted, &l.RelistCount,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan listing")
	}

	l.Price = int64From(price)
	l.PreviousPrice = int64From(prevPrice)
	l.Beds = intFrom(beds)
	l.Baths = intFrom(baths)
	l.AreaSqft = intFrom(area)
	l.PriceChangedAt = timeFrom(priceChanged)
	l.RemovedAt = timeFrom(removed)
	l.RelistedAt = timeFrom(relisted)
	if lat.Valid && lng.Valid {
		l.Geo = &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	if mediaJSON != "" {
		if err := json.Unmarshal([]byte(mediaJSON), &l.Media); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal media")
		}
		if len(l.Media) == 0 {
			l.Media = nil
		}
	}
	return &l, nil
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	unitsJSON, err := json.Marshal(run.Units)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal units")
	}
	countsJSON, err := json.Marshal(run.Counts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counts")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, region, units, status, started_at, counts) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Region, string(unitsJSON), string(model.RunStatusRunning), run.StartedAt.UTC(), string(countsJSON),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
	}
	run.Status = model.RunStatusRunning
	return nil
}

// CompleteRun finalizes a running run. Runs that are already completed or
// failed are never rewritten.
func (s *SQLiteStore) CompleteRun(ctx context.Context, run *model.Run) error {
	countsJSON, err := json.Marshal(run.Counts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counts")
	}
	detailsJSON, err := json.Marshal(run.Details)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal details")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, counts = ?, duration_ms = ?, details = ? WHERE id = ? AND status = 'running'`,
		string(run.Status), nullTime(run.CompletedAt), string(countsJSON), run.Duration.Milliseconds(), string(detailsJSON), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", run.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRunFinalized, "sqlite: complete run %s", run.ID)
	}
	return nil
}

const sqliteRunSelect = `SELECT id, region, units, status, started_at, completed_at, counts, duration_ms, details FROM runs`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanSQLiteRun(s.db.QueryRowContext(ctx, sqliteRunSelect+` WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := sqliteRunSelect + ` WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Region != "" {
		query += ` AND region = ?`
		args = append(args, filter.Region)
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var r model.Run
	var unitsJSON, countsJSON string
	var detailsJSON sql.NullString
	var completed sql.NullTime
	var durationMs int64

	err := row.Scan(&r.ID, &r.Region, &unitsJSON, &r.Status, &r.StartedAt, &completed,
		&countsJSON, &durationMs, &detailsJSON)
	if err != nil {
		return nil, err
	}

	var details *[]byte
	if detailsJSON.Valid {
		b := []byte(detailsJSON.String)
		details = &b
	}
	if err := decodeRunJSON(&r, []byte(unitsJSON), []byte(countsJSON), details); err != nil {
		return nil, err
	}
	r.CompletedAt = timeFrom(completed)
	r.Duration = time.Duration(durationMs) * time.Millisecond
	return &r, nil
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func int64From(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func intFrom(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func timeFrom(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-sync/internal/db"
	"github.com/sells-group/listing-sync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
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
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. The caller owns the pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS listings (
	id                TEXT PRIMARY KEY,
	unit              TEXT NOT NULL,
	region            TEXT NOT NULL DEFAULT '',
	country           TEXT NOT NULL DEFAULT '',
	currency          TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	provider          TEXT NOT NULL DEFAULT '',
	url               TEXT NOT NULL DEFAULT '',
	price             BIGINT,
	price_display     TEXT NOT NULL DEFAULT '',
	previous_price    BIGINT,
	price_change_date TIMESTAMPTZ,
	street            TEXT NOT NULL DEFAULT '',
	city              TEXT NOT NULL DEFAULT '',
	address_region    TEXT NOT NULL DEFAULT '',
	postal_code       TEXT NOT NULL DEFAULT '',
	beds              INTEGER,
	baths             INTEGER,
	area_sqft         INTEGER,
	lat               DOUBLE PRECISION,
	lng               DOUBLE PRECISION,
	media             TEXT[] NOT NULL DEFAULT '{}',
	run_id            TEXT NOT NULL DEFAULT '',
	first_seen_at     TIMESTAMPTZ NOT NULL,
	last_seen_at      TIMESTAMPTZ NOT NULL,
	last_updated_at   TIMESTAMPTZ NOT NULL,
	removed_at        TIMESTAMPTZ,
	relisted_at       TIMESTAMPTZ,
	relist_count      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_listings_unit_status ON listings(unit, status);
CREATE INDEX IF NOT EXISTS idx_listings_last_seen ON listings(unit, last_seen_at);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	region       TEXT NOT NULL DEFAULT '',
	units        JSONB NOT NULL DEFAULT '[]',
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	counts       JSONB NOT NULL DEFAULT '{}',
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	details      JSONB
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

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

// --- Listings ---

var listingSelect = "SELECT " + strings.Join(listingColumns, ", ") + " FROM listings"

func (s *PostgresStore) GetListings(ctx context.Context, ids []string) (map[string]model.Listing, error) {
	out := make(map[string]model.Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, listingSelect+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get listings")
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanPgListing(rows)
		if err != nil {
			return nil, err
		}
		out[l.ID] = *l
	}
	return out, eris.Wrap(rows.Err(), "postgres: get listings iterate")
}

func (s *PostgresStore) ListListings(ctx context.Context, filter ListingFilter) ([]model.Listing, error) {
	query := listingSelect + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Unit != "" {
		query += fmt.Sprintf(` AND unit = $%d`, argIdx)
		args = append(args, filter.Unit)
		argIdx++
	}
	if len(filter.Statuses) > 0 {
		query += fmt.Sprintf(` AND status = ANY($%d)`, argIdx)
		args = append(args, statusStrings(filter.Statuses))
		argIdx++
	}
	if !filter.SeenBefore.IsZero() {
		query += fmt.Sprintf(` AND last_seen_at < $%d`, argIdx)
		args = append(args, filter.SeenBefore.UTC())
		argIdx++
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list listings")
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanPgListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, eris.Wrap(rows.Err(), "postgres: list listings iterate")
}

// UpsertListings writes listings through a temp table and a single
// INSERT ... ON CONFLICT. The stored first_seen_at always wins.
func (s *PostgresStore) UpsertListings(ctx context.Context, listings []model.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	rows := make([][]any, len(listings))
	for i := range listings {
		rows[i] = pgListingRow(&listings[i])
	}

	_, err := db.MergeRows(ctx, s.pool, db.Merge{
		Table:   "listings",
		Columns: listingColumns,
		Key:     "id",
		Keep:    []string{"first_seen_at"},
	}, rows)
	return eris.Wrapf(err, "postgres: upsert %d listings", len(listings))
}

func pgListingRow(l *model.Listing) []any {
	lat, lng := geoValues(l.Geo)
	media := l.Media
	if media == nil {
		media = []string{}
	}
	return []any{
		l.ID, l.Unit, l.Region, l.Country, l.Currency, string(l.Status), l.Provider, l.URL,
		l.Price, l.PriceDisplay, l.PreviousPrice, utcPtr(l.PriceChangedAt),
		l.Address.Street, l.Address.City, l.Address.Region, l.Address.PostalCode,
		l.Beds, l.Baths, l.AreaSqft, lat, lng, media,
		l.RunID, l.FirstSeenAt.UTC(), l.LastSeenAt.UTC(), l.LastUpdatedAt.UTC(),
		utcPtr(l.RemovedAt), utcPtr(l.RelistedAt), l.RelistCount,
	}
}

func scanPgListing(row pgx.Row) (*model.Listing, error) {
	var l model.Listing
	var lat, lng *float64
	err := row.Scan(
		&l.ID, &l.Unit, &l.Region, &l.Country, &l.Currency, &l.Status, &l.Provider, &l.URL,
		&l.Price, &l.PriceDisplay, &l.PreviousPrice, &l.PriceChangedAt,
		&l.Address.Street, &l.Address.City, &l.Address.Region, &l.Address.PostalCode,
		&l.Beds, &l.Baths, &l.AreaSqft, &lat, &lng, &l.Media,
		&l.RunID, &l.FirstSeenAt, &l.LastSeenAt, &l.LastUpdatedAt,
		&l.RemovedAt, &l.RelistedAt, &l.RelistCount,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan listing")
	}
	l.Geo = geoFrom(lat, lng)
	return &l, nil
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	unitsJSON, err := json.Marshal(run.Units)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal units")
	}
	countsJSON, err := json.Marshal(run.Counts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counts")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, region, units, status, started_at, counts) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Region, unitsJSON, string(model.RunStatusRunning), run.StartedAt.UTC(), countsJSON,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert run %s", run.ID)
	}
	run.Status = model.RunStatusRunning
	return nil
}

// CompleteRun finalizes a running run. Runs that are already completed or
// failed are never rewritten.
func (s *PostgresStore) CompleteRun(ctx context.Context, run *model.Run) error {
	countsJSON, err := json.Marshal(run.Counts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counts")
	}
	detailsJSON, err := json.Marshal(run.Details)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal details")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, completed_at = $2, counts = $3, duration_ms = $4, details = $5 WHERE id = $6 AND status = 'running'`,
		string(run.Status), utcPtr(run.CompletedAt), countsJSON, run.Duration.Milliseconds(), detailsJSON, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunFinalized, "postgres: complete run %s", run.ID)
	}
	return nil
}

const runSelect = `SELECT id, region, units, status, started_at, completed_at, counts, duration_ms, details FROM runs`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, runSelect+` WHERE id = $1`, runID))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := runSelect + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Region != "" {
		query += fmt.Sprintf(` AND region = $%d`, argIdx)
		args = append(args, filter.Region)
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var unitsJSON, countsJSON []byte
	var detailsNull *[]byte
	var durationMs int64

	err := row.Scan(&r.ID, &r.Region, &unitsJSON, &r.Status, &r.StartedAt, &r.CompletedAt,
		&countsJSON, &durationMs, &detailsNull)
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}
	if err := decodeRunJSON(&r, unitsJSON, countsJSON, detailsNull); err != nil {
		return nil, err
	}
	r.Duration = time.Duration(durationMs) * time.Millisecond
	return &r, nil
}

func decodeRunJSON(r *model.Run, units, counts []byte, details *[]byte) error {
	if len(units) > 0 {
		if err := json.Unmarshal(units, &r.Units); err != nil {
			return eris.Wrap(err, "unmarshal run units")
		}
	}
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &r.Counts); err != nil {
			return eris.Wrap(err, "unmarshal run counts")
		}
	}
	if details != nil && len(*details) > 0 {
		if err := json.Unmarshal(*details, &r.Details); err != nil {
			return eris.Wrap(err, "unmarshal run details")
		}
	}
	return nil
}

package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listingMerge() Merge {
	return Merge{
		Table:   "listings",
		Columns: []string{"id", "price", "status", "first_seen_at"},
		Key:     "id",
		Keep:    []string{"first_seen_at"},
	}
}

func TestMergeRows_NoRowsIsNoop(t *testing.T) {
	n, err := MergeRows(context.Background(), nil, listingMerge(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMergeRows_Validation(t *testing.T) {
	rows := [][]any{{"a", int64(1), "active", nil}}
	tests := []struct {
		name string
		m    Merge
		want string
	}{
		{"no table", Merge{Columns: []string{"id"}, Key: "id"}, "table required"},
		{"no columns", Merge{Table: "listings", Key: "id"}, "columns required"},
		{"no key", Merge{Table: "listings", Columns: []string{"id"}}, "key required"},
		{"key missing", Merge{Table: "listings", Columns: []string{"price"}, Key: "id"}, `key "id" not in columns`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MergeRows(context.Background(), nil, tt.m, rows)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMergeRows_StagesCopiesAndApplies(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	m := listingMerge()
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "stage_listings" \(LIKE "listings" INCLUDING DEFAULTS\) ON COMMIT DROP`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"stage_listings"}, m.Columns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "listings" .* FROM "stage_listings" ON CONFLICT \("id"\) DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := MergeRows(context.Background(), mock, m, [][]any{
		{"a", int64(389900), "active", nil},
		{"b", int64(420000), "just_listed", nil},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeRows_CopyFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	m := listingMerge()
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"stage_listings"}, m.Columns).
		WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	_, err = MergeRows(context.Background(), mock, m, [][]any{{"a", int64(1), "active", nil}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: merge listings: copy 1 rows")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeRows_BeginFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err = MergeRows(context.Background(), mock, listingMerge(), [][]any{{"a", int64(1), "active", nil}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin")
}

func TestMerge_SQLKeepsStoredColumns(t *testing.T) {
	sql := listingMerge().mergeSQL()

	assert.Contains(t, sql, `"price" = EXCLUDED."price"`)
	assert.Contains(t, sql, `"status" = EXCLUDED."status"`)
	assert.Contains(t, sql, `"first_seen_at" = COALESCE("listings"."first_seen_at", EXCLUDED."first_seen_at")`)
	assert.NotContains(t, sql, `"id" = EXCLUDED`)
}

func TestTableIdent(t *testing.T) {
	assert.Equal(t, `"listings"`, tableIdent("listings"))
	assert.Equal(t, `"public"."listings"`, tableIdent("public.listings"))
}

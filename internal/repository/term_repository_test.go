package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/msms-dev/msms-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestTermRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTermRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO school_terms")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	term := &models.SchoolTerm{
		StartDate: time.Date(2022, 9, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2022, 10, 21, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Create(context.Background(), nil, term))
	require.Equal(t, int64(3), term.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryAdvisoryLock(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTermRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(int64(termRegistryLockKey)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.AcquireRegistryLock(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryExistsOverlapping(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTermRepository(db)
	start := time.Date(2022, 9, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2022, 10, 21, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM school_terms WHERE start_date <= $2 AND end_date >= $1 AND id <> $3")).
		WithArgs(start, end, int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	overlaps, err := repo.ExistsOverlapping(context.Background(), nil, start, end, 7)
	require.NoError(t, err)
	require.True(t, overlaps)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM school_terms")).
		WithArgs(start, end, int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	overlaps, err = repo.ExistsOverlapping(context.Background(), nil, start, end, 0)
	require.NoError(t, err)
	require.False(t, overlaps)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryUpdateMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTermRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE school_terms SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	term := &models.SchoolTerm{ID: 99}
	err := repo.Update(context.Background(), nil, term)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/msms-dev/msms-api/internal/models"
)

func TestInvoiceRepositoryNextInvoiceNum(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewInvoiceRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(invoice_num), 0) + 1 FROM invoices WHERE student_num = $1")).
		WithArgs(int64(1005)).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(3))

	next, err := repo.NextInvoiceNum(context.Background(), nil, 1005)
	require.NoError(t, err)
	require.Equal(t, 3, next)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewInvoiceRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO invoices")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))

	invoice := &models.Invoice{
		BookingID:  1,
		StudentNum: 1005,
		InvoiceNum: 1,
		URN:        "1005-1",
		Price:      decimal.RequireFromString("18.00"),
		Currency:   "GBP",
	}
	require.NoError(t, repo.Create(context.Background(), nil, invoice))
	require.Equal(t, int64(12), invoice.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepositoryExistsForBooking(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewInvoiceRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM invoices WHERE booking_id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.ExistsForBooking(context.Background(), nil, 1)
	require.NoError(t, err)
	require.True(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM invoices")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err = repo.ExistsForBooking(context.Background(), nil, 2)
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepositoryMarkPaid(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewInvoiceRepository(db)
	paidAt := time.Date(2022, 11, 2, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE invoices SET is_paid = TRUE")).
		WithArgs("pay-ref", paidAt, "1005-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkPaid(context.Background(), "1005-1", "pay-ref", paidAt))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE invoices SET is_paid = TRUE")).
		WithArgs("pay-ref", paidAt, "1005-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.MarkPaid(context.Background(), "1005-1", "pay-ref", paidAt)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepositoryListByStudentUnpaginated(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewInvoiceRepository(db)
	rows := sqlmock.NewRows([]string{"id", "student_num", "invoice_num", "urn"})
	for i := 1; i <= 150; i++ {
		rows.AddRow(int64(i), int64(1005), i, models.FormatURN(1005, i))
	}
	mock.ExpectQuery(regexp.QuoteMeta("FROM invoices WHERE student_num = $1 ORDER BY invoice_num ASC")).
		WithArgs(int64(1005)).
		WillReturnRows(rows)

	invoices, err := repo.ListByStudent(context.Background(), 1005)
	require.NoError(t, err)
	require.Len(t, invoices, 150)
	require.Equal(t, "1005-150", invoices[149].URN)
	require.NoError(t, mock.ExpectationsWereMet())
}

package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msms-dev/msms-api/internal/models"
	"github.com/msms-dev/msms-api/pkg/config"
	appErrors "github.com/msms-dev/msms-api/pkg/errors"
)

type mockInvoiceRepo struct {
	byBooking map[int64]*models.Invoice
	byURN     map[string]*models.Invoice
	nextNum   int
	created   *models.Invoice
	updatedID int64
	newPrice  decimal.Decimal
	paidURN   string
}

func (m *mockInvoiceRepo) List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error) {
	var list []models.Invoice
	for _, inv := range m.byURN {
		if filter.StudentNum != nil && inv.StudentNum != *filter.StudentNum {
			continue
		}
		list = append(list, *inv)
	}
	return list, len(list), nil
}

func (m *mockInvoiceRepo) ListByStudent(ctx context.Context, studentNum int64) ([]models.Invoice, error) {
	var list []models.Invoice
	for num := 1; num <= len(m.byURN); num++ {
		if inv, ok := m.byURN[models.FormatURN(studentNum, num)]; ok {
			list = append(list, *inv)
		}
	}
	return list, nil
}

func (m *mockInvoiceRepo) FindByBooking(ctx context.Context, bookingID int64) (*models.Invoice, error) {
	if inv, ok := m.byBooking[bookingID]; ok {
		return inv, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockInvoiceRepo) FindByURN(ctx context.Context, urn string) (*models.Invoice, error) {
	if inv, ok := m.byURN[urn]; ok {
		copied := *inv
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockInvoiceRepo) ExistsForBooking(ctx context.Context, exec sqlx.ExtContext, bookingID int64) (bool, error) {
	_, ok := m.byBooking[bookingID]
	return ok, nil
}

func (m *mockInvoiceRepo) NextInvoiceNum(ctx context.Context, exec sqlx.ExtContext, studentNum int64) (int, error) {
	if m.nextNum == 0 {
		return 1, nil
	}
	return m.nextNum, nil
}

func (m *mockInvoiceRepo) Create(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error {
	if m.byBooking == nil {
		m.byBooking = make(map[int64]*models.Invoice)
	}
	if m.byURN == nil {
		m.byURN = make(map[string]*models.Invoice)
	}
	invoice.ID = int64(len(m.byURN) + 1)
	m.byBooking[invoice.BookingID] = invoice
	m.byURN[invoice.URN] = invoice
	m.created = invoice
	return nil
}

func (m *mockInvoiceRepo) UpdatePrice(ctx context.Context, exec sqlx.ExtContext, id int64, price decimal.Decimal) error {
	m.updatedID = id
	m.newPrice = price
	return nil
}

func (m *mockInvoiceRepo) MarkPaid(ctx context.Context, urn, paymentRef string, paidAt time.Time) error {
	inv, ok := m.byURN[urn]
	if !ok || inv.IsPaid {
		return sql.ErrNoRows
	}
	inv.IsPaid = true
	m.paidURN = urn
	return nil
}

func newInvoiceService(repo *mockInvoiceRepo) *InvoiceService {
	guardians := &mockUserReader{users: map[int64]models.User{
		5: {ID: 5, Role: models.RoleStudent, ParentID: ptrInt64(3)},
	}}
	return NewInvoiceService(repo, guardians, config.BillingConfig{}, nil)
}

func TestInvoicePriceTariff(t *testing.T) {
	svc := newInvoiceService(&mockInvoiceRepo{})

	price, err := svc.Price(models.Booking{NumOfLessons: 3, LessonDurationMins: 60})
	require.NoError(t, err)
	assert.Equal(t, "18.00", price.StringFixed(2))

	price, err = svc.Price(models.Booking{NumOfLessons: 1, LessonDurationMins: 45})
	require.NoError(t, err)
	assert.Equal(t, "4.50", price.StringFixed(2))
}

func TestInvoicePriceCeiling(t *testing.T) {
	svc := newInvoiceService(&mockInvoiceRepo{})

	_, err := svc.Price(models.Booking{NumOfLessons: 100000, LessonDurationMins: 60})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestInvoiceCreateForBooking(t *testing.T) {
	repo := &mockInvoiceRepo{}
	svc := newInvoiceService(repo)

	booking := models.Booking{ID: 9, StudentID: 5, NumOfLessons: 3, LessonDurationMins: 60}
	invoice, err := svc.CreateForBooking(context.Background(), nil, booking)
	require.NoError(t, err)

	assert.Equal(t, int64(1005), invoice.StudentNum)
	assert.Equal(t, 1, invoice.InvoiceNum)
	assert.Equal(t, "1005-1", invoice.URN)
	assert.Equal(t, "18.00", invoice.Price.StringFixed(2))
	assert.Equal(t, "GBP", invoice.Currency)
}

func TestInvoiceCreateForBookingIdempotent(t *testing.T) {
	repo := &mockInvoiceRepo{}
	svc := newInvoiceService(repo)

	booking := models.Booking{ID: 9, StudentID: 5, NumOfLessons: 3, LessonDurationMins: 60}
	first, err := svc.CreateForBooking(context.Background(), nil, booking)
	require.NoError(t, err)

	repo.created = nil
	second, err := svc.CreateForBooking(context.Background(), nil, booking)
	require.NoError(t, err)
	assert.Nil(t, repo.created, "no second invoice may be issued")
	assert.Equal(t, first.URN, second.URN)
}

func TestInvoiceSequencePerStudent(t *testing.T) {
	repo := &mockInvoiceRepo{nextNum: 3}
	svc := newInvoiceService(repo)

	invoice, err := svc.CreateForBooking(context.Background(), nil, models.Booking{ID: 12, StudentID: 5, NumOfLessons: 1, LessonDurationMins: 60})
	require.NoError(t, err)
	assert.Equal(t, 3, invoice.InvoiceNum)
	assert.Equal(t, "1005-3", invoice.URN)
}

func TestInvoiceUpdateForBookingKeepsIdentity(t *testing.T) {
	repo := &mockInvoiceRepo{}
	svc := newInvoiceService(repo)

	booking := models.Booking{ID: 9, StudentID: 5, NumOfLessons: 3, LessonDurationMins: 60}
	_, err := svc.CreateForBooking(context.Background(), nil, booking)
	require.NoError(t, err)

	booking.NumOfLessons = 5
	booking.LessonDurationMins = 30
	updated, err := svc.UpdateForBooking(context.Background(), nil, booking)
	require.NoError(t, err)

	assert.Equal(t, "1005-1", updated.URN)
	assert.Equal(t, "15.00", updated.Price.StringFixed(2))
	assert.Equal(t, "15.00", repo.newPrice.StringFixed(2))
}

func TestInvoiceMarkPaidOnce(t *testing.T) {
	repo := &mockInvoiceRepo{}
	svc := newInvoiceService(repo)

	_, err := svc.CreateForBooking(context.Background(), nil, models.Booking{ID: 9, StudentID: 5, NumOfLessons: 1, LessonDurationMins: 60})
	require.NoError(t, err)

	paid, err := svc.MarkPaid(context.Background(), "1005-1")
	require.NoError(t, err)
	assert.True(t, paid.IsPaid)
	require.NotNil(t, paid.PaymentRef)
	assert.NotEmpty(t, *paid.PaymentRef)

	_, err = svc.MarkPaid(context.Background(), "1005-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestInvoiceStatementFormats(t *testing.T) {
	repo := &mockInvoiceRepo{}
	svc := newInvoiceService(repo)

	_, err := svc.CreateForBooking(context.Background(), nil, models.Booking{ID: 9, StudentID: 5, NumOfLessons: 3, LessonDurationMins: 60})
	require.NoError(t, err)

	data, filename, err := svc.Statement(context.Background(), adminActor(), 1005, "csv")
	require.NoError(t, err)
	assert.Contains(t, string(data), "1005-1")
	assert.Contains(t, string(data), "18.00")
	assert.Contains(t, string(data), "TOTAL")
	assert.Contains(t, filename, "invoices-1005-")

	pdfData, _, err := svc.Statement(context.Background(), adminActor(), 1005, "pdf")
	require.NoError(t, err)
	assert.NotEmpty(t, pdfData)

	_, _, err = svc.Statement(context.Background(), adminActor(), 1005, "xlsx")
	require.Error(t, err)
}

func TestInvoiceStatementCoversEveryInvoice(t *testing.T) {
	repo := &mockInvoiceRepo{}
	svc := newInvoiceService(repo)

	for i := 1; i <= 120; i++ {
		repo.nextNum = i
		_, err := svc.CreateForBooking(context.Background(), nil, models.Booking{ID: int64(i), StudentID: 5, NumOfLessons: 1, LessonDurationMins: 60})
		require.NoError(t, err)
	}

	data, _, err := svc.Statement(context.Background(), studentActor(5), 1005, "csv")
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, "1005-1,")
	assert.Contains(t, text, "1005-120")
	assert.Contains(t, text, "720.00", "total must cover all 120 invoices")
}

func TestInvoiceStatementScopedToCaller(t *testing.T) {
	repo := &mockInvoiceRepo{}
	svc := newInvoiceService(repo)

	_, err := svc.CreateForBooking(context.Background(), nil, models.Booking{ID: 9, StudentID: 5, NumOfLessons: 1, LessonDurationMins: 60})
	require.NoError(t, err)

	_, _, err = svc.Statement(context.Background(), studentActor(6), 1005, "csv")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, _, err = svc.Statement(context.Background(), parentActor(3), 1005, "csv")
	require.NoError(t, err)
}

func TestInvoiceListScopedToCaller(t *testing.T) {
	repo := &mockInvoiceRepo{}
	svc := newInvoiceService(repo)

	_, err := svc.CreateForBooking(context.Background(), nil, models.Booking{ID: 9, StudentID: 5, NumOfLessons: 1, LessonDurationMins: 60})
	require.NoError(t, err)

	invoices, _, err := svc.List(context.Background(), studentActor(6), models.InvoiceFilter{})
	require.NoError(t, err)
	assert.Empty(t, invoices, "strangers must not see another student's invoices")

	_, _, err = svc.List(context.Background(), parentActor(3), models.InvoiceFilter{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestInvoiceGetScopedToCaller(t *testing.T) {
	repo := &mockInvoiceRepo{}
	svc := newInvoiceService(repo)

	_, err := svc.CreateForBooking(context.Background(), nil, models.Booking{ID: 9, StudentID: 5, NumOfLessons: 1, LessonDurationMins: 60})
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), studentActor(6), "1005-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	invoice, err := svc.Get(context.Background(), studentActor(5), "1005-1")
	require.NoError(t, err)
	assert.Equal(t, "1005-1", invoice.URN)
}

package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/msms-dev/msms-api/internal/models"
	"github.com/msms-dev/msms-api/internal/repository"
	"github.com/msms-dev/msms-api/pkg/config"
	appErrors "github.com/msms-dev/msms-api/pkg/errors"
	"github.com/msms-dev/msms-api/pkg/export"
)

type invoiceRepository interface {
	List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error)
	ListByStudent(ctx context.Context, studentNum int64) ([]models.Invoice, error)
	FindByBooking(ctx context.Context, bookingID int64) (*models.Invoice, error)
	FindByURN(ctx context.Context, urn string) (*models.Invoice, error)
	ExistsForBooking(ctx context.Context, exec sqlx.ExtContext, bookingID int64) (bool, error)
	NextInvoiceNum(ctx context.Context, exec sqlx.ExtContext, studentNum int64) (int, error)
	Create(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error
	UpdatePrice(ctx context.Context, exec sqlx.ExtContext, id int64, price decimal.Decimal) error
	MarkPaid(ctx context.Context, urn, paymentRef string, paidAt time.Time) error
}

// InvoiceService derives invoice amounts from booking cadence parameters and
// tracks payment state. Price follows a fixed linear tariff per lesson-minute
// computed with exact decimal arithmetic.
type InvoiceService struct {
	repo     invoiceRepository
	users    guardianReader
	currency string
	rate     decimal.Decimal
	maxPrice decimal.Decimal
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	logger   *zap.Logger
}

// NewInvoiceService constructs the invoice calculator from billing config.
func NewInvoiceService(repo invoiceRepository, users guardianReader, cfg config.BillingConfig, logger *zap.Logger) *InvoiceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	rate, err := decimal.NewFromString(cfg.RatePerLessonMinute)
	if err != nil || rate.IsNegative() {
		rate = decimal.NewFromFloat(0.10)
	}
	maxPrice, err := decimal.NewFromString(cfg.MaxPrice)
	if err != nil || !maxPrice.IsPositive() {
		maxPrice = decimal.NewFromInt(100000)
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "GBP"
	}
	return &InvoiceService{
		repo:     repo,
		users:    users,
		currency: currency,
		rate:     rate,
		maxPrice: maxPrice,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
	}
}

// Price applies the tariff to a booking's cadence: duration in minutes times
// lesson count times the per-minute rate, rounded to two decimal places.
func (s *InvoiceService) Price(booking models.Booking) (decimal.Decimal, error) {
	minutes := int64(booking.LessonDurationMins) * int64(booking.NumOfLessons)
	price := decimal.NewFromInt(minutes).Mul(s.rate).Round(2)
	if price.IsNegative() {
		return decimal.Zero, appErrors.Clone(appErrors.ErrValidation, "invoice price must not be negative")
	}
	if price.GreaterThanOrEqual(s.maxPrice) {
		return decimal.Zero, appErrors.Clone(appErrors.ErrValidation, "invoice price exceeds the maximum representable amount")
	}
	return price, nil
}

// CreateForBooking attaches a new invoice to the booking within the caller's
// transaction. If the booking already owns an invoice nothing changes:
// invoice identity is never replaced.
func (s *InvoiceService) CreateForBooking(ctx context.Context, exec sqlx.ExtContext, booking models.Booking) (*models.Invoice, error) {
	exists, err := s.repo.ExistsForBooking(ctx, exec, booking.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check booking invoice")
	}
	if exists {
		return s.repo.FindByBooking(ctx, booking.ID)
	}

	price, err := s.Price(booking)
	if err != nil {
		return nil, err
	}

	studentNum := booking.StudentID + models.StudentNumOffset
	invoiceNum, err := s.repo.NextInvoiceNum(ctx, exec, studentNum)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sequence invoice")
	}

	invoice := &models.Invoice{
		BookingID:  booking.ID,
		StudentNum: studentNum,
		InvoiceNum: invoiceNum,
		URN:        models.FormatURN(studentNum, invoiceNum),
		Price:      price,
		Currency:   s.currency,
	}

	if err := s.repo.Create(ctx, exec, invoice); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "invoice reference already in use")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create invoice")
	}
	return invoice, nil
}

// UpdateForBooking recomputes the invoice price after a booking edit. URN,
// student number and invoice number stay untouched.
func (s *InvoiceService) UpdateForBooking(ctx context.Context, exec sqlx.ExtContext, booking models.Booking) (*models.Invoice, error) {
	invoice, err := s.repo.FindByBooking(ctx, booking.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking invoice not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking invoice")
	}

	price, err := s.Price(booking)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdatePrice(ctx, exec, invoice.ID, price); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update invoice price")
	}
	invoice.Price = price
	return invoice, nil
}

// List returns paginated invoices. Students only see their own invoices and
// parents see a selected child's.
func (s *InvoiceService) List(ctx context.Context, actor *models.JWTClaims, filter models.InvoiceFilter) ([]models.Invoice, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	switch actor.Role {
	case models.RoleStudent:
		studentNum := actor.UserID + models.StudentNumOffset
		filter.StudentNum = &studentNum
	case models.RoleParent:
		if filter.StudentNum == nil {
			return nil, nil, errSelectChild("studentNum")
		}
		if err := authorizeStudent(ctx, s.users, actor, *filter.StudentNum-models.StudentNumOffset); err != nil {
			return nil, nil, err
		}
	}

	invoices, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list invoices")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}

	return invoices, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns an invoice by its unique reference number. Non-staff callers
// must own the invoice or be the student's guardian.
func (s *InvoiceService) Get(ctx context.Context, actor *models.JWTClaims, urn string) (*models.Invoice, error) {
	invoice, err := s.load(ctx, urn)
	if err != nil {
		return nil, err
	}
	if err := authorizeStudent(ctx, s.users, actor, invoice.StudentNum-models.StudentNumOffset); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *InvoiceService) load(ctx context.Context, urn string) (*models.Invoice, error) {
	invoice, err := s.repo.FindByURN(ctx, urn)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice")
	}
	return invoice, nil
}

// GetForBooking returns the invoice attached to a booking.
func (s *InvoiceService) GetForBooking(ctx context.Context, bookingID int64) (*models.Invoice, error) {
	invoice, err := s.repo.FindByBooking(ctx, bookingID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice")
	}
	return invoice, nil
}

// MarkPaid flips an invoice's paid flag exactly once, recording a payment
// reference. Called by the external payment collaborator.
func (s *InvoiceService) MarkPaid(ctx context.Context, urn string) (*models.Invoice, error) {
	invoice, err := s.load(ctx, urn)
	if err != nil {
		return nil, err
	}
	if invoice.IsPaid {
		return nil, appErrors.Clone(appErrors.ErrConflict, "invoice has already been paid")
	}

	paymentRef := uuid.NewString()
	paidAt := time.Now().UTC()
	if err := s.repo.MarkPaid(ctx, urn, paymentRef, paidAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrConflict, "invoice has already been paid")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark invoice paid")
	}

	invoice.IsPaid = true
	invoice.PaymentRef = &paymentRef
	invoice.PaidAt = &paidAt
	return invoice, nil
}

// Statement renders a student's complete invoice history as a downloadable
// CSV or PDF file. The listing is unpaginated so the TOTAL row always covers
// every invoice.
func (s *InvoiceService) Statement(ctx context.Context, actor *models.JWTClaims, studentNum int64, format string) ([]byte, string, error) {
	if err := authorizeStudent(ctx, s.users, actor, studentNum-models.StudentNumOffset); err != nil {
		return nil, "", err
	}

	invoices, err := s.repo.ListByStudent(ctx, studentNum)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoices")
	}

	dataset := export.Dataset{
		Headers: []string{"URN", "Price", "Currency", "Paid", "Issued"},
	}
	total := decimal.Zero
	for _, invoice := range invoices {
		paid := "no"
		if invoice.IsPaid {
			paid = "yes"
		}
		total = total.Add(invoice.Price)
		dataset.Rows = append(dataset.Rows, map[string]string{
			"URN":      invoice.URN,
			"Price":    invoice.Price.StringFixed(2),
			"Currency": invoice.Currency,
			"Paid":     paid,
			"Issued":   invoice.CreatedAt.Format("2006-01-02"),
		})
	}
	dataset.Footer = map[string]string{
		"URN":   "TOTAL",
		"Price": total.StringFixed(2),
	}

	filename := fmt.Sprintf("invoices-%d-%s.%s", studentNum, uuid.NewString()[:8], format)

	switch format {
	case "pdf":
		payload, err := s.pdf.Render(dataset, fmt.Sprintf("Invoice statement %d", studentNum))
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render statement")
		}
		return payload, filename, nil
	case "csv":
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render statement")
		}
		return payload, filename, nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported statement format")
	}
}

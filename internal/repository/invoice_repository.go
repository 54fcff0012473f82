package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/msms-dev/msms-api/internal/models"
)

const invoiceColumns = "id, booking_id, student_num, invoice_num, urn, price, currency, is_paid, payment_ref, paid_at, created_at, updated_at"

// InvoiceRepository persists derived invoices.
type InvoiceRepository struct {
	db *sqlx.DB
}

// NewInvoiceRepository instantiates an invoice repository.
func NewInvoiceRepository(db *sqlx.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// List returns invoices matching provided filters.
func (r *InvoiceRepository) List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error) {
	base := "FROM invoices WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.StudentNum != nil {
		conditions = append(conditions, fmt.Sprintf("student_num = $%d", len(args)+1))
		args = append(args, *filter.StudentNum)
	}
	if filter.IsPaid != nil {
		conditions = append(conditions, fmt.Sprintf("is_paid = $%d", len(args)+1))
		args = append(args, *filter.IsPaid)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"created_at":  true,
		"invoice_num": true,
		"price":       true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", invoiceColumns, base, sortBy, order, size, offset)

	var invoices []models.Invoice
	if err := r.db.SelectContext(ctx, &invoices, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	return invoices, total, nil
}

// ListByStudent returns every invoice issued to a student in invoice number
// order, without pagination. Used for statement exports.
func (r *InvoiceRepository) ListByStudent(ctx context.Context, studentNum int64) ([]models.Invoice, error) {
	query := fmt.Sprintf("SELECT %s FROM invoices WHERE student_num = $1 ORDER BY invoice_num ASC", invoiceColumns)
	var invoices []models.Invoice
	if err := r.db.SelectContext(ctx, &invoices, query, studentNum); err != nil {
		return nil, fmt.Errorf("list student invoices: %w", err)
	}
	return invoices, nil
}

// FindByBooking loads the invoice attached to a booking.
func (r *InvoiceRepository) FindByBooking(ctx context.Context, bookingID int64) (*models.Invoice, error) {
	query := fmt.Sprintf("SELECT %s FROM invoices WHERE booking_id = $1", invoiceColumns)
	var invoice models.Invoice
	if err := r.db.GetContext(ctx, &invoice, query, bookingID); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// FindByURN loads an invoice by its unique reference number.
func (r *InvoiceRepository) FindByURN(ctx context.Context, urn string) (*models.Invoice, error) {
	query := fmt.Sprintf("SELECT %s FROM invoices WHERE urn = $1", invoiceColumns)
	var invoice models.Invoice
	if err := r.db.GetContext(ctx, &invoice, query, urn); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// ExistsForBooking reports whether the booking already owns an invoice.
func (r *InvoiceRepository) ExistsForBooking(ctx context.Context, exec sqlx.ExtContext, bookingID int64) (bool, error) {
	const query = `SELECT 1 FROM invoices WHERE booking_id = $1 LIMIT 1`
	var exists int
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query, bookingID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check invoice existence: %w", err)
	}
	return true, nil
}

// NextInvoiceNum computes the next number in a student's invoice sequence.
// Call within the booking transaction so the unique constraint on
// (student_num, invoice_num) converts races into write failures.
func (r *InvoiceRepository) NextInvoiceNum(ctx context.Context, exec sqlx.ExtContext, studentNum int64) (int, error) {
	const query = `SELECT COALESCE(MAX(invoice_num), 0) + 1 FROM invoices WHERE student_num = $1`
	var next int
	if err := sqlx.GetContext(ctx, r.exec(exec), &next, query, studentNum); err != nil {
		return 0, fmt.Errorf("compute next invoice number: %w", err)
	}
	return next, nil
}

// Create inserts an invoice record.
func (r *InvoiceRepository) Create(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error {
	now := time.Now().UTC()
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	invoice.UpdatedAt = now

	const query = `
INSERT INTO invoices (booking_id, student_num, invoice_num, urn, price, currency, is_paid, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`
	if err := sqlx.GetContext(ctx, r.exec(exec), &invoice.ID, query,
		invoice.BookingID, invoice.StudentNum, invoice.InvoiceNum, invoice.URN,
		invoice.Price, invoice.Currency, invoice.IsPaid, invoice.CreatedAt, invoice.UpdatedAt,
	); err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}
	return nil
}

// UpdatePrice recomputes only the monetary amount; identity fields stay put.
func (r *InvoiceRepository) UpdatePrice(ctx context.Context, exec sqlx.ExtContext, id int64, price decimal.Decimal) error {
	const query = `UPDATE invoices SET price = $1, updated_at = $2 WHERE id = $3`
	result, err := r.exec(exec).ExecContext(ctx, query, price, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update invoice price: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("invoice rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkPaid flips the paid flag once, recording the payment reference.
func (r *InvoiceRepository) MarkPaid(ctx context.Context, urn, paymentRef string, paidAt time.Time) error {
	const query = `
UPDATE invoices SET is_paid = TRUE, payment_ref = $1, paid_at = $2, updated_at = $2
WHERE urn = $3 AND is_paid = FALSE`
	result, err := r.db.ExecContext(ctx, query, paymentRef, paidAt, urn)
	if err != nil {
		return fmt.Errorf("mark invoice paid: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("invoice rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

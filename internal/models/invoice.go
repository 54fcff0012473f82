package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is the derived monetary record attached to a booking. StudentNum
// and InvoiceNum form the identity and never change once issued; only the
// price tracks subsequent booking edits.
type Invoice struct {
	ID         int64           `db:"id" json:"id"`
	BookingID  int64           `db:"booking_id" json:"booking_id"`
	StudentNum int64           `db:"student_num" json:"student_num"`
	InvoiceNum int             `db:"invoice_num" json:"invoice_num"`
	URN        string          `db:"urn" json:"urn"`
	Price      decimal.Decimal `db:"price" json:"price"`
	Currency   string          `db:"currency" json:"currency"`
	IsPaid     bool            `db:"is_paid" json:"is_paid"`
	PaymentRef *string         `db:"payment_ref" json:"payment_ref,omitempty"`
	PaidAt     *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// StudentNumOffset is added to the owning user's id to form the student
// reference that prefixes every URN.
const StudentNumOffset = 1000

// FormatURN builds the human-readable unique reference for an invoice.
func FormatURN(studentNum int64, invoiceNum int) string {
	return fmt.Sprintf("%d-%d", studentNum, invoiceNum)
}

// InvoiceFilter defines filters supported by invoice list endpoints.
type InvoiceFilter struct {
	StudentNum *int64
	IsPaid     *bool
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

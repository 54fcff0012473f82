package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/msms-dev/msms-api/internal/middleware"
	"github.com/msms-dev/msms-api/internal/models"
	"github.com/msms-dev/msms-api/internal/service"
	appErrors "github.com/msms-dev/msms-api/pkg/errors"
	"github.com/msms-dev/msms-api/pkg/response"
)

// InvoiceHandler exposes invoice endpoints.
type InvoiceHandler struct {
	service *service.InvoiceService
}

// NewInvoiceHandler constructs an invoice handler.
func NewInvoiceHandler(svc *service.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{service: svc}
}

// List godoc
// @Summary List invoices
// @Tags Invoices
// @Produce json
// @Param studentNum query int false "Filter by student number"
// @Param paid query bool false "Filter by paid flag"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /invoices [get]
func (h *InvoiceHandler) List(c *gin.Context) {
	var filter models.InvoiceFilter
	if studentNum, err := strconv.ParseInt(c.Query("studentNum"), 10, 64); err == nil {
		filter.StudentNum = &studentNum
	}
	if paid := c.Query("paid"); paid != "" {
		if val, err := strconv.ParseBool(paid); err == nil {
			filter.IsPaid = &val
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	invoices, pagination, err := h.service.List(c.Request.Context(), middleware.CurrentUser(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoices, pagination)
}

// Get godoc
// @Summary Get an invoice by its URN
// @Tags Invoices
// @Produce json
// @Param urn path string true "Invoice URN"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /invoices/{urn} [get]
func (h *InvoiceHandler) Get(c *gin.Context) {
	invoice, err := h.service.Get(c.Request.Context(), middleware.CurrentUser(c), c.Param("urn"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoice, nil)
}

// MarkPaid godoc
// @Summary Mark an invoice as paid
// @Tags Invoices
// @Produce json
// @Param urn path string true "Invoice URN"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /invoices/{urn}/pay [post]
func (h *InvoiceHandler) MarkPaid(c *gin.Context) {
	invoice, err := h.service.MarkPaid(c.Request.Context(), c.Param("urn"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoice, nil)
}

// Statement godoc
// @Summary Download a student's invoice statement
// @Tags Invoices
// @Produce application/octet-stream
// @Param studentNum path int true "Student number"
// @Param format query string false "Export format (csv or pdf)"
// @Success 200 {file} binary
// @Security BearerAuth
// @Router /invoices/statement/{studentNum} [get]
func (h *InvoiceHandler) Statement(c *gin.Context) {
	studentNum, err := strconv.ParseInt(c.Param("studentNum"), 10, 64)
	if err != nil || studentNum <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid student number"))
		return
	}

	format := strings.ToLower(c.DefaultQuery("format", "csv"))
	data, filename, err := h.service.Statement(c.Request.Context(), middleware.CurrentUser(c), studentNum, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	contentType := "text/csv"
	if format == "pdf" {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, data)
}

package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for invoices and payments.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs billing handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/invoices", h.handleListInvoices)
	r.Post("/invoices", h.handleCreateInvoice)
	r.Get("/invoices/{id}", h.handleGetInvoice)
	r.Post("/invoices/{id}/payments", h.handlePayInvoice)
	r.Get("/invoices/{id}/payments", h.handleListInvoicePayments)
	r.Post("/purchase-orders/{id}/payments", h.handlePayPurchaseOrder)
}

type createInvoiceRequest struct {
	SalesOrderID int64                `json:"sales_order_id,omitempty"`
	CustomerID   int64                `json:"customer_id,omitempty"`
	ShippingCost float64              `json:"shipping_cost" validate:"gte=0"`
	Notes        string               `json:"notes,omitempty"`
	IssueDate    string               `json:"issue_date,omitempty"`
	DueDate      string               `json:"due_date,omitempty"`
	Items        []invoiceItemRequest `json:"items,omitempty" validate:"dive"`
}

type invoiceItemRequest struct {
	ProductID   int64   `json:"product_id,omitempty"`
	Description string  `json:"description,omitempty"`
	Quantity    float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
	Discount    float64 `json:"discount" validate:"gte=0"`
	Tax         float64 `json:"tax" validate:"gte=0"`
}

type paymentRequest struct {
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	Method    string  `json:"method" validate:"required"`
	Reference string  `json:"reference,omitempty"`
	Notes     string  `json:"notes,omitempty"`
}

func (h *Handler) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateInvoiceInput{
		Identity:     identity,
		SalesOrderID: req.SalesOrderID,
		CustomerID:   req.CustomerID,
		ShippingCost: req.ShippingCost,
		Notes:        req.Notes,
	}
	var err error
	if input.IssueDate, err = parseDate(req.IssueDate); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "issue_date must be YYYY-MM-DD")
		return
	}
	if input.DueDate, err = parseDate(req.DueDate); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "due_date must be YYYY-MM-DD")
		return
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, InvoiceItemInput{
			ProductID:   item.ProductID,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Discount:    item.Discount,
			Tax:         item.Tax,
		})
	}
	inv, err := h.service.CreateInvoice(r.Context(), input)
	if err != nil {
		h.respondErr(w, r, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), identity, id)
	if err != nil {
		h.respondErr(w, r, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	q := r.URL.Query()
	filter := InvoiceFilter{
		Status:     InvoiceStatus(q.Get("status")),
		CustomerID: parseQueryID(q.Get("customer_id")),
		Search:     q.Get("search"),
		Overdue:    q.Get("overdue") == "true",
	}
	if from, err := parseDate(q.Get("from")); err == nil {
		filter.From = from
	}
	if to, err := parseDate(q.Get("to")); err == nil && !to.IsZero() {
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	page := shared.Pagination{
		Page:    int(parseQueryID(q.Get("page"))),
		PerPage: int(parseQueryID(q.Get("per_page"))),
	}
	if page.PerPage <= 0 {
		page.PerPage = 20
	}
	if page.Page <= 0 {
		page.Page = 1
	}
	invoices, pagination, err := h.service.ListInvoices(r.Context(), identity, filter, page)
	if err != nil {
		h.respondErr(w, r, "list invoices", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": invoices, "pagination": pagination})
}

func (h *Handler) handlePayInvoice(w http.ResponseWriter, r *http.Request) {
	h.handlePayment(w, r, TargetInvoice)
}

func (h *Handler) handlePayPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	h.handlePayment(w, r, TargetPurchaseOrder)
}

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request, target PaymentTarget) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid target id")
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := PaymentInput{
		Identity:  identity,
		TargetID:  id,
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
		Notes:     req.Notes,
	}
	var payment Payment
	if target == TargetInvoice {
		payment, err = h.service.CreateForInvoice(r.Context(), input)
	} else {
		payment, err = h.service.CreateForPurchaseOrder(r.Context(), input)
	}
	if err != nil {
		h.respondErr(w, r, "create payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) handleListInvoicePayments(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	payments, err := h.service.Payments(r.Context(), identity, TargetInvoice, id)
	if err != nil {
		h.respondErr(w, r, "list payments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, payments)
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrEmptyInvoice):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.RespondError(w, err)
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func parseQueryID(s string) int64 {
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

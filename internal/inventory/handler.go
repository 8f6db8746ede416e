package inventory

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

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/levels", h.handleLevels)
	r.Get("/movements", h.handleMovements)
	r.Get("/low-stock", h.handleLowStock)
	r.Get("/valuation", h.handleValuation)
	r.Post("/add", h.handleAdd)
	r.Post("/remove", h.handleRemove)
	r.Post("/adjust", h.handleAdjust)
	r.Post("/transfer", h.handleTransfer)
}

type stockRequest struct {
	ProductID   int64   `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64   `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    float64 `json:"quantity" validate:"required,gt=0"`
	UnitCost    float64 `json:"unit_cost" validate:"gte=0"`
	Notes       string  `json:"notes,omitempty"`
}

type adjustRequest struct {
	ProductID   int64   `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64   `json:"warehouse_id" validate:"required,gt=0"`
	NewQuantity float64 `json:"new_quantity" validate:"gte=0"`
	Notes       string  `json:"notes,omitempty"`
}

type transferRequest struct {
	ProductID       int64   `json:"product_id" validate:"required,gt=0"`
	FromWarehouseID int64   `json:"from_warehouse_id" validate:"required,gt=0"`
	ToWarehouseID   int64   `json:"to_warehouse_id" validate:"required,gt=0"`
	Quantity        float64 `json:"quantity" validate:"required,gt=0"`
	Notes           string  `json:"notes,omitempty"`
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	var req stockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	level, err := h.service.AddStock(r.Context(), AddStockInput{
		Identity:    identity,
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Quantity:    req.Quantity,
		UnitCost:    req.UnitCost,
		Ref:         RefMeta{Type: RefOther, Notes: req.Notes},
	})
	if err != nil {
		h.respondErr(w, r, "add stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	var req stockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	level, err := h.service.RemoveStock(r.Context(), RemoveStockInput{
		Identity:    identity,
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Quantity:    req.Quantity,
		Ref:         RefMeta{Type: RefOther, Notes: req.Notes},
	})
	if err != nil {
		h.respondErr(w, r, "remove stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	level, err := h.service.AdjustStock(r.Context(), AdjustStockInput{
		Identity:    identity,
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		NewQuantity: req.NewQuantity,
		Notes:       req.Notes,
	})
	if err != nil {
		h.respondErr(w, r, "adjust stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.TransferStock(r.Context(), TransferStockInput{
		Identity:        identity,
		ProductID:       req.ProductID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Quantity:        req.Quantity,
		Notes:           req.Notes,
	})
	if err != nil {
		h.respondErr(w, r, "transfer stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleLevels(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	q := r.URL.Query()
	productID := parseID(q.Get("product_id"))
	warehouseID := parseID(q.Get("warehouse_id"))
	switch {
	case productID != 0 && warehouseID != 0:
		level, err := h.service.Level(r.Context(), identity, productID, warehouseID)
		if err != nil {
			h.respondErr(w, r, "get level", err)
			return
		}
		httpx.JSON(w, http.StatusOK, level)
	case productID != 0:
		levels, err := h.service.LevelsByProduct(r.Context(), identity, productID)
		if err != nil {
			h.respondErr(w, r, "list levels", err)
			return
		}
		httpx.JSON(w, http.StatusOK, levels)
	case warehouseID != 0:
		levels, err := h.service.LevelsByWarehouse(r.Context(), identity, warehouseID)
		if err != nil {
			h.respondErr(w, r, "list levels", err)
			return
		}
		httpx.JSON(w, http.StatusOK, levels)
	default:
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "product_id or warehouse_id required")
	}
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	q := r.URL.Query()
	filter := MovementFilter{
		ProductID:     parseID(q.Get("product_id")),
		WarehouseID:   parseID(q.Get("warehouse_id")),
		Action:        MovementAction(q.Get("action")),
		ReferenceType: ReferenceType(q.Get("reference_type")),
		ReferenceID:   parseID(q.Get("reference_id")),
		Limit:         int(parseID(q.Get("limit"))),
		Offset:        int(parseID(q.Get("offset"))),
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse("2006-01-02", from); err == nil {
			filter.From = t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse("2006-01-02", to); err == nil {
			filter.To = t.Add(24*time.Hour - time.Nanosecond)
		}
	}
	movements, err := h.service.Movements(r.Context(), identity, filter)
	if err != nil {
		h.respondErr(w, r, "list movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	items, err := h.service.LowStock(r.Context(), identity, parseID(r.URL.Query().Get("warehouse_id")))
	if err != nil {
		h.respondErr(w, r, "low stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) handleValuation(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
		return
	}
	rows, err := h.service.Valuation(r.Context(), identity, parseID(r.URL.Query().Get("warehouse_id")))
	if err != nil {
		h.respondErr(w, r, "valuation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.RespondError(w, err)
	}
}

func parseID(s string) int64 {
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

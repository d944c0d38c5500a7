package inventory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// IdempotencyHeader carries the client supplied request key.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock-levels", h.getStockLevel)
	r.Get("/ledger", h.listLedger)
	r.Post("/receipts", h.postReceipt)
	r.Post("/adjustments", h.postAdjustment)
	r.Post("/transfers", h.postTransfer)
	r.Post("/reservations", h.reserve)
	r.Post("/reservations/release", h.release)
}

type movementRequest struct {
	ProductID     int64           `json:"product_id" validate:"required,gt=0"`
	VariantID     int64           `json:"variant_id" validate:"gte=0"`
	WarehouseID   int64           `json:"warehouse_id" validate:"required,gt=0"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	ReferenceType string          `json:"reference_type" validate:"max=64"`
	ReferenceID   string          `json:"reference_id" validate:"max=128"`
	Note          string          `json:"note" validate:"max=500"`
}

type transferRequest struct {
	ProductID         int64           `json:"product_id" validate:"required,gt=0"`
	VariantID         int64           `json:"variant_id" validate:"gte=0"`
	SourceWarehouseID int64           `json:"source_warehouse_id" validate:"required,gt=0"`
	DestWarehouseID   int64           `json:"dest_warehouse_id" validate:"required,gt=0,nefield=SourceWarehouseID"`
	Quantity          decimal.Decimal `json:"quantity"`
	ReferenceType     string          `json:"reference_type" validate:"max=64"`
	ReferenceID       string          `json:"reference_id" validate:"max=128"`
	Note              string          `json:"note" validate:"max=500"`
}

type reservationRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	VariantID   int64           `json:"variant_id" validate:"gte=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity"`
}

func (h *Handler) postReceipt(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		h.respondError(w, err)
		return
	}
	ctx := r.Context()
	entry, err := h.service.PostReceipt(ctx, ReceiptInput{
		TenantID:       shared.TenantFromContext(ctx),
		ProductID:      req.ProductID,
		VariantID:      req.VariantID,
		WarehouseID:    req.WarehouseID,
		Quantity:       req.Quantity,
		UnitCost:       req.UnitCost,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		Note:           req.Note,
		ActorID:        shared.ActorFromContext(ctx),
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) postAdjustment(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		h.respondError(w, err)
		return
	}
	ctx := r.Context()
	entry, err := h.service.PostAdjustment(ctx, AdjustmentInput{
		TenantID:       shared.TenantFromContext(ctx),
		ProductID:      req.ProductID,
		VariantID:      req.VariantID,
		WarehouseID:    req.WarehouseID,
		Quantity:       req.Quantity,
		UnitCost:       req.UnitCost,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		Note:           req.Note,
		ActorID:        shared.ActorFromContext(ctx),
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.logger.Info("stock adjusted",
		slog.Int64("tenant_id", entry.TenantID),
		slog.Int64("product_id", entry.ProductID),
		slog.String("quantity", entry.Quantity.String()))
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) postTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		h.respondError(w, err)
		return
	}
	ctx := r.Context()
	out, in, err := h.service.PostTransfer(ctx, TransferInput{
		TenantID:          shared.TenantFromContext(ctx),
		ProductID:         req.ProductID,
		VariantID:         req.VariantID,
		SourceWarehouseID: req.SourceWarehouseID,
		DestWarehouseID:   req.DestWarehouseID,
		Quantity:          req.Quantity,
		ReferenceType:     req.ReferenceType,
		ReferenceID:       req.ReferenceID,
		Note:              req.Note,
		ActorID:           shared.ActorFromContext(ctx),
		IdempotencyKey:    r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]LedgerEntry{"out": out, "in": in})
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	h.handleReservation(w, r, h.service.Reserve)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	h.handleReservation(w, r, h.service.ReleaseReservation)
}

func (h *Handler) handleReservation(w http.ResponseWriter, r *http.Request, op func(context.Context, ReservationInput) (StockLevel, error)) {
	var req reservationRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		h.respondError(w, err)
		return
	}
	ctx := r.Context()
	level, err := op(ctx, ReservationInput{
		Key: StockKey{
			TenantID:    shared.TenantFromContext(ctx),
			ProductID:   req.ProductID,
			VariantID:   req.VariantID,
			WarehouseID: req.WarehouseID,
		},
		Quantity: req.Quantity,
		ActorID:  shared.ActorFromContext(ctx),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, levelResponse(level))
}

func (h *Handler) getStockLevel(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := StockKey{TenantID: shared.TenantFromContext(r.Context())}
	var err error
	if key.ProductID, err = queryInt(q.Get("product_id"), true); err != nil {
		h.respondError(w, err)
		return
	}
	if key.WarehouseID, err = queryInt(q.Get("warehouse_id"), true); err != nil {
		h.respondError(w, err)
		return
	}
	if key.VariantID, err = queryInt(q.Get("variant_id"), false); err != nil {
		h.respondError(w, err)
		return
	}
	level, err := h.service.GetStockLevel(r.Context(), key)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, levelResponse(level))
}

func (h *Handler) listLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := LedgerFilter{TenantID: shared.TenantFromContext(r.Context())}
	var err error
	if filter.ProductID, err = queryInt(q.Get("product_id"), false); err != nil {
		h.respondError(w, err)
		return
	}
	if filter.WarehouseID, err = queryInt(q.Get("warehouse_id"), false); err != nil {
		h.respondError(w, err)
		return
	}
	if v := q.Get("from"); v != "" {
		if filter.From, err = time.Parse(time.DateOnly, v); err != nil {
			h.respondError(w, httpx.Classify(httpx.ErrValidation, errors.New("invalid from date")))
			return
		}
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse(time.DateOnly, v)
		if err != nil {
			h.respondError(w, httpx.Classify(httpx.ErrValidation, errors.New("invalid to date")))
			return
		}
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	if v := q.Get("limit"); v != "" {
		limit, _ := strconv.Atoi(v)
		filter.Limit = limit
	}
	entries, err := h.service.ListLedger(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

type stockLevelResponse struct {
	StockLevel
	Available decimal.Decimal
}

func levelResponse(level StockLevel) stockLevelResponse {
	return stockLevelResponse{StockLevel: level, Available: level.Available()}
}

func queryInt(raw string, required bool) (int64, error) {
	if raw == "" {
		if required {
			return 0, httpx.Classify(httpx.ErrValidation, errors.New("missing required query parameter"))
		}
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, httpx.Classify(httpx.ErrValidation, errors.New("invalid query parameter "+raw))
	}
	return v, nil
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	classified := classifyError(err)
	if !errors.Is(classified, httpx.ErrValidation) && !errors.Is(classified, httpx.ErrNotFound) &&
		!errors.Is(classified, httpx.ErrConflict) && !errors.Is(classified, httpx.ErrUnprocessable) {
		h.logger.Error("inventory request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, classified)
}

func classifyError(err error) error {
	switch {
	case errors.Is(err, httpx.ErrValidation):
		return err
	case errors.Is(err, ErrInsufficientStock):
		return httpx.Classify(httpx.ErrUnprocessable, err)
	case errors.Is(err, shared.ErrIdempotencyConflict):
		return httpx.Classify(httpx.ErrConflict, err)
	case isValidation(err), errors.Is(err, shared.ErrTenantRequired):
		return httpx.Classify(httpx.ErrValidation, err)
	default:
		return err
	}
}

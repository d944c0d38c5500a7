package manufacturing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler wires HTTP endpoints for manufacturing module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs manufacturing handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers manufacturing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/boms", h.createBOM)
	r.Get("/boms/{id}", h.getBOM)
	r.Route("/production-orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Post("/", h.createOrder)
		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/start", h.startOrder)
		r.Post("/{id}/cancel", h.cancelOrder)
		r.Post("/{id}/complete", h.completeOrder)
	})
}

type componentRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	VariantID int64           `json:"variant_id" validate:"gte=0"`
	Code      string          `json:"code" validate:"max=64"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type bomRequest struct {
	Code           string             `json:"code" validate:"required,max=64"`
	ProductID      int64              `json:"product_id" validate:"required,gt=0"`
	VariantID      int64              `json:"variant_id" validate:"gte=0"`
	OutputQuantity decimal.Decimal    `json:"output_quantity"`
	Components     []componentRequest `json:"components" validate:"required,min=1,dive"`
}

type orderRequest struct {
	Number          string          `json:"number" validate:"max=64"`
	BOMID           int64           `json:"bom_id" validate:"required,gt=0"`
	WarehouseID     int64           `json:"warehouse_id" validate:"required,gt=0"`
	PlannedQuantity decimal.Decimal `json:"planned_quantity"`
}

type completeRequest struct {
	ProducedQuantity decimal.Decimal `json:"produced_quantity"`
}

func (h *Handler) createBOM(w http.ResponseWriter, r *http.Request) {
	var req bomRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		h.respondError(w, err)
		return
	}
	ctx := r.Context()
	input := CreateBOMInput{
		TenantID:       shared.TenantFromContext(ctx),
		Code:           req.Code,
		ProductID:      req.ProductID,
		VariantID:      req.VariantID,
		OutputQuantity: req.OutputQuantity,
		ActorID:        shared.ActorFromContext(ctx),
	}
	for _, c := range req.Components {
		input.Components = append(input.Components, ComponentInput(c))
	}
	bom, err := h.service.CreateBOM(ctx, input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, bom)
}

func (h *Handler) getBOM(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.respondError(w, err)
		return
	}
	bom, err := h.service.GetBOM(r.Context(), shared.TenantFromContext(r.Context()), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bom)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		h.respondError(w, err)
		return
	}
	ctx := r.Context()
	order, err := h.service.CreateOrder(ctx, CreateOrderInput{
		TenantID:        shared.TenantFromContext(ctx),
		Number:          req.Number,
		BOMID:           req.BOMID,
		WarehouseID:     req.WarehouseID,
		PlannedQuantity: req.PlannedQuantity,
		ActorID:         shared.ActorFromContext(ctx),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	filter := OrderFilter{
		TenantID: shared.TenantFromContext(r.Context()),
		Status:   OrderStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	orders, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.respondError(w, err)
		return
	}
	order, err := h.service.GetOrder(r.Context(), shared.TenantFromContext(r.Context()), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) startOrder(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.service.StartOrder)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.service.CancelOrder)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tenantID, orderID, actorID int64) (ProductionOrder, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.respondError(w, err)
		return
	}
	ctx := r.Context()
	order, err := op(ctx, shared.TenantFromContext(ctx), id, shared.ActorFromContext(ctx))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) completeOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req completeRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		h.respondError(w, err)
		return
	}
	ctx := r.Context()
	result, err := h.service.CompleteOrder(ctx, CompleteInput{
		TenantID:         shared.TenantFromContext(ctx),
		OrderID:          id,
		ProducedQuantity: req.ProducedQuantity,
		ActorID:          shared.ActorFromContext(ctx),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	classified := classifyError(err)
	if !errors.Is(classified, httpx.ErrValidation) && !errors.Is(classified, httpx.ErrNotFound) &&
		!errors.Is(classified, httpx.ErrConflict) && !errors.Is(classified, httpx.ErrUnprocessable) {
		h.logger.Error("manufacturing request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, classified)
}

func classifyError(err error) error {
	switch {
	case errors.Is(err, httpx.ErrValidation):
		return err
	case errors.Is(err, ErrBOMNotFound), errors.Is(err, ErrOrderNotFound):
		return httpx.Classify(httpx.ErrNotFound, err)
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrOrderBusy), errors.Is(err, ErrDuplicateCode), errors.Is(err, ErrInactiveBOM):
		return httpx.Classify(httpx.ErrConflict, err)
	case errors.Is(err, inventory.ErrInsufficientStock):
		return httpx.Classify(httpx.ErrUnprocessable, err)
	case isValidation(err), errors.Is(err, shared.ErrTenantRequired):
		return httpx.Classify(httpx.ErrValidation, err)
	default:
		return err
	}
}

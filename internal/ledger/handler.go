package ledger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopledger/shopledger/internal/platform/httpx"
	"github.com/shopledger/shopledger/internal/shared"
)

// IdempotencyHeader carries the client supplied replay guard.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for purchases and sales.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	location *time.Location
}

// NewHandler constructs the ledger handler. loc interprets date-only query parameters.
func NewHandler(logger *slog.Logger, service *Service, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{logger: logger, service: service, location: loc}
}

// MountRoutes registers ledger routes on a shop scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/purchases", func(r chi.Router) {
		r.Post("/", h.handleCreatePurchase)
		r.Get("/", h.handleListPurchases)
		r.Get("/{id}", h.handleGetPurchase)
	})
	r.Route("/sales", func(r chi.Router) {
		r.Post("/", h.handleCreateSale)
		r.Get("/", h.handleListSales)
		r.Get("/{id}", h.handleGetSale)
	})
}

type purchaseItemRequest struct {
	ProductID    string  `json:"product_id" validate:"required"`
	Quantity     float64 `json:"quantity" validate:"gt=0"`
	PricePerUnit float64 `json:"price_per_unit" validate:"gte=0"`
}

type purchaseRequest struct {
	SupplierID    string                `json:"supplier_id"`
	Items         []purchaseItemRequest `json:"items" validate:"required,min=1,dive"`
	TransportCost float64               `json:"transport_cost" validate:"gte=0"`
	Note          string                `json:"note" validate:"max=500"`
	PurchasedAt   *time.Time            `json:"purchased_at"`
}

type saleItemRequest struct {
	ProductID    string  `json:"product_id" validate:"required"`
	Quantity     float64 `json:"quantity" validate:"gt=0"`
	SellingPrice float64 `json:"selling_price" validate:"gte=0"`
}

type saleRequest struct {
	Items        []saleItemRequest `json:"items" validate:"required,min=1,dive"`
	Discount     float64           `json:"discount" validate:"gte=0"`
	DiscountType string            `json:"discount_type" validate:"omitempty,oneof=fixed percentage"`
	Note         string            `json:"note" validate:"max=500"`
	SoldAt       *time.Time        `json:"sold_at"`
}

func (h *Handler) handleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := PurchaseInput{
		ShopID:         chi.URLParam(r, "shopID"),
		SupplierID:     req.SupplierID,
		TransportCost:  req.TransportCost,
		Note:           req.Note,
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	}
	if req.PurchasedAt != nil {
		input.PurchasedAt = req.PurchasedAt.UTC()
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, PurchaseItemInput(item))
	}
	purchase, err := h.service.RecordPurchase(r.Context(), input)
	if err != nil {
		h.respondError(w, "create purchase", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, purchase)
}

func (h *Handler) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := SaleInput{
		ShopID:         chi.URLParam(r, "shopID"),
		Discount:       req.Discount,
		DiscountType:   DiscountType(req.DiscountType),
		Note:           req.Note,
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	}
	if req.SoldAt != nil {
		input.SoldAt = req.SoldAt.UTC()
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, SaleItemInput(item))
	}
	sale, err := h.service.RecordSale(r.Context(), input)
	if err != nil {
		h.respondError(w, "create sale", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.SupplierID = r.URL.Query().Get("supplier_id")
	purchases, page, err := h.service.ListPurchases(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list purchases", err)
		return
	}
	httpx.List(w, purchases, page)
}

func (h *Handler) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	purchase, err := h.service.GetPurchase(r.Context(), chi.URLParam(r, "shopID"), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "get purchase", err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchase)
}

func (h *Handler) handleListSales(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sales, page, err := h.service.ListSales(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list sales", err)
		return
	}
	httpx.List(w, sales, page)
}

func (h *Handler) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.service.GetSale(r.Context(), chi.URLParam(r, "shopID"), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "get sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) parseFilter(r *http.Request) (ListFilter, error) {
	filter := ListFilter{ShopID: chi.URLParam(r, "shopID")}
	var err error
	if filter.Page, err = httpx.QueryInt(r, "page"); err != nil {
		return filter, err
	}
	if filter.Limit, err = httpx.QueryInt(r, "limit"); err != nil {
		return filter, err
	}
	if filter.From, err = httpx.QueryTime(r, "from", h.location); err != nil {
		return filter, err
	}
	if filter.To, err = httpx.QueryTime(r, "to", h.location); err != nil {
		return filter, err
	}
	if !filter.To.IsZero() && len(r.URL.Query().Get("to")) == len(time.DateOnly) {
		filter.To = EndOfDay(filter.To)
	}
	filter.SortAsc = r.URL.Query().Get("sort") == "asc"
	return filter, nil
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if !shared.IsDomainError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

package catalog

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shopledger/shopledger/internal/platform/httpx"
	"github.com/shopledger/shopledger/internal/shared"
)

// Handler wires HTTP endpoints for product maintenance.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers product routes on a shop scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/low-stock", h.handleLowStock)
		r.Get("/{id}", h.handleGet)
		r.Patch("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDisable)
	})
}

type createRequest struct {
	Name              string   `json:"name" validate:"required,min=2,max=100"`
	Description       string   `json:"description" validate:"max=500"`
	CategoryID        string   `json:"category_id"`
	Unit              string   `json:"unit" validate:"required,max=20"`
	SellingPrice      float64  `json:"selling_price" validate:"gte=0"`
	LowStockThreshold *float64 `json:"low_stock_threshold" validate:"omitempty,gte=0"`
}

type updateRequest struct {
	Name              *string  `json:"name" validate:"omitempty,min=2,max=100"`
	Description       *string  `json:"description" validate:"omitempty,max=500"`
	CategoryID        *string  `json:"category_id"`
	Unit              *string  `json:"unit" validate:"omitempty,min=1,max=20"`
	SellingPrice      *float64 `json:"selling_price" validate:"omitempty,gte=0"`
	LowStockThreshold *float64 `json:"low_stock_threshold" validate:"omitempty,gte=0"`
	Active            *bool    `json:"active"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Create(r.Context(), CreateInput{
		ShopID:            chi.URLParam(r, "shopID"),
		Name:              req.Name,
		Description:       req.Description,
		CategoryID:        req.CategoryID,
		Unit:              req.Unit,
		SellingPrice:      req.SellingPrice,
		LowStockThreshold: req.LowStockThreshold,
		ActorID:           shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, "create product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		ShopID:     chi.URLParam(r, "shopID"),
		Search:     q.Get("search"),
		CategoryID: q.Get("category_id"),
	}
	var err error
	if filter.Page, err = httpx.QueryInt(r, "page"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Limit, err = httpx.QueryInt(r, "limit"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Active, err = httpx.QueryBool(r, "active"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	lowStock, err := httpx.QueryBool(r, "low_stock")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.LowStock = lowStock != nil && *lowStock

	products, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list products", err)
		return
	}
	httpx.List(w, products, page)
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.LowStock(r.Context(), chi.URLParam(r, "shopID"))
	if err != nil {
		h.respondError(w, "low stock products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Data: products})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), chi.URLParam(r, "shopID"), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "get product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Update(r.Context(), chi.URLParam(r, "shopID"), chi.URLParam(r, "id"), UpdateInput{
		Name:              req.Name,
		Description:       req.Description,
		CategoryID:        req.CategoryID,
		Unit:              req.Unit,
		SellingPrice:      req.SellingPrice,
		LowStockThreshold: req.LowStockThreshold,
		Active:            req.Active,
		ActorID:           shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, "update product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleDisable(w http.ResponseWriter, r *http.Request) {
	err := h.service.Disable(r.Context(), chi.URLParam(r, "shopID"), chi.URLParam(r, "id"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, "disable product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if !shared.IsDomainError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

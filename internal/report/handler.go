package report

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shopledger/shopledger/internal/platform/httpx"
	"github.com/shopledger/shopledger/internal/shared"
)

// Handler exposes report endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the report handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers report routes on a shop scoped router.
// /sales/today is registered directly so it can live beside the ledger's /sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Get("/custom", h.handleCustom)
		r.Get("/stock", h.handleStock)
		r.Get("/{range}", h.handleNamed)
	})
	r.Get("/sales/today", h.handleToday)
}

func (h *Handler) handleNamed(w http.ResponseWriter, r *http.Request) {
	dr, err := h.service.Range(RangeKind(chi.URLParam(r, "range")))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respondReport(w, r, dr)
}

func (h *Handler) handleCustom(w http.ResponseWriter, r *http.Request) {
	loc := h.service.Location()
	from, err := httpx.QueryTime(r, "from", loc)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := httpx.QueryTime(r, "to", loc)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	dr, err := CustomRange(from, to, loc)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respondReport(w, r, dr)
}

func (h *Handler) respondReport(w http.ResponseWriter, r *http.Request, dr DateRange) {
	summary, err := h.service.GetReport(r.Context(), chi.URLParam(r, "shopID"), dr)
	if err != nil {
		h.respondError(w, "get report", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleStock(w http.ResponseWriter, r *http.Request) {
	overview, err := h.service.GetStockOverview(r.Context(), chi.URLParam(r, "shopID"))
	if err != nil {
		h.respondError(w, "stock overview", err)
		return
	}
	httpx.JSON(w, http.StatusOK, overview)
}

func (h *Handler) handleToday(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.TodaySummary(r.Context(), chi.URLParam(r, "shopID"))
	if err != nil {
		h.respondError(w, "today summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if !shared.IsDomainError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

package expense

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopledger/shopledger/internal/ledger"
	"github.com/shopledger/shopledger/internal/platform/httpx"
	"github.com/shopledger/shopledger/internal/shared"
)

// Handler wires HTTP endpoints for expenses.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	location *time.Location
	clock    func() time.Time
}

// NewHandler constructs the expense handler. loc interprets date-only parameters.
func NewHandler(logger *slog.Logger, service *Service, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{logger: logger, service: service, location: loc, clock: time.Now}
}

// MountRoutes registers expense routes on a shop scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/expenses", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/summary", h.handleSummary)
		r.Get("/{id}", h.handleGet)
		r.Patch("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
	})
}

type createRequest struct {
	Title       string     `json:"title" validate:"required,min=2,max=100"`
	Amount      float64    `json:"amount" validate:"gte=0"`
	Category    string     `json:"category" validate:"required,max=50"`
	Note        string     `json:"note" validate:"max=500"`
	ExpenseDate *time.Time `json:"expense_date"`
}

type updateRequest struct {
	Title       *string    `json:"title" validate:"omitempty,min=2,max=100"`
	Amount      *float64   `json:"amount" validate:"omitempty,gte=0"`
	Category    *string    `json:"category" validate:"omitempty,min=1,max=50"`
	Note        *string    `json:"note" validate:"omitempty,max=500"`
	ExpenseDate *time.Time `json:"expense_date"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateInput{
		ShopID:   chi.URLParam(r, "shopID"),
		Title:    req.Title,
		Amount:   req.Amount,
		Category: req.Category,
		Note:     req.Note,
		ActorID:  shared.ActorFromContext(r.Context()),
	}
	if req.ExpenseDate != nil {
		input.ExpenseDate = *req.ExpenseDate
	}
	e, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, "create expense", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, e)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := Filter{ShopID: chi.URLParam(r, "shopID"), Category: r.URL.Query().Get("category")}
	var err error
	if filter.Page, err = httpx.QueryInt(r, "page"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Limit, err = httpx.QueryInt(r, "limit"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.From, filter.To, err = h.parseRange(r); err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list expenses", err)
		return
	}
	httpx.List(w, items, page)
}

// handleSummary defaults to the current month when no range is given.
func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.parseRange(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	now := h.clock().In(h.location)
	if from.IsZero() {
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, h.location)
	}
	if to.IsZero() {
		to = ledger.EndOfDay(now)
	}
	summary, err := h.service.Summary(r.Context(), chi.URLParam(r, "shopID"), from, to)
	if err != nil {
		h.respondError(w, "expense summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	e, err := h.service.Get(r.Context(), chi.URLParam(r, "shopID"), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "get expense", err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	e, err := h.service.Update(r.Context(), chi.URLParam(r, "shopID"), chi.URLParam(r, "id"), UpdateInput{
		Title:       req.Title,
		Amount:      req.Amount,
		Category:    req.Category,
		Note:        req.Note,
		ExpenseDate: req.ExpenseDate,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, "update expense", err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "shopID"), chi.URLParam(r, "id"), shared.ActorFromContext(r.Context())); err != nil {
		h.respondError(w, "delete expense", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) parseRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := httpx.QueryTime(r, "from", h.location)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := httpx.QueryTime(r, "to", h.location)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !to.IsZero() && len(r.URL.Query().Get("to")) == len(time.DateOnly) {
		to = ledger.EndOfDay(to)
	}
	return from, to, nil
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if !shared.IsDomainError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/summary"
	"github.com/go-chi/chi/v5"
)

type SummaryHandler struct {
	Engine *summary.Engine
	Orders *orders.Service
}

func (h *SummaryHandler) Register(r chi.Router) {
	r.With(RequireRole(RoleManager)).Get("/summary", h.summary)
	r.With(RequireRole(RoleCashier)).Get("/summary/cashier/today", h.cashierToday)
}

func (h *SummaryHandler) summary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rep, _, err := h.Engine.Summarize(r.Context(), q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Summary retrieved successfully", rep)
}

func (h *SummaryHandler) cashierToday(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	out, err := h.Orders.CashierToday(r.Context(), caller.UserID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Today's orders retrieved successfully", out)
}

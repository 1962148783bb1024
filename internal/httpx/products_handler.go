package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/go-chi/chi/v5"
)

type ProductsHandler struct {
	Service *orders.Service
}

func (h *ProductsHandler) Register(r chi.Router) {
	staff := RequireRole(RoleCashier, RoleManager)
	r.With(staff).Get("/products", h.list)
	r.With(staff).Get("/products/{id}", h.get)
}

func (h *ProductsHandler) list(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Service.Products(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Products retrieved successfully", ps)
}

func (h *ProductsHandler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.Product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Product retrieved successfully", p)
}

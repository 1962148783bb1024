package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type Idempotency interface {
	Reserve(ctx context.Context, cashierID, key string) (redisx.Reservation, error)
	Complete(ctx context.Context, cashierID, key, token, orderID string) error
	Release(ctx context.Context, cashierID, key, token string) error
}

type OrderCache interface {
	Get(ctx context.Context, id string) (*orders.Order, int64, error)
	Put(ctx context.Context, o *orders.Order, version int64) error
}

type OrdersHandler struct {
	Service *orders.Service
	Idem    Idempotency // optional
	Cache   OrderCache  // optional
}

type captureReq struct {
	CustomerName  string           `json:"customer_name"`
	PaymentMethod string           `json:"payment_method"`
	IsTakeaway    bool             `json:"is_takeaway"`
	Note          *string          `json:"note"`
	CashReceived  *decimal.Decimal `json:"cash_received"`
	Total         *decimal.Decimal `json:"total"`
	Items         []captureItemReq `json:"items"`
}

type captureItemReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	anyStaff := RequireRole(RoleCashier, RoleManager)
	manager := RequireRole(RoleManager)

	r.Route("/orders", func(r chi.Router) {
		r.With(anyStaff).Post("/", h.capture)
		r.With(manager).Get("/", h.list)
		r.With(anyStaff).Get("/mine", h.mine)
		r.With(anyStaff).Get("/{id}", h.get)
		r.With(anyStaff).Patch("/{id}", h.update)
		r.With(manager).Delete("/{id}", h.delete)
	})
}

func (h *OrdersHandler) capture(w http.ResponseWriter, r *http.Request) {
	var req captureReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badJSON(w, err)
		return
	}
	ctx := r.Context()
	caller, _ := IdentityFrom(ctx)
	log := zerolog.Ctx(ctx)

	// A key is reserved before the capture so concurrent retries cannot both
	// write. If Redis is unreachable the request proceeds without a key.
	idemKey := r.Header.Get(HeaderIdempotencyKey)
	var token string
	if idemKey != "" && h.Idem != nil {
		res, err := h.Idem.Reserve(ctx, caller.UserID, idemKey)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("idempotency reserve failed")
		case res.Pending:
			fail(w, http.StatusConflict, "A request with this Idempotency-Key is still in progress", "conflict", nil)
			return
		case res.OrderID != "":
			o, err := h.Service.Get(ctx, res.OrderID)
			if err != nil {
				respondError(w, r, err)
				return
			}
			respond(w, http.StatusOK, "Order already created", o)
			return
		default:
			token = res.Token
		}
	}

	cart := orders.Cart{
		CustomerName:  req.CustomerName,
		PaymentMethod: req.PaymentMethod,
		IsTakeaway:    req.IsTakeaway,
		Note:          req.Note,
		CashReceived:  req.CashReceived,
		Total:         req.Total,
	}
	for _, it := range req.Items {
		cart.Items = append(cart.Items, orders.CartLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	o, err := h.Service.Capture(ctx, caller.UserID, cart)
	if err != nil {
		if token != "" {
			if rerr := h.Idem.Release(context.WithoutCancel(ctx), caller.UserID, idemKey, token); rerr != nil {
				log.Warn().Err(rerr).Msg("idempotency release failed")
			}
		}
		respondError(w, r, err)
		return
	}
	if req.Total != nil && !orders.RoundMoney(*req.Total).Equal(o.Total) {
		log.Info().
			Str("order_id", o.ID).
			Str("client_total", req.Total.String()).
			Str("total", o.Total.StringFixed(orders.MoneyScale)).
			Msg("client total differs from catalog total")
	}

	if token != "" {
		if err := h.Idem.Complete(context.WithoutCancel(ctx), caller.UserID, idemKey, token, o.ID); err != nil {
			log.Warn().Err(err).Str("order_id", o.ID).Msg("idempotency complete failed")
		}
	}
	respond(w, http.StatusCreated, "Order created successfully", o)
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.Filter{
		CashierID:     q.Get("cashier_id"),
		PaymentMethod: orders.PaymentMethod(q.Get("payment_method")),
	}
	if v := q.Get("is_takeaway"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, r, orders.Validation("invalid filter", map[string]string{
				"is_takeaway": "is_takeaway must be true or false",
			}))
			return
		}
		f.IsTakeaway = &b
	}

	out, err := h.Service.List(r.Context(), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Orders retrieved successfully", out)
}

func (h *OrdersHandler) mine(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	out, err := h.Service.List(r.Context(), orders.Filter{CashierID: caller.UserID})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "User orders retrieved successfully", out)
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	caller, _ := IdentityFrom(ctx)

	// 1) cache, keyed by canonical id only
	var version int64
	if h.Cache != nil && isCanonicalID(id) {
		o, v, err := h.Cache.Get(ctx, id)
		switch {
		case err != nil:
			zerolog.Ctx(ctx).Warn().Err(err).Msg("order cache read failed")
		case o != nil:
			if !caller.canSee(o) {
				respondError(w, r, hiddenOrder(id))
				return
			}
			respond(w, http.StatusOK, "Order retrieved successfully", o)
			return
		}
		version = v
	}

	// 2) store
	o, err := h.Service.Get(ctx, id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Put(ctx, o, version); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("order cache write failed")
		}
	}
	if !caller.canSee(o) {
		respondError(w, r, hiddenOrder(id))
		return
	}
	respond(w, http.StatusOK, "Order retrieved successfully", o)
}

func (h *OrdersHandler) update(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		badJSON(w, err)
		return
	}
	p, err := decodePatch(raw)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if caller, _ := IdentityFrom(ctx); caller.Role != RoleManager {
		current, err := h.Service.Get(ctx, id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if !caller.canSee(current) {
			respondError(w, r, hiddenOrder(id))
			return
		}
	}

	o, err := h.Service.Update(ctx, id, p)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Order updated successfully", o)
}

func (h *OrdersHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Order deleted successfully", nil)
}

// canSee reports whether the caller may read or change o. Cashiers only
// reach their own orders; managers reach all of them.
func (c Identity) canSee(o *orders.Order) bool {
	return c.Role == RoleManager || o.CashierID == c.UserID
}

// hiddenOrder answers as if the order did not exist, so cashiers cannot guess
// other cashiers' order ids.
func hiddenOrder(id string) error {
	return &orders.Error{Kind: orders.KindNotFound, Message: fmt.Sprintf("order %s not found", id), Err: orders.ErrNotFound}
}

func isCanonicalID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}

// decodePatch tells an explicit "note": null (clear) apart from an absent
// note (keep). Any other key is rejected.
func decodePatch(raw map[string]json.RawMessage) (orders.Patch, error) {
	var p orders.Patch
	fields := map[string]string{}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := raw[k]
		switch k {
		case "note":
			p.SetNote = true
			if string(v) == "null" {
				continue
			}
			var note string
			if err := json.Unmarshal(v, &note); err != nil {
				fields["note"] = "note must be a string or null"
				continue
			}
			p.Note = &note
		case "is_takeaway":
			var b bool
			if err := json.Unmarshal(v, &b); err != nil {
				fields["is_takeaway"] = "is_takeaway must be a boolean"
				continue
			}
			p.IsTakeaway = &b
		default:
			fields[k] = fmt.Sprintf("%s cannot be changed after capture", k)
		}
	}
	if len(fields) > 0 {
		return p, orders.Validation("invalid order update", fields)
	}
	return p, nil
}

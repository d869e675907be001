package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oren0115/cartsync/internal/core/domain"
	"github.com/oren0115/cartsync/internal/core/service"
)

// HTTPHandler exposes the cart intents over HTTP for deployments that
// host the sync engine as a session-scoped service. Intents never fail
// outwardly on remote trouble; the response's degraded flag is the only
// signal that a mutation took the local fallback path.
type HTTPHandler struct {
	cart    *service.SyncService
	session *service.SessionObserver
}

type addItemHTTPRequest struct {
	ProductID       string   `json:"productId"`
	Quantity        int      `json:"quantity"`
	Name            string   `json:"name"`
	Price           float64  `json:"price"`
	DiscountedPrice float64  `json:"discountedPrice"`
	DiscountPercent float64  `json:"discountPercent"`
	Images          []string `json:"images"`
	Stock           int      `json:"stock"`
}

type setQuantityHTTPRequest struct {
	Quantity int `json:"quantity"`
}

type sessionHTTPRequest struct {
	Authenticated bool `json:"authenticated"`
}

type cartHTTPResponse struct {
	Cart     domain.CartState `json:"cart"`
	Degraded bool             `json:"degraded"`
}

type errorHTTPResponse struct {
	Error string `json:"error"`
}

func NewHTTPHandler(cart *service.SyncService, session *service.SessionObserver) *HTTPHandler {
	return &HTTPHandler{cart: cart, session: session}
}

// Register mounts all routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /api/cart", h.GetCart)
	mux.HandleFunc("POST /api/cart/items", h.AddItem)
	mux.HandleFunc("PUT /api/cart/items/{productId}", h.SetQuantity)
	mux.HandleFunc("DELETE /api/cart/items/{productId}", h.RemoveItem)
	mux.HandleFunc("DELETE /api/cart", h.ClearCart)
	mux.HandleFunc("PUT /api/session", h.SetSession)
}

func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cartHTTPResponse{Cart: h.cart.State(), Degraded: h.cart.Degraded()})
}

func (h *HTTPHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorHTTPResponse{Error: "invalid request body"})
		return
	}

	state, err := h.cart.AddToCart(r.Context(), domain.Product{
		ID:              req.ProductID,
		Name:            req.Name,
		Price:           req.Price,
		DiscountedPrice: req.DiscountedPrice,
		DiscountPercent: req.DiscountPercent,
		Images:          req.Images,
		Stock:           req.Stock,
	}, req.Quantity)

	h.respond(w, state, err)
}

func (h *HTTPHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req setQuantityHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorHTTPResponse{Error: "invalid request body"})
		return
	}

	state, err := h.cart.UpdateQuantity(r.Context(), r.PathValue("productId"), req.Quantity)
	h.respond(w, state, err)
}

func (h *HTTPHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	state, err := h.cart.RemoveFromCart(r.Context(), r.PathValue("productId"))
	h.respond(w, state, err)
}

func (h *HTTPHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	state, err := h.cart.ClearCart(r.Context())
	h.respond(w, state, err)
}

// SetSession is the auth collaborator's transition hook.
func (h *HTTPHandler) SetSession(w http.ResponseWriter, r *http.Request) {
	var req sessionHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorHTTPResponse{Error: "invalid request body"})
		return
	}

	h.session.SetAuthenticated(req.Authenticated)
	writeJSON(w, http.StatusOK, cartHTTPResponse{Cart: h.cart.State(), Degraded: h.cart.Degraded()})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) respond(w http.ResponseWriter, state domain.CartState, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		message := "internal error"

		switch {
		case errors.Is(err, service.ErrInvalidIntent):
			status = http.StatusBadRequest
			message = "invalid cart intent"
		case errors.Is(err, domain.ErrUnauthorized):
			// The mutation was not applied; re-issue after re-auth.
			status = http.StatusUnauthorized
			message = "session expired, re-authenticate and retry"
		case errors.Is(err, service.ErrClosed):
			status = http.StatusServiceUnavailable
			message = "cart service shutting down"
		}

		writeJSON(w, status, errorHTTPResponse{Error: message})
		return
	}

	writeJSON(w, http.StatusOK, cartHTTPResponse{Cart: state, Degraded: h.cart.Degraded()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

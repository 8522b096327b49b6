// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/shopmesh/shopmesh/internal/api"
	"github.com/shopmesh/shopmesh/internal/auth"
	"github.com/shopmesh/shopmesh/internal/logging"
	"github.com/shopmesh/shopmesh/internal/models"
	"github.com/shopmesh/shopmesh/internal/money"
)

// Handler exposes the catalog over HTTP. Reads require a valid access
// token; writes additionally require the admin claim.
type Handler struct {
	store    *Store
	verifier *auth.Verifier
}

// NewHandler wires the HTTP surface.
func NewHandler(store *Store, verifier *auth.Verifier) *Handler {
	return &Handler{store: store, verifier: verifier}
}

// Routes returns the /api/v1/products router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireAccess(h.verifier))

	r.Get("/", h.list)
	r.Get("/{id}", h.get)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin)
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.remove)
	})

	return r
}

func productID(r *http.Request) (int64, *api.Error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, api.ErrInputInvalid("product id must be a positive integer")
	}
	return id, nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page := api.QueryInt(r, "page", 1)
	query := r.URL.Query().Get("q")

	products, total, err := h.store.List(r.Context(), query, page)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Product listing failed")
		api.RespondAPIError(w, r, api.ErrInternal())
		return
	}

	api.RespondData(w, r, http.StatusOK, models.Page{
		Items:      products,
		PageNumber: page,
		PageSize:   PageSize,
		Total:      total,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, apiErr := productID(r)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}

	product, err := h.store.ByID(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		api.RespondAPIError(w, r, api.ErrNotFound("product"))
		return
	}
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Product lookup failed")
		api.RespondAPIError(w, r, api.ErrInternal())
		return
	}

	// Deactivated products stay visible to admins only.
	if caller, _ := auth.CallerFromContext(r.Context()); !product.IsActive && !caller.IsAdmin {
		api.RespondAPIError(w, r, api.ErrNotFound("product"))
		return
	}
	api.RespondData(w, r, http.StatusOK, product)
}

type productRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=200"`
	Description string `json:"description" validate:"max=2000"`
	Price       string `json:"price" validate:"required"`
	Inventory   int32  `json:"inventory_count" validate:"gte=0"`
	IsActive    *bool  `json:"is_active"`
}

func (req *productRequest) parsePrice() (money.Amount, *api.Error) {
	price, err := money.Parse(req.Price)
	if err != nil || price < 0 {
		return 0, api.ErrInputInvalid("price must be a non-negative decimal with at most two fractional digits")
	}
	return price, nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if apiErr := api.DecodeJSON(r, &req); apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	price, apiErr := req.parsePrice()
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}

	product, err := h.store.Create(r.Context(), req.Name, req.Description, price, req.Inventory)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Product creation failed")
		api.RespondAPIError(w, r, api.ErrInternal())
		return
	}
	logging.Ctx(r.Context()).Info().Int64("product_id", product.ID).Msg("Product created")
	api.RespondData(w, r, http.StatusCreated, product)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, apiErr := productID(r)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	var req productRequest
	if apiErr := api.DecodeJSON(r, &req); apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	price, apiErr := req.parsePrice()
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	product, err := h.store.Update(r.Context(), id, req.Name, req.Description, price, req.Inventory, active)
	if errors.Is(err, ErrNotFound) {
		api.RespondAPIError(w, r, api.ErrNotFound("product"))
		return
	}
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Product update failed")
		api.RespondAPIError(w, r, api.ErrInternal())
		return
	}
	api.RespondData(w, r, http.StatusOK, product)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, apiErr := productID(r)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}

	err := h.store.Deactivate(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		api.RespondAPIError(w, r, api.ErrNotFound("product"))
		return
	}
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Product deactivation failed")
		api.RespondAPIError(w, r, api.ErrInternal())
		return
	}
	logging.Ctx(r.Context()).Info().Int64("product_id", id).Msg("Product deactivated")
	api.RespondData(w, r, http.StatusOK, map[string]bool{"deleted": true})
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		api.RespondAPIError(w, r, api.ErrDependencyUnavailable())
		return
	}
	api.RespondData(w, r, http.StatusOK, map[string]string{"status": "healthy"})
}

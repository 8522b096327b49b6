// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package orders

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/shopmesh/shopmesh/internal/api"
	"github.com/shopmesh/shopmesh/internal/auth"
	"github.com/shopmesh/shopmesh/internal/models"
)

// Handler exposes the orchestrator over HTTP. Every route requires a valid
// access token; the owner is always the token subject, never request input.
type Handler struct {
	service  *Service
	verifier *auth.Verifier
}

// NewHandler wires the HTTP surface.
func NewHandler(service *Service, verifier *auth.Verifier) *Handler {
	return &Handler{service: service, verifier: verifier}
}

// Routes returns the /api/v1 router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireAccess(h.verifier))

	r.Post("/orders", h.create)
	r.Get("/orders", h.list)
	r.Get("/orders/{id}", h.get)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin)
		r.Get("/admin/orders", h.adminList)
		r.Post("/admin/orders/{id}/status", h.adminSetStatus)
	})

	return r
}

type createOrderRequest struct {
	Items []Item `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		api.RespondAPIError(w, r, api.ErrAuthMissing())
		return
	}

	var req createOrderRequest
	if apiErr := api.DecodeJSON(r, &req); apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}

	order, apiErr := h.service.Create(r.Context(), caller.Subject, req.Items)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	api.RespondData(w, r, http.StatusCreated, order)
}

func orderID(r *http.Request) (int64, *api.Error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, api.ErrInputInvalid("order id must be a positive integer")
	}
	return id, nil
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		api.RespondAPIError(w, r, api.ErrAuthMissing())
		return
	}
	id, apiErr := orderID(r)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}

	order, apiErr := h.service.Get(r.Context(), caller.Subject, caller.IsAdmin, id)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	api.RespondData(w, r, http.StatusOK, order)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		api.RespondAPIError(w, r, api.ErrAuthMissing())
		return
	}
	page := api.QueryInt(r, "page", 1)

	orders, total, apiErr := h.service.List(r.Context(), caller.Subject, page)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	api.RespondData(w, r, http.StatusOK, models.Page{
		Items:      orders,
		PageNumber: page,
		PageSize:   PageSize,
		Total:      total,
	})
}

func (h *Handler) adminList(w http.ResponseWriter, r *http.Request) {
	page := api.QueryInt(r, "page", 1)

	orders, total, apiErr := h.service.AdminList(r.Context(), page)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	api.RespondData(w, r, http.StatusOK, models.Page{
		Items:      orders,
		PageNumber: page,
		PageSize:   PageSize,
		Total:      total,
	})
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) adminSetStatus(w http.ResponseWriter, r *http.Request) {
	id, apiErr := orderID(r)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	var req setStatusRequest
	if apiErr := api.DecodeJSON(r, &req); apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	next, err := ParseStatus(req.Status)
	if err != nil {
		api.RespondAPIError(w, r, api.ErrInputInvalid(err.Error()))
		return
	}

	order, apiErr := h.service.SetStatus(r.Context(), id, next)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	api.RespondData(w, r, http.StatusOK, order)
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.service.store.Ping(r.Context()); err != nil {
		api.RespondAPIError(w, r, api.ErrDependencyUnavailable())
		return
	}
	api.RespondData(w, r, http.StatusOK, map[string]string{"status": "healthy"})
}

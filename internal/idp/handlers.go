// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package idp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/shopmesh/shopmesh/internal/api"
	"github.com/shopmesh/shopmesh/internal/auth"
	"github.com/shopmesh/shopmesh/internal/keys"
)

// Handler exposes the identity provider over HTTP.
type Handler struct {
	service  *Service
	verifier *auth.Verifier
	pair     *keys.Pair
}

// NewHandler wires the HTTP surface.
func NewHandler(service *Service, verifier *auth.Verifier, pair *keys.Pair) *Handler {
	return &Handler{service: service, verifier: verifier, pair: pair}
}

// Routes returns the /api/v1 router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	// Credential endpoints are the brute-force surface; rate limit by IP.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(20, time.Minute))
		r.Post("/auth/register", h.register)
		r.Post("/auth/token", h.token)
		r.Post("/auth/token/verify-2fa", h.verifyLogin2FA)
		r.Post("/auth/refresh", h.refresh)
	})

	r.Get("/auth/public-key", h.publicKey)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAccess(h.verifier))

		r.Route("/auth/2fa", func(r chi.Router) {
			r.Post("/setup", h.setup2FA)
			r.Post("/verify", h.verifySetup2FA)
			r.Get("/status", h.status2FA)
			r.Post("/disable", h.disable2FA)
			r.Post("/recovery-codes/regenerate", h.regenerateRecoveryCodes)
			r.Post("/recovery-codes/download", h.downloadRecoveryCodes)
		})

		r.Get("/users/me", h.me)
		r.Put("/users/me", h.updateProfile)
		r.Post("/users/me/password", h.changePassword)
	})

	return r
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if apiErr := api.DecodeJSON(r, &req); apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	user, apiErr := h.service.Register(r.Context(), req.Username, req.Email, req.Password)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	api.RespondData(w, r, http.StatusCreated, user)
}

type tokenRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if apiErr := api.DecodeJSON(r, &req); apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	result, apiErr := h.service.PasswordLogin(r.Context(), req.Username, req.Password)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	api.RespondData(w, r, http.StatusOK, result)
}

type verify2FARequest struct {
	Username string `json:"username" validate:"required"`
	Code     string `json:"code" validate:"required"`
}

func (h *Handler) verifyLogin2FA(w http.ResponseWriter, r *http.Request) {
	var req verify2FARequest
	if apiErr := api.DecodeJSON(r, &req); apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	result, apiErr := h.service.VerifyLogin2FA(r.Context(), req.Username, req.Code)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	api.RespondData(w, r, http.StatusOK, result)
}

type refreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if apiErr := api.DecodeJSON(r, &req); apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	tokens, apiErr := h.service.Refresh(r.Context(), req.Refresh)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	api.RespondData(w, r, http.StatusOK, tokens)
}

func (h *Handler) publicKey(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.pair.Artifact()
	if err != nil {
		api.RespondAPIError(w, r, api.ErrInternal())
		return
	}
	api.RespondData(w, r, http.StatusOK, artifact)
}

func callerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		api.RespondAPIError(w, r, api.ErrAuthMissing())
		return 0, false
	}
	return caller.Subject, true
}

func (h *Handler) setup2FA(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}
	setup, apiErr := h.service.Setup2FA(r.Context(), id)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	api.RespondData(w, r, http.StatusOK, setup)
}

type verifySetupRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

func (h *Handler) verifySetup2FA(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}
	var req verifySetupRequest
	if apiErr := api.DecodeJSON(r, &req); apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	if apiErr := h.service.VerifySetup2FA(r.Context(), id, req.Code); apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	api.RespondData(w, r, http.StatusOK, map[string]bool{"confirmed": true})
}

func (h *Handler) status2FA(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}
	status, apiErr := h.service.Status2FA(r.Context(), id)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	api.RespondData(w, r, http.StatusOK, status)
}

type passwordConfirmRequest struct {
	Password string `json:"password" validate:"required"`
}

func (h *Handler) disable2FA(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}
	var req passwordConfirmRequest
	if apiErr := api.DecodeJSON(r, &req); apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	if apiErr := h.service.Disable2FA(r.Context(), id, req.Password); apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	api.RespondData(w, r, http.StatusOK, map[string]bool{"disabled": true})
}

func (h *Handler) regenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}
	var req passwordConfirmRequest
	if apiErr := api.DecodeJSON(r, &req); apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	codes, apiErr := h.service.RegenerateRecoveryCodes(r.Context(), id, req.Password)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	api.RespondData(w, r, http.StatusOK, map[string]interface{}{"recovery_codes": codes})
}

type downloadRequest struct {
	Codes []string `json:"codes" validate:"required,min=1,dive,required"`
}

func (h *Handler) downloadRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(w, r); !ok {
		return
	}
	var req downloadRequest
	if apiErr := api.DecodeJSON(r, &req); apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	api.RespondData(w, r, http.StatusOK, h.service.DownloadRecoveryCodes(req.Codes))
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}
	user, apiErr := h.service.Me(r.Context(), id)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	api.RespondData(w, r, http.StatusOK, user)
}

type updateProfileRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}
	var req updateProfileRequest
	if apiErr := api.DecodeJSON(r, &req); apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	user, apiErr := h.service.UpdateProfile(r.Context(), id, req.Email)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	api.RespondData(w, r, http.StatusOK, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := callerID(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if apiErr := api.DecodeJSON(r, &req); apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	tokens, apiErr := h.service.ChangePassword(r.Context(), id, req.CurrentPassword, req.NewPassword)
	if apiErr != nil {
		api.RespondAPIError(w, r, apiErr)
		return
	}
	api.RespondData(w, r, http.StatusOK, tokens)
}

// Healthz reports liveness: the database must answer and the signing key
// must be present.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.service.store.Ping(r.Context()); err != nil {
		api.RespondAPIError(w, r, api.ErrDependencyUnavailable())
		return
	}
	if h.pair == nil || h.pair.Private == nil {
		api.RespondAPIError(w, r, api.ErrInternal())
		return
	}
	api.RespondData(w, r, http.StatusOK, map[string]string{"status": "healthy"})
}

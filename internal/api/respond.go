// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/shopmesh/shopmesh/internal/logging"
	"github.com/shopmesh/shopmesh/internal/models"
	"github.com/shopmesh/shopmesh/internal/validation"
)

// sanitizeLogValue removes control characters from strings so attacker
// controlled input cannot forge log entries.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// RespondJSON sends the envelope with proper headers.
func RespondJSON(w http.ResponseWriter, r *http.Request, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")

	if response.Metadata.Timestamp.IsZero() {
		response.Metadata.Timestamp = time.Now().UTC()
	}
	if r != nil {
		response.Metadata.RequestID = logging.RequestIDFromContext(r.Context())
	}

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// RespondData sends a success envelope wrapping data.
func RespondData(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	RespondJSON(w, r, status, &models.APIResponse{
		Status: "ok",
		Data:   data,
	})
}

// RespondAPIError sends an error envelope for a taxonomy error.
func RespondAPIError(w http.ResponseWriter, r *http.Request, apiErr *Error) {
	if apiErr == nil {
		apiErr = ErrInternal()
	}
	if apiErr.Status >= http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().
			Str("code", sanitizeLogValue(apiErr.Code)).
			Str("message", sanitizeLogValue(apiErr.Message)).
			Msg("API error")
	}
	RespondJSON(w, r, apiErr.Status, &models.APIResponse{
		Status: "error",
		Error: &models.APIError{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Details: apiErr.Details,
		},
	})
}

// DecodeJSON decodes the request body into v and validates it. Returns an
// INPUT_INVALID error on malformed bodies or failed validation.
func DecodeJSON(r *http.Request, v interface{}) *Error {
	if r.Body == nil {
		return ErrInputInvalid("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return ErrInputInvalid("malformed JSON body")
	}
	if verr := validation.ValidateStruct(v); verr != nil {
		apiErr := ErrInputInvalid(verr.Error())
		apiErr.Details = verr.Details()
		return apiErr
	}
	return nil
}

// QueryInt extracts an integer query parameter with a default value.
func QueryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return def
	}
	return n
}

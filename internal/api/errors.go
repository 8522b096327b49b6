// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

// Package api provides the shared HTTP plumbing for ShopMesh services:
// the error taxonomy, response helpers and request decoding.
package api

import (
	"fmt"
	"net/http"
)

// Error discriminators. Each maps to exactly one HTTP status so that clients
// can branch on the code without parsing free text. Authentication messages
// stay deliberately coarse to avoid account enumeration.
const (
	CodeInputInvalid           = "INPUT_INVALID"
	CodeAuthMissing            = "AUTH_MISSING"
	CodeAuthInvalid            = "AUTH_INVALID"
	CodeAuthExpired            = "AUTH_EXPIRED"
	CodeTwoFactorRequired      = "TWO_FACTOR_REQUIRED"
	CodeTwoFactorInvalid       = "TWO_FACTOR_INVALID"
	CodeForbidden              = "FORBIDDEN"
	CodeNotFound               = "NOT_FOUND"
	CodeConflictState          = "CONFLICT_STATE"
	CodeInsufficientInventory  = "INSUFFICIENT_INVENTORY"
	CodeDependencyUnavailable  = "DEPENDENCY_UNAVAILABLE"
	CodeInternal               = "INTERNAL"
)

// Error is a transport-mappable service error. Services return *Error from
// business operations; handlers pass it straight to RespondAPIError.
type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetail returns a copy of the error with one detail field attached.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	clone := *e
	clone.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		clone.Details[k] = v
	}
	clone.Details[key] = value
	return &clone
}

// E constructs an *Error.
func E(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// Common constructors. Creation-time dependency lookups that miss (unknown
// user, unknown product, shortfall) surface as 400 per the order-creation
// contract; addressed resources that do not exist surface as 404.
func ErrInputInvalid(message string) *Error {
	return E(http.StatusBadRequest, CodeInputInvalid, message)
}

func ErrAuthMissing() *Error {
	return E(http.StatusUnauthorized, CodeAuthMissing, "authentication required")
}

func ErrAuthInvalid() *Error {
	return E(http.StatusUnauthorized, CodeAuthInvalid, "invalid credentials")
}

func ErrAuthExpired() *Error {
	return E(http.StatusUnauthorized, CodeAuthExpired, "token expired")
}

func ErrTwoFactorInvalid() *Error {
	return E(http.StatusUnauthorized, CodeTwoFactorInvalid, "code is incorrect or expired")
}

func ErrForbidden() *Error {
	return E(http.StatusForbidden, CodeForbidden, "not allowed")
}

func ErrNotFound(what string) *Error {
	return E(http.StatusNotFound, CodeNotFound, what+" not found")
}

func ErrConflictState(message string) *Error {
	return E(http.StatusConflict, CodeConflictState, message)
}

func ErrDependencyUnavailable() *Error {
	return E(http.StatusServiceUnavailable, CodeDependencyUnavailable,
		"a dependent service is temporarily unavailable")
}

func ErrInternal() *Error {
	return E(http.StatusInternalServerError, CodeInternal, "internal error")
}

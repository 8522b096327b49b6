// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

// Package models holds the shared API envelope and pagination types used by
// every ShopMesh service. Domain entities live with the service that owns
// them; nothing in this package touches a database.
package models

import "time"

// APIResponse is the uniform envelope for every public HTTP response.
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata for observability.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// APIError carries a stable machine-readable discriminator plus a
// human-readable message. Clients branch on Code, never on Message.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Page wraps a paginated collection response.
type Page struct {
	Items      interface{} `json:"items"`
	PageNumber int         `json:"page"`
	PageSize   int         `json:"page_size"`
	Total      int         `json:"total"`
}

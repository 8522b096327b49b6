// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

// Package rpc implements the internal service-to-service transport: JSON
// bodies over HTTP on a private listener, authenticated with a shared bearer
// secret. The wire types here are the contract; business types never cross
// the wire directly.
//
// The client side layers resilience over the transport: a retry policy with
// exponential backoff and jitter, wrapped by a per-target circuit breaker.
// The breaker wraps the retry wrapper, so one logical call is one attempt
// from the breaker's perspective.
package rpc

// ValidateUserRequest asks the identity provider whether an account may
// place orders.
type ValidateUserRequest struct {
	UserID            int64  `json:"user_id"`
	RequestingService string `json:"requesting_service"`
}

// ValidateUserResponse reports account existence and standing.
type ValidateUserResponse struct {
	Valid        bool   `json:"valid"`
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
	IsActive     bool   `json:"is_active"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ProductInfoRequest asks the catalog for one product's purchase-relevant
// fields.
type ProductInfoRequest struct {
	ProductID int64 `json:"product_id"`
}

// ProductInfoResponse carries the product snapshot used for pricing. Price
// is a decimal string; it is parsed into fixed-point on arrival.
type ProductInfoResponse struct {
	Found          bool   `json:"found"`
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Price          string `json:"price"`
	InventoryCount int32  `json:"inventory_count"`
	IsActive       bool   `json:"is_active"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// AvailabilityRequest asks whether quantity units of a product are in stock.
type AvailabilityRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int32 `json:"quantity"`
}

// AvailabilityResponse reports stock. CurrentInventory is returned even on
// shortfall so the caller can surface it.
type AvailabilityResponse struct {
	Available        bool   `json:"available"`
	CurrentInventory int32  `json:"current_inventory"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

// Method paths on the internal listener.
const (
	PathValidateUser      = "/internal/v1/users/validate"
	PathGetProductInfo    = "/internal/v1/products/info"
	PathCheckAvailability = "/internal/v1/products/availability"
)

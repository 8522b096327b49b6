// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package catalog

import (
	"errors"
	"net/http"

	"github.com/shopmesh/shopmesh/internal/rpc"
)

// NewRPCServer exposes the catalog's internal surface: product snapshots and
// availability checks. Availability never decrements inventory; the check
// only reports whether the requested quantity is in stock.
func NewRPCServer(store *Store, secret string) *rpc.Server {
	s := rpc.NewServer(secret)

	rpc.Register(s, rpc.PathGetProductInfo,
		func(r *http.Request, req rpc.ProductInfoRequest) (rpc.ProductInfoResponse, error) {
			product, err := store.ByID(r.Context(), req.ProductID)
			if errors.Is(err, ErrNotFound) {
				return rpc.ProductInfoResponse{Found: false, ErrorMessage: "product not found"}, nil
			}
			if err != nil {
				return rpc.ProductInfoResponse{}, err
			}
			return rpc.ProductInfoResponse{
				Found:          true,
				ID:             product.ID,
				Name:           product.Name,
				Description:    product.Description,
				Price:          product.Price.String(),
				InventoryCount: product.Inventory,
				IsActive:       product.IsActive,
			}, nil
		})

	rpc.Register(s, rpc.PathCheckAvailability,
		func(r *http.Request, req rpc.AvailabilityRequest) (rpc.AvailabilityResponse, error) {
			product, err := store.ByID(r.Context(), req.ProductID)
			if errors.Is(err, ErrNotFound) {
				return rpc.AvailabilityResponse{Available: false, ErrorMessage: "product not found"}, nil
			}
			if err != nil {
				return rpc.AvailabilityResponse{}, err
			}
			return rpc.AvailabilityResponse{
				Available:        product.IsActive && req.Quantity > 0 && product.Inventory >= req.Quantity,
				CurrentInventory: product.Inventory,
			}, nil
		})

	return s
}

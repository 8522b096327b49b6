// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package idp

import (
	"net/http"

	"github.com/shopmesh/shopmesh/internal/rpc"
)

// NewRPCServer exposes the identity provider's internal surface.
func NewRPCServer(service *Service, secret string) *rpc.Server {
	s := rpc.NewServer(secret)
	rpc.Register(s, rpc.PathValidateUser,
		func(r *http.Request, req rpc.ValidateUserRequest) (rpc.ValidateUserResponse, error) {
			return *service.ValidateUser(r.Context(), req.UserID, req.RequestingService), nil
		})
	return s
}

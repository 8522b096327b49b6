// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package orders

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shopmesh/shopmesh/internal/api"
	"github.com/shopmesh/shopmesh/internal/fieldcrypt"
	"github.com/shopmesh/shopmesh/internal/logging"
	"github.com/shopmesh/shopmesh/internal/money"
	"github.com/shopmesh/shopmesh/internal/rpc"
)

// serviceName identifies the orchestrator to dependencies.
const serviceName = "orders"

// UserValidator is the identity provider dependency.
type UserValidator interface {
	ValidateUser(ctx context.Context, userID int64, requestingService string) (*rpc.ValidateUserResponse, error)
}

// ProductDirectory is the catalog dependency.
type ProductDirectory interface {
	GetProductInfo(ctx context.Context, productID int64) (*rpc.ProductInfoResponse, error)
	CheckAvailability(ctx context.Context, productID int64, quantity int32) (*rpc.AvailabilityResponse, error)
}

// Item is one requested order line.
type Item struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int32 `json:"quantity" validate:"required,gte=1"`
}

// OrderView is the outward representation of an order. The owner identifier
// appears only after in-service decryption.
type OrderView struct {
	ID          int64        `json:"id"`
	OwnerID     int64        `json:"owner_id"`
	Status      Status       `json:"status"`
	TotalAmount money.Amount `json:"total_amount"`
	Lines       []Line       `json:"lines"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Service orchestrates order creation and queries.
type Service struct {
	store    *Store
	users    UserValidator
	products ProductDirectory
	cipher   *fieldcrypt.Cipher
}

// NewService wires the orchestrator.
func NewService(store *Store, users UserValidator, products ProductDirectory, cipher *fieldcrypt.Cipher) *Service {
	return &Service{store: store, users: users, products: products, cipher: cipher}
}

func (s *Service) view(ctx context.Context, order *StoredOrder) (*OrderView, *api.Error) {
	ownerPlain, err := s.cipher.Decrypt(order.OwnerCipher)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Int64("order_id", order.ID).Msg("Owner decrypt failed")
		return nil, api.ErrInternal()
	}
	ownerID, err := strconv.ParseInt(ownerPlain, 10, 64)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Int64("order_id", order.ID).Msg("Owner plaintext malformed")
		return nil, api.ErrInternal()
	}
	return &OrderView{
		ID:          order.ID,
		OwnerID:     ownerID,
		Status:      order.Status,
		TotalAmount: order.Total,
		Lines:       order.Lines,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}, nil
}

// mergeItems collapses duplicate product ids by summing quantities,
// preserving first-seen order.
func mergeItems(items []Item) []Item {
	index := make(map[int64]int, len(items))
	merged := make([]Item, 0, len(items))
	for _, item := range items {
		if at, seen := index[item.ProductID]; seen {
			merged[at].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

func mapDependencyError(ctx context.Context, err error) *api.Error {
	if errors.Is(err, rpc.ErrDependencyUnavailable) {
		return api.ErrDependencyUnavailable()
	}
	logging.Ctx(ctx).Error().Err(err).Msg("Dependency call failed")
	return api.ErrInternal()
}

// Create runs the order pipeline: validate the owner, snapshot every
// product, check every availability, then persist atomically. The phases
// are strictly ordered; within the product phases the per-line calls fan
// out concurrently. On any failure nothing is persisted.
func (s *Service) Create(ctx context.Context, ownerID int64, items []Item) (*OrderView, *api.Error) {
	if len(items) == 0 {
		return nil, api.ErrInputInvalid("items must not be empty")
	}
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, api.ErrInputInvalid("quantity must be at least 1")
		}
	}
	items = mergeItems(items)

	// Phase 1: owner must exist and be active.
	user, err := s.users.ValidateUser(ctx, ownerID, serviceName)
	if err != nil {
		return nil, mapDependencyError(ctx, err)
	}
	if !user.Valid {
		return nil, api.E(http.StatusBadRequest, api.CodeNotFound, "user is not valid for ordering").
			WithDetail("user_id", ownerID)
	}

	// Phase 2: product snapshots, fanned out per line.
	infos := make([]*rpc.ProductInfoResponse, len(items))
	g, groupCtx := errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			info, err := s.products.GetProductInfo(groupCtx, item.ProductID)
			if err != nil {
				return err
			}
			infos[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, mapDependencyError(ctx, err)
	}
	for i, item := range items {
		if !infos[i].Found || !infos[i].IsActive {
			return nil, api.E(http.StatusBadRequest, api.CodeNotFound, "product is not available for ordering").
				WithDetail("product_id", item.ProductID)
		}
	}

	// Phase 3: availability, fanned out per line after phase 2 completes.
	avails := make([]*rpc.AvailabilityResponse, len(items))
	g, groupCtx = errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			avail, err := s.products.CheckAvailability(groupCtx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}
			avails[i] = avail
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, mapDependencyError(ctx, err)
	}
	for i, item := range items {
		if !avails[i].Available {
			return nil, api.E(http.StatusBadRequest, api.CodeInsufficientInventory, "insufficient inventory").
				WithDetail("product_id", item.ProductID).
				WithDetail("requested", item.Quantity).
				WithDetail("available", avails[i].CurrentInventory)
		}
	}

	// Phase 4: total in fixed point, lines priced from the snapshot.
	var total money.Amount
	lines := make([]Line, len(items))
	for i, item := range items {
		price, err := money.Parse(infos[i].Price)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("product_id", item.ProductID).Msg("Unparseable price from catalog")
			return nil, api.ErrInternal()
		}
		lines[i] = Line{
			ProductID:       item.ProductID,
			ProductName:     infos[i].Name,
			Quantity:        item.Quantity,
			PriceAtPurchase: price,
		}
		total = total.Add(price.MulInt(int64(item.Quantity)))
	}

	// Phase 5: one local transaction, owner encrypted at rest.
	ownerPlain := strconv.FormatInt(ownerID, 10)
	ownerCipher, err := s.cipher.Encrypt(ownerPlain)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Owner encrypt failed")
		return nil, api.ErrInternal()
	}
	order, err := s.store.CreateOrder(ctx, ownerCipher, s.cipher.Hash(ownerPlain), total, lines)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Order persist failed")
		return nil, api.ErrInternal()
	}

	logging.Ctx(ctx).Info().
		Int64("order_id", order.ID).
		Str("total", total.String()).
		Int("lines", len(lines)).
		Msg("Order created")
	return s.view(ctx, order)
}

// Get returns one order, visible to its owner or an admin.
func (s *Service) Get(ctx context.Context, callerID int64, isAdmin bool, orderID int64) (*OrderView, *api.Error) {
	order, err := s.store.OrderByID(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		return nil, api.ErrNotFound("order")
	}
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Order lookup failed")
		return nil, api.ErrInternal()
	}

	view, apiErr := s.view(ctx, order)
	if apiErr != nil {
		return nil, apiErr
	}
	if view.OwnerID != callerID && !isAdmin {
		// Indistinguishable from a missing order.
		return nil, api.ErrNotFound("order")
	}
	return view, nil
}

// List pages through the caller's own orders.
func (s *Service) List(ctx context.Context, callerID int64, page int) ([]OrderView, int, *api.Error) {
	hash := s.cipher.Hash(strconv.FormatInt(callerID, 10))
	stored, total, err := s.store.OrdersByOwnerHash(ctx, hash, page)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Order listing failed")
		return nil, 0, api.ErrInternal()
	}
	return s.views(ctx, stored, total)
}

// AdminList pages through all orders.
func (s *Service) AdminList(ctx context.Context, page int) ([]OrderView, int, *api.Error) {
	stored, total, err := s.store.AllOrders(ctx, page)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Order listing failed")
		return nil, 0, api.ErrInternal()
	}
	return s.views(ctx, stored, total)
}

func (s *Service) views(ctx context.Context, stored []StoredOrder, total int) ([]OrderView, int, *api.Error) {
	views := make([]OrderView, 0, len(stored))
	for i := range stored {
		v, apiErr := s.view(ctx, &stored[i])
		if apiErr != nil {
			return nil, 0, apiErr
		}
		views = append(views, *v)
	}
	return views, total, nil
}

// SetStatus applies an admin transition following the state machine.
func (s *Service) SetStatus(ctx context.Context, orderID int64, next Status) (*OrderView, *api.Error) {
	order, err := s.store.OrderByID(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		return nil, api.ErrNotFound("order")
	}
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Order lookup failed")
		return nil, api.ErrInternal()
	}

	if !order.Status.CanTransitionTo(next) {
		return nil, api.ErrConflictState("cannot transition from " + string(order.Status) + " to " + string(next))
	}
	if err := s.store.SetStatus(ctx, orderID, order.Status, next); err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return nil, api.ErrConflictState("order status changed concurrently")
		}
		logging.Ctx(ctx).Error().Err(err).Msg("Order status update failed")
		return nil, api.ErrInternal()
	}

	updated, err := s.store.OrderByID(ctx, orderID)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Order reload failed")
		return nil, api.ErrInternal()
	}
	logging.Ctx(ctx).Info().
		Int64("order_id", orderID).
		Str("from", string(order.Status)).
		Str("to", string(next)).
		Msg("Order status changed")
	return s.view(ctx, updated)
}

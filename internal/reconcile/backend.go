package reconcile

import (
	"context"
	"fmt"

	"storefront-cart/internal/metrics"
	"storefront-cart/internal/model"
	"storefront-cart/internal/warehouse"
)

// backend is one source of truth for the cart. Each mutation returns the full
// resulting cart.
type backend interface {
	name() string
	add(ctx context.Context, current []model.CartItem, product model.Product, quantity int) ([]model.CartItem, error)
	update(ctx context.Context, productID, variantID string, quantity int) ([]model.CartItem, error)
	remove(ctx context.Context, productID, variantID string) ([]model.CartItem, error)
	clear(ctx context.Context) ([]model.CartItem, error)
}

// localBackend applies mutations to the guest cart with read-modify-write, so
// writes from other tabs since the last load are not lost.
type localBackend struct {
	store   LocalStore
	metrics *metrics.Metrics
}

func (b *localBackend) name() string { return "local" }

func (b *localBackend) add(ctx context.Context, _ []model.CartItem, product model.Product, quantity int) ([]model.CartItem, error) {
	items, err := b.store.Items(ctx)
	if err != nil {
		return nil, err
	}
	if err := warehouse.Check(items, product); err != nil {
		b.metrics.Conflict(metrics.ConflictClient)
		return nil, err
	}

	// Same line key merges into the existing line
	idx := -1
	total := quantity
	for i := range items {
		if items[i].Key() == model.LineKey(product.ProductID, product.VariantID) {
			idx = i
			total += items[i].Quantity
			break
		}
	}
	if product.Stock > 0 && total > product.Stock {
		return nil, model.NewValidationError("quantity", fmt.Sprintf("only %d in stock", product.Stock))
	}
	if idx >= 0 {
		items[idx].Quantity = total
		items[idx].Stock = product.Stock
	} else {
		items = append(items, model.NewCartItem(product, quantity))
	}

	if err := b.store.SetItems(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (b *localBackend) update(ctx context.Context, productID, variantID string, quantity int) ([]model.CartItem, error) {
	items, err := b.store.Items(ctx)
	if err != nil {
		return nil, err
	}
	key := model.LineKey(productID, variantID)
	found := false
	for i := range items {
		if items[i].Key() == key {
			if stock := items[i].Stock; stock > 0 && quantity > stock {
				return nil, model.NewValidationError("quantity", fmt.Sprintf("only %d in stock", stock))
			}
			items[i].Quantity = quantity
			found = true
			break
		}
	}
	if !found {
		return nil, model.NewNotFoundError("cart item")
	}
	if err := b.store.SetItems(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (b *localBackend) remove(ctx context.Context, productID, variantID string) ([]model.CartItem, error) {
	items, err := b.store.Items(ctx)
	if err != nil {
		return nil, err
	}
	key := model.LineKey(productID, variantID)
	kept := make([]model.CartItem, 0, len(items))
	for _, item := range items {
		if item.Key() != key {
			kept = append(kept, item)
		}
	}
	if err := b.store.SetItems(ctx, kept); err != nil {
		return nil, err
	}
	return kept, nil
}

func (b *localBackend) clear(ctx context.Context) ([]model.CartItem, error) {
	if err := b.store.Clear(ctx); err != nil {
		return nil, err
	}
	return []model.CartItem{}, nil
}

// remoteBackend applies mutations to the account cart. The guard runs against
// the last server cart before any add request leaves the process; the server
// re-validates and its rejection surfaces as the same error type.
type remoteBackend struct {
	client  RemoteCart
	metrics *metrics.Metrics
}

func (b *remoteBackend) name() string { return "remote" }

func (b *remoteBackend) add(ctx context.Context, current []model.CartItem, product model.Product, quantity int) ([]model.CartItem, error) {
	if err := warehouse.Check(current, product); err != nil {
		b.metrics.Conflict(metrics.ConflictClient)
		return nil, err
	}
	items, err := b.client.AddToCart(ctx, product, quantity)
	if model.IsWarehouseConflict(err) {
		b.metrics.Conflict(metrics.ConflictServer)
	}
	return items, err
}

func (b *remoteBackend) update(ctx context.Context, productID, variantID string, quantity int) ([]model.CartItem, error) {
	return b.client.UpdateCartItem(ctx, productID, variantID, quantity)
}

func (b *remoteBackend) remove(ctx context.Context, productID, variantID string) ([]model.CartItem, error) {
	return b.client.RemoveCartItem(ctx, productID, variantID)
}

func (b *remoteBackend) clear(ctx context.Context) ([]model.CartItem, error) {
	return b.client.ClearCart(ctx)
}

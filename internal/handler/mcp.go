// MCP transport handler for cartd using the official MCP Go SDK.
// Exposes the cart operations of a profile tab as MCP tools.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"storefront-cart/internal/model"
	"storefront-cart/internal/negotiation"
)

// === MCP Meta Types ===
// meta carries what REST sends in the Cart-Profile header.

// MCPMeta represents request metadata in MCP requests.
type MCPMeta struct {
	CartProfile *CartProfileMeta `json:"cart-profile"`
}

// CartProfileMeta addresses a profile tab.
type CartProfileMeta struct {
	ID      string `json:"id" jsonschema:"profile id"`
	Tab     string `json:"tab,omitempty" jsonschema:"tab id, defaults to main"`
	Version string `json:"version,omitempty" jsonschema:"client semantic version"`
}

// === MCP Tool Input/Output Types ===
// Prices travel as decimal strings so schemas stay plain JSON types.

// GetCartInput is the input schema for get_cart and clear_cart.
type GetCartInput struct {
	Meta MCPMeta `json:"meta" jsonschema:"request metadata"`
}

// AddToCartInput is the input schema for add_to_cart.
type AddToCartInput struct {
	Meta     MCPMeta      `json:"meta" jsonschema:"request metadata"`
	Product  ProductInput `json:"product" jsonschema:"product to add"`
	Quantity int          `json:"quantity,omitempty" jsonschema:"units to add, defaults to 1"`
}

// ProductInput is an add-to-cart candidate.
type ProductInput struct {
	ProductID        string          `json:"product_id" jsonschema:"product ID"`
	VariantID        string          `json:"variant_id,omitempty" jsonschema:"variant ID for attribute-based products"`
	Name             string          `json:"name,omitempty"`
	Image            string          `json:"image,omitempty"`
	Price            string          `json:"price" jsonschema:"unit price as a decimal string"`
	VariantPrice     string          `json:"variant_price,omitempty" jsonschema:"variant unit price, wins over price"`
	Tax              string          `json:"tax,omitempty" jsonschema:"tax rate in percent"`
	PriceIncludesTax bool            `json:"price_includes_tax,omitempty"`
	Warehouse        *WarehouseInput `json:"warehouse,omitempty" jsonschema:"fulfilling warehouse"`
	Stock            int             `json:"stock,omitempty" jsonschema:"available units, 0 if unknown"`
}

// WarehouseInput identifies a warehouse.
type WarehouseInput struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (p ProductInput) toModel() model.Product {
	product := model.Product{
		ProductID:        p.ProductID,
		VariantID:        p.VariantID,
		Name:             p.Name,
		Image:            p.Image,
		Price:            model.ParsePrice(p.Price),
		Tax:              model.ParsePrice(p.Tax),
		PriceIncludesTax: p.PriceIncludesTax,
		Stock:            p.Stock,
	}
	if p.VariantPrice != "" {
		vp := model.ParsePrice(p.VariantPrice)
		product.VariantPrice = &vp
	}
	if p.Warehouse != nil {
		product.Warehouse = &model.Warehouse{ID: p.Warehouse.ID, Name: p.Warehouse.Name}
	}
	return product
}

// UpdateCartItemInput is the input schema for update_cart_item.
type UpdateCartItemInput struct {
	Meta      MCPMeta `json:"meta" jsonschema:"request metadata"`
	ProductID string  `json:"product_id" jsonschema:"product ID"`
	VariantID string  `json:"variant_id,omitempty" jsonschema:"variant ID"`
	Quantity  int     `json:"quantity" jsonschema:"new quantity, 0 removes the line"`
}

// RemoveCartItemInput is the input schema for remove_cart_item.
type RemoveCartItemInput struct {
	Meta      MCPMeta `json:"meta" jsonschema:"request metadata"`
	ProductID string  `json:"product_id" jsonschema:"product ID"`
	VariantID string  `json:"variant_id,omitempty" jsonschema:"variant ID"`
}

// LoginInput is the input schema for login.
type LoginInput struct {
	Meta  MCPMeta     `json:"meta" jsonschema:"request metadata"`
	Token string      `json:"token" jsonschema:"bearer token issued by the storefront"`
	User  *model.User `json:"user,omitempty" jsonschema:"account profile, needed when the token is opaque"`
}

// CartOutput is the cart as returned by every cart tool.
type CartOutput struct {
	State       string     `json:"state"`
	Items       []CartLine `json:"items"`
	Subtotal    string     `json:"subtotal"`
	Tax         string     `json:"tax"`
	Total       string     `json:"total"`
	Units       int        `json:"units"`
	SyncMessage string     `json:"sync_message,omitempty"`
	Warning     string     `json:"warning,omitempty"`
}

// CartLine is one line of CartOutput.
type CartLine struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
	Warehouse string `json:"warehouse,omitempty"`
}

func cartOutput(t *Tab) *CartOutput {
	items := t.Engine.Items()
	totals := t.Engine.Totals()
	out := &CartOutput{
		State:    t.Engine.State().String(),
		Items:    make([]CartLine, len(items)),
		Subtotal: totals.Subtotal.StringFixed(2),
		Tax:      totals.Tax.StringFixed(2),
		Total:    totals.Total.StringFixed(2),
		Units:    totals.Units,
	}
	for i, item := range items {
		out.Items[i] = CartLine{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     item.Price.StringFixed(2),
			Warehouse: item.Warehouse.DisplayName(),
		}
	}
	return out
}

// NewMCPServer creates an MCP server with cart tools registered.
// The server exposes the same operations as the REST API but via MCP protocol.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storefront-cart",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Storefront cart. Every tool needs meta.cart-profile.id. " +
				"A cart holds products from one warehouse only; adding from another warehouse fails with WAREHOUSE_CONFLICT.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart",
		Description: "Get the cart of a profile tab with totals.",
	}, h.mcpGetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_to_cart",
		Description: "Add a product to the cart. Fails if the product ships from a different warehouse than the cart.",
	}, h.mcpAddToCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_cart_item",
		Description: "Set the quantity of a cart line. Quantity 0 removes it.",
	}, h.mcpUpdateCartItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_cart_item",
		Description: "Remove a line from the cart.",
	}, h.mcpRemoveCartItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_cart",
		Description: "Remove every line from the cart.",
	}, h.mcpClearCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "login",
		Description: "Log the profile in. The guest cart is merged into the account cart once per login.",
	}, h.mcpLogin)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "logout",
		Description: "Log the profile out and return to the guest cart.",
	}, h.mcpLogout)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpGetCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetCartInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	t, err := h.mcpTab(ctx, &input.Meta)
	if err != nil {
		return nil, nil, err
	}
	return nil, cartOutput(t), nil
}

func (h *Handler) mcpAddToCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddToCartInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	t, err := h.mcpTab(ctx, &input.Meta)
	if err != nil {
		return nil, nil, err
	}

	quantity := input.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if _, err := t.Engine.Add(ctx, input.Product.toModel(), quantity); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, cartOutput(t), nil
}

func (h *Handler) mcpUpdateCartItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input UpdateCartItemInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	t, err := h.mcpTab(ctx, &input.Meta)
	if err != nil {
		return nil, nil, err
	}

	if input.ProductID == "" {
		return nil, nil, fmt.Errorf("product_id is required")
	}
	if _, err := t.Engine.Update(ctx, input.ProductID, input.VariantID, input.Quantity); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, cartOutput(t), nil
}

func (h *Handler) mcpRemoveCartItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RemoveCartItemInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	t, err := h.mcpTab(ctx, &input.Meta)
	if err != nil {
		return nil, nil, err
	}

	if input.ProductID == "" {
		return nil, nil, fmt.Errorf("product_id is required")
	}
	if _, err := t.Engine.Remove(ctx, input.ProductID, input.VariantID); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, cartOutput(t), nil
}

func (h *Handler) mcpClearCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetCartInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	t, err := h.mcpTab(ctx, &input.Meta)
	if err != nil {
		return nil, nil, err
	}

	if _, err := t.Engine.Clear(ctx); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, cartOutput(t), nil
}

func (h *Handler) mcpLogin(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input LoginInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	t, err := h.mcpTab(ctx, &input.Meta)
	if err != nil {
		return nil, nil, err
	}

	wasAuthenticated := t.Bridge.Authenticated(ctx)
	result, err := h.host.Login(ctx, t, input.Token, input.User)
	out := cartOutput(t)
	if result != nil {
		out.SyncMessage = result.Message()
	}
	switch {
	case err == nil, model.IsPartialSync(err):
		return nil, out, nil
	case !wasAuthenticated && t.Bridge.Authenticated(ctx):
		out.Warning = err.Error()
		return nil, out, nil
	default:
		return nil, nil, h.mcpError(err)
	}
}

func (h *Handler) mcpLogout(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetCartInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	t, err := h.mcpTab(ctx, &input.Meta)
	if err != nil {
		return nil, nil, err
	}

	if err := h.host.Logout(ctx, t); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, cartOutput(t), nil
}

// mcpError converts engine errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	if conflict, ok := model.AsWarehouseConflict(err); ok {
		return fmt.Errorf("%s: %s", model.WarehouseConflictCode, conflict.Error())
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}

// mcpTab resolves meta.cart-profile to a started tab.
func (h *Handler) mcpTab(ctx context.Context, meta *MCPMeta) (*Tab, error) {
	var ref negotiation.ProfileRef
	if meta != nil && meta.CartProfile != nil {
		ref = negotiation.ProfileRef{
			ID:            meta.CartProfile.ID,
			Tab:           meta.CartProfile.Tab,
			ClientVersion: meta.CartProfile.Version,
		}
	}

	ref, err := negotiation.Resolve(ref, h.minVersion)
	if err != nil {
		var verErr *negotiation.VersionError
		if errors.As(err, &verErr) {
			return nil, fmt.Errorf("%s: %s", verErr.Code, verErr.Message)
		}
		return nil, fmt.Errorf("%s: meta.cart-profile.id is required in MCP requests", negotiation.ProfileRequired)
	}

	t, err := h.host.Tab(negotiation.WithProfile(ctx, ref), ref)
	if err != nil {
		return nil, h.mcpError(err)
	}
	return t, nil
}

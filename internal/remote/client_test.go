package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"storefront-cart/internal/model"
)

func testClient(t *testing.T, handler http.HandlerFunc, token string) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(Config{BaseURL: server.URL + "/"}, func(context.Context) (string, error) {
		return token, nil
	}, logger)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}, nil, slog.Default()); err == nil {
		t.Error("New() with empty base URL should fail")
	}
}

func TestGetCart_SendsBearerToken(t *testing.T) {
	var gotAuth, gotPath string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		writeJSON(w, http.StatusOK, map[string]any{
			"cart": []map[string]any{{"productId": "A", "quantity": 2, "price": "10.00"}},
		})
	}, "tok-123")

	items, err := c.GetCart(context.Background())
	if err != nil {
		t.Fatalf("GetCart() error: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want Bearer tok-123", gotAuth)
	}
	if gotPath != "/cart" {
		t.Errorf("path = %q, want /cart", gotPath)
	}
	if len(items) != 1 || items[0].ProductID != "A" || items[0].Quantity != 2 {
		t.Errorf("items = %+v, want one line A x2", items)
	}
	if !items[0].Price.Equal(decimal.NewFromInt(10)) {
		t.Errorf("price = %s, want 10", items[0].Price)
	}
}

func TestGetCart_EmptyCartIsNonNil(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"cart": nil})
	}, "tok")

	items, err := c.GetCart(context.Background())
	if err != nil {
		t.Fatalf("GetCart() error: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Errorf("items = %#v, want empty non-nil slice", items)
	}
}

func TestAddToCart_RequestBody(t *testing.T) {
	var body cartMutation
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/cart/add" {
			t.Errorf("request = %s %s, want POST /cart/add", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, map[string]any{"cart": []map[string]any{{"productId": "A", "quantity": 3}}})
	}, "tok")

	_, err := c.AddToCart(context.Background(), model.Product{ProductID: "A", VariantID: "red"}, 3)
	if err != nil {
		t.Fatalf("AddToCart() error: %v", err)
	}
	if body.ProductID != "A" || body.VariantID != "red" || body.Quantity != 3 {
		t.Errorf("body = %+v, want A/red x3", body)
	}
}

func TestAddToCart_WarehouseConflict(t *testing.T) {
	tests := []struct {
		name         string
		body         map[string]any
		wantExisting string
	}{
		{
			name: "code marker with names",
			body: map[string]any{
				"code":              "WAREHOUSE_CONFLICT",
				"message":           "Cart already has items from another warehouse",
				"existingWarehouse": "North Hub",
				"newWarehouse":      "South Hub",
			},
			wantExisting: "North Hub",
		},
		{
			name: "error marker with objects",
			body: map[string]any{
				"error":             "WAREHOUSE_CONFLICT",
				"existingWarehouse": map[string]any{"id": "w1", "name": "North Hub"},
				"newWarehouse":      map[string]any{"id": "w2", "name": "South Hub"},
			},
			wantExisting: "North Hub",
		},
		{
			name: "object without name falls back to id",
			body: map[string]any{
				"code":              "WAREHOUSE_CONFLICT",
				"existingWarehouse": map[string]any{"id": "w1"},
			},
			wantExisting: "w1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusBadRequest, tt.body)
			}, "tok")

			_, err := c.AddToCart(context.Background(), model.Product{ProductID: "C"}, 1)
			conflict, ok := model.AsWarehouseConflict(err)
			if !ok {
				t.Fatalf("error = %v, want warehouse conflict", err)
			}
			if conflict.Existing != tt.wantExisting {
				t.Errorf("Existing = %q, want %q", conflict.Existing, tt.wantExisting)
			}
		})
	}
}

func TestParseErrorResponse(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{"unauthorized", 401, `{}`, model.ErrUnauthorized},
		{"forbidden", 403, `{}`, model.ErrUnauthorized},
		{"not found", 404, `{}`, model.ErrNotFound},
		{"plain bad request", 400, `{"message":"quantity must be positive"}`, model.ErrInvalidRequest},
		{"rate limited", 429, ``, model.ErrRateLimited},
		{"server error", 503, `not json`, model.ErrUpstreamError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseErrorResponse(tt.status, []byte(tt.body))
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("parseErrorResponse(%d) = %v, want %v", tt.status, err, tt.sentinel)
			}
			if model.IsWarehouseConflict(err) {
				t.Error("non-conflict response must not be a warehouse conflict")
			}
		})
	}
}

func TestRemoveCartItem_EscapesPathAndVariant(t *testing.T) {
	var gotPath, gotVariant string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotVariant = r.URL.Query().Get("variantId")
		writeJSON(w, http.StatusOK, map[string]any{"cart": []any{}})
	}, "tok")

	if _, err := c.RemoveCartItem(context.Background(), "sku 1", "size/L"); err != nil {
		t.Fatalf("RemoveCartItem() error: %v", err)
	}
	if gotPath != "/cart/remove/sku 1" {
		t.Errorf("path = %q, want /cart/remove/sku 1", gotPath)
	}
	if gotVariant != "size/L" {
		t.Errorf("variantId = %q, want size/L", gotVariant)
	}
}

func TestSyncCart_FullSuccess(t *testing.T) {
	local := []model.CartItem{{ProductID: "A", Quantity: 2}}
	var req syncRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, http.StatusOK, map[string]any{"cart": []map[string]any{{"productId": "A", "quantity": 2}}})
	}, "tok")

	result, err := c.SyncCart(context.Background(), local)
	if err != nil {
		t.Fatalf("SyncCart() error: %v", err)
	}
	if len(req.LocalCart) != 1 || req.LocalCart[0].ProductID != "A" {
		t.Errorf("localCart = %+v, want [A]", req.LocalCart)
	}
	if result.Partial {
		t.Error("Partial = true, want false")
	}
	if got := result.Message(); got != "1 item synced" {
		t.Errorf("Message() = %q, want %q", got, "1 item synced")
	}
}

func TestSyncCart_PartialIsNotAnError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMultiStatus, map[string]any{
			"cart":             []map[string]any{{"productId": "A", "quantity": 2}},
			"warning":          "WAREHOUSE_CONFLICT",
			"validItems":       []map[string]any{{"productId": "A", "quantity": 2}},
			"conflictingItems": []map[string]any{{"productId": "B", "quantity": 1}},
		})
	}, "tok")

	result, err := c.SyncCart(context.Background(), []model.CartItem{
		{ProductID: "A", Quantity: 2},
		{ProductID: "B", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("SyncCart() error: %v", err)
	}
	if !result.Partial {
		t.Error("Partial = false, want true")
	}
	if len(result.Items) != 1 || result.Items[0].ProductID != "A" {
		t.Errorf("Items = %+v, want [A]", result.Items)
	}
	want := "1 item synced, 1 item could not be synced due to warehouse conflict"
	if got := result.Message(); got != want {
		t.Errorf("Message() = %q, want %q", got, want)
	}
}

func TestTrackRequest_IdentityChannelsExclusive(t *testing.T) {
	items := []model.CartItem{{ProductID: "A", Quantity: 1}}

	user := NewTrackRequest(model.UserIdentity("u1"), model.ContactInfo{Email: "a@b.co"}, items)
	if user.UserID != "u1" || user.SessionID != "" {
		t.Errorf("user report = %+v, want userId only", user)
	}

	guest := NewTrackRequest(model.GuestIdentity("s1"), model.ContactInfo{}, items)
	if guest.SessionID != "s1" || guest.UserID != "" {
		t.Errorf("guest report = %+v, want sessionId only", guest)
	}
}

func TestAbandonedEndpoints(t *testing.T) {
	type call struct {
		method, path string
		body         map[string]any
	}
	var calls []call
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, call{r.Method, r.URL.Path, body})
		w.WriteHeader(http.StatusOK)
	}, "")

	ctx := context.Background()
	if err := c.TrackAbandoned(ctx, NewTrackRequest(model.GuestIdentity("s1"), model.ContactInfo{}, nil)); err != nil {
		t.Fatalf("TrackAbandoned() error: %v", err)
	}
	if err := c.MarkRecovered(ctx, model.UserIdentity("u1")); err != nil {
		t.Fatalf("MarkRecovered() error: %v", err)
	}
	if err := c.ClearGuest(ctx, "s1"); err != nil {
		t.Fatalf("ClearGuest() error: %v", err)
	}

	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}
	if calls[0].method != http.MethodPost || calls[0].path != "/abandoned-carts/track" || calls[0].body["sessionId"] != "s1" {
		t.Errorf("track call = %+v", calls[0])
	}
	if _, hasUser := calls[0].body["userId"]; hasUser {
		t.Error("guest track report must not carry userId")
	}
	if calls[1].method != http.MethodPatch || calls[1].path != "/abandoned-carts/recover" || calls[1].body["userId"] != "u1" {
		t.Errorf("recover call = %+v", calls[1])
	}
	if calls[2].method != http.MethodPost || calls[2].path != "/abandoned-carts/clear-guest" || calls[2].body["sessionId"] != "s1" {
		t.Errorf("clear-guest call = %+v", calls[2])
	}
}

func TestWishlist_Operations(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/wishlist/add":
			writeJSON(w, http.StatusOK, map[string]any{"wishlist": []map[string]any{{"productId": "A"}}})
		case r.Method == http.MethodDelete && r.URL.Path == "/wishlist/remove/A":
			writeJSON(w, http.StatusOK, map[string]any{"wishlist": []any{}})
		default:
			writeJSON(w, http.StatusUnauthorized, map[string]any{})
		}
	}, "tok")

	ctx := context.Background()
	items, err := c.AddToWishlist(ctx, "A")
	if err != nil || len(items) != 1 {
		t.Fatalf("AddToWishlist() = %v, %v", items, err)
	}
	items, err = c.RemoveFromWishlist(ctx, "A")
	if err != nil || len(items) != 0 {
		t.Fatalf("RemoveFromWishlist() = %v, %v", items, err)
	}
	if _, err := c.GetWishlist(ctx); !model.IsUnauthorized(err) {
		t.Errorf("GetWishlist() error = %v, want unauthorized", err)
	}
}

// cartctl drives a cartd instance from the shell.
// Each command performs a single operation, making it composable for scripts.
//
// Examples:
//
//	cartctl --profile alice add 60 --price 12.50 --warehouse wh-1 --warehouse-name "North DC"
//	cartctl --profile alice update 60 3
//	cartctl --profile alice login --token "$TOKEN" --user-id u-42
//	cartctl --profile alice cart
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dunglas/httpsfv"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"storefront-cart/internal/negotiation"
)

var client = &http.Client{Timeout: 30 * time.Second}

// Global flags (apply to all commands)
var (
	serverURL     string
	profileID     string
	tabID         string
	clientVersion string
	quiet         bool
	noColor       bool
	verbose       bool
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorCyan, colorGray, colorBold = "", "", ""
}

func main() {
	// CARTD_URL and CART_PROFILE may come from a local .env
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cartctl",
		Short:         "Inspect and modify storefront carts served by cartd",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if noColor || os.Getenv("NO_COLOR") != "" {
				disableColors()
			}
			if profileID == "" {
				return fmt.Errorf("--profile is required (or set CART_PROFILE)")
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&serverURL, "server", envOr("CARTD_URL", "http://localhost:8080"), "cartd base URL")
	flags.StringVar(&profileID, "profile", os.Getenv("CART_PROFILE"), "profile id")
	flags.StringVar(&tabID, "tab", negotiation.DefaultTab, "tab id within the profile")
	flags.StringVar(&clientVersion, "client-version", "", "semantic version to announce")
	flags.BoolVarP(&quiet, "quiet", "q", false, "print only results")
	flags.BoolVarP(&verbose, "verbose", "v", false, "print full JSON bodies")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newCartCmd(),
		newAddCmd(),
		newUpdateCmd(),
		newRemoveCmd(),
		newClearCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newGuestInfoCmd(),
		newWishlistCmd(),
	)
	return root
}

// =============================================================================
// CART COMMANDS
// =============================================================================

func newCartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cart",
		Short: "Show the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := doRequest(http.MethodGet, "/cart", nil)
			if err != nil {
				return fail(err)
			}
			printCart(resp)
			return nil
		},
	}
}

func newAddCmd() *cobra.Command {
	var (
		variant       string
		name          string
		price         string
		tax           string
		warehouseID   string
		warehouseName string
		quantity      int
		stock         int
	)
	cmd := &cobra.Command{
		Use:   "add PRODUCT_ID",
		Short: "Add a product to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			product := map[string]interface{}{
				"productId": args[0],
				"price":     price,
			}
			if variant != "" {
				product["variantId"] = variant
			}
			if name != "" {
				product["name"] = name
			}
			if tax != "" {
				product["tax"] = tax
			}
			if stock > 0 {
				product["stock"] = stock
			}
			if warehouseID != "" {
				product["warehouse"] = map[string]string{"id": warehouseID, "name": warehouseName}
			}

			resp, err := doRequest(http.MethodPost, "/cart/items", map[string]interface{}{
				"product":  product,
				"quantity": quantity,
			})
			if err != nil {
				return fail(err)
			}
			printSuccess("Added %d x %s", quantity, args[0])
			printCart(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "variant id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&price, "price", "0", "unit price")
	cmd.Flags().StringVar(&tax, "tax", "", "tax rate in percent")
	cmd.Flags().StringVar(&warehouseID, "warehouse", "", "warehouse id")
	cmd.Flags().StringVar(&warehouseName, "warehouse-name", "", "warehouse display name")
	cmd.Flags().IntVarP(&quantity, "qty", "n", 1, "units to add")
	cmd.Flags().IntVar(&stock, "stock", 0, "available units, 0 if unknown")
	return cmd
}

func newUpdateCmd() *cobra.Command {
	var variant string
	cmd := &cobra.Command{
		Use:   "update PRODUCT_ID QUANTITY",
		Short: "Set the quantity of a line (0 removes it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return fail(fmt.Errorf("invalid quantity %q", args[1]))
			}
			resp, err := doRequest(http.MethodPut, "/cart/items/"+url.PathEscape(args[0]), map[string]interface{}{
				"variantId": variant,
				"quantity":  qty,
			})
			if err != nil {
				return fail(err)
			}
			printCart(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "variant id")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	var variant string
	cmd := &cobra.Command{
		Use:   "remove PRODUCT_ID",
		Short: "Remove a line from the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/cart/items/" + url.PathEscape(args[0])
			if variant != "" {
				path += "?variantId=" + url.QueryEscape(variant)
			}
			resp, err := doRequest(http.MethodDelete, path, nil)
			if err != nil {
				return fail(err)
			}
			printCart(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "variant id")
	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := doRequest(http.MethodDelete, "/cart", nil)
			if err != nil {
				return fail(err)
			}
			printSuccess("Cart cleared")
			printCart(resp)
			return nil
		},
	}
}

// =============================================================================
// SESSION COMMANDS
// =============================================================================

func newLoginCmd() *cobra.Command {
	var token, userID, email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log the profile in and merge the guest cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{"token": token}
			if userID != "" {
				body["user"] = map[string]string{"id": userID, "email": email}
			}
			resp, err := doRequest(http.MethodPost, "/session/login", body)
			if err != nil {
				return fail(err)
			}
			printSession(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", os.Getenv("CART_TOKEN"), "bearer token")
	cmd.Flags().StringVar(&userID, "user-id", "", "account id, needed when the token is opaque")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log the profile out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := doRequest(http.MethodPost, "/session/logout", nil)
			if err != nil {
				return fail(err)
			}
			printSession(resp)
			return nil
		},
	}
}

func newGuestInfoCmd() *cobra.Command {
	var name, email, phone string
	cmd := &cobra.Command{
		Use:   "guest-info",
		Short: "Store contact details for abandoned-cart reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := doRequest(http.MethodPut, "/guest-info", map[string]string{
				"name":  name,
				"email": email,
				"phone": phone,
			})
			if err != nil {
				return fail(err)
			}
			printSuccess("Guest info saved")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "contact name")
	cmd.Flags().StringVar(&email, "email", "", "contact email")
	cmd.Flags().StringVar(&phone, "phone", "", "contact phone")
	return cmd
}

// =============================================================================
// WISHLIST COMMANDS
// =============================================================================

func newWishlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wishlist",
		Short: "Show the wishlist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := doRequest(http.MethodGet, "/wishlist", nil)
			if err != nil {
				return fail(err)
			}
			printWishlist(resp)
			return nil
		},
	}

	var name, price string
	add := &cobra.Command{
		Use:   "add PRODUCT_ID",
		Short: "Save a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := doRequest(http.MethodPost, "/wishlist/items", map[string]string{
				"productId": args[0],
				"name":      name,
				"price":     price,
			})
			if err != nil {
				return fail(err)
			}
			printWishlist(resp)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringVar(&price, "price", "0", "unit price")

	remove := &cobra.Command{
		Use:   "remove PRODUCT_ID",
		Short: "Drop a saved product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := doRequest(http.MethodDelete, "/wishlist/items/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return fail(err)
			}
			printWishlist(resp)
			return nil
		},
	}

	cmd.AddCommand(add, remove)
	return cmd
}

// =============================================================================
// HTTP
// =============================================================================

// profileHeader renders the Cart-Profile structured field for the flags.
func profileHeader() (string, error) {
	dict := httpsfv.NewDictionary()
	dict.Add("id", httpsfv.NewItem(profileID))
	dict.Add("tab", httpsfv.NewItem(tabID))
	if clientVersion != "" {
		dict.Add("version", httpsfv.NewItem(clientVersion))
	}
	return httpsfv.Marshal(dict)
}

func doRequest(method, path string, body interface{}) (map[string]interface{}, error) {
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	header, err := profileHeader()
	if err != nil {
		return nil, fmt.Errorf("encoding %s header: %w", negotiation.HeaderName, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(negotiation.HeaderName, header)

	if verbose {
		printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if verbose {
		printResponse(resp.StatusCode, respBody, duration)
	}

	if resp.StatusCode >= 400 {
		return nil, responseError(resp.StatusCode, respBody)
	}
	if len(respBody) == 0 {
		return map[string]interface{}{}, nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return result, nil
}

// responseError turns cartd's {"error":{...}} body into a readable error.
func responseError(status int, body []byte) error {
	var parsed struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error.Code == "" {
		return fmt.Errorf("HTTP %d: %s", status, strings.TrimSpace(string(body)))
	}
	return fmt.Errorf("%s: %s", parsed.Error.Code, parsed.Error.Message)
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printCart(resp map[string]interface{}) {
	if quiet {
		data, _ := json.Marshal(resp)
		fmt.Println(string(data))
		return
	}

	state, _ := resp["state"].(string)
	fmt.Printf("%sCart%s %s(%s)%s\n", colorBold, colorReset, colorGray, state, colorReset)

	items, _ := resp["items"].([]interface{})
	if len(items) == 0 {
		fmt.Printf("  %s(empty)%s\n", colorGray, colorReset)
	}
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := item["productId"].(string)
		if variant, _ := item["variantId"].(string); variant != "" {
			id += "/" + variant
		}
		qty, _ := item["quantity"].(float64)
		fmt.Printf("  %-24s x%-4d %s%s%s\n", id, int(qty), colorCyan, warehouseName(item), colorReset)
	}

	if totals, ok := resp["totals"].(map[string]interface{}); ok {
		fmt.Printf("  subtotal %v  tax %v  %stotal %v%s\n",
			totals["subtotal"], totals["tax"], colorBold, totals["total"], colorReset)
	}
}

func warehouseName(item map[string]interface{}) string {
	wh, ok := item["warehouse"].(map[string]interface{})
	if !ok {
		return ""
	}
	if name, _ := wh["name"].(string); name != "" {
		return name
	}
	id, _ := wh["id"].(string)
	return id
}

func printSession(resp map[string]interface{}) {
	if authed, _ := resp["authenticated"].(bool); authed {
		printSuccess("Logged in")
	} else {
		printSuccess("Logged out")
	}
	if sync, ok := resp["sync"].(map[string]interface{}); ok {
		msg, _ := sync["message"].(string)
		if partial, _ := sync["partial"].(bool); partial {
			printWarning("%s", msg)
		} else {
			printInfo("%s", msg)
		}
	}
	if warning, _ := resp["warning"].(string); warning != "" {
		printWarning("%s", warning)
	}
	if cart, ok := resp["cart"].(map[string]interface{}); ok {
		printCart(cart)
	}
}

func printWishlist(resp map[string]interface{}) {
	if quiet {
		data, _ := json.Marshal(resp)
		fmt.Println(string(data))
		return
	}
	fmt.Printf("%sWishlist%s\n", colorBold, colorReset)
	items, _ := resp["items"].([]interface{})
	if len(items) == 0 {
		fmt.Printf("  %s(empty)%s\n", colorGray, colorReset)
	}
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		fmt.Printf("  %v %s%v%s\n", item["productId"], colorGray, item["name"], colorReset)
	}
}

func printRequest(method, path string, body []byte) {
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	printJSON(body, "  ")
}

func printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}
	fmt.Println(pretty.String())
}

func printSuccess(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printWarning(format string, args ...interface{}) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

// fail prints err and returns it so cobra sets a non-zero exit status.
func fail(err error) error {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, err.Error(), colorReset)
	return err
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Middleware creates HTTP middleware that resolves the Cart-Profile header.
// Stores the ProfileRef in the request context for handlers.
// Requests without a usable header are rejected with 400 Bad Request,
// clients older than minVersion with 426 Upgrade Required.
func Middleware(minVersion string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Infrastructure endpoints and MCP (which carries its own meta) are exempt
			if isExemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(HeaderName)
			if header == "" {
				writeNegotiationError(w, http.StatusBadRequest, ProfileRequired,
					"Cart-Profile header is required")
				return
			}

			ref, err := ParseProfileHeader(header)
			if err != nil {
				logger.Warn("invalid Cart-Profile header",
					slog.String("header", header),
					slog.String("error", err.Error()))
				writeNegotiationError(w, http.StatusBadRequest, ProfileRequired,
					"Invalid Cart-Profile header: "+err.Error())
				return
			}

			ref, err = Resolve(ref, minVersion)
			if err != nil {
				var verErr *VersionError
				if errors.As(err, &verErr) {
					logger.Info("rejected outdated client",
						slog.String("client_version", verErr.ClientVersion),
						slog.String("min_version", verErr.MinVersion))
					writeNegotiationError(w, http.StatusUpgradeRequired, verErr.Code, verErr.Message)
					return
				}
				writeNegotiationError(w, http.StatusBadRequest, ProfileRequired, err.Error())
				return
			}

			reqCtx := context.WithValue(r.Context(), ProfileContextKey, ref)
			next.ServeHTTP(w, r.WithContext(reqCtx))
		})
	}
}

// isExemptPath returns true for paths that don't require the Cart-Profile header.
func isExemptPath(path string) bool {
	switch path {
	case "/health", "/healthz", "/metrics", "/mcp":
		return true
	default:
		return false
	}
}

// writeNegotiationError writes the standard error envelope.
func writeNegotiationError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{}
	resp.Error.Code = code
	resp.Error.Message = message

	json.NewEncoder(w).Encode(resp)
}

// FromContext retrieves the resolved profile from request context.
// Returns false if the middleware was skipped (exempt path) or not installed.
func FromContext(ctx context.Context) (ProfileRef, bool) {
	ref, ok := ctx.Value(ProfileContextKey).(ProfileRef)
	return ref, ok
}

// WithProfile stores a resolved profile in ctx. MCP tool handlers use it
// after resolving the meta block so downstream code reads one place.
func WithProfile(ctx context.Context, ref ProfileRef) context.Context {
	return context.WithValue(ctx, ProfileContextKey, ref)
}

// Package negotiation resolves which profile and tab a cartd request addresses.
// REST middleware reads the Cart-Profile header; MCP tools carry the same
// fields in their meta block and resolve them explicitly.
package negotiation

// ProfileRef addresses one tab of one hosted profile.
type ProfileRef struct {
	// ID names the profile (the storage namespace shared by its tabs)
	ID string

	// Tab names the engine instance inside the profile. Defaults to DefaultTab.
	Tab string

	// ClientVersion is the semver the caller announced, if any
	ClientVersion string
}

// HeaderName is the structured-field header carrying the profile reference.
const HeaderName = "Cart-Profile"

// DefaultTab is used when a request does not name a tab.
const DefaultTab = "main"

// contextKey is the type for context values to avoid collisions
type contextKey string

// ProfileContextKey is the context key for storing the resolved ProfileRef
const ProfileContextKey contextKey = "cart.profile"

// ProfileRequired is the error code when the profile reference is missing or malformed
const ProfileRequired = "profile_required"

// ClientVersionUnsupported is the error code when the client is older than the daemon accepts
const ClientVersionUnsupported = "client_version_unsupported"

package negotiation

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Resolve validates a profile reference and fills defaults.
// minVersion gates clients that announce an older version; empty disables gating.
func Resolve(ref ProfileRef, minVersion string) (ProfileRef, error) {
	ref.ID = strings.TrimSpace(ref.ID)
	ref.Tab = strings.TrimSpace(ref.Tab)
	if ref.ID == "" {
		return ProfileRef{}, &ProfileError{Code: ProfileRequired, Message: "profile id is required"}
	}
	if strings.ContainsAny(ref.ID, "/\\:") || strings.ContainsAny(ref.Tab, "/\\:") {
		return ProfileRef{}, &ProfileError{Code: ProfileRequired, Message: "profile id and tab must not contain path separators"}
	}
	if ref.Tab == "" {
		ref.Tab = DefaultTab
	}
	if err := validateVersion(minVersion, ref.ClientVersion); err != nil {
		return ProfileRef{}, err
	}
	return ref, nil
}

// validateVersion checks that the client is not older than the daemon supports.
// Clients that announce no version are accepted.
func validateVersion(minVersion, clientVersion string) error {
	if minVersion == "" || clientVersion == "" {
		return nil
	}

	cv := normalizeVersion(clientVersion)
	if !semver.IsValid(cv) {
		return &VersionError{
			Code:          ClientVersionUnsupported,
			Message:       fmt.Sprintf("client version %q is not a semantic version", clientVersion),
			ClientVersion: clientVersion,
			MinVersion:    minVersion,
		}
	}

	if semver.Compare(cv, normalizeVersion(minVersion)) < 0 {
		return &VersionError{
			Code:          ClientVersionUnsupported,
			Message:       fmt.Sprintf("client version %s is older than the minimum supported %s", clientVersion, minVersion),
			ClientVersion: clientVersion,
			MinVersion:    minVersion,
		}
	}

	return nil
}

// VersionError is returned when a client announces an unsupported version.
type VersionError struct {
	Code          string
	Message       string
	ClientVersion string
	MinVersion    string
}

func (e *VersionError) Error() string {
	return e.Message
}

// ProfileError is returned when the profile reference is missing or unusable.
type ProfileError struct {
	Code    string
	Message string
}

func (e *ProfileError) Error() string {
	return e.Message
}

// normalizeVersion adds "v" prefix if needed for semver parsing.
func normalizeVersion(v string) string {
	if v == "" {
		return "v0.0.0"
	}
	if v[0] != 'v' {
		return "v" + v
	}
	return v
}

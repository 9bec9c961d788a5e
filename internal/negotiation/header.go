package negotiation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dunglas/httpsfv"
)

// ParseProfileHeader extracts the profile reference from a Cart-Profile header.
// Format: id="alice", tab="checkout", version="v1.4.0" (RFC 8941 Dictionary).
//
// Examples:
//   - id="alice"                     → {ID: alice}
//   - id="alice", tab="t2"           → {ID: alice, Tab: t2}
//   - id=alice;lang=en, version=v1.2 → {ID: alice, ClientVersion: v1.2} (params ignored)
//
// Returns error if header is empty, malformed, or missing the id key.
// Tab is left empty here; Resolve applies the default.
func ParseProfileHeader(header string) (ProfileRef, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return ProfileRef{}, errors.New("empty Cart-Profile header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return ProfileRef{}, fmt.Errorf("invalid Cart-Profile header: %w", err)
	}

	id, ok, err := stringMember(dict, "id")
	if err != nil {
		return ProfileRef{}, err
	}
	if !ok {
		return ProfileRef{}, errors.New("id key not found in Cart-Profile header")
	}

	ref := ProfileRef{ID: id}
	if ref.Tab, _, err = stringMember(dict, "tab"); err != nil {
		return ProfileRef{}, err
	}
	if ref.ClientVersion, _, err = stringMember(dict, "version"); err != nil {
		return ProfileRef{}, err
	}
	return ref, nil
}

// stringMember reads a dictionary member that must be a string or token item.
func stringMember(dict *httpsfv.Dictionary, key string) (string, bool, error) {
	member, ok := dict.Get(key)
	if !ok {
		return "", false, nil
	}

	item, ok := member.(httpsfv.Item)
	if !ok {
		return "", false, fmt.Errorf("%s value must be an item", key)
	}

	switch v := item.Value.(type) {
	case string:
		return v, true, nil
	case httpsfv.Token:
		return string(v), true, nil
	default:
		return "", false, fmt.Errorf("%s value must be a string", key)
	}
}

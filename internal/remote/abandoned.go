package remote

import (
	"context"
	"net/http"

	"storefront-cart/internal/model"
)

// TrackRequest is the abandoned-cart report. Exactly one of UserID and
// SessionID is set.
type TrackRequest struct {
	UserID    string        `json:"userId,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
	UserInfo  TrackUserInfo `json:"userInfo"`
}

// TrackUserInfo carries contact details (when known) and the cart lines.
type TrackUserInfo struct {
	Name  string           `json:"name,omitempty"`
	Email string           `json:"email,omitempty"`
	Phone string           `json:"phone,omitempty"`
	Items []model.CartItem `json:"items"`
}

// NewTrackRequest builds a report for identity, keeping the two identity
// channels mutually exclusive.
func NewTrackRequest(id model.Identity, contact model.ContactInfo, items []model.CartItem) TrackRequest {
	req := TrackRequest{
		UserInfo: TrackUserInfo{
			Name:  contact.Name,
			Email: contact.Email,
			Phone: contact.Phone,
			Items: model.CloneItems(items),
		},
	}
	if id.IsGuest() {
		req.SessionID = id.SessionID
	} else {
		req.UserID = id.UserID
	}
	return req
}

// identityBody serializes an identity with only one channel populated.
func identityBody(id model.Identity) model.Identity {
	if id.IsGuest() {
		return model.GuestIdentity(id.SessionID)
	}
	return model.UserIdentity(id.UserID)
}

// TrackAbandoned reports an idle non-empty cart.
func (c *Client) TrackAbandoned(ctx context.Context, req TrackRequest) error {
	_, err := c.do(ctx, http.MethodPost, "/abandoned-carts/track", req, nil)
	return err
}

// MarkRecovered reports that a tracked cart was emptied or checked out.
func (c *Client) MarkRecovered(ctx context.Context, id model.Identity) error {
	_, err := c.do(ctx, http.MethodPatch, "/abandoned-carts/recover", identityBody(id), nil)
	return err
}

// ClearGuest drops tracking for an anonymous session.
func (c *Client) ClearGuest(ctx context.Context, sessionID string) error {
	body := map[string]string{"sessionId": sessionID}
	_, err := c.do(ctx, http.MethodPost, "/abandoned-carts/clear-guest", body, nil)
	return err
}

package api

import (
	"context"
	"fmt"
	"net/url"
)

// ListUserSessions fetches every session owned by the authenticated user.
func (c *Client) ListUserSessions(ctx context.Context) ([]APISession, error) {
	var resp []APISession
	if err := c.get(ctx, "/user/sessions/", nil, &resp); err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}
	return resp, nil
}

// GetSessionPhotos fetches the photos uploaded to one session.
func (c *Client) GetSessionPhotos(ctx context.Context, sessionID string) ([]APIPhoto, error) {
	var resp []APIPhoto
	if err := c.get(ctx, "/sessions/"+url.PathEscape(sessionID)+"/photos", nil, &resp); err != nil {
		return nil, fmt.Errorf("get session %s photos: %w", sessionID, err)
	}
	return resp, nil
}

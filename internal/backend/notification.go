package backend

import (
	"context"
	"net/http"

	"github.com/tphakala/farmdash/internal/entities"
)

// NotificationClient talks to the notification service.
type NotificationClient struct {
	c *Client
}

// NewNotificationClient wraps a Client configured for the notification service.
func NewNotificationClient(c *Client) *NotificationClient {
	return &NotificationClient{c: c}
}

// ListNotifications returns the notifications of a profile.
func (n *NotificationClient) ListNotifications(ctx context.Context, profileID string) ([]entities.Notification, error) {
	var out []entities.Notification
	if err := n.c.getJSON(ctx, "/notifications/profile/"+escape(profileID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRead transitions one notification to READ.
func (n *NotificationClient) MarkRead(ctx context.Context, id string) error {
	return n.c.doJSON(ctx, http.MethodPut, "/notifications/"+escape(id)+"/read", nil, nil, nil)
}

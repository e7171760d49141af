// internal/clients/item_client.go
package clients

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"shareit/internal/booking"
)

// ItemClient reads items from the catalog service: GET {base}/items/{id}.
type ItemClient struct {
	*upstream
}

func NewItemClient(baseURL string, options ...Option) *ItemClient {
	return &ItemClient{upstream: newUpstream("catalog", baseURL, options)}
}

func (c *ItemClient) GetItem(ctx context.Context, id uuid.UUID) (*booking.Item, error) {
	var item booking.Item
	if err := c.getJSON(ctx, fmt.Sprintf("/items/%s", id), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

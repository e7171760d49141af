// internal/clients/user_client.go
package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"shareit/internal/booking"
)

// UserClient reads users from the user service: GET {base}/users/{id}.
type UserClient struct {
	*upstream
}

func NewUserClient(baseURL string, options ...Option) *UserClient {
	return &UserClient{upstream: newUpstream("users", baseURL, options)}
}

func (c *UserClient) GetParty(ctx context.Context, id uuid.UUID) (*booking.Party, error) {
	var party booking.Party
	if err := c.getJSON(ctx, fmt.Sprintf("/users/%s", id), &party); err != nil {
		return nil, err
	}
	return &party, nil
}

// Exists treats 404 as a plain "no"; any other failure is returned.
func (c *UserClient) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := c.GetParty(ctx, id)
	if errors.Is(err, booking.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

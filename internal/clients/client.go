// internal/clients/client.go
package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"

	"shareit/internal/booking"
)

const defaultTimeout = 5 * time.Second

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnexpectedStatus is returned for any upstream answer other than 200 or 404.
var ErrUnexpectedStatus = errors.New("unexpected status code")

// Option configures an upstream client.
type Option func(*upstream)

// WithHTTPClient replaces the default client (5s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(u *upstream) {
		u.http = c
	}
}

// WithBreakerSettings overrides the circuit breaker configuration. Name is
// kept from the client.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(u *upstream) {
		u.settings = st
	}
}

// upstream is a JSON-over-HTTP service behind a circuit breaker.
type upstream struct {
	baseURL  string
	http     *http.Client
	settings gobreaker.Settings
	breaker  *gobreaker.CircuitBreaker
}

func newUpstream(name, baseURL string, options []Option) *upstream {
	u := &upstream{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		settings: gobreaker.Settings{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		},
	}

	for _, option := range options {
		option(u)
	}

	u.settings.Name = name
	// an unknown id is an answer, not an outage
	u.settings.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, booking.ErrNotFound)
	}
	u.breaker = gobreaker.NewCircuitBreaker(u.settings)

	return u
}

// getJSON fetches path and decodes the body into out. 404 maps to
// booking.ErrNotFound.
func (u *upstream) getJSON(ctx context.Context, path string, out interface{}) error {
	_, err := u.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := u.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusNotFound:
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("%s%s: %w", u.settings.Name, path, booking.ErrNotFound)
		default:
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("%s%s: %d: %w", u.settings.Name, path, resp.StatusCode, ErrUnexpectedStatus)
		}

		return nil, json.NewDecoder(resp.Body).Decode(out)
	})
	return err
}

// Name is the upstream's health service name.
func (u *upstream) Name() string {
	return u.breaker.Name()
}

// State reports the breaker state, for health output.
func (u *upstream) State() gobreaker.State {
	return u.breaker.State()
}

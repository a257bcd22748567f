package commerce

import (
	"net/http"
	"time"
)

const (
	defaultAPIVersion = "2024-01"
	defaultTimeout    = 10 * time.Second
	// AttributeTypeInteger is the value type used for credit balances.
	AttributeTypeInteger = "number_integer"
	orderTag             = "lootbox"
)

// Option configures a Client.
type Option func(*Client)

// WithAPIVersion sets the admin API version segment.
func WithAPIVersion(v string) Option {
	return func(c *Client) {
		if v != "" {
			c.apiVersion = v
		}
	}
}

// WithAccessToken sets the admin access token.
func WithAccessToken(token string) Option {
	return func(c *Client) {
		c.accessToken = token
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

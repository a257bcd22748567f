package spinload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// client wraps http.Client with JSON helpers.
type client struct {
	base string
	http *http.Client
}

func newClient(base string, timeout time.Duration) *client {
	return &client{base: base, http: &http.Client{Timeout: timeout}}
}

func (c *client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, body)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) balance(ctx context.Context, customerID string) (int64, error) {
	var b balanceResponse
	if err := c.getJSON(ctx, "/balance/"+url.PathEscape(customerID), &b); err != nil {
		return 0, err
	}
	return b.Credits, nil
}

// spin posts one spin and returns the status code with the decoded body on
// 200.
func (c *client) spin(ctx context.Context, customerID, boxID, key string) (int, SpinResponse, error) {
	payload, err := json.Marshal(map[string]string{"customerId": customerID, "boxId": boxID})
	if err != nil {
		return 0, SpinResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/spin", bytes.NewReader(payload))
	if err != nil {
		return 0, SpinResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, SpinResponse{}, err
	}
	defer resp.Body.Close()

	var out SpinResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return resp.StatusCode, out, fmt.Errorf("decode spin response: %w", err)
		}
		return resp.StatusCode, out, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, out, nil
}

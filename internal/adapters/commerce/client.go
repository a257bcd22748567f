// Package commerce is a client for the storefront's admin REST API. It reads
// and writes customer attributes and issues fulfillment orders.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/lootbox/pkg/metrics"
)

const maxErrorBody = 512

// Client talks to one storefront.
type Client struct {
	baseURL     string
	apiVersion  string
	accessToken string
	http        *http.Client
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: defaultAPIVersion,
		http:       &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) adminURL(format string, args ...any) string {
	return c.baseURL + "/admin/api/" + c.apiVersion + fmt.Sprintf(format, args...)
}

// GetAttribute fetches the attribute (namespace, key) of a customer. The bool
// is false when no such record exists.
func (c *Client) GetAttribute(ctx context.Context, customerID, namespace, key string) (Attribute, bool, error) {
	q := url.Values{}
	q.Set("namespace", namespace)
	q.Set("key", key)
	u := c.adminURL("/customers/%s/metafields.json", url.PathEscape(customerID)) + "?" + q.Encode()

	var resp attributeListResponse
	if err := c.do(ctx, "get_attribute", http.MethodGet, u, nil, &resp); err != nil {
		return Attribute{}, false, err
	}
	for _, m := range resp.Metafields {
		if m.Namespace == namespace && m.Key == key {
			return Attribute{
				ID:        string(m.ID),
				Namespace: m.Namespace,
				Key:       m.Key,
				Value:     string(m.Value),
				Type:      m.Type,
			}, true, nil
		}
	}
	return Attribute{}, false, nil
}

// PutAttribute updates attr in place when attr.ID is set, otherwise creates
// it on the customer.
func (c *Client) PutAttribute(ctx context.Context, customerID string, attr Attribute) error {
	typ := attr.Type
	if typ == "" {
		typ = AttributeTypeInteger
	}

	if attr.ID != "" {
		body := attributeRequest{Metafield: attributeBody{ID: idValue(attr.ID), Value: attr.Value, Type: typ}}
		u := c.adminURL("/customers/%s/metafields/%s.json", url.PathEscape(customerID), url.PathEscape(attr.ID))
		return c.do(ctx, "put_attribute", http.MethodPut, u, body, nil)
	}

	body := attributeRequest{Metafield: attributeBody{
		Namespace: attr.Namespace,
		Key:       attr.Key,
		Value:     attr.Value,
		Type:      typ,
	}}
	u := c.adminURL("/customers/%s/metafields.json", url.PathEscape(customerID))
	return c.do(ctx, "create_attribute", http.MethodPost, u, body, nil)
}

// CreateOrder issues a zero-price order for one unit of prizeRef and returns
// the backend's order id.
func (c *Client) CreateOrder(ctx context.Context, customerID, prizeRef, note string) (string, error) {
	body := orderRequest{Order: orderBody{
		Customer:        map[string]any{"id": idValue(customerID)},
		LineItems:       []lineItem{{VariantID: idValue(prizeRef), Quantity: 1, Price: "0.00"}},
		FinancialStatus: "paid",
		Tags:            orderTag,
		Note:            note,
	}}

	var resp orderResponse
	if err := c.do(ctx, "create_order", http.MethodPost, c.adminURL("/orders.json"), body, &resp); err != nil {
		return "", err
	}
	if resp.Order.ID == "" {
		return "", &APIError{Op: "create_order", StatusCode: http.StatusOK, Body: "missing order id", Kind: ErrInvalidBody}
	}
	return string(resp.Order.ID), nil
}

func (c *Client) do(ctx context.Context, op, method, u string, payload, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreCall(op, float64(time.Since(start).Microseconds())/1000.0, err != nil)
	}()

	var body io.Reader
	if payload != nil {
		data, mErr := json.Marshal(payload)
		if mErr != nil {
			return fmt.Errorf("%s: marshal request: %w", op, mErr)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return &APIError{Op: op, Body: err.Error(), Kind: ErrUnavailable}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Op: op, Body: err.Error(), Kind: ErrUnavailable}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(snippet), Kind: classify(resp.StatusCode)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: err.Error(), Kind: ErrInvalidBody}
	}
	return nil
}

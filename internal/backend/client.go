// Package backend is the client for the remote relational data service.
//
// The service exposes one REST resource per table with filtered select,
// upsert-on-id, and delete-by-id, authenticated with a bearer session
// token managed outside this package. All rows cross the wire as
// snake_case JSON objects.
package backend

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
)

// DefaultTimeout bounds every data request. A request that exceeds it is
// treated as failed, not hung; the row is retried on a later cycle.
const DefaultTimeout = 10 * time.Second

// TokenFunc supplies the current bearer token. It is called per request so
// session refreshes are picked up without rebuilding the client.
type TokenFunc func(ctx context.Context) (string, error)

// Row is a server table row keyed by snake_case column name.
type Row = map[string]any

// StatusError is a non-2xx response from the data service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

// Filter is a single column constraint on a select.
type Filter struct {
	Column string
	Op     string // "eq" or "in"
	Values []string
}

// Eq constrains a column to one value.
func Eq(column, value string) Filter {
	return Filter{Column: column, Op: "eq", Values: []string{value}}
}

// In constrains a column to a set of values.
func In(column string, values ...string) Filter {
	return Filter{Column: column, Op: "in", Values: values}
}

// Query describes a filtered incremental select.
type Query struct {
	// UpdatedAfter restricts results to rows with updated_at strictly
	// greater than this RFC3339 timestamp. Empty means no restriction.
	UpdatedAfter string
	// Filters are ANDed column constraints.
	Filters []Filter
	// OrderBy is a column to sort ascending by; empty means server order.
	OrderBy string
}

// Client talks to the remote data service.
type Client struct {
	BaseURL    string
	Token      TokenFunc
	HTTPClient *http.Client
}

// NewClient creates a data-service client with the default timeout.
func NewClient(baseURL string, token TokenFunc) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// WithHTTPClient returns a copy of the client using the given HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	out := *c
	out.HTTPClient = hc
	return &out
}

// Select fetches rows from table matching q.
func (c *Client) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	params := url.Values{}
	if q.UpdatedAfter != "" {
		params.Set("updated_at", "gt."+q.UpdatedAfter)
	}
	for _, f := range q.Filters {
		switch f.Op {
		case "eq":
			params.Set(f.Column, "eq."+f.Values[0])
		case "in":
			params.Set(f.Column, "in.("+strings.Join(f.Values, ",")+")")
		default:
			return nil, fmt.Errorf("unsupported filter op %q", f.Op)
		}
	}
	if q.OrderBy != "" {
		params.Set("order", q.OrderBy+".asc")
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.BaseURL, table)
	if enc := params.Encode(); enc != "" {
		endpoint += "?" + enc
	}

	body, err := c.do(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}

	var rows []Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("select %s: failed to decode response: %w", table, err)
	}
	return rows, nil
}

// Upsert writes a row keyed by its id. The operation is idempotent: a
// retried request after an ambiguous timeout either creates the row or
// no-op updates it, never duplicates it.
func (c *Client) Upsert(ctx context.Context, table string, row Row) error {
	payload, err := json.Marshal([]Row{row})
	if err != nil {
		return fmt.Errorf("upsert %s: failed to encode row: %w", table, err)
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s?on_conflict=id", c.BaseURL, table)
	headers := map[string]string{
		"Content-Type": "application/json",
		"Prefer":       "resolution=merge-duplicates",
	}

	if _, err := c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(payload), headers); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

// Delete removes a row by id. Deleting an absent row is not an error.
func (c *Client) Delete(ctx context.Context, table, id string) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?id=eq.%s", c.BaseURL, table, url.QueryEscape(id))
	if _, err := c.do(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	return nil
}

// do executes one authenticated request and returns the response body.
func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get session token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/plateshare/synckit/internal/errors"
)

// HTTPClient talks to the remote data service over its REST surface:
// GET /tables/{table}/{id}, GET /tables/{table}, POST /mutations.
type HTTPClient struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewHTTPClient creates a gateway client. timeout bounds every request
// (30s if zero).
func NewHTTPClient(baseURL, authToken string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:   baseURL,
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
	}
}

// Fetch implements Gateway.
func (c *HTTPClient) Fetch(ctx context.Context, table, id string) (*Record, error) {
	var rec Record
	url := fmt.Sprintf("%s/tables/%s/%s", c.baseURL, table, id)
	found, err := c.do(ctx, http.MethodGet, url, nil, &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New(errors.ErrNotFound, "no such record: "+table+"/"+id)
	}
	return &rec, nil
}

// List implements Gateway.
func (c *HTTPClient) List(ctx context.Context, table string) ([]*Record, error) {
	var recs []*Record
	url := fmt.Sprintf("%s/tables/%s", c.baseURL, table)
	if _, err := c.do(ctx, http.MethodGet, url, nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Write implements Gateway. Deletes return no record.
func (c *HTTPClient) Write(ctx context.Context, m *Mutation) (*Record, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to encode mutation", err)
	}

	var rec Record
	url := c.baseURL + "/mutations"
	found, err := c.do(ctx, http.MethodPost, url, body, &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		// Delete acknowledged with no body.
		return nil, nil
	}
	return &rec, nil
}

// do runs one request and decodes the response into out. Returns false with
// no error on a 204 response.
func (c *HTTPClient) do(ctx context.Context, method, url string, body []byte, out interface{}) (bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return false, errors.Wrap(errors.ErrInternal, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, errors.Wrap(errors.ErrTimeout, "request cancelled or timed out", err)
		}
		return false, errors.Wrap(errors.ErrNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return false, nil
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, errors.New(statusCode(resp.StatusCode),
			fmt.Sprintf("server returned %d: %s", resp.StatusCode, data))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, errors.Wrap(errors.ErrServer, "failed to decode response", err)
	}
	return true, nil
}

// statusCode maps an HTTP status to the sync-core error taxonomy so the
// retry policy classifies failures correctly.
func statusCode(status int) errors.ErrorCode {
	switch status {
	case http.StatusUnauthorized:
		return errors.ErrAuth
	case http.StatusForbidden:
		return errors.ErrForbidden
	case http.StatusNotFound:
		return errors.ErrNotFound
	case http.StatusConflict:
		return errors.ErrSyncConflict
	case http.StatusUnprocessableEntity:
		return errors.ErrValidation
	case http.StatusBadRequest:
		return errors.ErrInvalid
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return errors.ErrTimeout
	}
	if status >= 500 {
		return errors.ErrServer
	}
	return errors.ErrInvalid
}

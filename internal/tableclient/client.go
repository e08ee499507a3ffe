// Package tableclient talks to a silo server's table API, giving remote
// processes the same table operations the server runs in-process.
package tableclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/types"
	"github.com/guruprasath0306/Silo-Monitor/internal/utils"
)

const (
	silosPath   = "/api/v1/tables/silos"
	actionsPath = "/api/v1/tables/silo_actions"

	// APIKeyHeader carries the static table API key.
	APIKeyHeader = "X-API-Key"
)

var (
	ErrNotFound = errors.New("row not found")
	ErrConflict = errors.New("row conflicts with an existing row")
)

// APIError is a non-2xx response from the table API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("table api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("table api: %d %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse table url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("table url %q must be http or https", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// List returns every silo row ordered by name.
func (c *Client) List(ctx context.Context) ([]types.Row, error) {
	var rows []types.Row
	if err := c.do(ctx, http.MethodGet, silosPath, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) Insert(ctx context.Context, row types.Row) (types.Row, error) {
	var out types.Row
	if err := c.do(ctx, http.MethodPost, silosPath, row, &out); err != nil {
		return types.Row{}, err
	}
	return out, nil
}

func (c *Client) InsertMany(ctx context.Context, rows []types.Row) ([]types.Row, error) {
	var out []types.Row
	if err := c.do(ctx, http.MethodPost, silosPath, rows, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, id string, patch types.Patch) (types.Row, error) {
	var out types.Row
	if err := c.do(ctx, http.MethodPatch, silosPath+"/"+url.PathEscape(id), patch, &out); err != nil {
		return types.Row{}, err
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, silosPath+"/"+url.PathEscape(id), nil, nil)
}

func (c *Client) InsertAction(ctx context.Context, action types.Action) (types.Action, error) {
	var out types.Action
	if err := c.do(ctx, http.MethodPost, actionsPath, action, &out); err != nil {
		return types.Action{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var eb utils.ErrorBody
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(b, &eb); err != nil || eb.Message == "" {
		eb.Message = strings.TrimSpace(string(b))
	}
	apiErr := &APIError{Status: resp.StatusCode, Message: eb.Message}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
	case http.StatusConflict:
		return fmt.Errorf("%w: %w", ErrConflict, apiErr)
	}
	return apiErr
}

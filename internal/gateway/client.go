package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mediasync/internal/core"
	"mediasync/internal/model"
)

// ClientOptions configures an HTTP gateway client.
type ClientOptions struct {
	BaseURL    string
	Tokens     core.TokenSource
	HTTPClient *http.Client
}

// Client is the HTTP implementation of the GatewayClient interface.
type Client struct {
	baseURL    string
	tokens     core.TokenSource
	httpClient *http.Client
}

// NewClient creates a gateway client for the given base URL.
func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		tokens:     opts.Tokens,
		httpClient: httpClient,
	}
}

func (c *Client) Register(ctx context.Context, req core.RegisterRequest) (*core.RegisterResponse, error) {
	var resp core.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/auth/device-begin", false, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) PullSince(ctx context.Context, since model.Millis, limit int) (*core.PullPage, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	q.Set("limit", strconv.Itoa(limit))

	var page core.PullPage
	if err := c.do(ctx, http.MethodGet, "/index?"+q.Encode(), true, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) PushBatch(ctx context.Context, deviceID, batchID string, events []model.Event) (*core.PushResult, error) {
	body := struct {
		DeviceID string        `json:"device_id"`
		BatchID  string        `json:"batch_id"`
		Events   []model.Event `json:"events"`
	}{DeviceID: deviceID, BatchID: batchID, Events: events}

	var result core.PushResult
	if err := c.do(ctx, http.MethodPost, "/index/batch", true, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) CloudAssets(ctx context.Context) ([]*model.Asset, error) {
	var resp struct {
		Assets []*model.Asset `json:"assets"`
	}
	if err := c.do(ctx, http.MethodGet, "/assets", true, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Assets, nil
}

func (c *Client) CloudIntegrity(ctx context.Context) (*core.CloudIntegrityReport, error) {
	var report core.CloudIntegrityReport
	if err := c.do(ctx, http.MethodGet, "/integrity/check", true, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) do(ctx context.Context, method, path string, authed bool, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authed {
		if c.tokens == nil {
			return core.ErrUnauthorized
		}
		token, err := c.tokens.CurrentToken()
		if err != nil {
			return fmt.Errorf("reading token: %w", err)
		}
		if token == "" {
			return core.ErrUnauthorized
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %s: %w", method, path, readErrorMessage(resp.Body), core.ErrUnauthorized)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, readErrorMessage(resp.Body))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// readErrorMessage extracts the message from a gateway error body, falling
// back to the raw body.
func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return "no error detail"
	}
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &e) == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(data))
}

// Compile-time check that Client implements the GatewayClient interface
var _ core.GatewayClient = (*Client)(nil)

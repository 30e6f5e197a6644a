package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTokenTTL is the lifetime of tokens minted by Client.
const DefaultTokenTTL = time.Minute

// StatusError is returned by Client for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       Error
}

func (e *StatusError) Error() string {
	if e.Body.Error == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d (%s): %s", e.StatusCode, e.Body.Class, e.Body.Error)
}

// Client calls the vesting API. Requests to authenticated routes are signed
// with Key.
type Client struct {
	baseURL  string
	http     *http.Client
	key      ed25519.PrivateKey
	audience string
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithSigningKey sets the wallet key used for bearer tokens.
func WithSigningKey(key ed25519.PrivateKey) ClientOption {
	return func(c *Client) {
		c.key = key
	}
}

// WithAudience sets the aud claim of issued tokens.
func WithAudience(aud string) ClientOption {
	return func(c *Client) {
		c.audience = aud
	}
}

// WithHTTPClient sets custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.http = client
	}
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, auth bool, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		if c.key == nil {
			return fmt.Errorf("%s %s requires a signing key", method, path)
		}
		token, err := SignToken(c.key, c.audience, DefaultTokenTTL, time.Now())
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{StatusCode: resp.StatusCode}
		json.NewDecoder(resp.Body).Decode(&se.Body)
		return se
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Lock creates a vesting schedule funded by the signing wallet.
func (c *Client) Lock(ctx context.Context, req LockRequest) (*Record, error) {
	var rec Record
	if err := c.do(ctx, http.MethodPost, "/v1/lock", true, req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Unlock releases the currently releasable amount of a record.
func (c *Client) Unlock(ctx context.Context, receiver, mint string) (*UnlockResult, error) {
	var res UnlockResult
	err := c.do(ctx, http.MethodPost, "/v1/unlock", true, UnlockRequest{Receiver: receiver, Mint: mint}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Record fetches one vesting record.
func (c *Client) Record(ctx context.Context, receiver, mint string) (*Record, error) {
	var rec Record
	path := "/v1/records/" + url.PathEscape(receiver) + "/" + url.PathEscape(mint)
	if err := c.do(ctx, http.MethodGet, path, false, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Preview fetches what Unlock would release now.
func (c *Client) Preview(ctx context.Context, receiver, mint string) (*Preview, error) {
	var p Preview
	path := "/v1/records/" + url.PathEscape(receiver) + "/" + url.PathEscape(mint) + "/preview"
	if err := c.do(ctx, http.MethodGet, path, false, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// RecordsByReceiver lists a receiver's records.
func (c *Client) RecordsByReceiver(ctx context.Context, receiver string) ([]Record, error) {
	var recs []Record
	if err := c.do(ctx, http.MethodGet, "/v1/receivers/"+url.PathEscape(receiver)+"/records", false, nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Mint fetches a mint.
func (c *Client) Mint(ctx context.Context, mint string) (*Mint, error) {
	var m Mint
	if err := c.do(ctx, http.MethodGet, "/v1/mints/"+url.PathEscape(mint), false, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMint registers a mint with the signing wallet as authority. Dev mode only.
func (c *Client) CreateMint(ctx context.Context, mint string, decimals uint8) (*Mint, error) {
	var m Mint
	err := c.do(ctx, http.MethodPost, "/v1/dev/mints", true, CreateMintRequest{Mint: mint, Decimals: decimals}, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MintTo issues supply to owner's associated token account. Dev mode only.
func (c *Client) MintTo(ctx context.Context, mint, owner string, amount uint64) (*Account, error) {
	var acc Account
	err := c.do(ctx, http.MethodPost, "/v1/dev/mint-to", true, MintToRequest{Mint: mint, Owner: owner, Amount: amount}, &acc)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

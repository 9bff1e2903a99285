// Package registry talks to the external asset registry service that tracks
// ownership, approvals, and value transfers. The marketplace engines consume
// it through the narrow interfaces they declare.
package registry

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client is an HTTP client for the asset registry. It implements the
// market.AssetRegistry and market.PaymentSender interfaces.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// Option customises client construction.
type Option func(*Client)

// WithToken attaches a bearer token to every registry request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithHTTPClient overrides the underlying HTTP client, primarily for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// NewClient builds a registry client with retrying transport defaults.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("registry: base URL is required")
	}
	retry := retryablehttp.NewClient()
	retry.RetryMax = 3
	retry.RetryWaitMin = 250 * time.Millisecond
	retry.RetryWaitMax = 2 * time.Second
	retry.HTTPClient.Timeout = 10 * time.Second
	retry.Logger = nil

	c := &Client{base: trimmed, http: retry.StandardClient()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type ownerResponse struct {
	Owner string `json:"owner"`
}

type approvalResponse struct {
	Approved bool `json:"approved"`
}

type transferRequest struct {
	Collection string `json:"collection"`
	From       string `json:"from"`
	To         string `json:"to"`
	AssetID    string `json:"assetId"`
}

type sendRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// OwnerOf resolves the current owner of an asset.
func (c *Client) OwnerOf(collection [20]byte, assetID *big.Int) ([20]byte, error) {
	path := fmt.Sprintf("/v1/collections/%s/assets/%s/owner", encodeAddr(collection), encodeBig(assetID))
	var out ownerResponse
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return [20]byte{}, err
	}
	return decodeAddr(out.Owner)
}

// IsApprovedForAll reports whether the operator holds a standing transfer
// approval from the owner across the collection.
func (c *Client) IsApprovedForAll(collection, owner, operator [20]byte) (bool, error) {
	path := fmt.Sprintf("/v1/collections/%s/approvals/%s/%s",
		encodeAddr(collection), encodeAddr(owner), encodeAddr(operator))
	var out approvalResponse
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return false, err
	}
	return out.Approved, nil
}

// TransferFrom orders the registry to move an asset between principals.
func (c *Client) TransferFrom(collection, from, to [20]byte, assetID *big.Int) error {
	body := transferRequest{
		Collection: encodeAddr(collection),
		From:       encodeAddr(from),
		To:         encodeAddr(to),
		AssetID:    encodeBig(assetID),
	}
	return c.do(http.MethodPost, "/v1/transfers", body, nil)
}

// Send pushes native value to the supplied address.
func (c *Client) Send(to [20]byte, amount *big.Int) error {
	body := sendRequest{To: encodeAddr(to), Amount: encodeBig(amount)}
	return c.do(http.MethodPost, "/v1/payments", body, nil)
}

func (c *Client) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("registry: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("registry: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registry: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure errorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &failure) == nil && strings.TrimSpace(failure.Error) != "" {
			return fmt.Errorf("registry: %s %s: status %d: %s", method, path, resp.StatusCode, failure.Error)
		}
		return fmt.Errorf("registry: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("registry: decode response: %w", err)
	}
	return nil
}

func encodeAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func encodeBig(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func decodeAddr(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != len(addr) {
		return addr, fmt.Errorf("registry: malformed address %q", value)
	}
	copy(addr[:], raw)
	return addr, nil
}

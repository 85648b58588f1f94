// Package vendorhttp talks to the lock vendor's cloud API over HTTPS.
// Authentication uses OAuth2 client credentials; token refresh is handled
// by the oauth2 transport so every call carries a live access credential.
package vendorhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/stayos/roomkeys/internal/gateway"
)

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	TokenURL     string
	// CallTimeout bounds every vendor call. The vendor cloud is the
	// primary source of unbounded latency, so this is enforced here
	// rather than left to callers.
	CallTimeout time.Duration
}

type Client struct {
	baseURL     string
	httpClient  *http.Client
	callTimeout time.Duration
}

var _ gateway.LockVendor = (*Client)(nil)

func New(cfg Config) *Client {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	httpClient := cc.Client(context.Background())
	httpClient.Timeout = timeout

	return &Client{
		baseURL:     cfg.BaseURL,
		httpClient:  httpClient,
		callTimeout: timeout,
	}
}

type issueRequest struct {
	KeyRef     string    `json:"key_ref"`
	RoomNumber string    `json:"room_number"`
	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`
}

type issueResponse struct {
	KeyToken string    `json:"key_token"`
	AckTime  time.Time `json:"ack_time"`
}

func (c *Client) IssueKey(ctx context.Context, keyRef, roomNumber string, validFrom, validUntil time.Time) (*gateway.IssueResult, error) {
	var res issueResponse
	err := c.do(ctx, http.MethodPost, "/v1/keys", issueRequest{
		KeyRef:     keyRef,
		RoomNumber: roomNumber,
		ValidFrom:  validFrom,
		ValidUntil: validUntil,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &gateway.IssueResult{VendorKeyToken: res.KeyToken, AckTime: res.AckTime}, nil
}

type revokeResponse struct {
	AckTime time.Time `json:"ack_time"`
}

func (c *Client) RevokeKey(ctx context.Context, vendorToken string) (*gateway.RevokeResult, error) {
	var res revokeResponse
	err := c.do(ctx, http.MethodPost, "/v1/keys/"+vendorToken+"/revoke", nil, &res)
	if err != nil {
		// A key the vendor no longer knows counts as revoked.
		var se *statusError
		if errors.As(err, &se) && (se.code == http.StatusNotFound || se.code == http.StatusGone) {
			return &gateway.RevokeResult{AckTime: time.Now().UTC(), AlreadyRevoked: true}, nil
		}
		return nil, err
	}
	return &gateway.RevokeResult{AckTime: res.AckTime}, nil
}

type extendRequest struct {
	ValidUntil time.Time `json:"valid_until"`
}

func (c *Client) ExtendKey(ctx context.Context, vendorToken string, validUntil time.Time) (*gateway.ExtendResult, error) {
	var res revokeResponse
	err := c.do(ctx, http.MethodPatch, "/v1/keys/"+vendorToken, extendRequest{ValidUntil: validUntil}, &res)
	if err != nil {
		return nil, err
	}
	return &gateway.ExtendResult{AckTime: res.AckTime}, nil
}

type statusResponse struct {
	State    string `json:"state"`
	KeyToken string `json:"key_token"`
}

func (c *Client) KeyStatus(ctx context.Context, keyRef string) (*gateway.StatusResult, error) {
	var res statusResponse
	err := c.do(ctx, http.MethodGet, "/v1/keys/by-ref/"+keyRef, nil, &res)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return &gateway.StatusResult{State: gateway.KeyStateUnknown}, nil
		}
		return nil, err
	}

	out := &gateway.StatusResult{VendorKeyToken: res.KeyToken}
	switch res.State {
	case "active":
		out.State = gateway.KeyStateActive
	case "revoked":
		out.State = gateway.KeyStateRevoked
	default:
		out.State = gateway.KeyStateUnknown
	}
	return out, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("vendor returned %d: %s", e.code, e.body)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal vendor request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures and timeouts: outcome unknown on the
		// vendor side.
		return fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("failed to decode vendor response: %w", err)
			}
		}
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", gateway.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return &statusError{code: resp.StatusCode}
	default:
		return fmt.Errorf("%w: status %d", gateway.ErrRejected, resp.StatusCode)
	}
}

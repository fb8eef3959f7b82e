// Package identity is a typed client for the external identity provider's
// management API. The provider owns authentication and sessions; this
// service only reads user profiles and writes the per-user metadata object
// that carries the mirrored role claims.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rolegate/rolegate/internal/shared"
)

// User is the provider's view of an account. PublicMetadata is an opaque
// object; the roles key inside it belongs to the mirror synchronizer and is
// read-only cache for everyone else.
type User struct {
	ID             string         `json:"id"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	ImageURL       string         `json:"image_url"`
	EmailAddresses []EmailAddress `json:"email_addresses"`
	PublicMetadata map[string]any `json:"public_metadata"`
}

// EmailAddress is one address attached to a provider account.
type EmailAddress struct {
	EmailAddress string `json:"email_address"`
}

// Client talks to the provider's REST management API using a secret key.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient constructs a Client for the given API base URL.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetUser fetches one user including the current metadata object.
func (c *Client) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/v1/users/"+userID, nil, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// ListUsers fetches every user the provider knows about.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "/v1/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateUserMetadata replaces the user's public metadata object wholesale.
// The provider has no partial-field patch; callers must read-modify-write.
func (c *Client) UpdateUserMetadata(ctx context.Context, userID string, metadata map[string]any) error {
	body := map[string]any{"public_metadata": metadata}
	return c.do(ctx, http.MethodPatch, "/v1/users/"+userID, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := fmt.Sprintf("identity: %s %s", method, path)

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &shared.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return shared.NotFound("user", strings.TrimPrefix(path, "/v1/users/"))
	case resp.StatusCode == http.StatusConflict:
		return shared.Conflict("user", apiDetail(resp))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Any other provider 4xx means the request itself is wrong;
		// retrying the same call will not help.
		return shared.Invalid("request", fmt.Sprintf("status %d: %s", resp.StatusCode, apiDetail(resp)))
	case resp.StatusCode >= 500:
		return &shared.TransportError{
			Op:  op,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, apiDetail(resp)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func apiDetail(resp *http.Response) string {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return strings.TrimSpace(string(payload))
}

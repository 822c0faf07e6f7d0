package identity

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
	"sync"
	"time"
)

const defaultBaseURL = "https://identitytoolkit.googleapis.com/v1"

// ErrInvalidToken is returned when the provider rejects the ID token or the
// account it names is unusable.
var ErrInvalidToken = errors.New("identity: invalid id token")

// lookupRequest is the request shape for the accounts:lookup endpoint.
type lookupRequest struct {
	IDToken string `json:"idToken"`
}

// lookupResponse is the minimal response shape returned by accounts:lookup.
type lookupResponse struct {
	Users []struct {
		LocalID          string `json:"localId"`
		Email            string `json:"email"`
		Disabled         bool   `json:"disabled"`
		CustomAttributes string `json:"customAttributes"`
	} `json:"users"`
}

// customClaims is the JSON document stored in customAttributes.
type customClaims struct {
	Role  string   `json:"role"`
	Roles []string `json:"roles"`
}

// keyPayload is the expected JSON shape stored in SSM for the web API key.
type keyPayload struct {
	APIKey string `json:"apiKey"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Identity is a verified caller.
type Identity struct {
	UID   string
	Email string
	Roles []string
}

// HasRole reports whether the identity carries role.
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("identity: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client verifies ID tokens against the identity provider's REST API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	keyMu  sync.Mutex
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client that reads its API key from the parameter store
// on first use. A failed key fetch is retried on the next call.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("identity: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("identity: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) keyParameterName() string {
	return c.paramPrefix + "/identity/api_key"
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	key, err := fetchAPIKeyFromParamStore(ctx, c.getter, c.keyParameterName())
	if err != nil {
		return "", err
	}
	c.apiKey = key
	return key, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func lookupURL(baseURL, apiKey string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/accounts:lookup?key=" + url.QueryEscape(apiKey)
}

// Verify resolves an ID token to the identity it was issued for.
func (c *Client) Verify(ctx context.Context, idToken string) (Identity, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return Identity{}, ErrInvalidToken
	}
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return Identity{}, err
	}

	body, err := json.Marshal(lookupRequest{IDToken: idToken})
	if err != nil {
		return Identity{}, fmt.Errorf("identity: marshal request: %w", err)
	}
	endpoint := lookupURL(c.baseURL, apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Identity{}, fmt.Errorf("identity: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// The key is a query parameter; keep it out of error messages.
	raw, err := c.doJSONRequest(req, lookupURL(c.baseURL, "redacted"))
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusBadRequest {
			return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return Identity{}, fmt.Errorf("identity: lookup failed: %w", err)
	}

	var payload lookupResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Identity{}, fmt.Errorf("identity: decode response: %w", err)
	}
	if len(payload.Users) == 0 {
		return Identity{}, ErrInvalidToken
	}
	user := payload.Users[0]
	if user.Disabled || user.LocalID == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		UID:   user.LocalID,
		Email: user.Email,
		Roles: parseRoles(user.CustomAttributes),
	}, nil
}

// parseRoles reads roles from the customAttributes document. Unparseable
// attributes grant no roles.
func parseRoles(attrs string) []string {
	if strings.TrimSpace(attrs) == "" {
		return nil
	}
	var claims customClaims
	if err := json.Unmarshal([]byte(attrs), &claims); err != nil {
		return nil
	}
	roles := append([]string(nil), claims.Roles...)
	if claims.Role != "" {
		roles = append(roles, claims.Role)
	}
	return roles
}

func (c *Client) doJSONRequest(req *http.Request, displayURL string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		var urlErr *url.Error
		if errors.As(doErr, &urlErr) {
			// url.Error embeds the request URL, which carries the key.
			return nil, fmt.Errorf("%s %s: %w", urlErr.Op, displayURL, urlErr.Err)
		}
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        displayURL,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("identity: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("identity: key parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("identity: fetch api key from paramstore: %w", err)
	}
	var kp keyPayload
	if err := json.Unmarshal([]byte(raw), &kp); err != nil {
		return "", fmt.Errorf("identity: unmarshal paramstore key value as JSON: %w", err)
	}
	if kp.APIKey == "" {
		return "", errors.New("identity: API key is empty")
	}
	return kp.APIKey, nil
}

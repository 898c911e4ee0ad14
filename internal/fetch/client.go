// Package fetch is the stateless HTTP client for the marketplace API.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

const (
	defaultAPIBase       = "https://www.olx.ua"
	defaultCategoriesURL = "https://categories.olxcdn.com/v2/categories"

	oauthScope        = "i2 read write v2"
	oauthClientID     = "100018"
	oauthClientSecret = "mo96g2Wue78VBZrhghjVJwmJk7Adn0LTs3ZI6Vdk3lgXk5hi"
)

// StatusError reports a request the remote rejected (non-2xx), as opposed to a
// transport error, which is returned unwrapped.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote rejected request: status %d: %s", e.Status, e.Body)
}

// Config holds client endpoints and extra request headers.
type Config struct {
	APIBase       string
	CategoriesURL string
	Headers       map[string]string
}

// Client performs marketplace API calls. All methods decode into raw payloads
// or small response structs; entity mapping lives in internal/mapper.
type Client struct {
	apiBase       string
	categoriesURL string
	headers       map[string]string
	http          *http.Client
	log           *zap.Logger
}

// NewClient constructs a marketplace client.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.CategoriesURL == "" {
		cfg.CategoriesURL = defaultCategoriesURL
	}
	return &Client{
		apiBase:       cfg.APIBase,
		categoriesURL: cfg.CategoriesURL,
		headers:       cfg.Headers,
		http:          &http.Client{},
		log:           log,
	}
}

// TokenResponse is the credential refresh payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Listings fetches one page of listings for the worker's query, newest first.
func (c *Client) Listings(ctx context.Context, offset, limit int32, query map[string]string) ([]json.RawMessage, error) {
	start := time.Now()
	u, err := url.Parse(c.apiBase + "/api/v1/offers/")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	q.Set("offset", strconv.FormatInt(int64(offset), 10))
	q.Set("limit", strconv.FormatInt(int64(limit), 10))
	q.Set("sort_by", "created_at:desc")
	u.RawQuery = q.Encode()

	var page struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := c.getJSON(ctx, u.String(), nil, &page); err != nil {
		return nil, err
	}
	c.log.Info("fetched listings",
		zap.Int32("offset", offset),
		zap.Int32("limit", limit),
		zap.Int("count", len(page.Data)),
		zap.Duration("dur", time.Since(start)),
	)
	return page.Data, nil
}

// Categories fetches the full category tree as a flat list.
func (c *Client) Categories(ctx context.Context) ([]json.RawMessage, error) {
	start := time.Now()
	u, err := url.Parse(c.categoriesURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("brand", "olxua")
	u.RawQuery = q.Encode()

	var items []json.RawMessage
	if err := c.getJSON(ctx, u.String(), nil, &items); err != nil {
		return nil, err
	}
	c.log.Info("fetched categories",
		zap.Int("count", len(items)),
		zap.Duration("dur", time.Since(start)),
	)
	return items, nil
}

// Credential exchanges a device id/token pair for fresh OAuth tokens.
func (c *Client) Credential(ctx context.Context, deviceID uuid.UUID, deviceToken string) (*TokenResponse, error) {
	start := time.Now()
	body, err := json.Marshal(map[string]string{
		"device_id":     deviceID.String(),
		"device_token":  deviceToken,
		"grant_type":    "device",
		"scope":         oauthScope,
		"client_id":     oauthClientID,
		"client_secret": oauthClientSecret,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/api/open/oauth/token/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	var tok TokenResponse
	if err := c.do(req, &tok); err != nil {
		return nil, err
	}
	c.log.Info("fetched credential",
		zap.String("device_id", deviceID.String()),
		zap.Duration("dur", time.Since(start)),
	)
	return &tok, nil
}

// Phones fetches the limited-phones list of a listing. Requires a live access token.
func (c *Client) Phones(ctx context.Context, listingID int64, accessToken string) ([]json.RawMessage, error) {
	start := time.Now()
	u := fmt.Sprintf("%s/api/v1/offers/%d/limited-phones/", c.apiBase, listingID)

	var page struct {
		Data []json.RawMessage `json:"data"`
	}
	auth := map[string]string{"Authorization": "Bearer " + accessToken}
	if err := c.getJSON(ctx, u, auth, &page); err != nil {
		return nil, err
	}
	c.log.Info("fetched phones",
		zap.Int64("listing_id", listingID),
		zap.Duration("dur", time.Since(start)),
	)
	return page.Data, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, extra map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Status: resp.StatusCode, Body: string(body)}
	}
	return json.Unmarshal(body, out)
}

func (c *Client) setHeaders(req *http.Request) {
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
}

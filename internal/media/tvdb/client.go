// Package tvdb fetches series posters from the TVDB v4 API.
package tvdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the public TVDB v4 endpoint.
const DefaultBaseURL = "https://api4.thetvdb.com/v4"

var errUnauthorized = errors.New("tvdb: unauthorized")

// Client is a TVDB client with a cached bearer token.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	mu    sync.Mutex
	token string
}

// New creates a TVDB client. An empty baseURL selects DefaultBaseURL.
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// SeriesPoster returns the poster image URL for a series, or "" if TVDB has none.
// A rejected token is discarded and the request retried once with a fresh login.
func (c *Client) SeriesPoster(ctx context.Context, tvdbID int) (string, error) {
	url, err := c.seriesImage(ctx, tvdbID)
	if errors.Is(err, errUnauthorized) {
		c.invalidate()
		url, err = c.seriesImage(ctx, tvdbID)
	}
	return url, err
}

// Ping verifies the API key by logging in.
func (c *Client) Ping(ctx context.Context) error {
	c.invalidate()
	_, err := c.ensureToken(ctx)
	return err
}

func (c *Client) seriesImage(ctx context.Context, tvdbID int) (string, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/series/"+strconv.Itoa(tvdbID), nil)
	if err != nil {
		return "", fmt.Errorf("create tvdb request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusOK:
		return gjson.GetBytes(body, "data.image").String(), nil
	case http.StatusUnauthorized:
		return "", errUnauthorized
	case http.StatusNotFound:
		return "", nil
	}
	return "", fmt.Errorf("tvdb series %d returned %d", tvdbID, status)
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	payload, err := json.Marshal(map[string]string{"apikey": c.apiKey})
	if err != nil {
		return "", fmt.Errorf("marshal tvdb login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create tvdb login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("tvdb login returned %d", status)
	}
	token := gjson.GetBytes(body, "data.token").String()
	if token == "" {
		return "", fmt.Errorf("tvdb login: no token in response")
	}
	c.token = token
	return token, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("tvdb request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read tvdb response: %w", err)
	}
	return body, resp.StatusCode, nil
}

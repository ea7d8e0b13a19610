// Package arr is the HTTP client shared by the Sonarr and Radarr v3 APIs.
package arr

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nous-labs/arrbot/internal/media"
)

// ErrNotFound is returned when the service answers 404.
var ErrNotFound = errors.New("not found")

const defaultTimeout = 15 * time.Second

// Config configures a Client.
type Config struct {
	BaseURL   string // e.g. http://sonarr:8989
	APIKey    string
	VerifyTLS bool
	Timeout   time.Duration // defaults to 15s
}

// Client issues authenticated GET requests against /api/v3.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client. TLS verification is skipped when cfg.VerifyTLS is false.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // user opt-out
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// BaseURL returns the service root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Get fetches /api/v3/<path> and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Ping checks /api/v3/system/status.
func (c *Client) Ping(ctx context.Context) error {
	body, err := c.get(ctx, "/system/status", nil)
	if err != nil {
		return err
	}
	if !gjson.GetBytes(body, "version").Exists() {
		return fmt.Errorf("unexpected system status response")
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + "/api/v3" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request %s: %w", path, err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

// Image is an entry of the images array on series and movie resources.
type Image struct {
	CoverType string `json:"coverType"`
	URL       string `json:"url"`
	RemoteURL string `json:"remoteUrl"`
}

// PosterURL picks the poster image. An absolute remoteUrl wins; otherwise the
// local url is resolved against the service base URL.
func (c *Client) PosterURL(images []Image) string {
	for _, img := range images {
		if !strings.EqualFold(img.CoverType, "poster") {
			continue
		}
		if isAbsolute(img.RemoteURL) {
			return img.RemoteURL
		}
		if img.URL == "" {
			continue
		}
		if isAbsolute(img.URL) {
			return img.URL
		}
		return c.baseURL + "/" + strings.TrimLeft(img.URL, "/")
	}
	return ""
}

// Ratings reads a ratings object. Radarr reports one object per source
// ({"imdb": {"value": 7.1, "votes": 10}}), Sonarr a single {"value", "votes"} pair.
func Ratings(raw json.RawMessage, defaultSource string) []media.Rating {
	r := gjson.ParseBytes(raw)
	if !r.IsObject() {
		return nil
	}
	if v := r.Get("value"); v.Exists() {
		if v.Float() == 0 {
			return nil
		}
		return []media.Rating{{Source: defaultSource, Value: v.Float(), Votes: int(r.Get("votes").Int())}}
	}
	var out []media.Rating
	r.ForEach(func(key, val gjson.Result) bool {
		if val.IsObject() && val.Get("value").Float() > 0 {
			out = append(out, media.Rating{
				Source: key.String(),
				Value:  val.Get("value").Float(),
				Votes:  int(val.Get("votes").Int()),
			})
		}
		return true
	})
	return out
}

func isAbsolute(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func truncate(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "..."
		}
		i++
	}
	return s
}

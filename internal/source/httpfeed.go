package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/surfacer/internal/priority"
)

const (
	httpTimeout     = 30 * time.Second
	maxFeedBodySize = 4 << 20
)

// HTTPFeed fetches raw records from GET {endpoint}/items?user=U. The
// response is a JSON array of raw envelopes. Envelopes that fail to decode
// are skipped and logged; the rest are returned.
type HTTPFeed struct {
	name       string
	endpoint   string
	token      string
	httpClient *http.Client
	logger     log.Logger
}

// NewHTTPFeed creates a feed adapter. token, if set, is sent as a bearer token.
func NewHTTPFeed(name, endpoint, token string, logger log.Logger) *HTTPFeed {
	if logger == nil {
		logger = log.Nop()
	}
	return &HTTPFeed{
		name:       name,
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

func (f *HTTPFeed) Name() string { return f.name }

// Fetch implements priority.SourceAdapter.
func (f *HTTPFeed) Fetch(ctx context.Context, userID string) ([]priority.Raw, error) {
	u, err := url.Parse(f.endpoint + "/items")
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("user", userID)
	u.RawQuery = q.Encode()

	body, err := getJSON(ctx, f.httpClient, u.String(), f.token)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", f.name, err)
	}

	var envelopes []json.RawMessage
	if err := json.Unmarshal(body, &envelopes); err != nil {
		return nil, fmt.Errorf("feed %s: decode response: %w", f.name, err)
	}

	out := make([]priority.Raw, 0, len(envelopes))
	for i, env := range envelopes {
		r, err := priority.DecodeRaw(env)
		if err != nil {
			f.logger.Warn(ctx, "skipping undecodable record", "feed", f.name, "index", i, "err", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func getJSON(ctx context.Context, client *http.Client, target, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req) //nolint:gosec // G704: endpoint is from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > 512 {
			body = body[:512]
		}
		return nil, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

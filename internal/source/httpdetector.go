package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/linnemanlabs/surfacer/internal/priority"
)

// HTTPDetector asks GET {endpoint}/responded whether the user acted on the
// item's source thread since it surfaced. The endpoint answers
// {"responded": bool}.
type HTTPDetector struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewHTTPDetector creates a response detector. token, if set, is sent as a
// bearer token.
func NewHTTPDetector(endpoint, token string) *HTTPDetector {
	return &HTTPDetector{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: httpTimeout},
	}
}

// HasResponded implements priority.ResponseDetector.
func (d *HTTPDetector) HasResponded(ctx context.Context, it *priority.Item) (bool, error) {
	u, err := url.Parse(d.endpoint + "/responded")
	if err != nil {
		return false, fmt.Errorf("invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("user", it.UserID)
	q.Set("source_type", string(it.SourceType))
	q.Set("source_id", it.SourceID)
	if it.SurfacedAt != nil {
		q.Set("since", it.SurfacedAt.UTC().Format(time.RFC3339))
	}
	u.RawQuery = q.Encode()

	body, err := getJSON(ctx, d.httpClient, u.String(), d.token)
	if err != nil {
		return false, fmt.Errorf("response detector: %w", err)
	}

	var out struct {
		Responded bool `json:"responded"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return false, fmt.Errorf("response detector: decode response: %w", err)
	}
	return out.Responded, nil
}

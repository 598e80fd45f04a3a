package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Config holds the service-specific configuration; go-core package configs
// (http server, middleware, log, ops, profiling, otel) are registered
// alongside it in main.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	SlackWebhookURL       string

	// FeedEndpoints is a comma-separated list of name=url source feeds.
	FeedEndpoints    string
	FeedToken        string
	DetectorEndpoint string

	// APITokens is a comma-separated list of token:user pairs. Empty
	// disables bearer authentication and the API trusts ?user=.
	APITokens string

	// Users is a comma-separated list of users cycled even before they own
	// any stored item.
	Users string

	CycleInterval  time.Duration
	CycleDeadline  time.Duration
	AdapterTimeout time.Duration
	EffectTimeout  time.Duration

	ScoringConfig string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for surfacing notices (empty = disabled)")
	fs.StringVar(&c.FeedEndpoints, "feed-endpoints", "", "comma-separated name=url source feeds")
	fs.StringVar(&c.FeedToken, "feed-token", "", "bearer token sent to source feeds and the response detector")
	fs.StringVar(&c.DetectorEndpoint, "detector-endpoint", "", "response detector base URL (empty = manual responses only)")
	fs.StringVar(&c.APITokens, "api-tokens", "", "comma-separated token:user pairs for API authentication")
	fs.StringVar(&c.Users, "users", "", "comma-separated users to cycle in addition to stored ones")
	fs.DurationVar(&c.CycleInterval, "cycle-interval", 60*time.Second, "time between scheduled cycles")
	fs.DurationVar(&c.CycleDeadline, "cycle-deadline", 30*time.Second, "upper bound on one user's cycle")
	fs.DurationVar(&c.AdapterTimeout, "adapter-timeout", 10*time.Second, "per-adapter fetch timeout")
	fs.DurationVar(&c.EffectTimeout, "effect-timeout", 5*time.Second, "timeout for detector and visibility effect calls")
	fs.StringVar(&c.ScoringConfig, "scoring-config", "", "path to a YAML scoring/surfacing tuning file (empty = built-in defaults)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Cycle timing
	if c.CycleInterval < time.Second {
		errs = append(errs, fmt.Errorf("invalid CYCLE_INTERVAL %s (must be at least 1s)", c.CycleInterval))
	}
	if c.CycleDeadline <= 0 || c.CycleDeadline > c.CycleInterval {
		errs = append(errs, fmt.Errorf("invalid CYCLE_DEADLINE %s (must be positive and at most CYCLE_INTERVAL)", c.CycleDeadline))
	}
	if c.AdapterTimeout <= 0 || c.AdapterTimeout > c.CycleDeadline {
		errs = append(errs, fmt.Errorf("invalid ADAPTER_TIMEOUT %s (must be positive and at most CYCLE_DEADLINE)", c.AdapterTimeout))
	}
	if c.EffectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid EFFECT_TIMEOUT %s (must be positive)", c.EffectTimeout))
	}

	if _, err := c.Feeds(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Tokens(); err != nil {
		errs = append(errs, err)
	}
	if c.DetectorEndpoint != "" {
		if err := checkURL(c.DetectorEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("invalid DETECTOR_ENDPOINT: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Feeds parses FeedEndpoints into name -> base URL.
func (c *Config) Feeds() (map[string]string, error) {
	out := make(map[string]string)
	for _, entry := range splitList(c.FeedEndpoints) {
		name, endpoint, ok := strings.Cut(entry, "=")
		name, endpoint = strings.TrimSpace(name), strings.TrimSpace(endpoint)
		if !ok || name == "" || endpoint == "" {
			return nil, fmt.Errorf("invalid FEED_ENDPOINTS entry %q (want name=url)", entry)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("duplicate FEED_ENDPOINTS name %q", name)
		}
		if err := checkURL(endpoint); err != nil {
			return nil, fmt.Errorf("invalid FEED_ENDPOINTS url for %q: %w", name, err)
		}
		out[name] = endpoint
	}
	return out, nil
}

// Tokens parses APITokens into token -> user.
func (c *Config) Tokens() (map[string]string, error) {
	out := make(map[string]string)
	for _, entry := range splitList(c.APITokens) {
		token, user, ok := strings.Cut(entry, ":")
		token, user = strings.TrimSpace(token), strings.TrimSpace(user)
		if !ok || token == "" || user == "" {
			return nil, errors.New("invalid API_TOKENS entry (want token:user)")
		}
		out[token] = user
	}
	return out, nil
}

// UserList returns the configured users, sorted and de-duplicated.
func (c *Config) UserList() []string {
	users := splitList(c.Users)
	slices.Sort(users)
	return slices.Compact(users)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q not supported", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

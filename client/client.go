// Package client is the consumer-side clustered LRA coordinator client
// (spec.md §4.4): it selects one of N configured coordinator base URLs
// per request using a pluggable Selector, retries against the next
// instance on connection error or 5xx, and routes every per-LRA verb
// directly at the coordinator base encoded in that LRA's own id once one
// is known (spec.md §4.4 "Per-LRA affinity"), bypassing the selector
// entirely. Grounded on
// original_source/client/.../ClusteredLRACoordinatorClient.java's
// retry/failover contract, reshaped around this repo's selector.Selector
// interface (DESIGN NOTES §9) instead of Stork.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lracoord/client/selector"
	"lracoord/internal/lraid"
)

// ErrServiceUnavailable is returned whenever the configured selection
// method cannot select a URL at all -- an unrecognized method (spec.md
// §4.4), or a sticky endpoint that has already failed once (spec.md §8
// scenario 5).
var ErrServiceUnavailable = errors.New("client: load balancer unavailable")

// Config configures a clustered Client (spec.md §4.4, §6 "Recognized
// configuration options").
type Config struct {
	// URLs is the ordered list of coordinator base URLs, e.g.
	// "http://host1:8080/lra-coordinator".
	URLs []string
	// Method selects the Selector: "round-robin" (default), "sticky", or
	// any other string, which disables load balancing (selector.New).
	Method string
	// ServiceName is carried through for telemetry/dynamic discovery; the
	// core does not resolve it to anything (DESIGN NOTES §9).
	ServiceName string
	// Timeout bounds each individual HTTP attempt.
	Timeout time.Duration
	// MaxRetries bounds the number of coordinator instances tried across
	// the ordered list before giving up (spec.md §4.4).
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	return c
}

// Client is the clustered consumer-side LRA coordinator client.
type Client struct {
	cfg      Config
	httpc    *http.Client
	selector selector.Selector
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:      cfg,
		httpc:    &http.Client{Timeout: cfg.Timeout},
		selector: selector.New(cfg.Method),
	}
}

// IsLoadBalancing reports whether cfg.Method resolved to a usable
// selector (spec.md §8 scenario 5).
func (c *Client) IsLoadBalancing() bool {
	return c.selector.Enabled()
}

// AttemptError is returned when every retry across the coordinator list
// is exhausted; it records how many attempts were made and the last
// attempt's error. Earlier attempts' URLs and errors are not kept.
type AttemptError struct {
	Attempts int
	Last     error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("client: all %d attempt(s) failed: %v", e.Attempts, e.Last)
}

func (e *AttemptError) Unwrap() error { return e.Last }

// --- load-balanced verbs (spec.md §4.4: "Only startLRA and listLRAs are
// load-balanced") --------------------------------------------------------

// StartLRA begins a new LRA against whichever coordinator the selector
// chooses, with failover to the next instance on error (spec.md §4.4).
func (c *Client) StartLRA(ctx context.Context, clientID string, timeLimitMillis int64, parentLRA string) (string, error) {
	resp, err := c.withFailover(ctx, func(ctx context.Context, base string) (*http.Response, error) {
		q := make(map[string]string, 3)
		if clientID != "" {
			q["ClientID"] = clientID
		}
		if timeLimitMillis != 0 {
			q["TimeLimit"] = strconv.FormatInt(timeLimitMillis, 10)
		}
		if parentLRA != "" {
			q["ParentLRA"] = parentLRA
		}
		return c.do(ctx, http.MethodPost, base+"/start", q, nil, nil)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return strings.TrimSpace(string(body)), nil
}

// ListLRAs lists LRAs from whichever coordinator the selector chooses
// (spec.md §4.4); the result reflects only that one coordinator's view.
func (c *Client) ListLRAs(ctx context.Context, statusFilter string) ([]byte, error) {
	resp, err := c.withFailover(ctx, func(ctx context.Context, base string) (*http.Response, error) {
		q := map[string]string{}
		if statusFilter != "" {
			q["Status"] = statusFilter
		}
		return c.do(ctx, http.MethodGet, base+"/", q, nil, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// --- per-LRA affinity verbs (spec.md §4.4: everything else targets the
// coordinator base encoded in the LRA id, bypassing the selector) -------

// GetStatus fetches id's status from its owning coordinator.
func (c *Client) GetStatus(ctx context.Context, id string) (string, error) {
	resp, err := c.toOwner(ctx, id, http.MethodGet, "/status", nil, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return strings.TrimSpace(string(body)), nil
}

// GetInfo fetches id's full record from its owning coordinator.
func (c *Client) GetInfo(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.toOwner(ctx, id, http.MethodGet, "", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Renew updates id's deadline on its owning coordinator.
func (c *Client) Renew(ctx context.Context, id string, timeLimitMillis int64) error {
	resp, err := c.toOwner(ctx, id, http.MethodPut, "/renew", map[string]string{
		"TimeLimit": strconv.FormatInt(timeLimitMillis, 10),
	}, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Close drives id's complete phase on its owning coordinator, returning
// the final status text.
func (c *Client) Close(ctx context.Context, id string) (string, error) {
	return c.endPhase(ctx, id, "/close")
}

// Cancel drives id's compensate phase on its owning coordinator,
// returning the final status text.
func (c *Client) Cancel(ctx context.Context, id string) (string, error) {
	return c.endPhase(ctx, id, "/cancel")
}

func (c *Client) endPhase(ctx context.Context, id, suffix string) (string, error) {
	resp, err := c.toOwner(ctx, id, http.MethodPut, suffix, nil, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return strings.TrimSpace(string(body)), nil
}

// Join enlists a participant against id's owning coordinator, supplying
// the plain-text-body enlistment shape (spec.md §4.1); it returns the
// recovery URI.
func (c *Client) Join(ctx context.Context, id, participantBaseURI string) (string, error) {
	resp, err := c.toOwner(ctx, id, http.MethodPut, "", nil, strings.NewReader(participantBaseURI))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return strings.TrimSpace(string(body)), nil
}

// Leave removes a participant (identified by its recovery URI) from id's
// owning coordinator.
func (c *Client) Leave(ctx context.Context, id, recoveryURI string) error {
	resp, err := c.toOwner(ctx, id, http.MethodPut, "/remove", nil, strings.NewReader(recoveryURI))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// toOwner parses id to find its coordinator base (spec.md §3 identifier
// rule) and issues a single direct request -- no selector, no failover,
// since affinity routing targets exactly one coordinator (spec.md §4.4).
func (c *Client) toOwner(ctx context.Context, id, method, pathSuffix string, query map[string]string, body io.Reader) (*http.Response, error) {
	parsed, err := lraid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("client: invalid lra id %q: %w", id, err)
	}
	url := parsed.Base() + "/" + parsed.UID() + pathSuffix
	resp, err := c.do(ctx, method, url, query, body, nil)
	if err != nil {
		return nil, fmt.Errorf("client: request to owning coordinator %s failed: %w", parsed.Base(), err)
	}
	return resp, nil
}

// withFailover runs do against a sequence of selector-chosen coordinator
// bases, retrying on connection error or 5xx up to cfg.MaxRetries
// attempts (spec.md §4.4). Under Sticky, a single failure fails the
// whole call closed -- selector.Sticky.MarkFailed makes every subsequent
// Next return an error, so the loop naturally stops retrying instead of
// promoting a new endpoint (SPEC_FULL.md §9 Open Question resolution).
func (c *Client) withFailover(ctx context.Context, do func(ctx context.Context, base string) (*http.Response, error)) (*http.Response, error) {
	if !c.selector.Enabled() {
		return nil, fmt.Errorf("%w: %s", ErrServiceUnavailable, c.cfg.Method)
	}

	var lastErr error
	attempts := 0
	for attempts < c.cfg.MaxRetries {
		base, err := c.selector.Next(c.cfg.URLs)
		if err != nil {
			if attempts == 0 {
				return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
			}
			lastErr = err
			break
		}
		attempts++

		resp, err := do(ctx, base)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("coordinator %s returned %d", base, resp.StatusCode)
			resp.Body.Close()
		}

		if sticky, ok := c.selector.(*selector.Sticky); ok {
			sticky.MarkFailed()
			break
		}
	}
	return nil, &AttemptError{Attempts: attempts, Last: lastErr}
}

func (c *Client) do(ctx context.Context, method, rawURL string, query map[string]string, body io.Reader, headers map[string]string) (*http.Response, error) {
	if len(query) > 0 {
		var b strings.Builder
		b.WriteString(rawURL)
		sep := "?"
		for k, v := range query {
			b.WriteString(sep)
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
			sep = "&"
		}
		rawURL = b.String()
	}

	var rc io.Reader = body
	if body == nil {
		rc = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rc)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.httpc.Do(req)
}

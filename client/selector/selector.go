// Package selector implements the consumer-side URL selection strategies
// spec.md §4.4 and DESIGN NOTES §9 describe: "a Selector interface
// (Selector.next() -> URL) with implementations RoundRobin, Sticky, and
// Rejecting (for unknown strategy names) -- no third-party discovery
// library required by the core." random, least-requests, and any other
// name not implemented here fall through to Rejecting, since those are
// tags meant for an external service-discovery layer the core does not
// plug in (spec.md §4.4).
package selector

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrNoURLs is returned when a selector is asked to choose from an empty
// list.
var ErrNoURLs = errors.New("selector: no coordinator urls configured")

// ErrStickyDown is returned by Sticky once its chosen endpoint has been
// marked failed -- per spec.md §8 scenario 5 and the Open Questions
// resolution in SPEC_FULL.md §9, sticky fails closed rather than
// promoting a new endpoint.
var ErrStickyDown = errors.New("selector: sticky endpoint is down")

// Selector picks the next coordinator URL to try from an ordered list.
type Selector interface {
	// Next returns the URL to use for the next attempt.
	Next(urls []string) (string, error)
	// Enabled reports whether this selector can ever select a URL. False
	// for Rejecting, so callers can answer isLoadBalancing() without a
	// dummy Next call (spec.md §8 scenario 5).
	Enabled() bool
}

// New builds the Selector named by method. Recognized names are
// "round-robin" (also the default for "") and "sticky"; everything else
// -- including "random", "least-requests", and typos -- returns a
// Rejecting selector (spec.md §4.4 "unrecognized values disable load
// balancing").
func New(method string) Selector {
	switch method {
	case "", "round-robin":
		return &RoundRobin{}
	case "sticky":
		return &Sticky{}
	default:
		return &Rejecting{method: method}
	}
}

// RoundRobin cycles through urls with a monotonic counter shared across
// calls, so successive selections (and successive failover retries)
// advance through the list and wrap (spec.md §4.4, §8 "Failover").
type RoundRobin struct {
	counter uint64
}

func (r *RoundRobin) Enabled() bool { return true }

func (r *RoundRobin) Next(urls []string) (string, error) {
	if len(urls) == 0 {
		return "", ErrNoURLs
	}
	n := atomic.AddUint64(&r.counter, 1) - 1
	return urls[n%uint64(len(urls))], nil
}

// Sticky selects urls[0] on first use and reuses it for every subsequent
// call until MarkFailed is called, at which point it fails closed
// permanently rather than promoting a different endpoint.
type Sticky struct {
	mu     sync.Mutex
	picked string
	down   bool
}

func (s *Sticky) Enabled() bool { return true }

func (s *Sticky) Next(urls []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return "", ErrStickyDown
	}
	if s.picked == "" {
		if len(urls) == 0 {
			return "", ErrNoURLs
		}
		s.picked = urls[0]
	}
	return s.picked, nil
}

// MarkFailed records that the sticky endpoint is no longer usable. All
// future Next calls return ErrStickyDown.
func (s *Sticky) MarkFailed() {
	s.mu.Lock()
	s.down = true
	s.mu.Unlock()
}

// Rejecting never selects a URL; it models an unrecognized or
// externally-delegated selection method (spec.md §4.4).
type Rejecting struct {
	method string
}

func (r *Rejecting) Enabled() bool { return false }

func (r *Rejecting) Next([]string) (string, error) {
	return "", fmt.Errorf("selector: unrecognized load-balancing method %q", r.method)
}

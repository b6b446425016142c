package driver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"lracoord/internal/lra"
	"lracoord/internal/participant"
)

// outcome classifies an HTTP response per spec.md §4.1.1 step 3 /
// §4.1.2 / §7.
type outcome int

const (
	outcomeTerminalSuccess outcome = iota
	outcomeStillRunning
	outcomeRetryable
	outcomePermanentFailure
)

// driveParticipant invokes p's complete-or-after (Closing) or
// compensate (Cancelling) callback and updates p.State from the
// classified result.
func (d *Driver) driveParticipant(ctx context.Context, l *lra.LRA, p *participant.Record) error {
	var uri string
	var completing bool
	if l.Status == lra.StatusCancelling {
		uri = p.CompensateURI
		completing = false
	} else {
		uri = p.CompleteURI
		if uri == "" {
			uri = p.AfterURI
		}
		completing = true
	}
	if uri == "" {
		// No callback to drive (e.g. a compensate-only participant being
		// closed after its compensate already fired); treat as terminal.
		return d.applyOutcome(l, p, completing, outcomeTerminalSuccess, "")
	}

	resp, err := d.post(ctx, uri, p)
	if err != nil {
		d.log.Warn("participant callback failed", zap.String("lra", l.ID), zap.String("uri", uri), zap.Error(err))
		return d.applyOutcome(l, p, completing, outcomeRetryable, "")
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	oc := classifyStatus(resp.StatusCode)
	if oc == outcomeStillRunning {
		return d.pollStatus(ctx, l, p, completing)
	}
	return d.applyOutcome(l, p, completing, oc, string(body))
}

// pollStatus implements spec.md §4.1.2: GET the participant's status
// URI once; an answer that is not terminal leaves the participant for the
// next recovery pass.
func (d *Driver) pollStatus(ctx context.Context, l *lra.LRA, p *participant.Record, completing bool) error {
	if p.StatusURI == "" {
		// No way to poll; leave in-flight for recovery to retry the
		// original callback.
		if completing {
			p.State = participant.StateCompleting
		} else {
			p.State = participant.StateCompensating
		}
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.StatusURI, nil)
	if err != nil {
		return fmt.Errorf("driver: build status request: %w", err)
	}
	resp, err := d.doer.Do(req)
	if err != nil {
		return d.applyOutcome(l, p, completing, outcomeRetryable, "")
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return d.applyOutcome(l, p, completing, classifyTerminalBody(string(body)), string(body))
	case http.StatusAccepted:
		if completing {
			p.State = participant.StateCompleting
		} else {
			p.State = participant.StateCompensating
		}
		return nil
	case http.StatusNotFound:
		// "treat as FailedTo* if the LRA has ended, otherwise assume
		// participant lost and mark failed" -- both branches mark failed,
		// spec.md §4.1.2.
		return d.applyOutcome(l, p, completing, outcomePermanentFailure, string(body))
	default:
		return d.applyOutcome(l, p, completing, outcomeRetryable, string(body))
	}
}

// applyOutcome updates p.State from a classified outcome, and when the
// participant just reached a terminal state, fires its forget callback
// best-effort.
func (d *Driver) applyOutcome(l *lra.LRA, p *participant.Record, completing bool, oc outcome, body string) error {
	switch oc {
	case outcomeTerminalSuccess:
		if completing {
			p.State = participant.StateCompleted
		} else {
			p.State = participant.StateCompensated
		}
		d.fireForget(p)
		return nil

	case outcomeStillRunning:
		if completing {
			p.State = participant.StateCompleting
		} else {
			p.State = participant.StateCompensating
		}
		return nil

	case outcomePermanentFailure:
		if completing {
			p.State = participant.StateFailedToComplete
		} else {
			p.State = participant.StateFailedToCompensate
		}
		return fmt.Errorf("driver: participant %s permanently failed: %s", p.RecoveryID, body)

	default: // outcomeRetryable: leave state as-is for recovery
		return nil
	}
}

// classifyStatus maps a raw HTTP status code from a complete/compensate
// call to an outcome, per spec.md §4.1.1 step 3.
func classifyStatus(code int) outcome {
	switch {
	case code == http.StatusGone:
		return outcomeTerminalSuccess
	case code >= 200 && code < 300:
		if code == http.StatusAccepted {
			return outcomeStillRunning
		}
		return outcomeTerminalSuccess
	case code >= 400 && code < 500:
		return outcomeRetryable
	default: // 5xx or unexpected
		return outcomeRetryable
	}
}

// classifyTerminalBody inspects a 200 status-poll body for a terminal
// state name; an unrecognized body is treated as still-retryable rather
// than silently marking success.
func classifyTerminalBody(body string) outcome {
	switch participant.State(trim(body)) {
	case participant.StateCompleted, participant.StateCompensated:
		return outcomeTerminalSuccess
	case participant.StateFailedToComplete, participant.StateFailedToCompensate:
		return outcomePermanentFailure
	default:
		return outcomeRetryable
	}
}

func trim(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\n' || s[start] == '\r' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\n' || s[end-1] == '\r' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

func (d *Driver) post(ctx context.Context, uri string, p *participant.Record) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uri, bytes.NewReader(p.UserData))
	if err != nil {
		return nil, fmt.Errorf("driver: build callback request: %w", err)
	}
	if p.RecoveryID != "" {
		req.Header.Set("Long-Running-Action-Recovery-Id", p.RecoveryID)
	}
	req.Header.Set("Content-Type", "application/json")
	return d.doer.Do(req)
}

// fireForget best-effort invokes a terminal participant's forget
// callback, dropping it from future drives; failures are not retried,
// matching spec.md §4.1.2 "possibly call forget and drop."
func (d *Driver) fireForget(p *participant.Record) {
	if p.ForgetURI == "" {
		return
	}
	req, err := http.NewRequest(http.MethodDelete, p.ForgetURI, nil)
	if err != nil {
		return
	}
	resp, err := d.doer.Do(req)
	if err != nil {
		d.log.Debug("forget callback failed", zap.String("uri", p.ForgetURI), zap.Error(err))
		return
	}
	resp.Body.Close()
}

// fireAfter best-effort delivers the after-LRA notification to every
// participant that registered one, on every terminal outcome including
// a failed end phase (Open Question resolved in SPEC_FULL.md §9).
func (d *Driver) fireAfter(ctx context.Context, l *lra.LRA) {
	for _, p := range l.Participants {
		if p.AfterURI == "" {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.AfterURI, bytes.NewReader([]byte(l.Status)))
		if err != nil {
			continue
		}
		resp, err := d.doer.Do(req)
		if err != nil {
			d.log.Debug("after callback failed", zap.String("lra", l.ID), zap.String("uri", p.AfterURI), zap.Error(err))
			continue
		}
		resp.Body.Close()
	}
}

package driver

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"go.uber.org/zap"

	"lracoord/internal/lra"
	"lracoord/internal/participant"
)

type recordingDoer struct {
	calls     []string
	responses map[string]*http.Response
}

func (d *recordingDoer) Do(req *http.Request) (*http.Response, error) {
	d.calls = append(d.calls, req.URL.String())
	if resp, ok := d.responses[req.URL.String()]; ok {
		return resp, nil
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func respond(code int, body string) *http.Response {
	return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(body))}
}

type fakeOrchestrator struct{}

func (fakeOrchestrator) Lookup(id string) (*lra.Entry, bool)                 { return nil, false }
func (fakeOrchestrator) CloseChild(ctx context.Context, id string) (lra.Status, error) {
	return lra.StatusClosed, nil
}
func (fakeOrchestrator) ForceCancel(ctx context.Context, id string) error     { return nil }
func (fakeOrchestrator) Persist(ctx context.Context, l *lra.LRA) error        { return nil }
func (fakeOrchestrator) MarkFailed(ctx context.Context, l *lra.LRA) error     { return nil }
func (fakeOrchestrator) Forget(ctx context.Context, l *lra.LRA) error         { return nil }

func TestSimpleClose(t *testing.T) {
	doer := &recordingDoer{responses: map[string]*http.Response{
		"http://p1/complete": respond(200, string(participant.StateCompleted)),
	}}
	d := New(doer, zap.NewNop(), DefaultBackoff())

	l := &lra.LRA{ID: "http://coord/lra1", Status: lra.StatusActive}
	l.AddParticipant(&participant.Record{RecoveryID: "p1", CompensateURI: "http://p1/compensate", CompleteURI: "http://p1/complete", State: participant.StateActive})
	l.Status = lra.StatusClosing

	if err := d.Drive(context.Background(), fakeOrchestrator{}, l); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Status != lra.StatusClosed {
		t.Fatalf("expected Closed, got %s", l.Status)
	}
	for _, c := range doer.calls {
		if c == "http://p1/compensate" {
			t.Fatal("compensate must not be invoked on close")
		}
	}
	completeCalls := 0
	for _, c := range doer.calls {
		if c == "http://p1/complete" {
			completeCalls++
		}
	}
	if completeCalls != 1 {
		t.Fatalf("expected exactly one complete call, got %d", completeCalls)
	}
}

func TestCancelOrderIsReversed(t *testing.T) {
	doer := &recordingDoer{responses: map[string]*http.Response{
		"http://p1/compensate": respond(200, string(participant.StateCompensated)),
		"http://p2/compensate": respond(200, string(participant.StateCompensated)),
		"http://p3/compensate": respond(200, string(participant.StateCompensated)),
	}}
	d := New(doer, zap.NewNop(), DefaultBackoff())

	l := &lra.LRA{ID: "http://coord/lra1", Status: lra.StatusActive}
	l.AddParticipant(&participant.Record{RecoveryID: "p1", CompensateURI: "http://p1/compensate", State: participant.StateActive})
	l.AddParticipant(&participant.Record{RecoveryID: "p2", CompensateURI: "http://p2/compensate", State: participant.StateActive})
	l.AddParticipant(&participant.Record{RecoveryID: "p3", CompensateURI: "http://p3/compensate", State: participant.StateActive})
	l.Status = lra.StatusCancelling

	if err := d.Drive(context.Background(), fakeOrchestrator{}, l); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Status != lra.StatusCancelled {
		t.Fatalf("expected Cancelled, got %s", l.Status)
	}
	want := []string{"http://p3/compensate", "http://p2/compensate", "http://p1/compensate"}
	if len(doer.calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), doer.calls)
	}
	for i, uri := range want {
		if doer.calls[i] != uri {
			t.Fatalf("call %d: expected %s, got %s", i, uri, doer.calls[i])
		}
	}
}

func TestAsyncParticipantLeftInFlightForRecovery(t *testing.T) {
	doer := &recordingDoer{responses: map[string]*http.Response{
		"http://p1/complete": respond(202, ""),
		"http://p1/status":   respond(202, ""),
	}}
	d := New(doer, zap.NewNop(), DefaultBackoff())

	l := &lra.LRA{ID: "http://coord/lra1", Status: lra.StatusActive}
	l.AddParticipant(&participant.Record{RecoveryID: "p1", CompleteURI: "http://p1/complete", StatusURI: "http://p1/status", State: participant.StateActive})
	l.Status = lra.StatusClosing

	if err := d.Drive(context.Background(), fakeOrchestrator{}, l); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Status != lra.StatusClosing {
		t.Fatalf("expected LRA to remain Closing pending recovery, got %s", l.Status)
	}
	if l.Participants[0].State != participant.StateCompleting {
		t.Fatalf("expected participant state Completing, got %s", l.Participants[0].State)
	}
}

func TestServerErrorIsRetryableAndDoesNotMarkLRAFailed(t *testing.T) {
	marked := false
	doer := &recordingDoer{responses: map[string]*http.Response{
		"http://p1/compensate": respond(500, "boom"),
	}}
	d := New(doer, zap.NewNop(), DefaultBackoff())

	l := &lra.LRA{ID: "http://coord/lra1", Status: lra.StatusActive}
	l.AddParticipant(&participant.Record{RecoveryID: "p1", CompensateURI: "http://p1/compensate", State: participant.StateActive})
	l.Status = lra.StatusCancelling

	orch := markFailedOrchestrator{fakeOrchestrator{}, &marked}
	_ = d.Drive(context.Background(), orch, l)

	if l.Participants[0].State != participant.StateActive {
		t.Fatalf("5xx should be retryable and keep state, got %s", l.Participants[0].State)
	}
	if marked {
		t.Fatal("retryable failure must not mark the LRA failed")
	}
}

type markFailedOrchestrator struct {
	fakeOrchestrator
	marked *bool
}

func (o markFailedOrchestrator) MarkFailed(ctx context.Context, l *lra.LRA) error {
	*o.marked = true
	return nil
}

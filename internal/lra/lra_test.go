package lra

import (
	"testing"

	"lracoord/internal/participant"
)

func join(l *LRA, recoveryID, compensate string) {
	l.AddParticipant(&participant.Record{RecoveryID: recoveryID, CompensateURI: compensate, State: participant.StateActive})
}

func TestCompensationOrderIsReverseOfEnlistment(t *testing.T) {
	l := &LRA{Status: StatusActive}
	join(l, "p1", "http://p1/c")
	join(l, "p2", "http://p2/c")
	join(l, "p3", "http://p3/c")

	order := l.CompensationOrder()
	if len(order) != 3 || order[0].RecoveryID != "p3" || order[1].RecoveryID != "p2" || order[2].RecoveryID != "p1" {
		t.Fatalf("unexpected compensation order: %+v", order)
	}

	completion := l.CompletionOrder()
	if completion[0].RecoveryID != "p1" || completion[2].RecoveryID != "p3" {
		t.Fatalf("unexpected completion order: %+v", completion)
	}
}

func TestRecoveringReflectsNonTerminalParticipants(t *testing.T) {
	l := &LRA{Status: StatusActive}
	join(l, "p1", "http://p1/c")
	l.Status = StatusClosing
	if !l.Recovering() {
		t.Fatal("expected Recovering true while participant is Active")
	}

	l.Participants[0].State = participant.StateCompensated
	if l.Recovering() {
		t.Fatal("expected Recovering false once all participants are terminal")
	}
}

func TestAddParticipantRejectsNonActiveLRA(t *testing.T) {
	l := &LRA{Status: StatusClosing}
	err := l.AddParticipant(&participant.Record{CompensateURI: "http://p/c"})
	if err == nil {
		t.Fatal("expected error joining a non-Active LRA")
	}
}

func TestRemoveParticipant(t *testing.T) {
	l := &LRA{Status: StatusActive}
	join(l, "p1", "http://p1/c")
	join(l, "p2", "http://p2/c")

	if !l.RemoveParticipant("p1") {
		t.Fatal("expected removal to succeed")
	}
	if len(l.Participants) != 1 || l.Participants[0].RecoveryID != "p2" {
		t.Fatalf("unexpected participants after removal: %+v", l.Participants)
	}
	if l.RemoveParticipant("unknown") {
		t.Fatal("expected removal of unknown participant to fail")
	}
}

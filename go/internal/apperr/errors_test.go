package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"connectrpc.com/connect"
)

func TestSentinelMatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("failed to start match: %w", ErrMatchNotFound)
	if !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("expected wrapped error to match ErrMatchNotFound")
	}
	if errors.Is(err, ErrJudgeNotFound) {
		t.Fatalf("expected match-not-found not to match judge-not-found")
	}
	if got := KindOf(err); got != KindNotFound {
		t.Fatalf("expected kind %s, got %s", KindNotFound, got)
	}
	if got := Code(err); got != connect.CodeNotFound {
		t.Fatalf("expected code %v, got %v", connect.CodeNotFound, got)
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	err := fmt.Errorf("failed to update match: %w", errors.New("pq: connection reset"))
	if got := PublicMessage(err); got != "internal error" {
		t.Fatalf("expected generic message, got %q", got)
	}
	if got := HTTPStatus(err); got != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got)
	}
	if got := ReasonOf(err); got != "internal" {
		t.Fatalf("expected internal reason, got %q", got)
	}
}

func TestPublicMessageKeepsDomainText(t *testing.T) {
	err := Conflict("judge_double_booked", "judge already owns group %q in this match", "A")
	if got := PublicMessage(err); got != `judge already owns group "A" in this match` {
		t.Fatalf("unexpected message %q", got)
	}
	if got := Code(err); got != connect.CodeAlreadyExists {
		t.Fatalf("expected already-exists code, got %v", got)
	}
	if !errors.Is(err, &Error{Kind: KindConflict}) {
		t.Fatalf("expected kind-only target to match")
	}
}

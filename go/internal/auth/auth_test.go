package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIssueAndValidate(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	subject, matchID := uuid.New(), uuid.New()

	token, err := issuer.Issue(RoleContestant, subject, &matchID)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	p, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if p.Role != RoleContestant || p.Subject != subject {
		t.Fatalf("expected contestant %s, got %+v", subject, p)
	}
	if !p.CanJoin(matchID) || p.CanJoin(uuid.New()) {
		t.Fatalf("expected token scoped to match %s", matchID)
	}
}

func TestValidateRejectsBadTokens(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	other := NewIssuer("other", time.Hour)

	token, err := other.Issue(RoleAdmin, uuid.New(), nil)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := issuer.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for foreign secret, got %v", err)
	}
	if _, err := issuer.Validate(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}

	expired := NewIssuer("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.Issue(RoleAdmin, uuid.New(), nil)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := issuer.Validate(old); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestRequireChecksRole(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	handler := issuer.Require(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		if !ok || p.Role != RoleAdmin {
			t.Errorf("expected admin principal in context")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(role Role) int {
		token, err := issuer.Issue(role, uuid.New(), nil)
		if err != nil {
			t.Fatalf("issue failed: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := call(RoleAdmin); code != http.StatusNoContent {
		t.Fatalf("expected 204 for admin, got %d", code)
	}
	if code := call(RoleJudge); code != http.StatusForbidden {
		t.Fatalf("expected 403 for judge, got %d", code)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
}

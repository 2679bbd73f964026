package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler(captured *Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			id, _ := IdentityFromContext(r.Context())
			*captured = id
		}
		w.WriteHeader(http.StatusOK)
	})
}

func mustToken(t *testing.T, secret []byte, party string, role Role) string {
	t.Helper()
	token, err := IssueJWT(secret, party, role, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	secret := []byte("test-secret")
	mw := NewMiddleware(secret, NewDefaultPolicy(nil))
	handler := mw.Wrap(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/settlements/1", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestAuthMiddleware_ViewerForbiddenWrite(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "alice", RoleViewer)
	mw := NewMiddleware(secret, NewDefaultPolicy(nil))
	handler := mw.Wrap(okHandler(nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/settlements/approve", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAuthMiddleware_ViewerAllowedRead(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "alice", RoleViewer)
	mw := NewMiddleware(secret, NewDefaultPolicy(nil))

	var identity Identity
	handler := mw.Wrap(okHandler(&identity))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/settlements/1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if identity.Party != "alice" || identity.Role != RoleViewer {
		t.Fatalf("expected alice/viewer identity, got %+v", identity)
	}
}

func TestAuthMiddleware_OperatorAllowedWrite(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "alice", RoleOperator)
	mw := NewMiddleware(secret, NewDefaultPolicy(nil))

	var identity Identity
	handler := mw.Wrap(okHandler(&identity))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/settlements", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if identity.Party != "alice" {
		t.Fatalf("expected party from token, got %+v", identity)
	}
}

func TestAuthMiddleware_ExemptPathSkipsAuth(t *testing.T) {
	secret := []byte("test-secret")
	mw := NewMiddleware(secret, NewDefaultPolicy([]string{"/healthz"}))
	handler := mw.Wrap(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on exempt path, got %d", resp.Code)
	}
}

func TestAuthMiddleware_WrongSecretRejected(t *testing.T) {
	token := mustToken(t, []byte("other-secret"), "alice", RoleOperator)
	mw := NewMiddleware([]byte("test-secret"), NewDefaultPolicy(nil))
	handler := mw.Wrap(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/settlements/1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestParseJWT_RequiresParty(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "", RoleOperator)
	if _, err := ParseJWT(token, secret); err == nil {
		t.Fatalf("expected token without party rejected")
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOrderAuth_WithValidCookie(t *testing.T) {
	m := NewOrderAuth("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		id, ok := OrderIDFromContext(r.Context())
		if !ok {
			t.Fatalf("order id not in context")
		}
		if id != 42 {
			t.Fatalf("order id from context = %d, want 42", id)
		}
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/orders/42", nil)

	if err := m.SetOrderCookie(w, 42); err != nil {
		t.Fatalf("set order cookie: %v", err)
	}
	resCookies := w.Result().Cookies()
	if len(resCookies) == 0 {
		t.Fatalf("no cookies set by SetOrderCookie")
	}
	if resCookies[0].Path != orderCookiePath {
		t.Fatalf("cookie path = %q, want %q", resCookies[0].Path, orderCookiePath)
	}
	if !resCookies[0].HttpOnly {
		t.Fatalf("cookie must be http only")
	}

	r.AddCookie(resCookies[0])

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestOrderAuth_WithoutCookie(t *testing.T) {
	m := NewOrderAuth("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/orders/1", nil)

	m.Middleware(next).ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestOrderAuth_ForeignKey(t *testing.T) {
	issuer := NewOrderAuth("one")
	verifier := NewOrderAuth("two")

	token, _, err := issuer.IssueToken(7)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if _, err := verifier.ParseToken(token); err != ErrInvalidOrderToken {
		t.Fatalf("parse token err = %v, want %v", err, ErrInvalidOrderToken)
	}
}

func TestOrderAuth_Expired(t *testing.T) {
	m := NewOrderAuth("test-secret")
	issuedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issuedAt }

	token, _, err := m.IssueToken(3)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	m.now = func() time.Time { return issuedAt.Add(orderTokenTTL + time.Minute) }
	if _, err := m.ParseToken(token); err != ErrInvalidOrderToken {
		t.Fatalf("parse expired token err = %v, want %v", err, ErrInvalidOrderToken)
	}
}

func TestOrderAuth_Garbage(t *testing.T) {
	m := NewOrderAuth("")

	if _, err := m.ParseToken("not-a-token"); err != ErrInvalidOrderToken {
		t.Fatalf("parse token err = %v, want %v", err, ErrInvalidOrderToken)
	}
}

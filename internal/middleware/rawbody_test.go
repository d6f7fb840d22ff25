package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawBody_PreservesBytes(t *testing.T) {
	payload := "{\n  \"id\": \"evt_1\",  \"type\" : \"payment_intent.succeeded\"\n}\n"

	var fromContext, fromBody []byte
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		fromContext, ok = RawBodyFromContext(r.Context())
		require.True(t, ok)

		var err error
		fromBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(payload))
	RawBody(0)(next).ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payload, string(fromContext))
	assert.Equal(t, payload, string(fromBody))
}

func TestRawBody_TooLarge(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(strings.Repeat("a", 64)))
	RawBody(16)(next).ServeHTTP(w, r)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRawBodyFromContext_Missing(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)

	_, ok := RawBodyFromContext(r.Context())
	assert.False(t, ok)
}

package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
)

const rawBodyKey contextKey = "rawBody"

// DefaultRawBodyLimit ограничивает размер тела вебхука.
const DefaultRawBodyLimit int64 = 1 << 20

// RawBody читает тело запроса целиком, без каких-либо преобразований, и кладёт
// байты в контекст. Подпись вебхука считается именно по этим байтам.
func RawBody(limit int64) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = DefaultRawBodyLimit
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
			_ = r.Body.Close()
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
					return
				}
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			ctx := context.WithValue(r.Context(), rawBodyKey, body)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RawBodyFromContext возвращает тело запроса, сохранённое RawBody.
func RawBodyFromContext(ctx context.Context) ([]byte, bool) {
	body, ok := ctx.Value(rawBodyKey).([]byte)
	return body, ok
}

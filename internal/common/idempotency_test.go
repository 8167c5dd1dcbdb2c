package common

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idemServer(t *testing.T) (http.Handler, *int) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})
	return Idem{R: rdb, TTL: time.Minute}.Middleware(next), &calls
}

func TestIdemPassesThroughWithoutKey(t *testing.T) {
	handler, calls := idemServer(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, *calls)
}

func TestIdemRejectsDuplicateKey(t *testing.T) {
	handler, calls := idemServer(t)

	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
	req.Header.Set("Idempotency-Key", "abc-123")

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/checkout", nil))
	second2 := httptest.NewRecorder()
	dup := httptest.NewRequest(http.MethodPost, "/checkout", nil)
	dup.Header.Set("Idempotency-Key", "abc-123")
	handler.ServeHTTP(second2, dup)

	assert.Equal(t, http.StatusConflict, second2.Code)
	assert.Equal(t, 2, *calls, "only the keyless and first keyed requests reach the handler")
}

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func whoami() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetInspectorID(r.Context())))
	})
}

func serve(h http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	cfg := NewJWTConfig("secret")
	h := cfg.Middleware(whoami())

	token, err := cfg.IssueToken("inspector-7", time.Hour)
	require.NoError(t, err)

	rec := serve(h, "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "inspector-7", rec.Body.String())

	rec = serve(h, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = serve(h, "Token "+token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := NewJWTConfig("other").IssueToken("inspector-7", time.Hour)
	require.NoError(t, err)
	rec = serve(h, "Bearer "+other)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIssueToken(t *testing.T) {
	cfg := NewJWTConfig("")
	assert.Equal(t, DevSecret, cfg.SecretKey)

	_, err := cfg.IssueToken("", time.Hour)
	assert.Error(t, err)

	forever, err := cfg.IssueToken("a", -time.Minute)
	require.NoError(t, err)
	_, err = cfg.Parse(forever)
	require.NoError(t, err, "non-positive ttl issues a token without expiry")

	token, err := cfg.IssueToken("a", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = cfg.Parse(token)
	assert.Error(t, err)
}

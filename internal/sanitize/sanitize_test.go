package sanitize

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsOperatorKey(t *testing.T) {
	require.True(t, IsOperatorKey("$where"))
	require.True(t, IsOperatorKey("profile.role"))
	require.False(t, IsOperatorKey("email"))
	require.False(t, IsOperatorKey("price$"))
}

func TestClean(t *testing.T) {
	var doc any
	require.NoError(t, json.Unmarshal([]byte(`{
		"email": {"$ne": null},
		"name": "Sara",
		"$where": "sleep(1000)",
		"tags": [{"a.b": 1, "ok": true}, "plain"]
	}`), &doc))

	cleaned, removed := Clean(doc)
	require.Equal(t, []string{"$ne", "$where", "a.b"}, removed)

	var expected any
	require.NoError(t, json.Unmarshal([]byte(`{
		"email": {},
		"name": "Sara",
		"tags": [{"ok": true}, "plain"]
	}`), &expected))
	require.Equal(t, expected, cleaned)

	_, removed = Clean("just a string")
	require.Empty(t, removed)
}

func TestMiddleware(t *testing.T) {
	var gotBody []byte
	var gotQuery string
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	})

	t.Run("strips body keys", func(t *testing.T) {
		handler := Middleware(Options{})(echo)
		r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(`{"email":"a@b.c","password":{"$gt":""}}`))
		r.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{"email":"a@b.c","password":{}}`, string(gotBody))
	})

	t.Run("strips query keys", func(t *testing.T) {
		handler := Middleware(Options{})(echo)
		r := httptest.NewRequest(http.MethodGet, "/api/v1/cases?status=open&amount[$gt]=5&$where=x", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "status=open", gotQuery)
	})

	t.Run("strict mode blocks", func(t *testing.T) {
		handler := Middleware(Options{Strict: true})(echo)
		r := httptest.NewRequest(http.MethodPost, "/api/v1/cases", bytes.NewBufferString(`{"$set":{"role":"owner"}}`))
		r.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Contains(t, w.Body.String(), "SANITIZATION_BLOCKED")
		require.Contains(t, w.Body.String(), `"$set"`)
	})

	t.Run("clean request untouched", func(t *testing.T) {
		handler := Middleware(Options{Strict: true})(echo)
		r := httptest.NewRequest(http.MethodPost, "/api/v1/cases?page=2", bytes.NewBufferString(`{"title":"Contract review"}`))
		r.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, `{"title":"Contract review"}`, string(gotBody))
		require.Equal(t, "page=2", gotQuery)
	})

	t.Run("invalid json passes through", func(t *testing.T) {
		handler := Middleware(Options{Strict: true})(echo)
		r := httptest.NewRequest(http.MethodPost, "/api/v1/cases", bytes.NewBufferString(`{"$broken`))
		r.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, `{"$broken`, string(gotBody))
	})

	t.Run("oversized body passes through", func(t *testing.T) {
		handler := Middleware(Options{Strict: true, MaxBodyBytes: 8})(echo)
		body := `{"$where":"1"}`
		r := httptest.NewRequest(http.MethodPost, "/api/v1/cases", bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, body, string(gotBody))
	})
}

type panickingBody struct{}

func (panickingBody) Read(p []byte) (int, error) { panic("reader exploded") }
func (panickingBody) Close() error               { return nil }

func TestMiddleware_failOpen(t *testing.T) {
	called := false
	handler := Middleware(Options{Strict: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/v1/cases", nil)
	r.Header.Set("Content-Type", "application/json")
	r.Body = panickingBody{}
	r.ContentLength = -1
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, r)
	require.True(t, called)
	require.Equal(t, http.StatusOK, w.Code)
}

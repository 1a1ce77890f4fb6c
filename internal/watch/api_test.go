package watch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onlineauth/internal/session"
)

func TestAPILogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/api/login" || body["password"] != "secret1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Invalid credentials"}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: session.CookieName, Value: "signed", Path: "/"})
		_, _ = w.Write([]byte(`{"user":{"id":"u1","name":"Alice","email":"a@x.com"}}`))
	}))
	defer srv.Close()

	res, err := apiLogin(context.Background(), srv.URL, "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", res.Name)
	assert.Equal(t, session.CookieName+"=signed", res.Cookie)

	_, err = apiLogin(context.Background(), srv.URL, "a@x.com", "wrong")
	assert.ErrorIs(t, err, errUnauthorized)
}

func TestAPILoginServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"Too many requests"}`))
	}))
	defer srv.Close()

	_, err := apiLogin(context.Background(), srv.URL, "a@x.com", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Too many requests")
}

func TestHTTPBaseFromWSURL(t *testing.T) {
	base, err := httpBaseFromWSURL("wss://example.com/ws?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", base)

	base, err = httpBaseFromWSURL("ws://localhost:3000/ws")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", base)

	_, err = httpBaseFromWSURL("http://localhost:3000")
	assert.Error(t, err)
}

func TestSessionFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	require.NoError(t, saveSessionToDisk(path, sessionFile{Server: "ws://x/ws", Email: "a@x.com", Cookie: "c=1"}))

	got, err := loadSessionFromDisk(path)
	require.NoError(t, err)
	assert.Equal(t, "c=1", got.Cookie)

	require.NoError(t, deleteSessionFile(path))
	require.NoError(t, deleteSessionFile(path))
	_, err = loadSessionFromDisk(path)
	assert.Error(t, err)
}

func TestAPILogout(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/logout" || r.Method != http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if c, err := r.Cookie(session.CookieName); err == nil {
			gotCookie = c.Value
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	require.NoError(t, apiLogout(context.Background(), srv.URL, session.CookieName+"=signed"))
	assert.Equal(t, "signed", gotCookie)

	err := apiLogout(context.Background(), srv.URL+"/missing", session.CookieName+"=signed")
	assert.Error(t, err)
}

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bhandras/chatsync/internal/apperr"
	"github.com/stretchr/testify/require"
)

func TestLogin(t *testing.T) {
	t.Parallel()

	var got LoginRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/login", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"token":"tok"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/api/")
	token, err := c.Login(context.Background(), LoginRequest{Email: " ana@example.com ", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, "tok", token)
	require.Equal(t, "ana@example.com", got.Email)
}

func TestLoginRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"msg":"Invalid credentials"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Login(context.Background(), LoginRequest{Email: "ana@example.com", Password: "x"})
	require.ErrorIs(t, err, apperr.ErrUnauthenticated)
	require.Equal(t, "Invalid credentials", apperr.Message(err))
}

func TestLoginValidatesBeforeCalling(t *testing.T) {
	t.Parallel()

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	_, err := NewClient(srv.URL).Login(context.Background(), LoginRequest{Email: "not-an-email", Password: "x"})
	require.ErrorIs(t, err, apperr.ErrUnauthenticated)
	require.False(t, called)
}

func TestRegister(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/register", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"token":"fresh"}`))
	}))
	defer srv.Close()

	token, err := NewClient(srv.URL).Register(context.Background(), RegisterRequest{
		Email: "bo@example.com", Password: "secret1", Name: " Bo ",
	})
	require.NoError(t, err)
	require.Equal(t, "fresh", token)
	require.Equal(t, "Bo", got["name"])
	require.Contains(t, got, "avatar")
	require.Nil(t, got["avatar"])
}

func TestServerDown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Login(context.Background(), LoginRequest{Email: "ana@example.com", Password: "x"})
	require.ErrorIs(t, err, apperr.ErrConnection)
}

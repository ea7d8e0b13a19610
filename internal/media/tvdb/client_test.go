package tvdb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeriesPoster(t *testing.T) {
	var logins atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "k", body["apikey"])
			logins.Add(1)
			w.Write([]byte(`{"data":{"token":"tok"}}`))
		case "/series/81189":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			w.Write([]byte(`{"data":{"image":"https://artworks/81189.jpg"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	url, err := c.SeriesPoster(context.Background(), 81189)
	require.NoError(t, err)
	assert.Equal(t, "https://artworks/81189.jpg", url)

	url, err = c.SeriesPoster(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, url)

	assert.Equal(t, int32(1), logins.Load(), "token should be cached")
}

func TestSeriesPosterRefreshesRejectedToken(t *testing.T) {
	var logins atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			n := logins.Add(1)
			if n == 1 {
				w.Write([]byte(`{"data":{"token":"stale"}}`))
				return
			}
			w.Write([]byte(`{"data":{"token":"fresh"}}`))
		case "/series/5":
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"data":{"image":"https://artworks/5.jpg"}}`))
		}
	}))
	defer srv.Close()

	url, err := New(srv.URL, "k").SeriesPoster(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "https://artworks/5.jpg", url)
	assert.Equal(t, int32(2), logins.Load())
}

func TestPingBadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := New(srv.URL, "bad").Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

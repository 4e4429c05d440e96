package event

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqual(t *testing.T) {
	start := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	a := &BroadcastEvent{ID: 1, VideoURI: "v", StartAt: start, EndAt: start.Add(time.Hour), UpdatedAt: start}
	b := *a

	assert.True(t, Equal(a, &b))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(a, nil))
	assert.False(t, Equal(nil, a))

	c := *a
	c.UpdatedAt = start.Add(time.Minute)
	assert.False(t, Equal(a, &c))

	d := *a
	d.Title = "retitled"
	// Title is not part of the change-detection key.
	assert.True(t, Equal(a, &d))
}

func TestRoom(t *testing.T) {
	assert.Equal(t, "cinema:42", Room(42))
}

func TestHTTPSourceCurrent(t *testing.T) {
	start := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	want := BroadcastEvent{ID: 7, Title: "premiere", VideoURI: "https://cdn.example.com/s.m3u8", StartAt: start, EndAt: start.Add(time.Hour), UpdatedAt: start}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/cinema/current", r.URL.Path)
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	got, err := NewHTTPSource(srv.URL).Current(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, Equal(&want, got))
}

func TestHTTPSourceNoBroadcast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	got, err := NewHTTPSource(srv.URL).Current(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHTTPSourceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL).Current(context.Background())
	assert.Error(t, err)
}

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL + "/api/")
	c.SetToken("secret")
	return c
}

func TestGetMessages(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/chats/42/messages", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "20", r.URL.Query().Get("offset"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[{"id":3},{"id":2}]`)
	})

	msgs, err := c.GetMessages(context.Background(), 42, 10, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"id":3}`, string(msgs[0]))
}

func TestMutations(t *testing.T) {
	type call struct {
		method, path string
		body         map[string]any
	}
	var (
		mu    sync.Mutex
		calls []call
	)
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if r.ContentLength > 0 {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		}
		mu.Lock()
		calls = append(calls, call{r.Method, r.URL.Path, body})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	ctx := context.Background()

	require.NoError(t, c.MarkSeen(ctx, 42))
	require.NoError(t, c.EditMessage(ctx, 5, "fixed"))
	require.NoError(t, c.DeleteMessage(ctx, 6))
	require.NoError(t, c.AddReaction(ctx, 7, "👍"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []call{
		{http.MethodPost, "/api/chats/42/messages/mark-seen", nil},
		{http.MethodPut, "/api/messages/5", map[string]any{"content": "fixed"}},
		{http.MethodDelete, "/api/messages/6", nil},
		{http.MethodPost, "/api/messages/7/reactions", map[string]any{"emoji": "👍"}},
	}, calls)
}

func TestUpload(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/upload", r.URL.Path)
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "notes.txt", hdr.Filename)
		assert.Equal(t, "hello", string(data))
		_, _ = io.WriteString(w, `{"filename":"notes.txt","file_url":"/uploads/abc.txt","file_type":"text/plain","file_size":5}`)
	})

	up, err := c.Upload(context.Background(), "notes.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, &UploadedFile{Filename: "notes.txt", FileURL: "/uploads/abc.txt", FileType: "text/plain", FileSize: 5}, up)
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"detail", http.StatusNotFound, `{"detail":"Chat not found"}`, "Chat not found"},
		{"error", http.StatusForbidden, `{"error":"not a member"}`, "not a member"},
		{"plain", http.StatusBadGateway, "upstream down\n", "upstream down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			err := c.MarkSeen(context.Background(), 1)
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.want, apiErr.Message)
		})
	}
}

func TestEmptySuccessBody(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	msgs, err := c.GetMessages(context.Background(), 1, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMalformedSuccessBody(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"not":"a list"}`)
	})
	_, err := c.GetMessages(context.Background(), 1, 10, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal response")
}

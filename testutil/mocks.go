package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// MockYouTubeServer creates a test server that mocks YouTube Data API
// responses. Handlers are keyed by path suffix because the generated client
// resolves calls relative to its base path.
type MockYouTubeServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockYouTubeServer creates a new mock YouTube Data API server. Point the
// client at it with option.WithEndpoint(m.URL).
func NewMockYouTubeServer(t *testing.T) *MockYouTubeServer {
	t.Helper()
	m := &MockYouTubeServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for suffix, handler := range m.Handlers {
			if strings.HasSuffix(r.URL.Path, suffix) {
				handler(w, r)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockVideoResponse adds a handler for the videos.list endpoint. An empty
// liveChatID produces a video without an active live chat; an empty videoID
// produces an empty item list.
func (m *MockYouTubeServer) MockVideoResponse(videoID, liveChatID string) {
	m.Handlers["/videos"] = func(w http.ResponseWriter, r *http.Request) {
		items := []map[string]interface{}{}
		if videoID != "" {
			item := map[string]interface{}{"id": videoID}
			if liveChatID != "" {
				item["liveStreamingDetails"] = map[string]string{"activeLiveChatId": liveChatID}
			}
			items = append(items, item)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": items}) //nolint:errcheck // test mock response
	}
}

// ChatMessage is one mocked live chat item.
type ChatMessage struct {
	ID     string
	Text   string
	Author string
}

// MockChatPage adds a handler for the liveChatMessages.list endpoint.
func (m *MockYouTubeServer) MockChatPage(messages []ChatMessage, nextPageToken string, pollingIntervalMillis int64) {
	m.Handlers["/liveChat/messages"] = func(w http.ResponseWriter, r *http.Request) {
		items := make([]map[string]interface{}, 0, len(messages))
		for _, msg := range messages {
			items = append(items, map[string]interface{}{
				"id":            msg.ID,
				"snippet":       map[string]string{"displayMessage": msg.Text},
				"authorDetails": map[string]string{"displayName": msg.Author},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck // test mock response
			"items":                 items,
			"nextPageToken":         nextPageToken,
			"pollingIntervalMillis": pollingIntervalMillis,
		})
	}
}

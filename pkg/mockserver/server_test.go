package mockserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func postChat(t *testing.T, srv *httptest.Server, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+ChatPath, bytes.NewBufferString(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestServerStreamsEchoWithSentinel(t *testing.T) {
	s := New(WithIDGenerator(func() string { return "gen-1" }))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp := postChat(t, srv, `{"message":"hello there","stream":true}`, nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Equal(t, "gen-1", resp.Header.Get(RequestIDHeader))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "data: You said:\n\ndata:  hello\n\ndata:  there\n\ndata: [DONE]\n\n", string(body))
}

func TestServerKeepsValidIncomingRequestID(t *testing.T) {
	s := New()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp := postChat(t, srv, `{"message":"x","stream":true}`, map[string]string{RequestIDHeader: "client.id-1"})
	defer resp.Body.Close()
	require.Equal(t, "client.id-1", resp.Header.Get(RequestIDHeader))

	reqs := s.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "client.id-1", reqs[0].RequestID)
}

func TestServerRejectsMissingAPIKey(t *testing.T) {
	s := New(WithAPIKey("secret"))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp := postChat(t, srv, `{"message":"x","stream":true}`, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "Invalid or missing API key", body["detail"])
}

func TestServerCompleteReplyCreatesSession(t *testing.T) {
	s := New()
	s.Enqueue(Reply{Chunks: []string{"Hel", "lo"}})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp := postChat(t, srv, `{"message":"x","stream":false}`, nil)
	defer resp.Body.Close()

	var body struct {
		Response  string `json:"response"`
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "Hello", body.Response)
	require.NotEmpty(t, body.SessionID)
}

func TestServerFailEvery(t *testing.T) {
	s := New(WithFailEvery(2))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	first := postChat(t, srv, `{"message":"a","stream":true}`, nil)
	_ = first.Body.Close()
	second := postChat(t, srv, `{"message":"b","stream":true}`, nil)
	_ = second.Body.Close()

	require.Equal(t, http.StatusOK, first.StatusCode)
	require.Equal(t, http.StatusInternalServerError, second.StatusCode)
}

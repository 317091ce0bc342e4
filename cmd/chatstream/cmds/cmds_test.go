package cmds

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chatstream/pkg/mockserver"
	"github.com/go-go-golems/chatstream/pkg/session"
	"github.com/go-go-golems/chatstream/pkg/transport"
)

func newAskController(t *testing.T, s *mockserver.Server) *session.Controller {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	client, err := transport.NewClient(srv.URL+mockserver.ChatPath, transport.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	c, err := session.NewController(client, session.WithSessionIDGenerator(func() string { return "sess-cli" }))
	require.NoError(t, err)
	return c
}

func TestRunAskStreamsToStdout(t *testing.T) {
	s := mockserver.New()
	c := newAskController(t, s)

	var out, errOut bytes.Buffer
	err := runAsk(context.Background(), c, "hello there", askOptions{}, nil, &out, &errOut)
	require.NoError(t, err)
	require.Equal(t, "You said: hello there\n", out.String())
	require.Empty(t, errOut.String())
}

func TestRunAskReportsFailureWithoutPrompt(t *testing.T) {
	s := mockserver.New()
	s.Enqueue(mockserver.Reply{Status: http.StatusInternalServerError, RawBody: "boom", RequestID: "req-999"})
	c := newAskController(t, s)

	var out, errOut bytes.Buffer
	err := runAsk(context.Background(), c, "hi", askOptions{}, nil, &out, &errOut)
	require.ErrorIs(t, err, ErrAttemptFailed)
	require.Contains(t, errOut.String(), "error: boom (status=500, request_id=req-999)")
	require.Contains(t, errOut.String(), "request id: req-999")
}

func TestRunAskRetriesWhenPromptAgrees(t *testing.T) {
	s := mockserver.New()
	s.Enqueue(
		mockserver.Reply{Status: http.StatusServiceUnavailable, Detail: "busy", RequestID: "r1"},
		mockserver.Reply{Chunks: []string{"Fixed"}},
	)
	c := newAskController(t, s)

	prompts := 0
	prompt := func(lastError string) (bool, error) {
		prompts++
		require.Contains(t, lastError, "busy")
		return true, nil
	}

	var out, errOut bytes.Buffer
	err := runAsk(context.Background(), c, "hi", askOptions{printTranscript: "yaml"}, prompt, &out, &errOut)
	require.NoError(t, err)
	require.Equal(t, 1, prompts)

	reqs := s.Requests()
	require.Len(t, reqs, 2)
	require.Equal(t, "sess-cli", reqs[1].SessionID)

	idx := strings.Index(out.String(), "session_id:")
	require.GreaterOrEqual(t, idx, 0)
	var tr transcript
	require.NoError(t, yaml.Unmarshal([]byte(out.String()[idx:]), &tr))
	require.Equal(t, "sess-cli", tr.SessionID)
	require.Len(t, tr.Messages, 2)
	require.Equal(t, "Fixed", tr.Messages[1].Content)
	require.Empty(t, tr.Error)
}

func TestRunAskRejectsUnknownTranscriptFormat(t *testing.T) {
	c := newAskController(t, mockserver.New())
	err := runAsk(context.Background(), c, "hi", askOptions{printTranscript: "xml"}, nil, io.Discard, io.Discard)
	require.Error(t, err)
	require.Empty(t, c.Messages())
}

func TestPrintTranscriptJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printTranscript(&buf, "json", session.State{SessionID: "s"}))
	require.Contains(t, buf.String(), `"session_id": "s"`)
}

func TestRunMockServerServesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- runMockServer(ctx, mockServerOptions{addr: "127.0.0.1:0"}, ready)
	}()

	var addr string
	select {
	case addr = <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("mock server did not start")
	}

	client, err := transport.NewClient("http://" + addr + mockserver.ChatPath)
	require.NoError(t, err)
	var got strings.Builder
	require.NoError(t, client.Open(context.Background(), transport.Request{Message: "ping"}, transport.Callbacks{
		OnFragment: func(f string) { got.WriteString(f) },
	}))
	require.Equal(t, "You said: ping", got.String())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("mock server did not stop")
	}
}

func TestConfigCommandRedactsAPIKey(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CHATSTREAM_API_KEY", "super-secret")

	root, err := NewRootCommand()
	require.NoError(t, err)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "--endpoint", "http://example.test/api/v1/chat", "--log-level", "error"})
	require.NoError(t, root.Execute())

	require.Contains(t, out.String(), "endpoint: http://example.test/api/v1/chat")
	require.Contains(t, out.String(), "****")
	require.NotContains(t, out.String(), "super-secret")
}

func TestRootCommandCarriesClayLogFlags(t *testing.T) {
	root, err := NewRootCommand()
	require.NoError(t, err)
	require.NotNil(t, root.PersistentFlags().Lookup("log-level"))
	require.NotNil(t, root.PersistentFlags().Lookup("log-file"))
	require.NotNil(t, root.PersistentFlags().Lookup("endpoint"))
}

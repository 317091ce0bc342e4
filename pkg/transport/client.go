package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/chat"
)

const (
	DefaultRequestIDHeader = "X-Request-ID"
	DefaultAPIKeyHeader    = "X-API-Key"

	defaultReadBufferSize = 4096
	maxErrorBodySize      = 64 << 10

	unstreamableMessage = "failed to start stream"
	connectionMessage   = "failed to reach inference service"
	interruptedMessage  = "stream interrupted"
)

// Request is one outbound chat message. SessionID may be empty, in which case
// the service scopes the exchange itself and the id is not reported back.
type Request struct {
	Message   string
	SessionID string
}

// Callbacks receive the pushes of one streamed reply. OnStart fires once,
// before any fragment, with the correlation id (possibly empty). OnFragment
// fires once per significant record, in arrival order. Neither is invoked
// after Open returns.
type Callbacks struct {
	OnStart    func(requestID string)
	OnFragment func(fragment string)
}

// Reply is the decoded body of a non-streamed answer.
type Reply struct {
	Response  string          `json:"response"`
	Sources   []chat.Citation `json:"sources"`
	SessionID string          `json:"session_id"`
	RequestID string          `json:"-"`
}

type wireRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Stream    bool   `json:"stream"`
}

// Client talks to the inference endpoint. It holds no conversation state and
// is safe for concurrent use.
type Client struct {
	endpoint        string
	httpClient      *http.Client
	headers         http.Header
	requestIDHeader string
	timeout         time.Duration
	readBufferSize  int
	maxFrameSize    int
}

type Option func(*Client) error

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client is nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithHeader adds a header sent with every request. Authentication headers
// are supplied this way.
func WithHeader(key, value string) Option {
	return func(c *Client) error {
		key = strings.TrimSpace(key)
		if key == "" {
			return errors.New("header name is empty")
		}
		c.headers.Set(key, value)
		return nil
	}
}

func WithAPIKey(header, key string) Option {
	return func(c *Client) error {
		if key == "" {
			return nil
		}
		if strings.TrimSpace(header) == "" {
			header = DefaultAPIKeyHeader
		}
		c.headers.Set(header, key)
		return nil
	}
}

func WithRequestIDHeader(name string) Option {
	return func(c *Client) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return errors.New("request id header name is empty")
		}
		c.requestIDHeader = name
		return nil
	}
}

// WithTimeout bounds a whole attempt, including the streamed body. Zero
// disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d < 0 {
			return errors.Errorf("negative timeout %s", d)
		}
		c.timeout = d
		return nil
	}
}

func WithReadBufferSize(n int) Option {
	return func(c *Client) error {
		if n <= 0 {
			return errors.Errorf("invalid read buffer size %d", n)
		}
		c.readBufferSize = n
		return nil
	}
}

// WithMaxFrameSize bounds a single event-stream record. A longer record ends
// the attempt with a stream error.
func WithMaxFrameSize(n int) Option {
	return func(c *Client) error {
		if n <= 0 {
			return errors.Errorf("invalid max frame size %d", n)
		}
		c.maxFrameSize = n
		return nil
	}
}

func NewClient(endpoint string, options ...Option) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("endpoint is empty")
	}
	c := &Client{
		endpoint:        endpoint,
		httpClient:      http.DefaultClient,
		headers:         http.Header{},
		requestIDHeader: DefaultRequestIDHeader,
		readBufferSize:  defaultReadBufferSize,
		maxFrameSize:    DefaultMaxFrameSize,
	}
	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, errors.Wrap(err, "failed to apply transport option")
		}
	}
	return c, nil
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Open sends req and streams the reply into cb until the sentinel, the end
// of the body, or a failure. Every failure is a *chat.StreamError.
func (c *Client) Open(ctx context.Context, req Request, cb Callbacks) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	logger := log.With().
		Str("component", "transport").
		Str("session_id", req.SessionID).
		Logger()

	resp, err := c.post(ctx, req, true)
	if err != nil {
		logger.Warn().Err(err).Msg("chat request failed before a response arrived")
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	requestID := strings.TrimSpace(resp.Header.Get(c.requestIDHeader))
	logger = logger.With().Str("request_id", requestID).Int("status", resp.StatusCode).Logger()

	if !isSuccess(resp.StatusCode) {
		serr := serverError(resp, requestID)
		logger.Warn().Err(serr).Msg("inference service rejected chat request")
		return serr
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		logger.Warn().Msg("success response carries no stream body")
		return &chat.StreamError{
			Kind:      chat.KindUnstreamable,
			Message:   unstreamableMessage,
			RequestID: requestID,
		}
	}

	if cb.OnStart != nil {
		cb.OnStart(requestID)
	}
	logger.Debug().Msg("stream started")

	fragments, err := c.consume(resp.Body, cb.OnFragment)
	if err != nil {
		logger.Warn().Err(err).Int("fragments", fragments).Msg("stream interrupted")
		return &chat.StreamError{
			Kind:      chat.KindStream,
			Message:   interruptedMessage,
			RequestID: requestID,
			Err:       err,
		}
	}
	logger.Debug().Int("fragments", fragments).Msg("stream finished")
	return nil
}

// consume reads body until the sentinel or EOF and returns how many
// fragments it forwarded.
func (c *Client) consume(body io.Reader, onFragment func(string)) (int, error) {
	buf := make([]byte, c.readBufferSize)
	dec := &FrameDecoder{MaxSize: c.maxFrameSize}
	forwarded := 0

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			frames, feedErr := dec.Feed(buf[:n])
			for _, frame := range frames {
				payload, ok := FramePayload(frame)
				if !ok {
					continue
				}
				if payload == DoneSentinel {
					return forwarded, nil
				}
				forwarded++
				if onFragment != nil {
					onFragment(payload)
				}
			}
			if feedErr != nil {
				return forwarded, feedErr
			}
		}
		if readErr == io.EOF {
			if rest := dec.Pending(); rest != "" {
				log.Debug().Str("component", "transport").Int("bytes", len(rest)).Msg("discarding unterminated trailing record")
			}
			return forwarded, nil
		}
		if readErr != nil {
			return forwarded, readErr
		}
	}
}

// Complete sends req with streaming disabled and decodes the whole reply.
func (c *Client) Complete(ctx context.Context, req Request) (*Reply, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	requestID := strings.TrimSpace(resp.Header.Get(c.requestIDHeader))
	if !isSuccess(resp.StatusCode) {
		return nil, serverError(resp, requestID)
	}

	reply := &Reply{}
	if err := json.NewDecoder(resp.Body).Decode(reply); err != nil {
		return nil, &chat.StreamError{
			Kind:      chat.KindUnstreamable,
			Message:   "failed to decode reply",
			RequestID: requestID,
			Err:       err,
		}
	}
	reply.RequestID = requestID
	return reply, nil
}

func (c *Client) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(wireRequest{
		Message:   req.Message,
		SessionID: req.SessionID,
		Stream:    stream,
	})
	if err != nil {
		return nil, &chat.StreamError{Kind: chat.KindConnection, Message: "failed to encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &chat.StreamError{Kind: chat.KindConnection, Message: "failed to build request", Err: err}
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &chat.StreamError{Kind: chat.KindConnection, Message: connectionMessage, Err: err}
	}
	return resp, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func serverError(resp *http.Response, requestID string) *chat.StreamError {
	var raw []byte
	if resp.Body != nil {
		raw, _ = io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	}
	return &chat.StreamError{
		Kind:      chat.KindServer,
		Message:   errorMessageFromBody(raw, resp.StatusCode),
		Status:    resp.StatusCode,
		RequestID: requestID,
	}
}

// errorMessageFromBody prefers a JSON "detail" field, then the raw text, then
// the status text.
func errorMessageFromBody(raw []byte, status int) string {
	text := strings.TrimSpace(string(raw))
	if text != "" {
		var body struct {
			Detail json.RawMessage `json:"detail"`
		}
		if err := json.Unmarshal(raw, &body); err == nil && len(body.Detail) > 0 && string(body.Detail) != "null" {
			var s string
			if err := json.Unmarshal(body.Detail, &s); err == nil {
				if s = strings.TrimSpace(s); s != "" {
					return s
				}
			} else {
				return string(body.Detail)
			}
		}
		return text
	}
	if st := http.StatusText(status); st != "" {
		return st
	}
	return "request failed"
}

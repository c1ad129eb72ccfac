package swetrack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://api.cloudappapi.com/publicapi/v1"

	// DefaultTimeout bounds one request when Config.Timeout is zero.
	DefaultTimeout = 20 * time.Second

	maxResponseSize = 10 << 20 // 10 MB
)

// Config holds the connection settings for a Client.
type Config struct {
	BaseURL string
	Token   string

	// Timeout bounds each call. A call exceeding it fails with KindTransient.
	Timeout time.Duration

	// HTTPClient is used for all requests; nil uses a default client.
	HTTPClient *http.Client

	UserAgent string
}

// Client executes requests against the SweTrack API.
// It holds no mutable state and is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	userAgent  string
}

// Response is a successful call: HTTP status and the envelope's data member.
type Response struct {
	Status int
	Data   json.RawMessage
}

// envelope is the common response wrapper.
type envelope struct {
	Success *bool           `json:"success"`
	Error   json.RawMessage `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// NewClient returns a client for cfg.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "swetrack-sync"
	}

	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(cfg.Token),
		timeout:    timeout,
		httpClient: httpClient,
		userAgent:  userAgent,
	}
}

// BaseURL returns the normalised API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the bearer token the client authenticates with.
func (c *Client) Token() string {
	return c.token
}

// Execute performs one call to ep. body, when non-nil, is sent as JSON.
//
// On success the envelope's data member is returned untouched; decoding it
// is the caller's job. Every error is a *Error.
func (c *Client) Execute(ctx context.Context, ep Endpoint, body any) (*Response, error) {
	if !ep.valid() {
		return nil, &Error{Kind: KindProtocol, Endpoint: ep, Message: "unknown endpoint"}
	}
	if c.token == "" {
		return nil, &Error{Kind: KindAuth, Endpoint: ep, Message: "bearer token is empty"}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Kind: KindProtocol, Endpoint: ep, Message: "encoding request body", Err: err}
		}
		reader = bytes.NewReader(data)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, ep.Method(), c.baseURL+ep.Path(), reader)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Endpoint: ep, Message: "creating request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Endpoint: ep, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &Error{Kind: KindTransient, Endpoint: ep, Status: resp.StatusCode, Message: "reading response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:     kindForStatus(resp.StatusCode),
			Endpoint: ep,
			Status:   resp.StatusCode,
			Message:  upstreamMessage(raw),
		}
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &Error{Kind: KindProtocol, Endpoint: ep, Status: resp.StatusCode, Message: "response is not a JSON object"}
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &Error{Kind: KindProtocol, Endpoint: ep, Status: resp.StatusCode, Message: "decoding response", Err: err}
	}
	if env.Success != nil && !*env.Success {
		msg := errorText(env.Error)
		if msg == "" {
			msg = "request unsuccessful"
		}
		return nil, &Error{Kind: KindProtocol, Endpoint: ep, Status: resp.StatusCode, Message: msg}
	}

	return &Response{Status: resp.StatusCode, Data: env.Data}, nil
}

// upstreamMessage extracts an error text from a failed response body,
// truncated for logging.
func upstreamMessage(raw []byte) string {
	const maxLen = 200

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil {
		if msg := errorText(env.Error); msg != "" {
			return msg
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return msg
}

// errorText renders the envelope error member, which is a string on most
// endpoints and an object on some.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// ProtocolError builds a KindProtocol error for payloads that decoded as
// JSON but had an unexpected shape.
func ProtocolError(ep Endpoint, format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Endpoint: ep, Message: fmt.Sprintf(format, args...)}
}

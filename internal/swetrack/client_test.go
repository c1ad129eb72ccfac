package swetrack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:    srv.URL + "/publicapi/v1/",
		Token:      "tok-123",
		Timeout:    2 * time.Second,
		HTTPClient: srv.Client(),
	}), srv
}

func TestExecute_Roster(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/publicapi/v1/devices/info", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = io.WriteString(w, `{"success":true,"data":{"devices":[{"id":1}]}}`)
	})

	resp, err := client.Execute(context.Background(), EndpointRoster, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `{"devices":[{"id":1}]}`, string(resp.Data))
}

func TestExecute_ExtendedBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/publicapi/v1/device/info/extended", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "42", body["deviceid"])
		assert.Equal(t, "voltage", body["type"])
		assert.EqualValues(t, 1, body["page"])
		assert.EqualValues(t, 1, body["pagesize"])
		assert.NotContains(t, body, "startdatetime")

		_, _ = io.WriteString(w, `{"success":true,"data":{"voltage":[]}}`)
	})

	_, err := client.Execute(context.Background(), EndpointExtended, ExtendedRequest{
		DeviceID: "42",
		Type:     ExtendedVoltage,
		Page:     1,
		PageSize: 1,
	})
	require.NoError(t, err)
}

func TestExecute_StatusMapping(t *testing.T) {
	tests := []struct {
		status   int
		body     string
		want     error
		wantKind Kind
	}{
		{http.StatusUnauthorized, `{"success":false,"error":"invalid token"}`, ErrAuth, KindAuth},
		{http.StatusForbidden, ``, ErrAuth, KindAuth},
		{http.StatusNotFound, `not here`, ErrNotFound, KindNotFound},
		{http.StatusTooManyRequests, `{"error":"quota"}`, ErrRateLimit, KindRateLimit},
		{http.StatusInternalServerError, ``, ErrTransient, KindTransient},
		{http.StatusBadGateway, `<html>`, ErrTransient, KindTransient},
		{http.StatusBadRequest, `{"error":"bad deviceid"}`, ErrProtocol, KindProtocol},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := client.Execute(context.Background(), EndpointRoster, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.wantKind, KindOf(err))

			var apiErr *Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, EndpointRoster, apiErr.Endpoint)
		})
	}
}

func TestExecute_UpstreamMessage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"success":false,"error":"token revoked"}`)
	})

	_, err := client.Execute(context.Background(), EndpointRoster, nil)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "token revoked", apiErr.Message)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestUpstreamMessage_TruncatesOnRuneBoundary(t *testing.T) {
	// 199 ASCII bytes put the two-byte "ö" across the 200 byte limit.
	body := strings.Repeat("a", 199) + strings.Repeat("ö", 10)

	msg := upstreamMessage([]byte(body))
	assert.True(t, utf8.ValidString(msg), "message %q is not valid UTF-8", msg)
	assert.Equal(t, strings.Repeat("a", 199)+"...", msg)

	short := upstreamMessage([]byte("  gateway timeout  "))
	assert.Equal(t, "gateway timeout", short)
}

func TestExecute_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>maintenance</html>`},
		{"array", `[1,2,3]`},
		{"null", `null`},
		{"empty", ``},
		{"unsuccessful envelope", `{"success":false,"error":{"code":7}}`},
		{"truncated", `{"success":true,"data":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := client.Execute(context.Background(), EndpointRoster, nil)
			assert.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestExecute_MissingSuccessIsAccepted(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"devices":[]}}`)
	})

	resp, err := client.Execute(context.Background(), EndpointRoster, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"devices":[]}`, string(resp.Data))
}

func TestExecute_EmptyTokenMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Token: "   "})
	_, err := client.Execute(context.Background(), EndpointRoster, nil)

	assert.ErrorIs(t, err, ErrAuth)
	assert.Zero(t, calls.Load())
}

func TestExecute_UnknownEndpoint(t *testing.T) {
	client := NewClient(Config{Token: "tok"})
	_, err := client.Execute(context.Background(), Endpoint(99), nil)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestExecute_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Token: "tok", Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := client.Execute(context.Background(), EndpointRoster, nil)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecute_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(Config{BaseURL: url, Token: "tok", Timeout: time.Second})
	_, err := client.Execute(context.Background(), EndpointRoster, nil)
	assert.ErrorIs(t, err, ErrTransient)
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{Token: " tok "})
	assert.Equal(t, DefaultBaseURL, client.BaseURL())
	assert.Equal(t, "tok", client.Token())
}

func TestKind(t *testing.T) {
	assert.Equal(t, "auth", KindAuth.String())
	assert.Equal(t, "rate_limit", KindRateLimit.String())
	assert.Equal(t, "unknown", Kind(42).String())
	assert.False(t, KindAuth.Retriable())
	assert.True(t, KindTransient.Retriable())
	assert.True(t, KindRateLimit.Retriable())
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))

	wrapped := errors.Join(errors.New("other"), &Error{Kind: KindRateLimit})
	assert.Equal(t, KindRateLimit, KindOf(wrapped))
	assert.NotErrorIs(t, &Error{Kind: KindUnknown}, ErrProtocol)
}

func TestAccountInfo(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/publicapi/v1/account/info", r.URL.Path)
		_, _ = io.WriteString(w, `{"success":true,"data":{"id":981,"email":"fleet@example.com"}}`)
	})

	acct, err := client.AccountInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fleet@example.com", acct.Identity())
	assert.Equal(t, "981", Account{"id": float64(981)}.Identity())
	assert.Empty(t, Account{}.Identity())
}

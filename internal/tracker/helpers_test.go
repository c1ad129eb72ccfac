package tracker

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/swetrack-sync/internal/swetrack"
)

// fakeAPI routes calls to per-endpoint handlers and counts them.
type fakeAPI struct {
	mu       sync.Mutex
	roster   func(ctx context.Context) (*swetrack.Response, error)
	extended func(ctx context.Context, req swetrack.ExtendedRequest) (*swetrack.Response, error)
	requests []swetrack.ExtendedRequest

	rosterCalls   atomic.Int64
	extendedCalls atomic.Int64
}

func (f *fakeAPI) Execute(ctx context.Context, ep swetrack.Endpoint, body any) (*swetrack.Response, error) {
	switch ep {
	case swetrack.EndpointRoster:
		f.rosterCalls.Add(1)
		f.mu.Lock()
		fn := f.roster
		f.mu.Unlock()
		return fn(ctx)
	case swetrack.EndpointExtended:
		f.extendedCalls.Add(1)
		req := body.(swetrack.ExtendedRequest)
		f.mu.Lock()
		f.requests = append(f.requests, req)
		fn := f.extended
		f.mu.Unlock()
		if fn == nil {
			return &swetrack.Response{Status: 200, Data: json.RawMessage(`{}`)}, nil
		}
		return fn(ctx, req)
	}
	return nil, swetrack.ProtocolError(ep, "unexpected endpoint")
}

func (f *fakeAPI) setRoster(fn func(ctx context.Context) (*swetrack.Response, error)) {
	f.mu.Lock()
	f.roster = fn
	f.mu.Unlock()
}

func (f *fakeAPI) setExtended(fn func(ctx context.Context, req swetrack.ExtendedRequest) (*swetrack.Response, error)) {
	f.mu.Lock()
	f.extended = fn
	f.mu.Unlock()
}

// dataResponse wraps v as a successful response's data member.
func dataResponse(t *testing.T, v any) *swetrack.Response {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return &swetrack.Response{Status: 200, Data: b}
}

// staticRoster returns a roster handler that always yields devices.
func staticRoster(t *testing.T, devices ...map[string]any) func(context.Context) (*swetrack.Response, error) {
	t.Helper()
	resp := dataResponse(t, map[string]any{"devices": devices})
	return func(context.Context) (*swetrack.Response, error) {
		return resp, nil
	}
}

func failingRoster(kind swetrack.Kind, status int) func(context.Context) (*swetrack.Response, error) {
	return func(context.Context) (*swetrack.Response, error) {
		return nil, &swetrack.Error{Kind: kind, Endpoint: swetrack.EndpointRoster, Status: status}
	}
}

func device(id, name string) map[string]any {
	return map[string]any{"id": id, "name": name, "status": "online"}
}

func positionRows(rows ...map[string]any) map[string]any {
	return map[string]any{"positions": rows}
}

func voltageRows(rows ...map[string]any) map[string]any {
	return map[string]any{"voltage": rows}
}

func newTestCoordinator(api API, s Settings) *Coordinator {
	return NewCoordinator(api, NewStore(), s)
}

func f64(v float64) *float64 { return &v }

// Package api provides the HTTP REST API and WebSocket server for
// swetrack-sync.
//
// It is a read surface over the tracker's published snapshots: current
// device records, coordinator status, the cycle log and per-device history.
// The only write is POST /refresh, which asks the coordinator for an
// out-of-band cycle (dropped when one is already in flight).
//
// WebSocket clients subscribe to "snapshot.published" for one event per
// published snapshot carrying the changed records, and to "cycle.finished"
// for the outcome of every cycle including failed ones.
//
// When security.jwt.secret is set, every route except /health requires an
// HS256 bearer token signed with it. WebSocket clients may pass the token
// as the "token" query parameter instead.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

// Package swetrack is a client for the SweTrack public REST API.
//
// The client is stateless: it builds authenticated requests for a fixed set
// of endpoints, unwraps the {success, error, data} envelope and maps every
// failure onto a small taxonomy (see Kind). It never retries; scheduling and
// retry policy belong to the caller.
//
// # Endpoints
//
//	EndpointRoster    GET  /devices/info            one call per poll
//	EndpointExtended  POST /device/info/extended    position or voltage rows
//	EndpointAccount   GET  /account/info            account identity
//
// # Errors
//
// Every returned error is a *Error whose Kind matches one of the sentinels:
//
//	if errors.Is(err, swetrack.ErrAuth) {
//	    // token rejected: rotated, expired or revoked in the portal
//	}
//
// Mapping: 401/403 Auth, 404 NotFound, 429 RateLimit, 5xx Transient,
// other 4xx Protocol. Transport failures and timeouts are Transient.
// A body that is not a JSON object, or an envelope with success=false,
// is Protocol.
package swetrack

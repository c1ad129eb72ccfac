package swetrack

import "net/http"

// Endpoint is one of the fixed API operations the client may call.
type Endpoint int

const (
	EndpointRoster Endpoint = iota + 1
	EndpointExtended
	EndpointAccount
)

type route struct {
	name   string
	method string
	path   string
}

var routes = map[Endpoint]route{
	EndpointRoster:   {"roster", http.MethodGet, "/devices/info"},
	EndpointExtended: {"extended", http.MethodPost, "/device/info/extended"},
	EndpointAccount:  {"account", http.MethodGet, "/account/info"},
}

func (e Endpoint) String() string {
	if r, ok := routes[e]; ok {
		return r.name
	}
	return "unknown"
}

// Method returns the HTTP method used for e.
func (e Endpoint) Method() string {
	return routes[e].method
}

// Path returns the path of e relative to the base URL.
func (e Endpoint) Path() string {
	return routes[e].path
}

func (e Endpoint) valid() bool {
	_, ok := routes[e]
	return ok
}

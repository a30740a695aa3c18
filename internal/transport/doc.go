// Package transport carries sync rounds between replicas.
//
// Clients implement syncproto.Transport:
//
//	HTTPClient  POST {base}/sync, one request per round
//	WSClient    one JSON frame out and one back per round over GET {base}/ws
//	Local       an in-process handler, still passing through the wire form
//
// Server exposes engines over HTTP with gorilla/mux, one engine per sync
// group opened on first use, and optionally announces accepted rounds on
// Redis through a Notifier so that watching replicas can sync promptly.
package transport

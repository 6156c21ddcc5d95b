// Package http implements the HTTP transport for dDoc RPC communication.
//
// The server routes POST /{shardId} to the registered handler with gorilla/mux
// and serves the VictoriaMetrics counters of the process at GET /metrics.
//
// The client posts serialized messages with hashicorp/go-retryablehttp. It
// picks endpoints in round-robin order and falls over to the next endpoint
// once the retries against one are exhausted.
//
// Thread Safety:
//
//	The client transport is thread-safe and can be used concurrently. The
//	round-robin counter is atomic.
package http

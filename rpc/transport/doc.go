// Package transport defines the interfaces for RPC communication in dDoc.
// It provides a common contract that transport implementations fulfill, so
// the server and client do not depend on the protocol.
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management and request sending.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests and routes them to appropriate handlers.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
//
// The only implementation is the HTTP transport in the http subpackage.
package transport

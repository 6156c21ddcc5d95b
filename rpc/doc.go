// Package rpc is the network layer of dDoc. It lets clients run store
// commands against the shards of a remote member.
//
// The package is organized into several subpackages:
//
//   - common: the Message protocol, server and client configuration and the
//     logger factory.
//
//   - transport: transport interfaces and the HTTP implementation.
//
//   - serializer: JSON and msgpack encodings of Message.
//
//   - client: a store.IStore that forwards every call to a server.
//
//   - server: the shard registry that opens standalone or replicated stores and
//     answers requests through the store adapter.
package rpc

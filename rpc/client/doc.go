// Package client implements the RPC client of dDoc. NewRPCStore returns a
// store.IStore that forwards every operation to a server through the
// configured transport and serializer.
//
// Errors reported by the server are returned as *store.Error values with the
// original return code, so callers check them with errors.Is against the
// sentinels of the store package, e.g. store.ErrNotPrimary.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:     []string{"localhost:8080"},
//	  TimeoutSecond: 5,
//	  RetryCount:    3,
//	}
//
//	s, err := client.NewRPCStore(1, config, http.NewHttpClientTransport(), serializer.NewMsgpackSerializer())
//	if err != nil { ... }
//
//	err = s.CreateNamespace("temp1", map[string]any{"temp": true})
//	id, err := s.Insert("users", map[string]any{"name": "ada"})
//	docs, explain, err := s.Find(query.Query{Collection: "users"})
//
// Since the lockmgr package only needs a store.IStore, it works on top of an
// RPC store as well.
//
// Thread Safety:
//
//	All client implementations are thread-safe and can be used concurrently from
//	multiple goroutines without additional synchronization.
package client

// Package rpc implements Clusterlib's JSON-RPC-over-queues transport:
// requests and responses travel as JSON objects through ordering.Queue
// instances rather than a network socket, reusing the registry's
// sequence-ordered delivery instead of adding a second transport.
package rpc

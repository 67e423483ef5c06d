// Package registry defines the abstract coordination store Clusterlib
// talks to (Store), and the adapter that turns that store's one-shot
// watches and session events into Clusterlib's ordered, demultiplexed
// event stream.
//
// Three pieces cooperate:
//
//   - Store is the minimal synchronous interface a coordination backend
//     must satisfy: hierarchical create/delete/exists/getData/setData/
//     getChildren/sync plus a session event feed. registry/memstore ships
//     one in-process implementation.
//
//   - Adapter wraps a Store with connect/reconnect lifecycle, bounded
//     retry on transient failures, and path validation, and exposes the
//     public operations the rest of Clusterlib is built on.
//
//   - The event pipeline (unexported) and ContextRegistry demultiplex
//     watch fires back to whichever call armed them, and fan session-wide
//     transitions out to every outstanding watcher.
package registry

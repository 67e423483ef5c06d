// Package clusterlib wires the registry adapter, the notifyable cache,
// and the per-client dispatcher into one entry point. Most callers only
// need Factory and Client; the registry, notifyable, ordering, events,
// and rpc packages remain importable directly for callers that need
// lower-level control.
package clusterlib

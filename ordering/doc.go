// Package ordering implements Clusterlib's ordering and mutual-exclusion
// primitives over sequential ephemeral children: a fair FIFO lock, an
// N-party barrier, and a sequence-ordered queue. All three are built
// directly on registry.Adapter; none require the notifyable cache.
package ordering

// Package client implements Clusterlib's per-client user-event
// dispatcher: a bounded queue plus a single worker that delivers domain
// events published by notifyable.Cache to user-registered handlers,
// each scoped to a target entity key and an event kind mask.
package client

// Package notifyable implements Clusterlib's cached, event-driven tree of
// domain objects, along with the internal half of its cache-maintenance
// handlers: the registry.WatchListener implementations that refresh
// cached attributes and publish typed events when a watch fires.
//
// Every concrete entity type — Root, Application, Group, Node,
// ProcessSlot, DataDistribution, PropertyList, Queue — embeds a shared
// header carrying its key, parent, lifecycle state, and re-entrant lock,
// rather than a deep inheritance chain. A Cache owns one thread-safe map
// per entity type, keyed by full hierarchical key, and is the only
// place new entities are constructed: lookups either hit the cache or
// lazily load-and-arm a new entity, issuing the registry reads that
// populate it and arming the watches that keep it current.
package notifyable

// Package keyspace defines Clusterlib's persisted key-space layout: the
// literal segment constants and the path-builders every other package
// uses to derive a child path from a parent key. These strings are a
// compatibility surface — rename only with a version bump.
package keyspace

import (
	"fmt"
	"strconv"
	"strings"
)

// Literal path segments, fixed by the registry's persisted layout.
const (
	SegClusterlib     = "_clusterlib"
	SegVersionPrefix  = "_v"
	SegRoot           = "root"
	SegApps           = "APPS"
	SegGroups         = "GROUPS"
	SegNodes          = "NODES"
	SegProcessSlots   = "PROCESSSLOTS"
	SegDistributions  = "DISTRIBUTIONS"
	SegPropertyLists  = "PROPERTYLISTS"
	SegQueues         = "QUEUES"
	SegLocks          = "LOCKS"
	SegBarriers       = "BARRIERS"
	SegBids           = "BIDS"
	SegShards         = "SHARDS"
	SegManualOverride = "MANUALOVERRIDES"
	SegCurrentState   = "CURRENTSTATE"
	SegDesiredState   = "DESIREDSTATE"
	SegClientState    = "CLIENTSTATE"
	SegConnected      = "CONNECTED"
)

// Version is the compatibility version embedded in the root key, e.g.
// "/_clusterlib/_v1/root".
const Version = 1

// SeqWidth is the fixed width of the numeric suffix the registry appends
// to sequential creates.
const SeqWidth = 10

// BidPrefix and QueueElementPrefix name sequential children under LOCKS
// and QUEUES paths respectively.
const (
	BidPrefix          = "BID-"
	QueueElementPrefix = "QUEUEELEMENT-"
)

// RootKey returns the singleton Root's key.
func RootKey() string {
	return fmt.Sprintf("/%s/%s%d/%s", SegClusterlib, SegVersionPrefix, Version, SegRoot)
}

// Join appends a type segment and a name to a parent key, e.g.
// Join(appKey, SegGroups, "shards") -> "<appKey>/GROUPS/shards", the
// nesting used by Group/Node/etc children.
func Join(parentKey, typeSegment, name string) string {
	return fmt.Sprintf("%s/%s/%s", parentKey, typeSegment, name)
}

// Child appends a single literal segment (no name component), used for
// the fixed attribute sub-paths of an entity (e.g. "/CONNECTED").
func Child(parentKey, segment string) string {
	return parentKey + "/" + segment
}

// AppsPath, GroupsPath, NodesPath, ... return the container path under an
// entity's key holding that entity's children of the given kind.
func AppsPath(parentKey string) string          { return Child(parentKey, SegApps) }
func GroupsPath(parentKey string) string        { return Child(parentKey, SegGroups) }
func NodesPath(parentKey string) string         { return Child(parentKey, SegNodes) }
func ProcessSlotsPath(parentKey string) string  { return Child(parentKey, SegProcessSlots) }
func DistributionsPath(parentKey string) string { return Child(parentKey, SegDistributions) }
func PropertyListsPath(parentKey string) string { return Child(parentKey, SegPropertyLists) }
func QueuesPath(parentKey string) string        { return Child(parentKey, SegQueues) }
func LocksPath(parentKey string) string         { return Child(parentKey, SegLocks) }
func BarriersPath(parentKey string) string      { return Child(parentKey, SegBarriers) }

// ConnectedPath, ClientStatePath, ... name a Node's fixed attribute
// sub-paths.
func ConnectedPath(nodeKey string) string   { return Child(nodeKey, SegConnected) }
func ClientStatePath(nodeKey string) string { return Child(nodeKey, SegClientState) }
func CurrentStatePath(key string) string    { return Child(key, SegCurrentState) }
func DesiredStatePath(key string) string    { return Child(key, SegDesiredState) }

// ShardsPath and ManualOverridesPath name a DataDistribution's two
// sub-structures.
func ShardsPath(ddKey string) string          { return Child(ddKey, SegShards) }
func ManualOverridesPath(ddKey string) string { return Child(ddKey, SegManualOverride) }

// FormatSeq renders n as the fixed-width decimal suffix the registry
// appends to sequential creates.
func FormatSeq(n int64) string {
	return fmt.Sprintf("%0*d", SeqWidth, n)
}

// ParseSeq extracts the trailing SeqWidth-digit sequence number from a
// sequential child name.
func ParseSeq(name string) (int64, error) {
	if len(name) < SeqWidth {
		return 0, fmt.Errorf("keyspace: %q too short to carry a sequence suffix", name)
	}
	return strconv.ParseInt(name[len(name)-SeqWidth:], 10, 64)
}

// BidName formats a lock bidder's sequential child name.
func BidName(sessionID string, seq int64) string {
	return fmt.Sprintf("%s%s-%s", BidPrefix, sessionID, FormatSeq(seq))
}

// QueueElementName formats a queue element's sequential child name.
func QueueElementName(seq int64) string {
	return QueueElementPrefix + FormatSeq(seq)
}

// IsBidChild reports whether name looks like a lock bidder child.
func IsBidChild(name string) bool { return strings.HasPrefix(name, BidPrefix) }

// IsQueueElement reports whether name looks like a queue element child.
func IsQueueElement(name string) bool { return strings.HasPrefix(name, QueueElementPrefix) }

// Base returns the final path segment (the entity or child name).
func Base(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return path
	}
	return path[i+1:]
}

// Validate checks a path against the registry's path rules: must start
// with "/", must not end with "/" (except the root path itself), must
// not contain "//".
func Validate(path string) error {
	if path == "" || path[0] != '/' {
		return fmt.Errorf("keyspace: path %q must start with /", path)
	}
	if path != "/" && strings.HasSuffix(path, "/") {
		return fmt.Errorf("keyspace: path %q must not end with /", path)
	}
	if strings.Contains(path, "//") {
		return fmt.Errorf("keyspace: path %q must not contain //", path)
	}
	return nil
}

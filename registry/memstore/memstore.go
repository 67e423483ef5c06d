// Package memstore is Clusterlib's reference registry.Store
// implementation: an in-process, hierarchical stand-in for the
// coordination store. It keeps a tree of nodes guarded by a single mutex,
// with copy-out reads, ephemeral-per-session nodes, per-parent sequential
// counters, and one-shot watch channels.
//
// It exists so Clusterlib's adapter, cache, and ordering primitives have
// something real to run against in tests and in single-process embedding
// scenarios; it is not meant to replace a real coordination server.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doevelopper/Clusterlib/keyspace"
	"github.com/doevelopper/Clusterlib/registry"
)

type watcherKind int

const (
	watchExists watcherKind = iota
	watchData
	watchChildren
)

type watcher struct {
	kind watcherKind
	ch   chan registry.RawEvent
}

type node struct {
	data        []byte
	children    map[string]*node
	watchers    []*watcher
	sessionID   string
	version     int64
	seqCounter  int64
	ctime       time.Time
	mtime       time.Time
	ephemeral   bool
	sequential  bool
}

// Store is an in-process registry.Store. The zero value is not usable;
// construct with New.
type Store struct {
	mu        sync.Mutex
	root      *node
	sessionID string
	sessions  chan registry.RawEvent
	closed    bool
}

// New creates a Store with a fresh session already CONNECTED.
func New() *Store {
	s := &Store{
		root:      &node{children: map[string]*node{}, ctime: time.Now(), mtime: time.Now()},
		sessionID: uuid.NewString(),
		sessions:  make(chan registry.RawEvent, 16),
	}
	s.sessions <- registry.RawEvent{Type: registry.EventSession, State: registry.SessionConnected}
	return s
}

// SessionID returns the store's current session identifier, which
// owns the ephemeral nodes created since; ExpireSession replaces it.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// ExpireSession simulates total session loss: every ephemeral node owned
// by the current session is removed, watchers are fired with DELETED
// (existence/data) or CHILD (parent's children list), and a SESSION
// SessionExpired event is queued. A fresh session id is assigned, as a
// reconnect would get on the real store.
func (s *Store) ExpireSession() {
	s.mu.Lock()
	var fired []func()
	s.walkRemoveEphemeral(s.root, "", s.sessionID, &fired)
	s.sessionID = uuid.NewString()
	s.mu.Unlock()
	for _, f := range fired {
		f()
	}
	s.sessions <- registry.RawEvent{Type: registry.EventSession, State: registry.SessionExpired}
}

// Reconnect announces a fresh CONNECTED session event without disturbing
// any state, simulating a successful reconnect after a transient
// CONNECTING phase. It implements registry.Reconnector.
func (s *Store) Reconnect(_ context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return registry.ErrConnectionLoss
	}
	s.sessions <- registry.RawEvent{Type: registry.EventSession, State: registry.SessionConnected}
	return nil
}

func (s *Store) walkRemoveEphemeral(n *node, path, sid string, fired *[]func()) {
	for name, child := range n.children {
		childPath := path + "/" + name
		if child.ephemeral && child.sessionID == sid {
			delete(n.children, name)
			ws := n.watchers
			cp := childPath
			*fired = append(*fired, func() { fireChildren(ws, cp) })
			for _, w := range child.watchers {
				w := w
				if w.kind == watchExists || w.kind == watchData {
					*fired = append(*fired, func() { w.ch <- registry.RawEvent{Type: registry.EventDeleted, Path: cp}; close(w.ch) })
				}
			}
			continue
		}
		s.walkRemoveEphemeral(child, childPath, sid, fired)
	}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// lookup returns the node at path and its parent, or nil if absent.
func (s *Store) lookup(path string) (n *node, parent *node, name string) {
	parts := splitPath(path)
	cur := s.root
	var prev *node
	var last string
	for _, p := range parts {
		prev = cur
		last = p
		next, ok := cur.children[p]
		if !ok {
			return nil, prev, last
		}
		cur = next
	}
	if len(parts) == 0 {
		return s.root, nil, ""
	}
	return cur, prev, last
}

func fireChildren(ws []*watcher, path string) {
	for _, w := range ws {
		if w.kind == watchChildren {
			w.ch <- registry.RawEvent{Type: registry.EventChild, Path: path}
			close(w.ch)
		}
	}
}

// Create implements registry.Store.
func (s *Store) Create(_ context.Context, path string, data []byte, mode registry.CreateMode) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", registry.ErrConnectionLoss
	}

	parts := splitPath(path)
	if len(parts) == 0 {
		return "", registry.ErrNodeExists
	}
	cur := s.root
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur.children[p]
		if !ok {
			return "", registry.ErrNoParent
		}
		cur = next
	}

	name := parts[len(parts)-1]
	finalName := name
	if mode.Sequential {
		cur.seqCounter++
		finalName = name + keyspace.FormatSeq(cur.seqCounter)
	}
	if _, exists := cur.children[finalName]; exists {
		return "", registry.ErrNodeExists
	}
	now := time.Now()
	n := &node{
		data:       append([]byte(nil), data...),
		children:   map[string]*node{},
		ephemeral:  mode.Ephemeral,
		sequential: mode.Sequential,
		sessionID:  s.sessionID,
		ctime:      now,
		mtime:      now,
	}
	cur.children[finalName] = n

	createdPath := strings.TrimRight(path[:len(path)-len(name)], "/") + "/" + finalName

	ws := cur.watchers
	fireExistsCreated(ws, createdPath)
	fireChildren(ws, parentPath(createdPath))
	return createdPath, nil
}

func parentPath(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return "/"
	}
	return path[:i]
}

func fireExistsCreated(ws []*watcher, path string) {
	for _, w := range ws {
		if w.kind == watchExists {
			w.ch <- registry.RawEvent{Type: registry.EventCreated, Path: path}
			close(w.ch)
		}
	}
}

// Delete implements registry.Store.
func (s *Store) Delete(_ context.Context, path string, version int64, recursive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return registry.ErrConnectionLoss
	}
	n, parent, name := s.lookup(path)
	if n == nil {
		return registry.ErrNoNode
	}
	if version >= 0 && n.version != version {
		return registry.ErrBadVersion
	}
	if !recursive && len(n.children) > 0 {
		return registry.ErrNotEmpty
	}
	if parent == nil {
		return registry.ErrNoNode
	}
	delete(parent.children, name)

	for _, w := range n.watchers {
		w.ch <- registry.RawEvent{Type: registry.EventDeleted, Path: path}
		close(w.ch)
	}
	fireChildren(parent.watchers, parentPath(path))
	return nil
}

// Exists implements registry.Store.
func (s *Store) Exists(_ context.Context, path string, watch bool) (bool, *registry.Stat, <-chan registry.RawEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, nil, nil, registry.ErrConnectionLoss
	}
	n, _, _ := s.lookup(path)
	var ch chan registry.RawEvent
	if watch {
		ch = make(chan registry.RawEvent, 1)
		target := n
		if target == nil {
			_, parent, name := s.lookup(path)
			if parent != nil {
				parent.watchers = append(parent.watchers, &watcher{kind: watchExists, ch: ch})
				_ = name
			}
		} else {
			n.watchers = append(n.watchers, &watcher{kind: watchExists, ch: ch})
		}
	}
	if n == nil {
		return false, nil, ch, nil
	}
	return true, statOf(n), ch, nil
}

func statOf(n *node) *registry.Stat {
	return &registry.Stat{
		Version:     n.version,
		Ctime:       n.ctime,
		Mtime:       n.mtime,
		Ephemeral:   n.ephemeral,
		NumChildren: len(n.children),
	}
}

// GetData implements registry.Store.
func (s *Store) GetData(_ context.Context, path string, watch bool) ([]byte, *registry.Stat, <-chan registry.RawEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, nil, registry.ErrConnectionLoss
	}
	n, _, _ := s.lookup(path)
	if n == nil {
		return nil, nil, nil, registry.ErrNoNode
	}
	var ch chan registry.RawEvent
	if watch {
		ch = make(chan registry.RawEvent, 1)
		n.watchers = append(n.watchers, &watcher{kind: watchData, ch: ch})
	}
	return append([]byte(nil), n.data...), statOf(n), ch, nil
}

// SetData implements registry.Store.
func (s *Store) SetData(_ context.Context, path string, data []byte, version int64) (*registry.Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, registry.ErrConnectionLoss
	}
	n, _, _ := s.lookup(path)
	if n == nil {
		return nil, registry.ErrNoNode
	}
	if version >= 0 && n.version != version {
		return nil, registry.ErrBadVersion
	}
	n.data = append([]byte(nil), data...)
	n.version++
	n.mtime = time.Now()

	ws := n.watchers
	n.watchers = nil
	for _, w := range ws {
		if w.kind == watchData || w.kind == watchExists {
			w.ch <- registry.RawEvent{Type: registry.EventChanged, Path: path}
			close(w.ch)
		} else {
			n.watchers = append(n.watchers, w)
		}
	}
	return statOf(n), nil
}

// GetChildren implements registry.Store.
func (s *Store) GetChildren(_ context.Context, path string, watch bool) ([]string, <-chan registry.RawEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, registry.ErrConnectionLoss
	}
	n, _, _ := s.lookup(path)
	if n == nil {
		return nil, nil, registry.ErrNoNode
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	var ch chan registry.RawEvent
	if watch {
		ch = make(chan registry.RawEvent, 1)
		n.watchers = append(n.watchers, &watcher{kind: watchChildren, ch: ch})
	}
	return names, ch, nil
}

// Sync implements registry.Store. The in-process store has no
// replication lag, so Sync is a no-op ack.
func (s *Store) Sync(_ context.Context, _ string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return registry.ErrConnectionLoss
	}
	return nil
}

// SessionEvents implements registry.Store.
func (s *Store) SessionEvents() <-chan registry.RawEvent { return s.sessions }

// Close implements registry.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.sessions)
	return nil
}

package notifyable

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/doevelopper/Clusterlib/events"
	"github.com/doevelopper/Clusterlib/keyspace"
	"github.com/doevelopper/Clusterlib/registry"
)

// ProcessState is one of the values a ProcessSlot's current/desired
// process state may hold.
type ProcessState string

const (
	ProcessInitial  ProcessState = "INITIAL"
	ProcessStarted  ProcessState = "STARTED"
	ProcessRunning  ProcessState = "RUNNING"
	ProcessFinished ProcessState = "FINISHED"
	ProcessFailed   ProcessState = "FAILED"
	ProcessStopped  ProcessState = "STOPPED"
)

// ProcessInfo is the process-info payload: the command vector, extra
// environment variables, working path, and PID of a process occupying
// a ProcessSlot.
type ProcessInfo struct {
	Command []string `json:"command"`
	AddEnv  []string `json:"addEnv"`
	Path    string   `json:"path"`
	PID     int      `json:"pid"`
}

// ProcessSlot is a per-Node child tracking one process's desired and
// observed lifecycle state.
type ProcessSlot struct {
	header
	cache *Cache

	mu                  sync.RWMutex
	currentProcessState ProcessState
	desiredProcessState ProcessState
	processInfo         ProcessInfo
}

func (c *Cache) newProcessSlot(key string, parent Notifyable) *ProcessSlot {
	return &ProcessSlot{header: newHeader(key, parent), cache: c}
}

func (c *Cache) loadProcessSlot(ctx context.Context, parent *Node, name string, createIfAbsent bool) (*ProcessSlot, error) {
	key := keyspace.Join(parent.Key(), keyspace.SegProcessSlots, name)

	c.mu.RLock()
	if s, ok := c.slots[key]; ok {
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	exists, _, err := c.adapter.NodeExists(ctx, key, nil, nil)
	if err != nil {
		return nil, err
	}
	if !exists {
		if !createIfAbsent {
			return nil, nil
		}
		if err := c.ensurePath(ctx, key); err != nil {
			return nil, err
		}
		if err := c.ensureProcessSlotSubstructure(ctx, key); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	if s, ok := c.slots[key]; ok {
		c.mu.Unlock()
		return s, nil
	}
	s := c.newProcessSlot(key, parent)
	c.slots[key] = s
	c.mu.Unlock()

	s.setState(StateReady)
	s.lock(internalHolder)
	s.refreshDesiredProcessState(ctx)
	s.unlock(internalHolder)
	c.armSelfWatch(ctx, s, s)
	return s, nil
}

// ensureProcessSlotSubstructure materializes a ProcessSlot's fixed
// attribute sub-paths (CURRENTPROCESSSTATE, DESIREDPROCESSSTATE,
// PROCESSINFO) as empty persistent nodes, so Set* calls against a
// freshly created slot don't fail with a missing-node error.
func (c *Cache) ensureProcessSlotSubstructure(ctx context.Context, key string) error {
	for _, name := range []string{"CURRENTPROCESSSTATE", "DESIREDPROCESSSTATE", "PROCESSINFO"} {
		if err := c.ensurePath(ctx, keyspace.Child(key, name)); err != nil {
			return err
		}
	}
	return nil
}

// HandleWatchEvent implements registry.WatchListener for the slot's
// desired-process-state and self-removal watches.
func (s *ProcessSlot) HandleWatchEvent(ev registry.UserEvent, watchCtx any) {
	tag, _ := watchCtx.(attrTag)
	s.lock(internalHolder)
	defer s.unlock(internalHolder)
	if s.State() == StateRemoved {
		return
	}
	switch tag {
	case tagProcessSlotDesired:
		s.refreshDesiredProcessState(context.Background())
	case tagSelf:
		s.cache.handleSelfEvent(s, ev, s)
	}
}

func (s *ProcessSlot) refreshDesiredProcessState(ctx context.Context) {
	data, _, err := s.cache.adapter.GetData(ctx, keyspace.Child(s.Key(), "DESIREDPROCESSSTATE"), s, tagProcessSlotDesired)
	if err != nil {
		if isNoNode(err) {
			return
		}
		s.cache.log.Errorw("refreshDesiredProcessState failed", "key", s.Key(), "err", err)
		return
	}
	s.mu.Lock()
	changed := s.desiredProcessState != ProcessState(data)
	s.desiredProcessState = ProcessState(data)
	s.mu.Unlock()
	if changed {
		s.cache.publish(s, events.ProcessSlotDesiredStateChange)
	}
}

// CurrentProcessState returns the cached observed state.
func (s *ProcessSlot) CurrentProcessState() ProcessState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentProcessState
}

// DesiredProcessState returns the cached desired state.
func (s *ProcessSlot) DesiredProcessState() ProcessState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desiredProcessState
}

// SetCurrentProcessState writes the slot's observed state, called by
// the process supervisor owning this slot.
func (s *ProcessSlot) SetCurrentProcessState(ctx context.Context, state ProcessState) error {
	if err := s.checkRemoved(); err != nil {
		return err
	}
	_, err := s.cache.adapter.SetData(ctx, keyspace.Child(s.Key(), "CURRENTPROCESSSTATE"), []byte(state), -1)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.currentProcessState = state
	s.mu.Unlock()
	return nil
}

// SetDesiredProcessState requests a new desired state for the slot.
func (s *ProcessSlot) SetDesiredProcessState(ctx context.Context, state ProcessState) error {
	if err := s.checkRemoved(); err != nil {
		return err
	}
	_, err := s.cache.adapter.SetData(ctx, keyspace.Child(s.Key(), "DESIREDPROCESSSTATE"), []byte(state), -1)
	return err
}

// ProcessInfo returns the cached process-info payload.
func (s *ProcessSlot) ProcessInfo() ProcessInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processInfo
}

// SetProcessInfo persists the process-info payload as JSON.
func (s *ProcessSlot) SetProcessInfo(ctx context.Context, info ProcessInfo) error {
	if err := s.checkRemoved(); err != nil {
		return err
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if _, err := s.cache.adapter.SetData(ctx, keyspace.Child(s.Key(), "PROCESSINFO"), data, -1); err != nil {
		return err
	}
	s.mu.Lock()
	s.processInfo = info
	s.mu.Unlock()
	return nil
}

// Remove deletes the slot's registry subtree and evicts it from the
// cache.
func (s *ProcessSlot) Remove(ctx context.Context) error {
	if err := s.checkRemoved(); err != nil {
		return err
	}
	if err := s.cache.adapter.DeleteNode(ctx, s.Key(), true, -1); err != nil {
		return err
	}
	s.cache.removeTree(s)
	return nil
}

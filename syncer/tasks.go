package syncer

import (
	"sync"

	"herald/queue"
	"herald/stream"
	"herald/transport"
)

// Task is the local snapshot of one backend entity. Version is the last
// server version this snapshot is known to reflect; optimistic local changes
// are layered on top without advancing it.
type Task struct {
	ID      string
	Fields  map[string]string
	Version int64
	Deleted bool
}

func (t Task) clone() Task {
	fields := make(map[string]string, len(t.Fields))
	for k, v := range t.Fields {
		fields[k] = v
	}
	t.Fields = fields
	return t
}

// taskCache holds the optimistic local view. Every local apply records the
// entity's pre-image keyed by mutation id, so an apply can be reversed
// exactly if the mutation later fails or is dropped.
type taskCache struct {
	mu    sync.Mutex
	tasks map[string]Task
	pre   map[string]*Task // mutation id -> snapshot before apply, nil = entity absent
	hub   *stream.Hub[Task]
}

func newTaskCache() *taskCache {
	return &taskCache{
		tasks: make(map[string]Task),
		pre:   make(map[string]*Task),
		hub:   stream.NewHub[Task](),
	}
}

func (c *taskCache) updates() (<-chan Task, func()) { return c.hub.Subscribe() }

func (c *taskCache) get(id string) (Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.clone(), true
}

// applyLocal layers a queued mutation onto the local view and records the
// pre-image for later revert.
func (c *taskCache) applyLocal(m queue.Mutation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.tasks[m.EntityID]; ok {
		snap := cur.clone()
		c.pre[m.ID] = &snap
	} else {
		c.pre[m.ID] = nil
	}

	t := c.tasks[m.EntityID]
	if t.ID == "" {
		t = Task{ID: m.EntityID, Fields: map[string]string{}}
	} else {
		t = t.clone()
	}

	switch m.Operation {
	case queue.OpCreate, queue.OpUpdateFields:
		for k, v := range m.Payload {
			t.Fields[k] = v
		}
	case queue.OpUpdateStatus:
		t.Fields["status"] = m.Payload["status"]
	case queue.OpDelete:
		t.Deleted = true
	}

	c.tasks[m.EntityID] = t
	c.hub.Publish(t.clone())
}

// revert undoes a local apply using its pre-image. Unknown mutation ids are
// ignored so reverting twice is harmless.
func (c *taskCache) revert(mutationID, entityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, ok := c.pre[mutationID]
	if !ok {
		return
	}
	delete(c.pre, mutationID)

	if snap == nil {
		delete(c.tasks, entityID)
		c.hub.Publish(Task{ID: entityID, Deleted: true})
		return
	}
	c.tasks[entityID] = *snap
	c.hub.Publish(snap.clone())
}

// commit discards the pre-image and pins the server-confirmed version.
func (c *taskCache) commit(mutationID, entityID string, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pre, mutationID)
	t, ok := c.tasks[entityID]
	if !ok {
		return
	}
	if version > t.Version {
		t.Version = version
	}
	if t.Deleted {
		delete(c.tasks, entityID)
	} else {
		c.tasks[entityID] = t
	}
	c.hub.Publish(t.clone())
}

// preImage returns the recorded snapshot for a mutation, if any.
func (c *taskCache) preImage(mutationID string) (*Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.pre[mutationID]
	if !ok {
		return nil, false
	}
	if snap == nil {
		return nil, true
	}
	cp := snap.clone()
	return &cp, true
}

// applyServer overwrites the local view with an authoritative update.
func (c *taskCache) applyServer(u transport.TaskUpdateBody) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if u.Deleted {
		delete(c.tasks, u.EntityID)
		c.hub.Publish(Task{ID: u.EntityID, Version: u.Version, Deleted: true})
		return
	}

	t, ok := c.tasks[u.EntityID]
	if !ok {
		t = Task{ID: u.EntityID, Fields: map[string]string{}}
	} else {
		t = t.clone()
	}
	if u.Version < t.Version {
		return // stale update
	}
	for k, v := range u.Fields {
		t.Fields[k] = v
	}
	t.Version = u.Version
	t.Deleted = false
	c.tasks[u.EntityID] = t
	c.hub.Publish(t.clone())
}

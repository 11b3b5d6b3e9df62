// Package syncer reconciles the local task view with the backend. Local
// changes flow through the durable mutation queue and are applied
// optimistically; server acks confirm, conflict or reject them, and
// server-initiated updates overwrite the local view. The server always wins
// a version race; local intent is re-applied on top only where it still
// makes sense.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"herald/command"
	"herald/log"
	"herald/queue"
	"herald/stream"
	"herald/transport"
)

var (
	ErrOffline    = errors.New("syncer: not connected")
	ErrNoFocus    = errors.New("syncer: no task focused")
	ErrEntityBusy = errors.New("syncer: entity has unsent changes")
)

// Config bounds delivery behavior.
type Config struct {
	// MaxAttempts is how many sends a mutation gets before it is parked as
	// failed and surfaced to the user.
	MaxAttempts int
	// SendTimeout bounds a single send on the transport.
	SendTimeout time.Duration
}

// Failure is a mutation that exhausted its attempts or was rejected. It
// carries the original change so the user can decide to retry or discard.
type Failure struct {
	Mutation queue.Mutation
	Reason   string
}

// Engine drives the offline-first sync loop.
type Engine struct {
	cfg   Config
	q     *queue.Store
	ch    transport.Channel
	cache *taskCache

	failures *stream.Hub[Failure]
	wake     chan struct{}

	mu      sync.Mutex
	focused string
}

func New(cfg Config, q *queue.Store, ch transport.Channel) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		q:        q,
		ch:       ch,
		cache:    newTaskCache(),
		failures: stream.NewHub[Failure](),
		wake:     make(chan struct{}, 1),
	}
}

// Tasks streams local task snapshots as they change.
func (e *Engine) Tasks() (<-chan Task, func()) { return e.cache.updates() }

// Failures streams mutations that need a user decision.
func (e *Engine) Failures() (<-chan Failure, func()) { return e.failures.Subscribe() }

// Task returns the current local snapshot of an entity.
func (e *Engine) Task(id string) (Task, bool) { return e.cache.get(id) }

// SetFocus marks the entity that destructive voice commands act on.
func (e *Engine) SetFocus(entityID string) {
	e.mu.Lock()
	e.focused = entityID
	e.mu.Unlock()
}

func (e *Engine) focus() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.focused
}

// Dispatch routes an interpreted command: task changes become queued
// mutations and work offline, read-only commands need the connection.
// Navigation never reaches the backend and is not handled here.
func (e *Engine) Dispatch(ctx context.Context, cmd command.Command) error {
	switch cmd.Kind {
	case command.CreateTask:
		payload := map[string]string{"title": cmd.Parameters["title"]}
		if payload["title"] == "" {
			payload["title"] = "untitled"
		}
		payload["status"] = "todo"
		_, err := e.Submit(uuid.NewString(), queue.OpCreate, payload)
		return err

	case command.MoveTask:
		target := e.focus()
		if target == "" {
			return ErrNoFocus
		}
		_, err := e.Submit(target, queue.OpUpdateStatus, map[string]string{"status": cmd.Parameters["to"]})
		return err

	case command.DeleteTask:
		target := e.focus()
		if target == "" {
			return ErrNoFocus
		}
		_, err := e.Submit(target, queue.OpDelete, nil)
		return err

	case command.AnalyzeProject, command.RefreshDashboard:
		if !e.ch.State().Online() {
			return ErrOffline
		}
		sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
		defer cancel()
		return e.ch.Send(sendCtx, transport.Message{
			Type: transport.TypeCommand,
			Command: &transport.CommandBody{
				Kind:       string(cmd.Kind),
				Parameters: cmd.Parameters,
				Origin:     string(cmd.Origin),
				Confidence: cmd.Confidence,
			},
		})

	default:
		return fmt.Errorf("syncer: cannot dispatch %s", cmd.Kind)
	}
}

// Submit persists a local change and applies it optimistically. The change
// is durable once Submit returns; delivery happens whenever the transport
// allows. A delete is refused while the entity still has unsent changes.
func (e *Engine) Submit(entityID string, op queue.Operation, payload map[string]string) (queue.Mutation, error) {
	if op == queue.OpDelete {
		active, err := e.q.HasActive(entityID)
		if err != nil {
			return queue.Mutation{}, err
		}
		if active {
			return queue.Mutation{}, fmt.Errorf("%w: %s", ErrEntityBusy, entityID)
		}
	}

	var base *int64
	if v, ok, err := e.q.Baseline(entityID); err != nil {
		return queue.Mutation{}, err
	} else if ok {
		base = &v
	}

	m, err := e.q.Enqueue(entityID, op, payload, base)
	if err != nil {
		return queue.Mutation{}, err
	}
	e.cache.applyLocal(m)
	e.nudge()
	return m, nil
}

// RetryFailed puts a parked mutation back on the wire path.
func (e *Engine) RetryFailed(mutationID string) error {
	m, err := e.q.RetryFailed(mutationID)
	if err != nil {
		return err
	}
	e.cache.applyLocal(m)
	e.nudge()
	return nil
}

// DiscardFailed abandons a parked mutation and reverts its local effect.
func (e *Engine) DiscardFailed(mutationID string) error {
	m, err := e.q.Get(mutationID)
	if err != nil {
		return err
	}
	if err := e.q.DiscardFailed(mutationID); err != nil {
		return err
	}
	e.cache.revert(mutationID, m.EntityID)
	return nil
}

// Run is the sync loop: drain the queue while connected, reconcile whatever
// the server sends back. Returns when ctx is done or the channel closes.
func (e *Engine) Run(ctx context.Context) {
	states, cancelStates := e.ch.States()
	defer cancelStates()

	for {
		select {
		case <-ctx.Done():
			return

		case st, ok := <-states:
			if !ok {
				return
			}
			if st.Online() {
				e.drain(ctx)
			} else {
				e.releaseInFlight()
			}

		case <-e.wake:
			if e.ch.State().Online() {
				e.drain(ctx)
			}

		case m, ok := <-e.ch.Incoming():
			if !ok {
				return
			}
			e.handle(m)
		}
	}
}

// drain sends the head mutation of every entity sub-queue. Later mutations
// for the same entity stay put until the head resolves.
func (e *Engine) drain(ctx context.Context) {
	heads, err := e.q.Heads()
	if err != nil {
		log.Errorf("syncer: list heads: %v", err)
		return
	}

	for _, head := range heads {
		if ctx.Err() != nil {
			return
		}
		m, err := e.q.MarkInFlight(head.ID)
		if err != nil {
			log.Errorf("syncer: mark in flight %s: %v", head.ID, err)
			continue
		}
		if m.Attempt > e.cfg.MaxAttempts {
			e.park(m, fmt.Sprintf("gave up after %d attempts", m.Attempt-1))
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
		err = e.ch.Send(sendCtx, transport.Message{
			Type: transport.TypeMutation,
			Mutation: &transport.MutationBody{
				ID:          m.ID,
				EntityID:    m.EntityID,
				Operation:   string(m.Operation),
				Payload:     m.Payload,
				BaseVersion: m.ServerVersion,
			},
		})
		cancel()
		if err != nil {
			// never lose the change: back to pending for the next drain.
			// One entity's failure must not starve the others' heads.
			if _, rqErr := e.q.Requeue(m.ID); rqErr != nil {
				log.Errorf("syncer: requeue %s: %v", m.ID, rqErr)
			}
			log.Warnf("syncer: send %s failed: %v", m.ID, err)
			continue
		}
	}
}

// releaseInFlight demotes every sent-but-unacknowledged mutation back to
// pending. Once the connection drops the ack can never arrive, and a head
// stuck in flight would wedge its entity's whole sub-queue.
func (e *Engine) releaseInFlight() {
	inflight, err := e.q.ListByStatus(queue.StatusInFlight)
	if err != nil {
		log.Errorf("syncer: list in-flight: %v", err)
		return
	}
	for _, m := range inflight {
		if _, err := e.q.Requeue(m.ID); err != nil {
			log.Errorf("syncer: requeue %s: %v", m.ID, err)
		}
	}
	if len(inflight) > 0 {
		log.Warnf("syncer: connection lost with %d mutations awaiting ack", len(inflight))
	}
}

func (e *Engine) handle(m transport.Message) {
	switch m.Type {
	case transport.TypeAck:
		e.handleAck(*m.Ack)
		e.nudge() // the acked entity's next mutation may be eligible now
	case transport.TypeTaskUpdate:
		e.handleTaskUpdate(*m.TaskUpdate)
	case transport.TypeError:
		log.Errorf("syncer: server error %s: %s", m.Error.Code, m.Error.Message)
	default:
		log.Warnf("syncer: ignoring %s message", m.Type)
	}
}

func (e *Engine) handleAck(ack transport.AckBody) {
	m, err := e.q.Get(ack.MutationID)
	if err != nil {
		// confirmation removes the row, so a duplicate ack lands here too
		log.Warnf("syncer: ack for unknown mutation %s", ack.MutationID)
		return
	}

	switch ack.Status {
	case transport.AckConfirmed:
		if _, err := e.q.Confirm(m.ID, ack.ServerVersion); err != nil {
			log.Errorf("syncer: confirm %s: %v", m.ID, err)
			return
		}
		e.cache.commit(m.ID, m.EntityID, ack.ServerVersion)

	case transport.AckConflict:
		conflicted, err := e.q.MarkConflicted(m.ID, ack.ServerVersion)
		if err != nil {
			log.Errorf("syncer: mark conflicted %s: %v", m.ID, err)
			return
		}
		e.reconcile(conflicted, ack)

	case transport.AckRejected:
		failed, err := e.q.MarkFailed(m.ID)
		if err != nil {
			log.Errorf("syncer: mark failed %s: %v", m.ID, err)
			return
		}
		e.cache.revert(m.ID, m.EntityID)
		e.failures.Publish(Failure{Mutation: failed, Reason: ack.Reason})

	default:
		log.Warnf("syncer: unknown ack status %q for %s", ack.Status, m.ID)
	}
}

// reconcile resolves a version conflict. The server state is authoritative;
// the local change is re-applied on top only where it still changes
// something the server did not already decide.
func (e *Engine) reconcile(m queue.Mutation, ack transport.AckBody) {
	// the pre-image is needed for the rebuild decision and revert consumes it
	pre, hasPre := e.cache.preImage(m.ID)

	// the local view first snaps to the server's truth
	e.cache.revert(m.ID, m.EntityID)
	e.cache.applyServer(transport.TaskUpdateBody{
		EntityID: m.EntityID,
		Version:  ack.ServerVersion,
		Fields:   ack.ServerState,
	})
	if err := e.q.SetBaseline(m.EntityID, ack.ServerVersion); err != nil {
		log.Errorf("syncer: baseline %s: %v", m.EntityID, err)
	}

	payload := rebuildPayload(m, ack, pre, hasPre)
	if payload == nil {
		if err := e.q.DropConflicted(m.ID); err != nil {
			log.Errorf("syncer: drop conflicted %s: %v", m.ID, err)
		}
		log.Mutation("conflict_dropped", m.ID, m.EntityID, "removed", m.Attempt)
		return
	}

	rebuilt, err := e.q.RebuildConflicted(m.ID, payload, ack.ServerVersion)
	if err != nil {
		log.Errorf("syncer: rebuild conflicted %s: %v", m.ID, err)
		return
	}
	e.cache.applyLocal(rebuilt)
	e.nudge()
}

// rebuildPayload decides whether the conflicted intent survives against the
// server state. Nil means drop.
func rebuildPayload(m queue.Mutation, ack transport.AckBody, pre *Task, hasPre bool) map[string]string {
	switch m.Operation {
	case queue.OpUpdateStatus:
		// still worth sending only if the server did not land on the
		// target status itself
		if ack.ServerState["status"] == m.Payload["status"] {
			return nil
		}
		return m.Payload

	case queue.OpUpdateFields:
		// keep only the fields the server left untouched since our
		// baseline; fields the server changed are the server's to keep
		remaining := map[string]string{}
		for k, v := range m.Payload {
			if ack.ServerState[k] == v {
				continue // server already holds the desired value
			}
			if hasPre && pre != nil && ack.ServerState[k] != pre.Fields[k] {
				continue // server moved this field, it wins
			}
			remaining[k] = v
		}
		if len(remaining) == 0 {
			return nil
		}
		return remaining

	default:
		// a create or delete that raced the server is not retried
		return nil
	}
}

// handleTaskUpdate applies a server-initiated change and advances the
// entity's version baseline.
func (e *Engine) handleTaskUpdate(u transport.TaskUpdateBody) {
	e.cache.applyServer(u)
	if err := e.q.SetBaseline(u.EntityID, u.Version); err != nil {
		log.Errorf("syncer: baseline %s: %v", u.EntityID, err)
	}
}

// park fails a mutation that exhausted its attempts and reverts its
// optimistic effect.
func (e *Engine) park(m queue.Mutation, reason string) {
	failed, err := e.q.MarkFailed(m.ID)
	if err != nil {
		log.Errorf("syncer: park %s: %v", m.ID, err)
		return
	}
	e.cache.revert(m.ID, m.EntityID)
	e.failures.Publish(Failure{Mutation: failed, Reason: reason})
}

func (e *Engine) nudge() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

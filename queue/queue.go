// Package queue is the durable outbound mutation log. Every local task
// change is persisted here before it is acknowledged to the caller, and the
// queue survives process restarts. Delivery order is guaranteed per entity:
// at most one mutation per entity is ever in flight, and mutations for the
// same entity drain strictly in enqueue order.
package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Operation is the closed set of task mutations the backend accepts.
type Operation string

const (
	OpCreate       Operation = "create"
	OpUpdateStatus Operation = "update_status"
	OpUpdateFields Operation = "update_fields"
	OpDelete       Operation = "delete"
)

// Origin records where a mutation came from. Remote mutations are applied
// directly and never enter the outbound queue.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Status is the delivery lifecycle of a queued mutation.
//
//	Pending ──▶ InFlight ──▶ Confirmed (removed from the queue)
//	               │
//	               ├──▶ Conflicted
//	               └──▶ Failed
//
// A restart or a dropped connection demotes InFlight back to Pending;
// Conflicted and Failed are terminal for the queue but may be retried or
// discarded explicitly. Confirmation deletes the row: a confirmed change
// needs no replay.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInFlight   Status = "in_flight"
	StatusConfirmed  Status = "confirmed"
	StatusConflicted Status = "conflicted"
	StatusFailed     Status = "failed"
)

var (
	ErrNotFound      = errors.New("queue: mutation not found")
	ErrNotPending    = errors.New("queue: mutation is not pending")
	ErrNotInFlight   = errors.New("queue: mutation is not in flight")
	ErrNotFailed     = errors.New("queue: mutation is not failed")
	ErrEmptyEntityID = errors.New("queue: empty entity id")
)

// Mutation is one durable outbound task change. ID is assigned at enqueue
// time; ServerVersion is the entity version the mutation was built against,
// nil for a Create.
type Mutation struct {
	ID            string
	EntityID      string
	Operation     Operation
	Payload       map[string]string
	Origin        Origin
	Status        Status
	Attempt       int
	ServerVersion *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func newID() string { return uuid.NewString() }

// Event is one mutation's state change, published on the queue's event
// stream. Removed marks a mutation leaving the queue (confirmed, cancelled,
// discarded or dropped); Mutation then holds its last snapshot.
type Event struct {
	Mutation Mutation
	Removed  bool
}

// Stats is a point-in-time count of mutations per status, published on the
// queue's update stream after every state change.
type Stats struct {
	Pending    int
	InFlight   int
	Conflicted int
	Failed     int
}

// Active reports whether anything still needs the network.
func (s Stats) Active() bool { return s.Pending > 0 || s.InFlight > 0 }

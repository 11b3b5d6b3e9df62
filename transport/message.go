// Package transport maintains the single duplex channel between the client
// and the backend. It owns connection lifecycle and reconnection; what flows
// over it is a small JSON envelope per message.
package transport

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type MessageType string

const (
	// client -> server
	TypeCommand  MessageType = "command"
	TypeMutation MessageType = "mutation"

	// server -> client
	TypeAck        MessageType = "ack"
	TypeTaskUpdate MessageType = "task_update"
	TypeError      MessageType = "error"
)

// Message is the wire envelope. Exactly one body field matching Type is set.
type Message struct {
	Type       MessageType     `json:"type"`
	Command    *CommandBody    `json:"command,omitempty"`
	Mutation   *MutationBody   `json:"mutation,omitempty"`
	Ack        *AckBody        `json:"ack,omitempty"`
	TaskUpdate *TaskUpdateBody `json:"task_update,omitempty"`
	Error      *ErrorBody      `json:"error,omitempty"`
}

// CommandBody carries a read-only command (analyze, refresh, navigate) that
// does not go through the mutation queue.
type CommandBody struct {
	Kind       string            `json:"kind"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Origin     string            `json:"origin"`
	Confidence float64           `json:"confidence,omitempty"`
}

// MutationBody is one queued task change in flight to the server.
// BaseVersion is the entity version the change was built against; the server
// reports a conflict when it has moved past it.
type MutationBody struct {
	ID          string            `json:"id"`
	EntityID    string            `json:"entity_id"`
	Operation   string            `json:"operation"`
	Payload     map[string]string `json:"payload,omitempty"`
	BaseVersion *int64            `json:"base_version,omitempty"`
}

// AckStatus is the server's verdict on a mutation.
type AckStatus string

const (
	AckConfirmed AckStatus = "confirmed"
	AckConflict  AckStatus = "conflict"
	AckRejected  AckStatus = "rejected"
)

// AckBody answers exactly one mutation by id. On conflict, ServerState is
// the authoritative entity snapshot at ServerVersion.
type AckBody struct {
	MutationID    string            `json:"mutation_id"`
	Status        AckStatus         `json:"status"`
	ServerVersion int64             `json:"server_version,omitempty"`
	ServerState   map[string]string `json:"server_state,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// TaskUpdateBody is a server-initiated entity change.
type TaskUpdateBody struct {
	EntityID string            `json:"entity_id"`
	Version  int64             `json:"version"`
	Fields   map[string]string `json:"fields,omitempty"`
	Deleted  bool              `json:"deleted,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode serializes a message for the wire.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	return data, nil
}

// Decode parses a wire message and validates that the body matches the type.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	switch m.Type {
	case TypeCommand:
		if m.Command == nil {
			return Message{}, fmt.Errorf("command message without body")
		}
	case TypeMutation:
		if m.Mutation == nil {
			return Message{}, fmt.Errorf("mutation message without body")
		}
	case TypeAck:
		if m.Ack == nil {
			return Message{}, fmt.Errorf("ack message without body")
		}
	case TypeTaskUpdate:
		if m.TaskUpdate == nil {
			return Message{}, fmt.Errorf("task_update message without body")
		}
	case TypeError:
		if m.Error == nil {
			return Message{}, fmt.Errorf("error message without body")
		}
	default:
		return Message{}, fmt.Errorf("unknown message type %q", m.Type)
	}
	return m, nil
}

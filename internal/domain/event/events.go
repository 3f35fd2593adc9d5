package event

import (
	"encoding/json"
	"time"
)

// CommandEvent is what the chat-platform collaborator publishes for every
// slash-command invocation. EventID is the platform's interaction id and is
// the dedup key.
type CommandEvent struct {
	EventID   string          `json:"event_id"`
	Command   string          `json:"command"`
	ActorID   string          `json:"actor_id"`
	ActorName string          `json:"actor_name,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	IssuedAt  time.Time       `json:"issued_at"`
}

const (
	ResultOK    = "ok"
	ResultError = "error"
)

// CommandResult is published back to the collaborator after a command has
// been processed. Delivery is best-effort; a persisted ledger mutation is
// never rolled back because of a failed notification.
type CommandResult struct {
	ResultID  string         `json:"result_id"`
	EventID   string         `json:"event_id"`
	Command   string         `json:"command"`
	ActorID   string         `json:"actor_id"`
	Status    string         `json:"status"`
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

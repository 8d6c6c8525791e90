// Package protocol defines the messages streamed to clients during a sync.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/schaermu/nbpuller/internal/sync"
)

// Message types
const (
	TypeLog      = "LOG"
	TypeStatus   = "STATUS"
	TypeRedirect = "REDIRECT"
	TypeError    = "ERROR"
)

// Message is one JSON record sent to the client. Zero or more LOG messages
// precede exactly one STATUS, REDIRECT or ERROR message.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ErrorPayload is the payload of an ERROR message
type ErrorPayload struct {
	Message    string `json:"message"`
	ProceedURL string `json:"proceed_url"`
	Kind       string `json:"kind"`
}

// Log wraps a progress snapshot
func Log(snapshot string) Message {
	return Message{Type: TypeLog, Payload: snapshot}
}

// Status wraps a plain status text
func Status(text string) Message {
	return Message{Type: TypeStatus, Payload: text}
}

// Redirect tells the client where to go next
func Redirect(location string) Message {
	return Message{Type: TypeRedirect, Payload: location}
}

// Error wraps a caller-safe failure
func Error(kind, message, proceedURL string) Message {
	return Message{Type: TypeError, Payload: ErrorPayload{Message: message, ProceedURL: proceedURL, Kind: kind}}
}

// FromOutcome converts the result of a sync into its terminal message
func FromOutcome(outcome sync.Outcome) Message {
	switch outcome.Kind {
	case sync.OutcomeRedirected:
		return Redirect(outcome.Location)
	case sync.OutcomeStatus:
		return Status(outcome.Message)
	case sync.OutcomeError:
		if outcome.Err != nil {
			return Error(string(outcome.Err.Kind), outcome.Err.Detail, outcome.Err.RecoveryURL)
		}
	}
	return Error(string(sync.KindInternalError), sync.PublicMessage(sync.KindInternalError), "")
}

// IsTerminal reports whether m ends a stream
func (m Message) IsTerminal() bool {
	return m.Type != TypeLog
}

// Decode parses a message, restoring ErrorPayload for ERROR messages
func Decode(data []byte) (Message, error) {
	var raw struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}

	msg := Message{Type: raw.Type}
	switch raw.Type {
	case TypeError:
		var payload ErrorPayload
		if err := json.Unmarshal(raw.Payload, &payload); err != nil {
			return Message{}, fmt.Errorf("failed to decode error payload: %w", err)
		}
		msg.Payload = payload
	case TypeLog, TypeStatus, TypeRedirect:
		var text string
		if err := json.Unmarshal(raw.Payload, &text); err != nil {
			return Message{}, fmt.Errorf("failed to decode %s payload: %w", raw.Type, err)
		}
		msg.Payload = text
	default:
		return Message{}, fmt.Errorf("unknown message type %q", raw.Type)
	}
	return msg, nil
}

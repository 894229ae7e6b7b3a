package broker

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

// Envelope is the server-wrapped form of a published message (spec §3).
type Envelope struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Message json.RawMessage `json:"message"`
	TS      string          `json:"ts"`
}

// Message is the publisher-supplied payload. It must carry a UUID-shaped
// id and an arbitrary payload field (spec §3, §4.4 publish validation).
type Message struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// validateMessage parses and validates raw against the publish contract.
func validateMessage(raw json.RawMessage) *Error {
	if len(raw) == 0 {
		return newErr(ErrBadRequest, "message is required")
	}

	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return newErr(ErrBadRequest, "message must be a JSON object")
	}
	if m.ID == "" {
		return newErr(ErrBadRequest, "message.id is required")
	}
	if _, err := uuid.Parse(m.ID); err != nil {
		return newErr(ErrBadRequest, "message.id must be a UUID")
	}
	if len(m.Payload) == 0 {
		return newErr(ErrBadRequest, "message.payload is required")
	}
	return nil
}

func nowTS() string {
	return time.Now().UTC().Format(timeLayout)
}

package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ProtocolVersion is the envelope version spoken on voir.session.v1.
const ProtocolVersion = 1

// Envelope types.
const (
	TypeHello        = "hello"
	TypeHelloAck     = "hello.ack"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeSessionEvent = "session.event"
	TypeError        = "error"
)

// Envelope is the frame exchanged on the event feed.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloAckPayload answers a client hello.
type HelloAckPayload struct {
	ConnectionID string `json:"connectionId"`
	PrincipalID  string `json:"principalId"`
}

// ErrorPayload reports a rejected client frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validate checks the fields every inbound envelope must carry.
func (e Envelope) Validate() error {
	if e.V != ProtocolVersion {
		return fmt.Errorf("unsupported version %d", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing type")
	}
	if id := strings.TrimSpace(e.ID); id == "" || len(id) > maxEnvelopeIDLen {
		return errors.New("invalid id")
	}
	return nil
}

func newEnvelope(typ string, payload any, ts time.Time) Envelope {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	return Envelope{
		V:       ProtocolVersion,
		Type:    typ,
		ID:      ulid.Make().String(),
		TS:      ts.UTC(),
		Payload: raw,
	}
}

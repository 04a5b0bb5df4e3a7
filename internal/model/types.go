package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Wire Messages
// -----------------------------------------------------------------------------

// Kind classifies an inbound message.
type Kind int

const (
	// KindUnknown is a JSON object whose type is missing or not recognised.
	// It is still broadcast.
	KindUnknown Kind = iota
	// KindData is an application message with a recognised type.
	KindData
	// KindAck is an acknowledgement of a sequence. Never broadcast.
	KindAck
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindAck:
		return "ack"
	default:
		return "unknown"
	}
}

// Known message types.
const (
	TypeAck            = "ack"
	TypeData           = "data"
	TypeConnected      = "connected"
	TypeOwnerConnected = "owner_connected"
	TypeEcho           = "echo"
	TypePhotoUploaded  = "photo_uploaded"
)

// Message sources.
const (
	SourceWS   = "ws"
	SourceREST = "rest"
)

var dataTypes = map[string]struct{}{
	TypeData:           {},
	TypeConnected:      {},
	TypeOwnerConnected: {},
	TypeEcho:           {},
	TypePhotoUploaded:  {},
}

// ErrDecode is returned when a frame is not a JSON object.
var ErrDecode = errors.New("decode message")

// Message is one inbound event, tagged with the channel it arrived on.
type Message struct {
	Kind        Kind
	Type        string          // Raw "type" field, may be empty
	ChannelID   string          // Set by the connection that received it
	Sequence    uint64          // Valid only when HasSequence
	HasSequence bool            // "sequence" was present and numeric
	AckRequired bool            // "ack_required" was true
	Payload     json.RawMessage // Complete original object
	ReceivedAt  time.Time       // Local receive time
	Source      string          // "ws" or "rest"
}

// NeedsAck reports whether the sender expects an acknowledgement.
func (m Message) NeedsAck() bool {
	return m.Kind != KindAck && m.AckRequired && m.HasSequence
}

// envelope holds the fields inspected on every frame.
type envelope struct {
	Type        string          `json:"type"`
	Sequence    json.RawMessage `json:"sequence"`
	AckRequired bool            `json:"ack_required"`
}

// Decode parses a raw frame. Anything that is not a JSON object fails with ErrDecode.
func Decode(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, fmt.Errorf("%w: not a JSON object", ErrDecode)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	msg := Message{
		Type:        env.Type,
		AckRequired: env.AckRequired,
		Payload:     json.RawMessage(append([]byte(nil), trimmed...)),
	}

	if len(env.Sequence) > 0 && !bytes.Equal(env.Sequence, []byte("null")) {
		var seq uint64
		if err := json.Unmarshal(env.Sequence, &seq); err == nil {
			msg.Sequence = seq
			msg.HasSequence = true
		}
	}

	switch {
	case env.Type == TypeAck:
		msg.Kind = KindAck
	case isDataType(env.Type):
		msg.Kind = KindData
	default:
		msg.Kind = KindUnknown
	}

	return msg, nil
}

func isDataType(t string) bool {
	_, ok := dataTypes[t]
	return ok
}

// Ack is the outbound acknowledgement frame.
type Ack struct {
	Type      string `json:"type"`
	Sequence  uint64 `json:"sequence"`
	Timestamp string `json:"timestamp"`
}

// EncodeAck builds the acknowledgement frame for seq.
func EncodeAck(seq uint64, now time.Time) ([]byte, error) {
	return json.Marshal(Ack{
		Type:      TypeAck,
		Sequence:  seq,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	})
}

// NewMessage builds a locally produced message (for example from REST polling).
func NewMessage(channelID, msgType string, body map[string]any, now time.Time) (Message, error) {
	obj := make(map[string]any, len(body)+1)
	for k, v := range body {
		obj[k] = v
	}
	obj["type"] = msgType

	payload, err := json.Marshal(obj)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s message: %w", msgType, err)
	}

	kind := KindUnknown
	if isDataType(msgType) {
		kind = KindData
	}

	return Message{
		Kind:       kind,
		Type:       msgType,
		ChannelID:  channelID,
		Payload:    payload,
		ReceivedAt: now,
		Source:     SourceREST,
	}, nil
}

// -----------------------------------------------------------------------------
// REST Types
// -----------------------------------------------------------------------------

// Session is one channel as listed by the REST API.
type Session struct {
	ID         string    // Store ID
	SessionID  string    // Channel identifier
	PhotoCount int       // Photos uploaded so far
	IsActive   bool      // Accepting uploads
	CreatedAt  time.Time // Creation time
	ExpiresAt  time.Time // Expiry time, zero if none
}

// Photo is one uploaded item in a session.
type Photo struct {
	ID         string    // Store ID
	Filename   string    // Stored file name
	SessionID  string    // Owning channel
	URL        string    // Download URL
	UploadedAt time.Time // Upload time
}

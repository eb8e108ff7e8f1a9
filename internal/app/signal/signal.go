/*
Package signal relays WebRTC call-signaling messages between the participants of a conversation.

A Signal is a tagged variant: the "type" field on the wire selects exactly one payload
(Offer, Answer, ICE, Join or Leave) and only the fields that payload needs are read or
written. Frames with an unknown type, or missing the field their type requires, are
rejected at decode time.
*/
package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the wire discriminator of a signal.
type Type string

// Known signal types.
const (
	TypeOffer  Type = "offer"
	TypeAnswer Type = "answer"
	TypeICE    Type = "ice"
	TypeJoin   Type = "join"
	TypeLeave  Type = "leave"
)

var (
	// ErrUnknownType means the frame's type is not one of the known signal types.
	ErrUnknownType = errors.New("signal: unknown type")

	// ErrMalformed means the frame is not a JSON object or lacks a field its type requires.
	ErrMalformed = errors.New("signal: malformed frame")
)

// Payload is the type-specific body of a Signal.
type Payload interface {
	Type() Type
}

// Offer carries a session description offering a call.
type Offer struct {
	SDP string
}

// Answer carries the session description answering an offer.
type Answer struct {
	SDP string
}

// ICE carries one ICE candidate. The candidate object is relayed verbatim.
type ICE struct {
	Candidate json.RawMessage
}

// Join announces that a participant attached to the conversation.
type Join struct{}

// Leave announces that a participant detached from the conversation.
type Leave struct{}

func (Offer) Type() Type  { return TypeOffer }
func (Answer) Type() Type { return TypeAnswer }
func (ICE) Type() Type    { return TypeICE }
func (Join) Type() Type   { return TypeJoin }
func (Leave) Type() Type  { return TypeLeave }

// Signal is one call-signaling message scoped to a conversation.
type Signal struct {
	// ConversationID is the conversation the signal belongs to.
	ConversationID string

	// From is the identity that sent the signal.
	From string

	// To optionally names the intended recipient. It is relayed, not enforced:
	// every participant of the conversation receives the signal.
	To string

	// Payload is the type-specific body.
	Payload Payload
}

// Type returns the payload's discriminator, or "" for a signal without payload.
func (s Signal) Type() Type {
	if s.Payload == nil {
		return ""
	}
	return s.Payload.Type()
}

// lifecycle reports whether s is a join or leave announcement.
func (s Signal) lifecycle() bool {
	t := s.Type()
	return t == TypeJoin || t == TypeLeave
}

// wireSignal is the JSON form shared with browser clients.
type wireSignal struct {
	ConversationID string          `json:"conversationId"`
	From           string          `json:"from"`
	To             string          `json:"to,omitempty"`
	Type           Type            `json:"type"`
	SDP            string          `json:"sdp,omitempty"`
	Candidate      json.RawMessage `json:"candidate,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s Signal) MarshalJSON() ([]byte, error) {
	w := wireSignal{
		ConversationID: s.ConversationID,
		From:           s.From,
		To:             s.To,
	}

	switch p := s.Payload.(type) {
	case Offer:
		w.Type, w.SDP = TypeOffer, p.SDP
	case Answer:
		w.Type, w.SDP = TypeAnswer, p.SDP
	case ICE:
		w.Type, w.Candidate = TypeICE, p.Candidate
	case Join:
		w.Type = TypeJoin
	case Leave:
		w.Type = TypeLeave
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, s.Payload)
	}

	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Signal) UnmarshalJSON(data []byte) error {
	var w wireSignal
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var payload Payload

	switch w.Type {
	case TypeOffer, TypeAnswer:
		if w.SDP == "" {
			return fmt.Errorf("%w: %s without sdp", ErrMalformed, w.Type)
		}
		if w.Type == TypeOffer {
			payload = Offer{SDP: w.SDP}
		} else {
			payload = Answer{SDP: w.SDP}
		}
	case TypeICE:
		if isNull(w.Candidate) {
			return fmt.Errorf("%w: ice without candidate", ErrMalformed)
		}
		payload = ICE{Candidate: w.Candidate}
	case TypeJoin:
		payload = Join{}
	case TypeLeave:
		payload = Leave{}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}

	*s = Signal{
		ConversationID: w.ConversationID,
		From:           w.From,
		To:             w.To,
		Payload:        payload,
	}
	return nil
}

// Decode parses one client frame. Errors wrap ErrMalformed or ErrUnknownType.
func Decode(data []byte) (Signal, error) {
	var s Signal
	if err := s.UnmarshalJSON(data); err != nil {
		return Signal{}, err
	}
	return s, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/sdp/v3"
)

var (
	// ErrUnknownEvent is returned for an event name the SFU does not handle
	ErrUnknownEvent = errors.New("unknown signal event")
	// ErrMalformed is returned when a payload fails validation
	ErrMalformed = errors.New("malformed signal payload")
)

const offerType = "offer"

// Decode turns a named event sent by a client and its raw JSON payload into
// an Envelope. Disconnect is only synthesized by transports, so a client
// sending it gets ErrUnknownEvent.
func Decode(event string, data []byte) (Envelope, error) {
	switch Event(event) {
	case EventJoinRoom:
		var m JoinRoom
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if err := required("id", m.ID, "roomID", m.RoomID); err != nil {
			return nil, err
		}
		return m, nil

	case EventSenderOffer:
		var m SenderOffer
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if err := required("senderSocketID", m.SenderSocketID, "roomID", m.RoomID); err != nil {
			return nil, err
		}
		if err := validateOffer(m.SDP); err != nil {
			return nil, err
		}
		return m, nil

	case EventSenderCandidate:
		var m SenderCandidate
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if err := required("senderSocketID", m.SenderSocketID); err != nil {
			return nil, err
		}
		return m, nil

	case EventReceiverOffer:
		var m ReceiverOffer
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if err := required("receiverSocketID", m.ReceiverSocketID, "senderSocketID", m.SenderSocketID, "roomID", m.RoomID); err != nil {
			return nil, err
		}
		if err := validateOffer(m.SDP); err != nil {
			return nil, err
		}
		return m, nil

	case EventReceiverCandidate:
		var m ReceiverCandidate
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if err := required("receiverSocketID", m.ReceiverSocketID, "senderSocketID", m.SenderSocketID); err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
}

// Empty reports whether a trickled candidate carries nothing to apply.
func (c *ICECandidate) Empty() bool {
	return c == nil || c.Candidate == ""
}

func unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// required takes name/value pairs and fails on the first empty value.
func required(kv ...string) error {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			return fmt.Errorf("%w: missing %s", ErrMalformed, kv[i])
		}
	}
	return nil
}

func validateOffer(desc SessionDescription) error {
	if desc.Type != offerType {
		return fmt.Errorf("%w: expected offer, got %q", ErrMalformed, desc.Type)
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return fmt.Errorf("%w: sdp: %v", ErrMalformed, err)
	}
	return nil
}

// Package signal defines the events exchanged between signaling clients and the SFU.
package signal

import "encoding/json"

// Event names an inbound or outbound signaling message.
type Event string

// Inbound events.
const (
	EventJoinRoom          Event = "joinRoom"
	EventSenderOffer       Event = "senderOffer"
	EventSenderCandidate   Event = "senderCandidate"
	EventReceiverOffer     Event = "receiverOffer"
	EventReceiverCandidate Event = "receiverCandidate"
	EventDisconnect        Event = "disconnect"
)

// Outbound events.
const (
	EventConnected            Event = "connected"
	EventAllUsers             Event = "allUsers"
	EventSenderAnswer         Event = "getSenderAnswer"
	EventReceiverAnswer       Event = "getReceiverAnswer"
	EventSenderCandidateOut   Event = "getSenderCandidate"
	EventReceiverCandidateOut Event = "getReceiverCandidate"
	EventUserEnter            Event = "userEnter"
	EventUserExit             Event = "userExit"
)

// SessionDescription mirrors the browser RTCSessionDescriptionInit shape.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate mirrors the browser RTCIceCandidateInit shape.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Envelope is a decoded inbound message. The set of implementations is closed:
// JoinRoom, SenderOffer, SenderCandidate, ReceiverOffer, ReceiverCandidate and Disconnect.
type Envelope interface {
	Event() Event
	envelope()
}

// JoinRoom asks for the current publishers of a room.
type JoinRoom struct {
	ID     string `json:"id"`
	RoomID string `json:"roomID"`
}

// SenderOffer carries a publisher's offer for its ingest connection.
type SenderOffer struct {
	SDP            SessionDescription `json:"sdp"`
	SenderSocketID string             `json:"senderSocketID"`
	RoomID         string             `json:"roomID"`
}

// SenderCandidate trickles a publisher candidate. Candidate is nil when the
// client signalled the end of gathering.
type SenderCandidate struct {
	Candidate      *ICECandidate `json:"candidate"`
	SenderSocketID string        `json:"senderSocketID"`
}

// ReceiverOffer carries a subscriber's offer for the egress connection that
// forwards SenderSocketID's media.
type ReceiverOffer struct {
	SDP              SessionDescription `json:"sdp"`
	ReceiverSocketID string             `json:"receiverSocketID"`
	SenderSocketID   string             `json:"senderSocketID"`
	RoomID           string             `json:"roomID"`
}

// ReceiverCandidate trickles a subscriber candidate for one egress connection.
type ReceiverCandidate struct {
	Candidate        *ICECandidate `json:"candidate"`
	ReceiverSocketID string        `json:"receiverSocketID"`
	SenderSocketID   string        `json:"senderSocketID"`
}

// Disconnect is synthesized by the transport when a client goes away.
type Disconnect struct{}

func (JoinRoom) Event() Event          { return EventJoinRoom }
func (SenderOffer) Event() Event       { return EventSenderOffer }
func (SenderCandidate) Event() Event   { return EventSenderCandidate }
func (ReceiverOffer) Event() Event     { return EventReceiverOffer }
func (ReceiverCandidate) Event() Event { return EventReceiverCandidate }
func (Disconnect) Event() Event        { return EventDisconnect }

func (JoinRoom) envelope()          {}
func (SenderOffer) envelope()       {}
func (SenderCandidate) envelope()   {}
func (ReceiverOffer) envelope()     {}
func (ReceiverCandidate) envelope() {}
func (Disconnect) envelope()        {}

// Outbound is a message sent from the SFU to one client.
type Outbound interface {
	Event() Event
}

// User is one entry of AllUsers.
type User struct {
	ID string `json:"id"`
}

// Connected tells a client the id it was assigned.
type Connected struct {
	ID string `json:"id"`
}

// AllUsers lists the other publishers of the room just joined.
type AllUsers struct {
	Users []User `json:"users"`
}

// MarshalJSON encodes an empty user list as [] rather than null.
func (a AllUsers) MarshalJSON() ([]byte, error) {
	type plain AllUsers
	if a.Users == nil {
		a.Users = []User{}
	}
	return json.Marshal(plain(a))
}

// SenderAnswer answers a SenderOffer.
type SenderAnswer struct {
	SDP SessionDescription `json:"sdp"`
}

// ReceiverAnswer answers a ReceiverOffer. ID is the publisher.
type ReceiverAnswer struct {
	ID  string             `json:"id"`
	SDP SessionDescription `json:"sdp"`
}

// SenderCandidateOut carries a server candidate of the ingest connection.
type SenderCandidateOut struct {
	Candidate ICECandidate `json:"candidate"`
}

// ReceiverCandidateOut carries a server candidate of an egress connection. ID is the publisher.
type ReceiverCandidateOut struct {
	ID        string       `json:"id"`
	Candidate ICECandidate `json:"candidate"`
}

// UserEnter announces a newly confirmed publisher.
type UserEnter struct {
	ID string `json:"id"`
}

// UserExit announces a departed participant.
type UserExit struct {
	ID string `json:"id"`
}

func (Connected) Event() Event            { return EventConnected }
func (AllUsers) Event() Event             { return EventAllUsers }
func (SenderAnswer) Event() Event         { return EventSenderAnswer }
func (ReceiverAnswer) Event() Event       { return EventReceiverAnswer }
func (SenderCandidateOut) Event() Event   { return EventSenderCandidateOut }
func (ReceiverCandidateOut) Event() Event { return EventReceiverCandidateOut }
func (UserEnter) Event() Event            { return EventUserEnter }
func (UserExit) Event() Event             { return EventUserExit }

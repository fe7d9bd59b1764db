package sfu

import "errors"

var (
	// ErrLinkClosed is returned when negotiating on a closed link
	ErrLinkClosed = errors.New("link is closed")
	// ErrNoIngest a candidate or subscription referenced a publisher without an ingest link
	ErrNoIngest = errors.New("no ingest link for publisher")
	// ErrNoEgress a candidate referenced a (publisher, subscriber) pair without an egress link
	ErrNoEgress = errors.New("no egress link for pair")
	// ErrPublisherNotConfirmed a subscriber asked for media that has not arrived yet
	ErrPublisherNotConfirmed = errors.New("publisher not confirmed in room")
	// ErrIdentityMismatch the payload claims to come from another participant
	ErrIdentityMismatch = errors.New("payload identity does not match connection")
	// ErrUnsupportedEnvelope the router has no handler for the envelope
	ErrUnsupportedEnvelope = errors.New("unsupported envelope")
)

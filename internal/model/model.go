// Package model defines domain entities used by services and stores.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/pion/webrtc/v4"
)

// Identity is the verified representation of a phone number. Identities are
// only ever created in verified state.
type Identity struct {
	ID          uuid.UUID
	PhoneNumber string // unique key
	DisplayName string
	Verified    bool
	CreatedAt   time.Time
}

// Device is the single device bound to an identity.
type Device struct {
	ID           uuid.UUID
	PhoneNumber  string
	Token        string // push/voip token, optional
	RegisteredAt time.Time
}

// Verification is a pending one-time code for a phone number.
type Verification struct {
	PhoneNumber string
	CodeHash    []byte // keyed digest, never the plaintext code
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the entry is past its validity window at now.
func (v Verification) Expired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}

// CallStatus is the lifecycle state of a call.
type CallStatus string

// CallStatusRinging is the only state calls are ever in.
const CallStatusRinging CallStatus = "ringing"

// Call is the state container for one call's participants and negotiation payloads.
type Call struct {
	ID         string
	Caller     string
	Callee     string
	CallerName string // snapshot at creation
	CalleeName string // snapshot at creation
	Status     CallStatus
	Offer      *webrtc.SessionDescription // last-write-wins
	CreatedAt  time.Time
}

// Participants returns the phone numbers taking part in the call.
func (c Call) Participants() []string {
	return []string{c.Caller, c.Callee}
}

// EventKind tags the payload carried by an Event.
type EventKind string

// Mailbox event kinds.
const (
	EventIncomingCall EventKind = "incoming-call"
	EventOffer        EventKind = "negotiation-offer"
	EventAnswer       EventKind = "negotiation-answer"
	EventCandidate    EventKind = "connectivity-candidate"
)

// IncomingCall is the payload of an incoming-call event.
type IncomingCall struct {
	From     string
	FromName string
}

// Event is one queued relay message. Exactly one of Incoming, Description
// and Candidate is set, according to Kind.
type Event struct {
	Kind       EventKind
	CallID     string
	Seq        uint64    // assigned by the mailbox, FIFO per recipient
	EnqueuedAt time.Time // assigned by the mailbox

	Incoming    *IncomingCall
	Description *webrtc.SessionDescription
	Candidate   *webrtc.ICECandidateInit
}

// Stats is a point-in-time view of relay state for operators.
type Stats struct {
	Identities   int
	PendingCodes int
	Calls        int
	QueuedEvents int
	GeneratedAt  time.Time
}

// Package api holds the JSON wire types shared by the HTTP and gRPC transports
// and the CLI.
package api

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// Error describes a failed operation.
type Error struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// Envelope is embedded in every response.
type Envelope struct {
	Success bool   `json:"success"`
	Error   *Error `json:"error,omitempty"`
}

// OK is the envelope of a successful response.
var OK = Envelope{Success: true}

type RequestCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type RequestCodeResponse struct {
	Envelope
	Message string `json:"message,omitempty"`
}

type RedeemCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
	DisplayName string `json:"displayName,omitempty"`
	DeviceToken string `json:"deviceToken,omitempty"`
}

type RedeemCodeResponse struct {
	Envelope
	IdentityID  string `json:"identityId,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

type RegisterDeviceRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	DeviceToken string `json:"deviceToken,omitempty"`
}

type RegisterDeviceResponse struct {
	Envelope
	DeviceID string `json:"deviceId,omitempty"`
}

type InitiateCallRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type InitiateCallResponse struct {
	Envelope
	CallID     string `json:"callId,omitempty"`
	CalleeName string `json:"calleeName,omitempty"`
	CallStatus string `json:"status,omitempty"`
}

// SessionDescription is the wire form of an RTCSessionDescriptionInit. Type
// is kept as a plain string so a missing or unknown type reaches validation
// instead of failing to decode.
type SessionDescription struct {
	Type string `json:"type,omitempty"`
	SDP  string `json:"sdp"`
}

// OfferRequest carries an offer; a missing type defaults to "offer".
type OfferRequest struct {
	CallID string             `json:"callId"`
	Offer  SessionDescription `json:"offer"`
}

// AnswerRequest carries an answer; a missing type defaults to "answer".
type AnswerRequest struct {
	CallID string             `json:"callId"`
	Answer SessionDescription `json:"answer"`
}

type CandidateRequest struct {
	CallID           string  `json:"callId"`
	Candidate        string  `json:"candidate"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Ack is the response of operations that return nothing but success.
type Ack struct {
	Envelope
}

// EventsRequest asks for the mailbox of PhoneNumber. Wait is a Go duration
// string; empty means drain without blocking.
type EventsRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Wait        string `json:"wait,omitempty"`
}

// Event is one relayed message. The payload fields set depend on Type.
type Event struct {
	Seq        uint64    `json:"seq"`
	Type       string    `json:"type"`
	CallID     string    `json:"callId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`

	From     string `json:"from,omitempty"`
	FromName string `json:"fromName,omitempty"`

	Description *SessionDescription      `json:"description,omitempty"`
	Candidate   *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

type EventsResponse struct {
	Envelope
	Events []Event `json:"events"`
}

type CallRequest struct {
	CallID string `json:"callId"`
}

type Call struct {
	ID         string              `json:"id"`
	Caller     string              `json:"caller"`
	Callee     string              `json:"callee"`
	CallerName string              `json:"callerName"`
	CalleeName string              `json:"calleeName"`
	Status     string              `json:"status"`
	Offer      *SessionDescription `json:"offer,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
}

type CallResponse struct {
	Envelope
	Call *Call `json:"call,omitempty"`
}

type StatsRequest struct{}

type StatsResponse struct {
	Envelope
	Identities   int       `json:"identities"`
	PendingCodes int       `json:"pendingCodes"`
	Calls        int       `json:"calls"`
	QueuedEvents int       `json:"queuedEvents"`
	GeneratedAt  time.Time `json:"generatedAt"`
}

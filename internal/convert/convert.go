// Package convert maps domain models to wire types and back.
package convert

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/and161185/callrelay/internal/api"
	"github.com/and161185/callrelay/internal/errs"
	"github.com/and161185/callrelay/internal/model"
)

// Error builds the wire error for err. Internal errors are not described to clients.
func Error(err error) *api.Error {
	if err == nil {
		return nil
	}
	cat := errs.Category(err)
	msg := err.Error()
	if cat == errs.CategoryInternal {
		msg = "internal error"
	}
	return &api.Error{Category: cat, Message: msg}
}

// Failure is the envelope of a failed response.
func Failure(err error) api.Envelope {
	return api.Envelope{Success: false, Error: Error(err)}
}

// FromCandidateRequest extracts the candidate init from a request.
func FromCandidateRequest(in api.CandidateRequest) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        in.Candidate,
		SDPMid:           in.SDPMid,
		SDPMLineIndex:    in.SDPMLineIndex,
		UsernameFragment: in.UsernameFragment,
	}
}

// FromDescription converts a wire description. An empty type stays
// SDPTypeUnknown so the call service can apply the per-operation default;
// any other unrecognized type is invalid input.
func FromDescription(in api.SessionDescription) (webrtc.SessionDescription, error) {
	out := webrtc.SessionDescription{SDP: in.SDP}
	if in.Type == "" {
		return out, nil
	}
	out.Type = webrtc.NewSDPType(in.Type)
	if out.Type == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, fmt.Errorf("sdp type %q: %w", in.Type, errs.ErrInvalidInput)
	}
	return out, nil
}

// ToDescription is the inverse of FromDescription.
func ToDescription(d *webrtc.SessionDescription) *api.SessionDescription {
	if d == nil {
		return nil
	}
	out := &api.SessionDescription{SDP: d.SDP}
	if d.Type != webrtc.SDPTypeUnknown {
		out.Type = d.Type.String()
	}
	return out
}

// ToEvent converts a queued event to its wire form.
func ToEvent(ev model.Event) api.Event {
	out := api.Event{
		Seq:         ev.Seq,
		Type:        string(ev.Kind),
		CallID:      ev.CallID,
		EnqueuedAt:  ev.EnqueuedAt,
		Description: ToDescription(ev.Description),
		Candidate:   ev.Candidate,
	}
	if ev.Incoming != nil {
		out.From = ev.Incoming.From
		out.FromName = ev.Incoming.FromName
	}
	return out
}

// ToEvents never returns nil so the list encodes as [].
func ToEvents(evs []model.Event) []api.Event {
	out := make([]api.Event, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ToEvent(ev))
	}
	return out
}

// FromEvent is the inverse of ToEvent, used by clients.
func FromEvent(in api.Event) (model.Event, error) {
	ev := model.Event{
		Kind:       model.EventKind(in.Type),
		CallID:     in.CallID,
		Seq:        in.Seq,
		EnqueuedAt: in.EnqueuedAt,
		Candidate:  in.Candidate,
	}
	switch ev.Kind {
	case model.EventIncomingCall:
		ev.Incoming = &model.IncomingCall{From: in.From, FromName: in.FromName}
	case model.EventOffer, model.EventAnswer:
		if in.Description == nil {
			return model.Event{}, errors.New("description event without payload")
		}
		d, err := FromDescription(*in.Description)
		if err != nil {
			return model.Event{}, err
		}
		ev.Description = &d
	case model.EventCandidate:
		if ev.Candidate == nil {
			return model.Event{}, errors.New("candidate event without payload")
		}
	default:
		return model.Event{}, errors.New("unknown event type " + in.Type)
	}
	return ev, nil
}

// ToCall converts a call record.
func ToCall(c model.Call) *api.Call {
	return &api.Call{
		ID:         c.ID,
		Caller:     c.Caller,
		Callee:     c.Callee,
		CallerName: c.CallerName,
		CalleeName: c.CalleeName,
		Status:     string(c.Status),
		Offer:      ToDescription(c.Offer),
		CreatedAt:  c.CreatedAt,
	}
}

// ToStats converts an operator snapshot.
func ToStats(s model.Stats) api.StatsResponse {
	return api.StatsResponse{
		Envelope:     api.OK,
		Identities:   s.Identities,
		PendingCodes: s.PendingCodes,
		Calls:        s.Calls,
		QueuedEvents: s.QueuedEvents,
		GeneratedAt:  s.GeneratedAt,
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/pion/webrtc/v4"

	"github.com/and161185/callrelay/internal/errs"
	"github.com/and161185/callrelay/internal/model"
	"github.com/and161185/callrelay/internal/phone"
	"github.com/and161185/callrelay/internal/repository"
)

// CallService creates calls and relays negotiation messages between participants.
type CallService interface {
	// Initiate creates a ringing call from a verified caller and notifies the callee.
	Initiate(ctx context.Context, caller, callee string) (model.Call, error)
	// AttachOffer stores the offer and relays it to the callee.
	AttachOffer(ctx context.Context, callID string, offer webrtc.SessionDescription) error
	// AttachAnswer relays the answer to the caller.
	AttachAnswer(ctx context.Context, callID string, answer webrtc.SessionDescription) error
	// RelayCandidate relays a connectivity candidate to both participants.
	RelayCandidate(ctx context.Context, callID string, candidate webrtc.ICECandidateInit) error
	// Get returns a call by id.
	Get(ctx context.Context, callID string) (model.Call, error)
}

// CallOptions toggles optional registry behavior.
type CallOptions struct {
	// AllowAutoProvisionCallee provisions unknown callees as verified identities.
	AllowAutoProvisionCallee bool
	// ValidateSDP rejects offers and answers whose SDP does not parse.
	ValidateSDP bool
}

type CallServiceImpl struct {
	calls   repository.CallStore
	dir     repository.Directory
	mailbox repository.Mailbox
	opts    CallOptions

	now   func() time.Time
	newID func() (string, error)
}

// NewCallService constructs CallService with required dependencies.
func NewCallService(calls repository.CallStore, dir repository.Directory, mailbox repository.Mailbox, opts CallOptions) *CallServiceImpl {
	return &CallServiceImpl{
		calls:   calls,
		dir:     dir,
		mailbox: mailbox,
		opts:    opts,
		now:     time.Now,
		newID:   newCallID,
	}
}

func newCallID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Initiate checks the caller, resolves the callee, allocates a unique id and
// queues an incoming-call event for the callee. An id collision fails with
// errs.ErrConflict; no retry is attempted here.
func (s *CallServiceImpl) Initiate(ctx context.Context, caller, callee string) (model.Call, error) {
	if err := phone.Validate(caller); err != nil {
		return model.Call{}, err
	}
	if err := phone.Validate(callee); err != nil {
		return model.Call{}, err
	}

	from, err := s.dir.Get(ctx, caller)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Call{}, fmt.Errorf("caller %s not verified: %w", caller, errs.ErrUnauthorized)
		}
		return model.Call{}, err
	}

	to, err := s.dir.Get(ctx, callee)
	if errors.Is(err, errs.ErrNotFound) && s.opts.AllowAutoProvisionCallee {
		to, err = s.dir.EnsureExists(ctx, callee)
	}
	if err != nil {
		return model.Call{}, fmt.Errorf("callee: %w", err)
	}

	id, err := s.newID()
	if err != nil {
		return model.Call{}, err
	}
	c := model.Call{
		ID:         id,
		Caller:     caller,
		Callee:     callee,
		CallerName: from.DisplayName,
		CalleeName: to.DisplayName,
		Status:     model.CallStatusRinging,
		CreatedAt:  s.now(),
	}
	if err := s.calls.Create(ctx, c); err != nil {
		return model.Call{}, err
	}

	s.mailbox.Enqueue(ctx, callee, model.Event{
		Kind:     model.EventIncomingCall,
		CallID:   id,
		Incoming: &model.IncomingCall{From: caller, FromName: from.DisplayName},
	})
	return c, nil
}

// AttachOffer stores the offer (last write wins) and queues it for the callee.
// Both happen under the call lock so the stored offer is the last one queued.
func (s *CallServiceImpl) AttachOffer(ctx context.Context, callID string, offer webrtc.SessionDescription) error {
	if err := s.checkDescription(&offer, webrtc.SDPTypeOffer); err != nil {
		return err
	}
	return s.calls.Update(ctx, callID, func(c *model.Call) error {
		stored := offer
		c.Offer = &stored
		relayed := offer
		s.mailbox.Enqueue(ctx, c.Callee, model.Event{Kind: model.EventOffer, CallID: c.ID, Description: &relayed})
		return nil
	})
}

// AttachAnswer queues the answer for the caller. Answers are not persisted.
func (s *CallServiceImpl) AttachAnswer(ctx context.Context, callID string, answer webrtc.SessionDescription) error {
	if err := s.checkDescription(&answer, webrtc.SDPTypeAnswer); err != nil {
		return err
	}
	return s.calls.Update(ctx, callID, func(c *model.Call) error {
		s.mailbox.Enqueue(ctx, c.Caller, model.Event{Kind: model.EventAnswer, CallID: c.ID, Description: &answer})
		return nil
	})
}

// RelayCandidate queues the candidate for every participant; the relay does
// not track which side produced it.
func (s *CallServiceImpl) RelayCandidate(ctx context.Context, callID string, candidate webrtc.ICECandidateInit) error {
	if candidate.Candidate == "" {
		return fmt.Errorf("empty candidate: %w", errs.ErrInvalidInput)
	}
	return s.calls.Update(ctx, callID, func(c *model.Call) error {
		for _, p := range c.Participants() {
			cand := candidate
			s.mailbox.Enqueue(ctx, p, model.Event{Kind: model.EventCandidate, CallID: c.ID, Candidate: &cand})
		}
		return nil
	})
}

// Get returns a call by id.
func (s *CallServiceImpl) Get(ctx context.Context, callID string) (model.Call, error) {
	return s.calls.Get(ctx, callID)
}

// checkDescription fills a missing type with want and rejects empty or
// mistyped descriptions. With ValidateSDP the body must parse.
func (s *CallServiceImpl) checkDescription(d *webrtc.SessionDescription, want webrtc.SDPType) error {
	if d.SDP == "" {
		return fmt.Errorf("empty sdp: %w", errs.ErrInvalidInput)
	}
	switch d.Type {
	case webrtc.SDPTypeUnknown:
		d.Type = want
	case want:
	case webrtc.SDPTypePranswer:
		if want != webrtc.SDPTypeAnswer {
			return fmt.Errorf("sdp type %s: %w", d.Type, errs.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("sdp type %s: %w", d.Type, errs.ErrInvalidInput)
	}
	if s.opts.ValidateSDP {
		if _, err := d.Unmarshal(); err != nil {
			return fmt.Errorf("sdp: %v: %w", err, errs.ErrInvalidInput)
		}
	}
	return nil
}

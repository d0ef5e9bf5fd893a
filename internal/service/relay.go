package service

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/and161185/callrelay/internal/model"
	"github.com/and161185/callrelay/internal/phone"
	"github.com/and161185/callrelay/internal/repository"
)

// DefaultLongPollMax caps how long a single event wait may block.
const DefaultLongPollMax = 30 * time.Second

// RelayService is the operation surface exposed by the transports.
type RelayService interface {
	RequestCode(ctx context.Context, phone string) error
	RedeemCode(ctx context.Context, in RedeemInput) (model.Identity, model.Device, error)
	RegisterDevice(ctx context.Context, phone, deviceToken string) (model.Device, error)
	InitiateCall(ctx context.Context, from, to string) (model.Call, error)
	SubmitOffer(ctx context.Context, callID string, offer webrtc.SessionDescription) error
	SubmitAnswer(ctx context.Context, callID string, answer webrtc.SessionDescription) error
	SubmitCandidate(ctx context.Context, callID string, candidate webrtc.ICECandidateInit) error
	// DrainEvents returns and clears the mailbox; unknown numbers yield an empty list.
	DrainEvents(ctx context.Context, phone string) []model.Event
	// WaitEvents blocks up to wait (capped) for at least one event.
	WaitEvents(ctx context.Context, phone string, wait time.Duration) ([]model.Event, error)
	Call(ctx context.Context, callID string) (model.Call, error)
	Stats(ctx context.Context) model.Stats
}

// RedeemInput is the payload of a code redemption.
type RedeemInput struct {
	PhoneNumber string
	Code        string
	DisplayName string
	DeviceToken string
}

// RelayDeps are the collaborators of Relay.
type RelayDeps struct {
	Verification VerificationService
	Calls        CallService
	Directory    repository.Directory
	Codes        repository.CodeStore
	CallStore    repository.CallStore
	Mailbox      repository.Mailbox
}

// Relay composes the verification ledger, the call registry and the mailboxes.
type Relay struct {
	verify  VerificationService
	calls   CallService
	dir     repository.Directory
	codes   repository.CodeStore
	store   repository.CallStore
	mailbox repository.Mailbox

	longPollMax time.Duration
	log         *zap.Logger
	now         func() time.Time
}

// NewRelay constructs a Relay. longPollMax <= 0 selects DefaultLongPollMax.
func NewRelay(deps RelayDeps, longPollMax time.Duration, log *zap.Logger) *Relay {
	if longPollMax <= 0 {
		longPollMax = DefaultLongPollMax
	}
	return &Relay{
		verify:      deps.Verification,
		calls:       deps.Calls,
		dir:         deps.Directory,
		codes:       deps.Codes,
		store:       deps.CallStore,
		mailbox:     deps.Mailbox,
		longPollMax: longPollMax,
		log:         log,
		now:         time.Now,
	}
}

var _ RelayService = (*Relay)(nil)

// RequestCode issues a code; the code itself never leaves the relay.
func (r *Relay) RequestCode(ctx context.Context, number string) error {
	_, err := r.verify.RequestCode(ctx, number)
	return err
}

func (r *Relay) RedeemCode(ctx context.Context, in RedeemInput) (model.Identity, model.Device, error) {
	ident, dev, err := r.verify.RedeemCode(ctx, in.PhoneNumber, in.Code, in.DisplayName, in.DeviceToken)
	if err != nil {
		return model.Identity{}, model.Device{}, err
	}
	r.log.Info("phone verified", zap.String("phone", ident.PhoneNumber), zap.Stringer("identity", ident.ID))
	return ident, dev, nil
}

func (r *Relay) RegisterDevice(ctx context.Context, number, deviceToken string) (model.Device, error) {
	if err := phone.Validate(number); err != nil {
		return model.Device{}, err
	}
	return r.dir.RegisterDevice(ctx, number, deviceToken)
}

func (r *Relay) InitiateCall(ctx context.Context, from, to string) (model.Call, error) {
	c, err := r.calls.Initiate(ctx, from, to)
	if err != nil {
		return model.Call{}, err
	}
	r.log.Info("call initiated", zap.String("call", c.ID), zap.String("from", from), zap.String("to", to))
	return c, nil
}

func (r *Relay) SubmitOffer(ctx context.Context, callID string, offer webrtc.SessionDescription) error {
	return r.calls.AttachOffer(ctx, callID, offer)
}

func (r *Relay) SubmitAnswer(ctx context.Context, callID string, answer webrtc.SessionDescription) error {
	return r.calls.AttachAnswer(ctx, callID, answer)
}

func (r *Relay) SubmitCandidate(ctx context.Context, callID string, candidate webrtc.ICECandidateInit) error {
	return r.calls.RelayCandidate(ctx, callID, candidate)
}

func (r *Relay) DrainEvents(ctx context.Context, number string) []model.Event {
	return r.mailbox.Drain(ctx, number)
}

// WaitEvents returns immediately when events are queued. Otherwise it blocks
// until one arrives, wait elapses or ctx is done; a timeout yields an empty list.
// Numbers that cannot own a mailbox are drained without blocking.
func (r *Relay) WaitEvents(ctx context.Context, number string, wait time.Duration) ([]model.Event, error) {
	if wait <= 0 || !phone.Valid(number) {
		return r.mailbox.Drain(ctx, number), nil
	}
	if wait > r.longPollMax {
		wait = r.longPollMax
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return r.mailbox.Wait(ctx, number)
}

func (r *Relay) Call(ctx context.Context, callID string) (model.Call, error) {
	return r.calls.Get(ctx, callID)
}

func (r *Relay) Stats(_ context.Context) model.Stats {
	return model.Stats{
		Identities:   r.dir.Count(),
		PendingCodes: r.codes.Count(),
		Calls:        r.store.Count(),
		QueuedEvents: r.mailbox.Pending(),
		GeneratedAt:  r.now(),
	}
}

// Package grpcserver exposes the relay as the callrelay.v1.Relay gRPC service.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/callrelay/internal/api"
	"github.com/and161185/callrelay/internal/auth"
	"github.com/and161185/callrelay/internal/convert"
	"github.com/and161185/callrelay/internal/errs"
	"github.com/and161185/callrelay/internal/phone"
	"github.com/and161185/callrelay/internal/service"
)

// DefaultWatchPoll is how long one WatchEvents iteration waits for events.
const DefaultWatchPoll = 25 * time.Second

// Server wires the relay into gRPC handlers.
type Server struct {
	relay     service.RelayService
	tokens    *auth.Tokens
	log       *zap.Logger
	watchPoll time.Duration
}

var _ RelayServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(relay service.RelayService, tokens *auth.Tokens, log *zap.Logger) *Server {
	return &Server{relay: relay, tokens: tokens, log: log, watchPoll: DefaultWatchPoll}
}

// toStatus maps a relay error to a gRPC status error carrying its message.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		code = codes.InvalidArgument
	case errors.Is(err, errs.ErrMismatch):
		code = codes.Unauthenticated
	case errors.Is(err, errs.ErrUnauthorized):
		code = codes.PermissionDenied
	case errors.Is(err, errs.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, errs.ErrConflict):
		code = codes.AlreadyExists
	case errors.Is(err, errs.ErrExpired):
		code = codes.FailedPrecondition
	case errors.Is(err, errs.ErrRateLimited):
		code = codes.ResourceExhausted
	case errors.Is(err, errs.ErrNotificationFailed):
		code = codes.Unavailable
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

// --- Verification ---

// RequestCode issues a verification code for the number.
func (s *Server) RequestCode(ctx context.Context, req *api.RequestCodeRequest) (*api.RequestCodeResponse, error) {
	if err := s.relay.RequestCode(ctx, req.PhoneNumber); err != nil {
		return nil, toStatus(err)
	}
	return &api.RequestCodeResponse{Envelope: api.OK, Message: "verification code sent"}, nil
}

// RedeemCode redeems a code and returns the identity and device ids.
func (s *Server) RedeemCode(ctx context.Context, req *api.RedeemCodeRequest) (*api.RedeemCodeResponse, error) {
	ident, dev, err := s.relay.RedeemCode(ctx, service.RedeemInput{
		PhoneNumber: req.PhoneNumber,
		Code:        req.Code,
		DisplayName: req.DisplayName,
		DeviceToken: req.DeviceToken,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.RedeemCodeResponse{
		Envelope:    api.OK,
		IdentityID:  ident.ID.String(),
		DeviceID:    dev.ID.String(),
		DisplayName: ident.DisplayName,
	}, nil
}

// RegisterDevice refreshes the device token of a verified number.
func (s *Server) RegisterDevice(ctx context.Context, req *api.RegisterDeviceRequest) (*api.RegisterDeviceResponse, error) {
	dev, err := s.relay.RegisterDevice(ctx, req.PhoneNumber, req.DeviceToken)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.RegisterDeviceResponse{Envelope: api.OK, DeviceID: dev.ID.String()}, nil
}

// --- Calls ---

func (s *Server) InitiateCall(ctx context.Context, req *api.InitiateCallRequest) (*api.InitiateCallResponse, error) {
	c, err := s.relay.InitiateCall(ctx, req.From, req.To)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.InitiateCallResponse{
		Envelope:   api.OK,
		CallID:     c.ID,
		CalleeName: c.CalleeName,
		CallStatus: string(c.Status),
	}, nil
}

func (s *Server) SubmitOffer(ctx context.Context, req *api.OfferRequest) (*api.Ack, error) {
	desc, err := convert.FromDescription(req.Offer)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.relay.SubmitOffer(ctx, req.CallID, desc); err != nil {
		return nil, toStatus(err)
	}
	return &api.Ack{Envelope: api.OK}, nil
}

func (s *Server) SubmitAnswer(ctx context.Context, req *api.AnswerRequest) (*api.Ack, error) {
	desc, err := convert.FromDescription(req.Answer)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.relay.SubmitAnswer(ctx, req.CallID, desc); err != nil {
		return nil, toStatus(err)
	}
	return &api.Ack{Envelope: api.OK}, nil
}

func (s *Server) SubmitCandidate(ctx context.Context, req *api.CandidateRequest) (*api.Ack, error) {
	if err := s.relay.SubmitCandidate(ctx, req.CallID, convert.FromCandidateRequest(*req)); err != nil {
		return nil, toStatus(err)
	}
	return &api.Ack{Envelope: api.OK}, nil
}

// --- Events ---

// DrainEvents drains the mailbox, long-polling when req.Wait is set.
func (s *Server) DrainEvents(ctx context.Context, req *api.EventsRequest) (*api.EventsResponse, error) {
	wait, err := parseWait(req.Wait)
	if err != nil {
		return nil, toStatus(err)
	}
	evs, err := s.relay.WaitEvents(ctx, req.PhoneNumber, wait)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.EventsResponse{Envelope: api.OK, Events: convert.ToEvents(evs)}, nil
}

// WatchEvents streams every batch drained from the mailbox until the client
// goes away. Each batch is removed from the mailbox before it is sent.
func (s *Server) WatchEvents(req *api.EventsRequest, stream grpc.ServerStreamingServer[api.EventsResponse]) error {
	if err := phone.Validate(req.PhoneNumber); err != nil {
		return toStatus(err)
	}
	poll := s.watchPoll
	if req.Wait != "" {
		d, err := parseWait(req.Wait)
		if err != nil {
			return toStatus(err)
		}
		if d > 0 {
			poll = d
		}
	}

	ctx := stream.Context()
	for {
		evs, err := s.relay.WaitEvents(ctx, req.PhoneNumber, poll)
		if err != nil {
			return toStatus(err)
		}
		if len(evs) > 0 {
			if err := stream.Send(&api.EventsResponse{Envelope: api.OK, Events: convert.ToEvents(evs)}); err != nil {
				s.log.Warn("watch send failed; events dropped",
					zap.String("phone", req.PhoneNumber), zap.Int("events", len(evs)), zap.Error(err))
				return err
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("bad wait %q: %w", raw, errs.ErrInvalidInput)
	}
	return d, nil
}

// --- Operator ---

// operator verifies "authorization: Bearer <JWT>" from incoming metadata.
func (s *Server) operator(ctx context.Context) (context.Context, error) {
	tok, err := auth.BearerFromMD(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	sub, err := s.tokens.Verify(tok)
	if err != nil {
		return nil, toStatus(err)
	}
	return auth.WithSubject(ctx, sub), nil
}

// Stats returns an operator snapshot.
func (s *Server) Stats(ctx context.Context, _ *api.StatsRequest) (*api.StatsResponse, error) {
	ctx, err := s.operator(ctx)
	if err != nil {
		return nil, err
	}
	out := convert.ToStats(s.relay.Stats(ctx))
	return &out, nil
}

// GetCall returns a call record by id.
func (s *Server) GetCall(ctx context.Context, req *api.CallRequest) (*api.CallResponse, error) {
	ctx, err := s.operator(ctx)
	if err != nil {
		return nil, err
	}
	c, err := s.relay.Call(ctx, req.CallID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.CallResponse{Envelope: api.OK, Call: convert.ToCall(c)}, nil
}

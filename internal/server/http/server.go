// Package httpserver exposes the relay over JSON/HTTP.
package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/callrelay/internal/api"
	"github.com/and161185/callrelay/internal/auth"
	"github.com/and161185/callrelay/internal/convert"
	"github.com/and161185/callrelay/internal/errs"
	"github.com/and161185/callrelay/internal/service"
)

const maxBodyBytes = 1 << 20

// Server holds the HTTP handler state.
type Server struct {
	relay  service.RelayService
	tokens *auth.Tokens
	log    *zap.Logger
	router chi.Router
}

// New builds the router. Admin routes reject every request when tokens has no key.
func New(relay service.RelayService, tokens *auth.Tokens, log *zap.Logger) *Server {
	s := &Server{relay: relay, tokens: tokens, log: log}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", s.healthz)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/request-code", s.requestCode)
		r.Post("/auth/redeem-code", s.redeemCode)
		r.Post("/devices/register", s.registerDevice)
		r.Post("/calls", s.initiateCall)
		r.Post("/calls/offer", s.submitOffer)
		r.Post("/calls/answer", s.submitAnswer)
		r.Post("/calls/candidate", s.submitCandidate)
		r.Get("/events/{phoneNumber}", s.events)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireOperator)
		r.Get("/stats", s.stats)
		r.Get("/calls/{callId}", s.call)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// statusFor maps an error category to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errs.ErrExpired):
		return http.StatusGone
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errs.ErrNotificationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, convert.Failure(err))
}

// decode reads a JSON body. Malformed input is invalid-input.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("malformed body: %v: %w", err, errs.ErrInvalidInput)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.OK)
}

func (s *Server) requestCode(w http.ResponseWriter, r *http.Request) {
	var req api.RequestCodeRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.relay.RequestCode(r.Context(), req.PhoneNumber); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.RequestCodeResponse{Envelope: api.OK, Message: "verification code sent"})
}

func (s *Server) redeemCode(w http.ResponseWriter, r *http.Request) {
	var req api.RedeemCodeRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ident, dev, err := s.relay.RedeemCode(r.Context(), service.RedeemInput{
		PhoneNumber: req.PhoneNumber,
		Code:        req.Code,
		DisplayName: req.DisplayName,
		DeviceToken: req.DeviceToken,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.RedeemCodeResponse{
		Envelope:    api.OK,
		IdentityID:  ident.ID.String(),
		DeviceID:    dev.ID.String(),
		DisplayName: ident.DisplayName,
	})
}

func (s *Server) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterDeviceRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	dev, err := s.relay.RegisterDevice(r.Context(), req.PhoneNumber, req.DeviceToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.RegisterDeviceResponse{Envelope: api.OK, DeviceID: dev.ID.String()})
}

func (s *Server) initiateCall(w http.ResponseWriter, r *http.Request) {
	var req api.InitiateCallRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.relay.InitiateCall(r.Context(), req.From, req.To)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.InitiateCallResponse{
		Envelope:   api.OK,
		CallID:     c.ID,
		CalleeName: c.CalleeName,
		CallStatus: string(c.Status),
	})
}

func (s *Server) submitOffer(w http.ResponseWriter, r *http.Request) {
	var req api.OfferRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	desc, err := convert.FromDescription(req.Offer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.relay.SubmitOffer(r.Context(), req.CallID, desc); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Ack{Envelope: api.OK})
}

func (s *Server) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req api.AnswerRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	desc, err := convert.FromDescription(req.Answer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.relay.SubmitAnswer(r.Context(), req.CallID, desc); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Ack{Envelope: api.OK})
}

func (s *Server) submitCandidate(w http.ResponseWriter, r *http.Request) {
	var req api.CandidateRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.relay.SubmitCandidate(r.Context(), req.CallID, convert.FromCandidateRequest(req)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Ack{Envelope: api.OK})
}

// events drains the mailbox. With ?wait=<duration> it long-polls.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "phoneNumber")

	var wait time.Duration
	if raw := r.URL.Query().Get("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			s.fail(w, r, fmt.Errorf("bad wait %q: %w", raw, errs.ErrInvalidInput))
			return
		}
		wait = d
	}

	evs, err := s.relay.WaitEvents(r.Context(), number, wait)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.EventsResponse{Envelope: api.OK, Events: convert.ToEvents(evs)})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, convert.ToStats(s.relay.Stats(r.Context())))
}

func (s *Server) call(w http.ResponseWriter, r *http.Request) {
	c, err := s.relay.Call(r.Context(), chi.URLParam(r, "callId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CallResponse{Envelope: api.OK, Call: convert.ToCall(c)})
}

// Package service contains the verification ledger, the call registry and
// the relay facade composed from them.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/callrelay/internal/crypto"
	"github.com/and161185/callrelay/internal/errs"
	"github.com/and161185/callrelay/internal/limiter"
	"github.com/and161185/callrelay/internal/model"
	"github.com/and161185/callrelay/internal/notify"
	"github.com/and161185/callrelay/internal/phone"
	"github.com/and161185/callrelay/internal/repository"
)

// DefaultCodeTTL is how long an issued code stays redeemable.
const DefaultCodeTTL = 5 * time.Minute

// VerificationService issues and redeems one-time codes.
type VerificationService interface {
	// RequestCode issues a fresh code for phone and hands it to the notifier.
	// On ErrNotificationFailed the code is still returned and stays redeemable.
	RequestCode(ctx context.Context, phone string) (code string, err error)
	// RedeemCode consumes a matching code and upserts the identity/device pair.
	RedeemCode(ctx context.Context, phone, code, displayName, deviceToken string) (model.Identity, model.Device, error)
	// Sweep drops expired entries.
	Sweep(ctx context.Context) int
}

type VerificationServiceImpl struct {
	codes    repository.CodeStore
	dir      repository.Directory
	notifier notify.Notifier
	hasher   *crypto.CodeHasher
	lim      limiter.Limiter
	ttl      time.Duration
	log      *zap.Logger

	now     func() time.Time
	genCode func() (string, error)
}

// NewVerificationService constructs VerificationService with required dependencies.
func NewVerificationService(codes repository.CodeStore, dir repository.Directory, notifier notify.Notifier,
	hasher *crypto.CodeHasher, lim limiter.Limiter, ttl time.Duration, log *zap.Logger) *VerificationServiceImpl {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	if lim == nil {
		lim = limiter.Nop{}
	}
	return &VerificationServiceImpl{
		codes:    codes,
		dir:      dir,
		notifier: notifier,
		hasher:   hasher,
		lim:      lim,
		ttl:      ttl,
		log:      log,
		now:      time.Now,
		genCode:  crypto.GenerateCode,
	}
}

// RequestCode overwrites any pending entry for the number. The notifier runs
// after the entry is stored and outside any store lock.
func (s *VerificationServiceImpl) RequestCode(ctx context.Context, number string) (string, error) {
	if err := phone.Validate(number); err != nil {
		return "", err
	}
	code, err := s.genCode()
	if err != nil {
		return "", err
	}
	now := s.now()
	v := model.Verification{
		PhoneNumber: number,
		CodeHash:    s.hasher.Hash(number, code),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := s.codes.Put(ctx, v); err != nil {
		return "", err
	}

	receipt, err := s.notifier.Notify(ctx, number, fmt.Sprintf("Your verification code is %s", code))
	if err != nil {
		s.log.Warn("notify failed", zap.String("phone", number), zap.Error(err))
		return code, fmt.Errorf("%w: %v", errs.ErrNotificationFailed, err)
	}
	if !receipt.Delivered {
		s.log.Warn("notification not delivered", zap.String("phone", number), zap.String("ref", receipt.ReferenceID))
		return code, fmt.Errorf("%w: not delivered (ref %q)", errs.ErrNotificationFailed, receipt.ReferenceID)
	}
	return code, nil
}

// RedeemCode checks and consumes the pending entry in one atomic step.
// Expired entries are deleted; mismatches keep the entry for retry.
func (s *VerificationServiceImpl) RedeemCode(ctx context.Context, number, code, displayName, deviceToken string) (model.Identity, model.Device, error) {
	if err := phone.Validate(number); err != nil {
		return model.Identity{}, model.Device{}, err
	}
	if code == "" {
		return model.Identity{}, model.Device{}, fmt.Errorf("empty code: %w", errs.ErrInvalidInput)
	}

	allowed, retry, err := s.lim.Allow(ctx, number)
	if err != nil {
		return model.Identity{}, model.Device{}, err
	}
	if !allowed {
		return model.Identity{}, model.Device{}, fmt.Errorf("retry in %s: %w", retry.Round(time.Second), errs.ErrRateLimited)
	}

	now := s.now()
	err = s.codes.Resolve(ctx, number, func(v model.Verification) (bool, error) {
		if v.Expired(now) {
			return true, errs.ErrExpired
		}
		if !s.hasher.Verify(number, code, v.CodeHash) {
			return false, errs.ErrMismatch
		}
		return true, nil
	})
	if errors.Is(err, errs.ErrMismatch) {
		if blocked, dur, ferr := s.lim.Failure(ctx, number); ferr == nil && blocked {
			s.log.Warn("redemption locked", zap.String("phone", number), zap.Duration("for", dur))
		}
		return model.Identity{}, model.Device{}, err
	}
	if err != nil {
		return model.Identity{}, model.Device{}, err
	}

	// Success: reset counters (best-effort).
	_ = s.lim.Success(ctx, number)

	return s.dir.Upsert(ctx, number, displayName, deviceToken)
}

// Sweep removes entries whose validity window has passed.
func (s *VerificationServiceImpl) Sweep(ctx context.Context) int {
	return s.codes.DeleteExpired(ctx, s.now())
}

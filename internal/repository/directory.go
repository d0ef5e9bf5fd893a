// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/callrelay/internal/model"
)

// Directory maps phone numbers to verified identities and their devices.
type Directory interface {
	// Upsert creates the identity/device pair or updates non-empty fields of an existing one.
	Upsert(ctx context.Context, phone, displayName, deviceToken string) (model.Identity, model.Device, error)
	// Get loads an identity by phone number.
	Get(ctx context.Context, phone string) (model.Identity, error)
	// IsVerified reports whether an identity exists for phone.
	IsVerified(ctx context.Context, phone string) bool
	// EnsureExists returns the identity for phone, provisioning one if absent.
	EnsureExists(ctx context.Context, phone string) (model.Identity, error)
	// RegisterDevice refreshes the device bound to an existing identity.
	RegisterDevice(ctx context.Context, phone, deviceToken string) (model.Device, error)
	// Count returns the number of identities.
	Count() int
}

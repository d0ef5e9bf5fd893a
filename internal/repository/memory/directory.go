// Package memory contains in-memory implementations of repository interfaces.
// State lives for the process lifetime only.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/and161185/callrelay/internal/errs"
	"github.com/and161185/callrelay/internal/model"
	"github.com/gofrs/uuid/v5"
)

// Directory implements repository.Directory. Identity and device are stored
// together so they are created and kept as a pair.
type Directory struct {
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]*directoryEntry
}

type directoryEntry struct {
	identity model.Identity
	device   model.Device
}

// NewDirectory constructs an empty directory.
func NewDirectory() *Directory {
	return &Directory{now: time.Now, entries: make(map[string]*directoryEntry)}
}

// Upsert creates both records if absent. Otherwise ids are preserved and the
// name and token are only overwritten by non-empty values.
func (d *Directory) Upsert(_ context.Context, phone, displayName, deviceToken string) (model.Identity, model.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[phone]; ok {
		if displayName != "" {
			e.identity.DisplayName = displayName
		}
		if deviceToken != "" {
			e.device.Token = deviceToken
		}
		e.device.RegisteredAt = d.now()
		return e.identity, e.device, nil
	}

	e, err := d.newEntry(phone, displayName, deviceToken)
	if err != nil {
		return model.Identity{}, model.Device{}, err
	}
	d.entries[phone] = e
	return e.identity, e.device, nil
}

// Get loads an identity by phone number.
func (d *Directory) Get(_ context.Context, phone string) (model.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.entries[phone]
	if !ok {
		return model.Identity{}, fmt.Errorf("identity %s: %w", phone, errs.ErrNotFound)
	}
	return e.identity, nil
}

// IsVerified reports whether an identity exists; identities are never unverified.
func (d *Directory) IsVerified(_ context.Context, phone string) bool {
	d.mu.RLock()
	_, ok := d.entries[phone]
	d.mu.RUnlock()
	return ok
}

// EnsureExists returns the identity for phone, provisioning a verified one
// named after the number and without a device token when absent.
func (d *Directory) EnsureExists(_ context.Context, phone string) (model.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[phone]; ok {
		return e.identity, nil
	}
	e, err := d.newEntry(phone, "", "")
	if err != nil {
		return model.Identity{}, err
	}
	d.entries[phone] = e
	return e.identity, nil
}

// RegisterDevice refreshes the device of an existing identity. The device id
// is preserved and an empty token never clears a present one.
func (d *Directory) RegisterDevice(_ context.Context, phone, deviceToken string) (model.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[phone]
	if !ok {
		return model.Device{}, fmt.Errorf("identity %s: %w", phone, errs.ErrNotFound)
	}
	if deviceToken != "" {
		e.device.Token = deviceToken
	}
	e.device.RegisteredAt = d.now()
	return e.device, nil
}

// Count returns the number of identities.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func (d *Directory) newEntry(phone, displayName, deviceToken string) (*directoryEntry, error) {
	identityID, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	deviceID, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = phone
	}
	now := d.now()
	return &directoryEntry{
		identity: model.Identity{
			ID:          identityID,
			PhoneNumber: phone,
			DisplayName: displayName,
			Verified:    true,
			CreatedAt:   now,
		},
		device: model.Device{
			ID:           deviceID,
			PhoneNumber:  phone,
			Token:        deviceToken,
			RegisteredAt: now,
		},
	}, nil
}

// Package fake is the in-memory lock vendor adapter used in development
// and tests. It keeps real per-key state so issue/revoke/status round
// trips behave like the vendor cloud, and its failure switches let tests
// drive the orchestrators through vendor outages.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stayos/roomkeys/internal/gateway"
)

type keyEntry struct {
	token      string
	roomNumber string
	validFrom  time.Time
	validUntil time.Time
	revoked    bool
}

type Vendor struct {
	mu          sync.Mutex
	byRef       map[string]*keyEntry
	byToken     map[string]*keyEntry
	unavailable bool
	rejectIssue bool
}

var _ gateway.LockVendor = (*Vendor)(nil)

func New() *Vendor {
	return &Vendor{
		byRef:   make(map[string]*keyEntry),
		byToken: make(map[string]*keyEntry),
	}
}

// SetUnavailable simulates the vendor cloud being unreachable.
func (v *Vendor) SetUnavailable(down bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unavailable = down
}

// SetRejectIssue makes subsequent IssueKey calls fail definitively.
func (v *Vendor) SetRejectIssue(reject bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejectIssue = reject
}

func (v *Vendor) IssueKey(ctx context.Context, keyRef, roomNumber string, validFrom, validUntil time.Time) (*gateway.IssueResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.unavailable {
		return nil, gateway.ErrUnavailable
	}
	if v.rejectIssue {
		return nil, gateway.ErrRejected
	}

	// Issuance deduplicates on keyRef, like the real vendor.
	if entry, ok := v.byRef[keyRef]; ok && !entry.revoked {
		return &gateway.IssueResult{VendorKeyToken: entry.token, AckTime: time.Now().UTC()}, nil
	}

	entry := &keyEntry{
		token:      "fk-" + uuid.NewString(),
		roomNumber: roomNumber,
		validFrom:  validFrom,
		validUntil: validUntil,
	}
	v.byRef[keyRef] = entry
	v.byToken[entry.token] = entry
	return &gateway.IssueResult{
		VendorKeyToken: entry.token,
		AckTime:        time.Now().UTC(),
	}, nil
}

func (v *Vendor) RevokeKey(ctx context.Context, vendorToken string) (*gateway.RevokeResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.unavailable {
		return nil, gateway.ErrUnavailable
	}

	entry, ok := v.byToken[vendorToken]
	if !ok {
		return &gateway.RevokeResult{AckTime: time.Now().UTC(), AlreadyRevoked: true}, nil
	}
	already := entry.revoked
	entry.revoked = true
	return &gateway.RevokeResult{AckTime: time.Now().UTC(), AlreadyRevoked: already}, nil
}

func (v *Vendor) ExtendKey(ctx context.Context, vendorToken string, validUntil time.Time) (*gateway.ExtendResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.unavailable {
		return nil, gateway.ErrUnavailable
	}

	entry, ok := v.byToken[vendorToken]
	if !ok || entry.revoked {
		return nil, gateway.ErrRejected
	}
	entry.validUntil = validUntil
	return &gateway.ExtendResult{AckTime: time.Now().UTC()}, nil
}

func (v *Vendor) KeyStatus(ctx context.Context, keyRef string) (*gateway.StatusResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.unavailable {
		return nil, gateway.ErrUnavailable
	}

	entry, ok := v.byRef[keyRef]
	if !ok {
		return &gateway.StatusResult{State: gateway.KeyStateUnknown}, nil
	}
	if entry.revoked {
		return &gateway.StatusResult{State: gateway.KeyStateRevoked, VendorKeyToken: entry.token}, nil
	}
	return &gateway.StatusResult{State: gateway.KeyStateActive, VendorKeyToken: entry.token}, nil
}

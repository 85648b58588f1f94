package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stayos/roomkeys/internal/domain"
	"github.com/stayos/roomkeys/internal/repository/memory"
)

func TestLedgerLifecycle(t *testing.T) {
	s := memory.NewLedger()
	ctx := context.Background()

	key, err := s.Create(ctx, "ci-1", "res-1", "101", time.Now(), time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if key.State != domain.KeyPending {
		t.Fatalf("state = %q, want pending", key.State)
	}

	active, err := s.MarkActive(ctx, key.KeyID, "tok-1", time.Now())
	if err != nil {
		t.Fatalf("MarkActive: %v", err)
	}
	if active.State != domain.KeyActive || active.VendorKeyToken != "tok-1" {
		t.Fatalf("active = %+v", active)
	}

	revoked, err := s.MarkRevoked(ctx, key.KeyID, domain.ReasonGuestCheckout, time.Now())
	if err != nil {
		t.Fatalf("MarkRevoked: %v", err)
	}
	if revoked.State != domain.KeyRevoked {
		t.Fatalf("state = %q, want revoked", revoked.State)
	}
}

func TestLedgerRejectsIllegalTransitions(t *testing.T) {
	s := memory.NewLedger()
	ctx := context.Background()

	key, _ := s.Create(ctx, "ci-1", "res-1", "101", time.Now(), time.Now().Add(time.Hour))

	// Pending keys cannot be revoked directly.
	if _, err := s.MarkRevoked(ctx, key.KeyID, domain.ReasonStaffOverride, time.Now()); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("revoke pending: err = %v, want ErrInvalidState", err)
	}

	s.MarkActive(ctx, key.KeyID, "tok-1", time.Now())

	// Active keys cannot fail; failure is an issuance-phase outcome.
	if _, err := s.MarkFailed(ctx, key.KeyID, "late"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("fail active: err = %v, want ErrInvalidState", err)
	}

	s.MarkRevoked(ctx, key.KeyID, domain.ReasonStaffOverride, time.Now())

	// Terminal states absorb: re-activation is rejected, re-revocation is
	// an idempotent no-op.
	if _, err := s.MarkActive(ctx, key.KeyID, "tok-2", time.Now()); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("reactivate revoked: err = %v, want ErrInvalidState", err)
	}
	again, err := s.MarkRevoked(ctx, key.KeyID, domain.ReasonGuestCheckout, time.Now())
	if err != nil {
		t.Fatalf("re-revoke: %v", err)
	}
	if again.RevocationReason != domain.ReasonStaffOverride {
		t.Errorf("reason rewritten to %q", again.RevocationReason)
	}
}

func TestLedgerOneLiveKeyPerRoom(t *testing.T) {
	s := memory.NewLedger()
	ctx := context.Background()

	first, err := s.Create(ctx, "ci-1", "res-1", "101", time.Now(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create(ctx, "ci-2", "res-2", "101", time.Now(), time.Now().Add(time.Hour)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second live key: err = %v, want ErrConflict", err)
	}

	// A failed key frees the room.
	if _, err := s.MarkFailed(ctx, first.KeyID, "vendor_rejected"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if _, err := s.Create(ctx, "ci-2", "res-2", "101", time.Now(), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Create after failure: %v", err)
	}
}

func TestLedgerConcurrentCreateSingleWinner(t *testing.T) {
	s := memory.NewLedger()
	ctx := context.Background()

	const attempts = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Create(ctx, "ci-1", "res-1", "101", time.Now(), time.Now().Add(time.Hour)); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("created = %d live keys, want exactly 1", created)
	}
}

func TestLedgerFindExpiring(t *testing.T) {
	s := memory.NewLedger()
	ctx := context.Background()
	now := time.Now().UTC()

	expired, _ := s.Create(ctx, "ci-1", "res-1", "101", now.Add(-2*time.Hour), now.Add(-time.Hour))
	s.MarkActive(ctx, expired.KeyID, "tok-1", now)

	current, _ := s.Create(ctx, "ci-2", "res-2", "102", now.Add(-time.Hour), now.Add(time.Hour))
	s.MarkActive(ctx, current.KeyID, "tok-2", now)

	// Pending keys never expire into the sweep, whatever their window.
	s.Create(ctx, "ci-3", "res-3", "103", now.Add(-2*time.Hour), now.Add(-time.Hour))

	keys, err := s.FindExpiring(ctx, now)
	if err != nil {
		t.Fatalf("FindExpiring: %v", err)
	}
	if len(keys) != 1 || keys[0].KeyID != expired.KeyID {
		t.Fatalf("expiring = %+v, want only %s", keys, expired.KeyID)
	}
}

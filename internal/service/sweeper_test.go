package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stayos/roomkeys/internal/domain"
	"github.com/stayos/roomkeys/internal/service"
)

// seedActiveKey installs an active key directly in the ledger with the
// given validity window.
func seedActiveKey(t *testing.T, f *fixture, checkinID, reservationID, room string, validFrom, validUntil time.Time) *domain.KeyRecord {
	t.Helper()
	ctx := context.Background()

	key, err := f.ledger.Create(ctx, checkinID, reservationID, room, validFrom, validUntil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	issue, err := f.vendor.IssueKey(ctx, key.KeyID, room, validFrom, validUntil)
	if err != nil {
		t.Fatalf("IssueKey: %v", err)
	}
	active, err := f.ledger.MarkActive(ctx, key.KeyID, issue.VendorKeyToken, time.Now().UTC())
	if err != nil {
		t.Fatalf("MarkActive: %v", err)
	}
	return active
}

func TestSweepRevokesExpiredKeys(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	f.reservations.Seed(domain.Reservation{ID: "res-1", RoomNumber: "101", CheckoutTime: now.Add(-time.Hour), Occupied: true})
	f.reservations.Seed(domain.Reservation{ID: "res-2", RoomNumber: "102", CheckoutTime: now.Add(-time.Hour), Occupied: true})
	f.reservations.Seed(domain.Reservation{ID: "res-3", RoomNumber: "103", CheckoutTime: now.Add(24 * time.Hour), Occupied: true})

	expired1 := seedActiveKey(t, f, "ci-1", "res-1", "101", now.Add(-24*time.Hour), now.Add(-time.Hour))
	expired2 := seedActiveKey(t, f, "ci-2", "res-2", "102", now.Add(-24*time.Hour), now.Add(-2*time.Hour))
	current := seedActiveKey(t, f, "ci-3", "res-3", "103", now.Add(-time.Hour), now.Add(24*time.Hour))

	sweeper := service.NewSweeper(f.ledger, f.revoker, time.Minute, 2)
	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	for _, id := range []string{expired1.KeyID, expired2.KeyID} {
		key, _ := f.ledger.GetByID(ctx, id)
		if key.State != domain.KeyRevoked {
			t.Errorf("key %s state = %q, want revoked", id, key.State)
		}
		if key.RevocationReason != domain.ReasonExpired {
			t.Errorf("key %s reason = %q, want expired", id, key.RevocationReason)
		}
	}

	// Unexpired key untouched.
	key, _ := f.ledger.GetByID(ctx, current.KeyID)
	if key.State != domain.KeyActive {
		t.Errorf("current key state = %q, want active", key.State)
	}

	// Expired rooms are vacated.
	for _, id := range []string{"res-1", "res-2"} {
		r, _ := f.reservations.GetByID(ctx, id)
		if r.Occupied {
			t.Errorf("reservation %s still occupied after sweep", id)
		}
	}
	if !f.bus.published("key.expired") {
		t.Error("expected key.expired event")
	}
}

// A vendor outage defers the whole pass without error; the keys stay
// active and the next pass picks them up.
func TestSweepVendorUnavailable(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	f.reservations.Seed(domain.Reservation{ID: "res-1", RoomNumber: "101", CheckoutTime: now.Add(-time.Hour), Occupied: true})
	expired := seedActiveKey(t, f, "ci-1", "res-1", "101", now.Add(-24*time.Hour), now.Add(-time.Hour))

	f.vendor.SetUnavailable(true)
	sweeper := service.NewSweeper(f.ledger, f.revoker, time.Minute, 2)
	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep with vendor down: %v", err)
	}

	key, _ := f.ledger.GetByID(ctx, expired.KeyID)
	if key.State != domain.KeyActive {
		t.Fatalf("state = %q, want active while vendor down", key.State)
	}

	f.vendor.SetUnavailable(false)
	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("retry Sweep: %v", err)
	}
	key, _ = f.ledger.GetByID(ctx, expired.KeyID)
	if key.State != domain.KeyRevoked {
		t.Fatalf("state = %q, want revoked after retry", key.State)
	}
}

func TestSweeperStartStop(t *testing.T) {
	f := newFixture()
	sweeper := service.NewSweeper(f.ledger, f.revoker, 10*time.Millisecond, 2)

	sweeper.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	sweeper.Stop()

	// Stop is safe to call once the loop is down; a second Start/Stop
	// cycle must also work.
	sweeper.Start(context.Background())
	sweeper.Stop()
}

package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stayos/roomkeys/internal/domain"
	"github.com/stayos/roomkeys/internal/gateway/fake"
	"github.com/stayos/roomkeys/internal/repository/memory"
	"github.com/stayos/roomkeys/internal/service"
)

// ---------- Mocks ----------

type recordingBus struct {
	mu       sync.Mutex
	subjects []string
}

func (b *recordingBus) Publish(_ context.Context, subject string, _ interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subjects = append(b.subjects, subject)
	return nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) published(subject string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subjects {
		if s == subject {
			return true
		}
	}
	return false
}

type fixture struct {
	ledger       *memory.Ledger
	checkins     *memory.CheckIns
	reservations *memory.Reservations
	vendor       *fake.Vendor
	bus          *recordingBus
	revoker      service.RevocationService
	svc          service.CheckInService
}

func newFixture() *fixture {
	f := &fixture{
		ledger:       memory.NewLedger(),
		checkins:     memory.NewCheckIns(),
		reservations: memory.NewReservations(),
		vendor:       fake.New(),
		bus:          &recordingBus{},
	}
	f.revoker = service.NewRevocationService(f.ledger, f.reservations, f.vendor, f.bus)
	f.svc = service.NewCheckInService(f.checkins, f.ledger, f.reservations, f.vendor, f.revoker, f.bus, nil)
	return f
}

func (f *fixture) seedReservation(id, room string, checkout time.Time) {
	f.reservations.Seed(domain.Reservation{
		ID:           id,
		GuestName:    "Ada Guest",
		GuestEmail:   "ada@example.com",
		RoomNumber:   room,
		CheckInDate:  time.Now().Add(-time.Hour),
		CheckoutTime: checkout,
	})
}

// ---------- Tests ----------

func TestFinishHappyPath(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	checkout := time.Now().Add(48 * time.Hour).UTC()
	f.seedReservation("res-1", "101", checkout)

	started, err := f.svc.Start(ctx, &domain.StartCheckInReq{ReservationID: "res-1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.RoomNumber != "101" {
		t.Errorf("room = %q, want 101", started.RoomNumber)
	}

	res, err := f.svc.Finish(ctx, &domain.FinishCheckInReq{CheckInID: started.CheckInID})
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if res.Status != domain.FinishStatusCompleted {
		t.Fatalf("status = %q, want completed", res.Status)
	}
	if res.KeyID == "" {
		t.Fatal("expected key id in response")
	}

	key, err := f.ledger.GetByID(ctx, res.KeyID)
	if err != nil || key == nil {
		t.Fatalf("GetByID: key=%v err=%v", key, err)
	}
	if key.State != domain.KeyActive {
		t.Errorf("key state = %q, want active", key.State)
	}
	if key.VendorKeyToken == "" {
		t.Error("expected vendor token on active key")
	}

	reservation, _ := f.reservations.GetByID(ctx, "res-1")
	if !reservation.Occupied {
		t.Error("reservation should be occupied after completion")
	}

	if !f.bus.published("key.issued") || !f.bus.published("checkin.completed") {
		t.Errorf("expected key.issued and checkin.completed events, got %v", f.bus.subjects)
	}
}

func TestStartAlreadyCheckedIn(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedReservation("res-1", "101", time.Now().Add(24*time.Hour))
	f.reservations.MarkOccupied(ctx, "res-1")

	_, err := f.svc.Start(ctx, &domain.StartCheckInReq{ReservationID: "res-1"})
	if !errors.Is(err, domain.ErrAlreadyCheckedIn) {
		t.Fatalf("err = %v, want ErrAlreadyCheckedIn", err)
	}
}

func TestStartUnknownReservation(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Start(context.Background(), &domain.StartCheckInReq{ReservationID: "nope"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFinishVendorRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedReservation("res-1", "101", time.Now().Add(24*time.Hour))
	f.vendor.SetRejectIssue(true)

	started, _ := f.svc.Start(ctx, &domain.StartCheckInReq{ReservationID: "res-1"})
	_, err := f.svc.Finish(ctx, &domain.FinishCheckInReq{CheckInID: started.CheckInID})
	if !errors.Is(err, domain.ErrKeyIssuance) {
		t.Fatalf("err = %v, want ErrKeyIssuance", err)
	}

	// The failed attempt must release the room for a new one.
	checkin, _ := f.checkins.GetByID(ctx, started.CheckInID)
	if checkin.Status != domain.CheckInFailed {
		t.Errorf("checkin status = %q, want failed", checkin.Status)
	}
	if key, _ := f.ledger.FindLiveByRoom(ctx, "101"); key != nil {
		t.Errorf("room still holds a live key: %+v", key)
	}
	if !f.bus.published("checkin.failed") {
		t.Error("expected checkin.failed event")
	}
}

// A vendor that times out mid-issuance leaves the attempt pending; the
// kiosk retries and the retry reconciles against the vendor's real state.
func TestFinishVendorTimeoutThenReconcile(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedReservation("res-1", "101", time.Now().Add(24*time.Hour))
	f.vendor.SetUnavailable(true)

	started, _ := f.svc.Start(ctx, &domain.StartCheckInReq{ReservationID: "res-1"})
	res, err := f.svc.Finish(ctx, &domain.FinishCheckInReq{CheckInID: started.CheckInID})
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if res.Status != domain.FinishStatusInProgress {
		t.Fatalf("status = %q, want in_progress", res.Status)
	}

	// Key stays pending while the outcome is unknown.
	checkin, _ := f.checkins.GetByID(ctx, started.CheckInID)
	if checkin.Status != domain.CheckInKeyPending {
		t.Fatalf("checkin status = %q, want key_pending", checkin.Status)
	}
	key, _ := f.ledger.GetByID(ctx, *checkin.KeyID)
	if key.State != domain.KeyPending {
		t.Fatalf("key state = %q, want pending", key.State)
	}

	// Vendor still down: retry keeps waiting.
	res, err = f.svc.Finish(ctx, &domain.FinishCheckInReq{CheckInID: started.CheckInID})
	if err != nil || res.Status != domain.FinishStatusInProgress {
		t.Fatalf("retry while down: status=%v err=%v", res, err)
	}

	// Vendor back, but it never recorded the issuance: attempt fails
	// cleanly and the room is released.
	f.vendor.SetUnavailable(false)
	res, err = f.svc.Finish(ctx, &domain.FinishCheckInReq{CheckInID: started.CheckInID})
	if err != nil {
		t.Fatalf("Finish after recovery: %v", err)
	}
	if res.Status != domain.FinishStatusFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	if key, _ := f.ledger.FindLiveByRoom(ctx, "101"); key != nil {
		t.Errorf("room still holds a live key: %+v", key)
	}
}

// When the vendor applied the issuance but the ack was lost, the retry
// must adopt the existing vendor key instead of issuing a second one.
func TestFinishLostAckAdoptsVendorKey(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedReservation("res-1", "101", time.Now().Add(24*time.Hour))
	f.vendor.SetUnavailable(true)

	started, _ := f.svc.Start(ctx, &domain.StartCheckInReq{ReservationID: "res-1"})
	if _, err := f.svc.Finish(ctx, &domain.FinishCheckInReq{CheckInID: started.CheckInID}); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	// Simulate the vendor having completed the issuance behind the
	// timeout.
	f.vendor.SetUnavailable(false)
	checkin, _ := f.checkins.GetByID(ctx, started.CheckInID)
	if _, err := f.vendor.IssueKey(ctx, *checkin.KeyID, "101", time.Now(), time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("vendor IssueKey: %v", err)
	}

	res, err := f.svc.Finish(ctx, &domain.FinishCheckInReq{CheckInID: started.CheckInID})
	if err != nil {
		t.Fatalf("Finish after recovery: %v", err)
	}
	if res.Status != domain.FinishStatusCompleted {
		t.Fatalf("status = %q, want completed", res.Status)
	}
	key, _ := f.ledger.GetByID(ctx, *checkin.KeyID)
	if key.State != domain.KeyActive || key.VendorKeyToken == "" {
		t.Errorf("key not adopted: state=%q token=%q", key.State, key.VendorKeyToken)
	}
}

// A completed check-in answers retried finish calls with the same result
// and never issues a second key.
func TestFinishIdempotentAfterCompletion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedReservation("res-1", "101", time.Now().Add(24*time.Hour))

	started, _ := f.svc.Start(ctx, &domain.StartCheckInReq{ReservationID: "res-1"})
	first, err := f.svc.Finish(ctx, &domain.FinishCheckInReq{CheckInID: started.CheckInID})
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	second, err := f.svc.Finish(ctx, &domain.FinishCheckInReq{CheckInID: started.CheckInID})
	if err != nil {
		t.Fatalf("retried Finish: %v", err)
	}
	if second.Status != domain.FinishStatusCompleted || second.KeyID != first.KeyID {
		t.Errorf("retry = %+v, want same key %q", second, first.KeyID)
	}
}

// An expired leftover key must not block the next guest: the stale key is
// revoked and a fresh one issued.
func TestFinishSupersedesExpiredKey(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Prior guest's key, already past its window.
	f.seedReservation("res-old", "101", time.Now().Add(-time.Hour))
	oldStart, _ := f.svc.Start(ctx, &domain.StartCheckInReq{ReservationID: "res-old"})
	oldKey, err := f.ledger.Create(ctx, oldStart.CheckInID, "res-old", "101",
		time.Now().Add(-24*time.Hour), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("seed old key: %v", err)
	}
	issue, _ := f.vendor.IssueKey(ctx, oldKey.KeyID, "101", oldKey.ValidFrom, oldKey.ValidUntil)
	if _, err := f.ledger.MarkActive(ctx, oldKey.KeyID, issue.VendorKeyToken, time.Now()); err != nil {
		t.Fatalf("activate old key: %v", err)
	}

	f.seedReservation("res-new", "101", time.Now().Add(24*time.Hour))
	started, _ := f.svc.Start(ctx, &domain.StartCheckInReq{ReservationID: "res-new"})
	res, err := f.svc.Finish(ctx, &domain.FinishCheckInReq{CheckInID: started.CheckInID})
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if res.Status != domain.FinishStatusCompleted {
		t.Fatalf("status = %q, want completed", res.Status)
	}

	old, _ := f.ledger.GetByID(ctx, oldKey.KeyID)
	if old.State != domain.KeyRevoked {
		t.Errorf("old key state = %q, want revoked", old.State)
	}
	if old.RevocationReason != domain.ReasonSuperseded {
		t.Errorf("old key reason = %q, want superseded", old.RevocationReason)
	}
}

// A current guest's key is never displaced by another reservation.
func TestFinishRoomOccupiedByCurrentGuest(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedReservation("res-1", "101", time.Now().Add(24*time.Hour))

	started, _ := f.svc.Start(ctx, &domain.StartCheckInReq{ReservationID: "res-1"})
	if _, err := f.svc.Finish(ctx, &domain.FinishCheckInReq{CheckInID: started.CheckInID}); err != nil {
		t.Fatalf("first Finish: %v", err)
	}

	// Second reservation for the same room while the first guest is in.
	f.seedReservation("res-2", "101", time.Now().Add(48*time.Hour))
	started2, _ := f.svc.Start(ctx, &domain.StartCheckInReq{ReservationID: "res-2"})
	_, err := f.svc.Finish(ctx, &domain.FinishCheckInReq{CheckInID: started2.CheckInID})
	if !errors.Is(err, domain.ErrRoomOccupied) {
		t.Fatalf("err = %v, want ErrRoomOccupied", err)
	}
}

func TestCancelBeforeIssuance(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedReservation("res-1", "101", time.Now().Add(24*time.Hour))

	started, _ := f.svc.Start(ctx, &domain.StartCheckInReq{ReservationID: "res-1"})
	res, err := f.svc.Cancel(ctx, &domain.CancelCheckInReq{CheckInID: started.CheckInID})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !res.Canceled {
		t.Fatal("expected canceled=true")
	}

	// Canceling again converges.
	res, err = f.svc.Cancel(ctx, &domain.CancelCheckInReq{CheckInID: started.CheckInID})
	if err != nil || !res.Canceled {
		t.Fatalf("retried Cancel: res=%+v err=%v", res, err)
	}
}

// Canceling an attempt whose issuance raced to completion must revoke the
// vendor key rather than strand it active.
func TestCancelAfterLostAckRevokesVendorKey(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedReservation("res-1", "101", time.Now().Add(24*time.Hour))
	f.vendor.SetUnavailable(true)

	started, _ := f.svc.Start(ctx, &domain.StartCheckInReq{ReservationID: "res-1"})
	if _, err := f.svc.Finish(ctx, &domain.FinishCheckInReq{CheckInID: started.CheckInID}); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	f.vendor.SetUnavailable(false)
	checkin, _ := f.checkins.GetByID(ctx, started.CheckInID)
	if _, err := f.vendor.IssueKey(ctx, *checkin.KeyID, "101", time.Now(), time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("vendor IssueKey: %v", err)
	}

	res, err := f.svc.Cancel(ctx, &domain.CancelCheckInReq{CheckInID: started.CheckInID})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !res.Canceled {
		t.Fatalf("expected canceled=true, got %+v", res)
	}

	status, _ := f.vendor.KeyStatus(ctx, *checkin.KeyID)
	if status.State != "revoked" {
		t.Errorf("vendor key state = %q, want revoked", status.State)
	}
	key, _ := f.ledger.GetByID(ctx, *checkin.KeyID)
	if key.State != domain.KeyRevoked {
		t.Errorf("ledger key state = %q, want revoked", key.State)
	}
}

func TestCancelCompletedCheckIn(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedReservation("res-1", "101", time.Now().Add(24*time.Hour))

	started, _ := f.svc.Start(ctx, &domain.StartCheckInReq{ReservationID: "res-1"})
	if _, err := f.svc.Finish(ctx, &domain.FinishCheckInReq{CheckInID: started.CheckInID}); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	_, err := f.svc.Cancel(ctx, &domain.CancelCheckInReq{CheckInID: started.CheckInID})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

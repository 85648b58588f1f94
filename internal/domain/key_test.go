package domain_test

import (
	"testing"
	"time"

	"github.com/stayos/roomkeys/internal/domain"
)

func TestKeyStateTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.KeyState
		want     bool
	}{
		{domain.KeyPending, domain.KeyActive, true},
		{domain.KeyPending, domain.KeyFailed, true},
		{domain.KeyPending, domain.KeyRevoked, false},
		{domain.KeyActive, domain.KeyRevoked, true},
		{domain.KeyActive, domain.KeyFailed, false},
		{domain.KeyActive, domain.KeyPending, false},
		{domain.KeyRevoked, domain.KeyActive, false},
		{domain.KeyRevoked, domain.KeyPending, false},
		{domain.KeyFailed, domain.KeyActive, false},
	}

	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestKeyStateTerminal(t *testing.T) {
	if domain.KeyPending.Terminal() || domain.KeyActive.Terminal() {
		t.Error("pending and active are not terminal")
	}
	if !domain.KeyRevoked.Terminal() || !domain.KeyFailed.Terminal() {
		t.Error("revoked and failed are terminal")
	}
}

func TestKeyRecordExpired(t *testing.T) {
	now := time.Now()
	k := &domain.KeyRecord{ValidUntil: now.Add(time.Minute)}
	if k.Expired(now) {
		t.Error("key inside its window reported expired")
	}
	k.ValidUntil = now
	if !k.Expired(now) {
		t.Error("valid_until == now should count as expired")
	}
	k.ValidUntil = now.Add(-time.Minute)
	if !k.Expired(now) {
		t.Error("lapsed key not reported expired")
	}
}

func TestParseKeyState(t *testing.T) {
	if s, ok := domain.ParseKeyState("active"); !ok || s != domain.KeyActive {
		t.Errorf("ParseKeyState(active) = %v, %v", s, ok)
	}
	if _, ok := domain.ParseKeyState("melted"); ok {
		t.Error("ParseKeyState accepted an unknown state")
	}
}

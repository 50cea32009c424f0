package wakeup

import (
	"testing"
	"time"
)

func TestDebouncerReserve(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)

	if !d.Reserve("acc_1") {
		t.Fatal("first reservation should be granted")
	}
	if d.Reserve("acc_1") {
		t.Error("second reservation inside the cooldown should be denied")
	}
	// Different account is independent
	if !d.Reserve("acc_2") {
		t.Error("reservation for a different account should be granted")
	}
}

func TestDebouncerCooldownExpiry(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	if !d.Reserve("acc_1") {
		t.Fatal("first reservation should be granted")
	}
	time.Sleep(30 * time.Millisecond)
	if !d.Reserve("acc_1") {
		t.Error("reservation after the cooldown should be granted")
	}
}

func TestDebouncerRelease(t *testing.T) {
	d := NewDebouncer(time.Minute)

	if !d.Reserve("acc_1") {
		t.Fatal("first reservation should be granted")
	}
	d.Release("acc_1")
	if !d.Reserve("acc_1") {
		t.Error("reservation after release should be granted immediately")
	}
}

func TestDebouncerZeroCooldownDefaults(t *testing.T) {
	d := NewDebouncer(0)
	if d.cooldown != DefaultCooldown {
		t.Errorf("cooldown = %v, want %v", d.cooldown, DefaultCooldown)
	}
}

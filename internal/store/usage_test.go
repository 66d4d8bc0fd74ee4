package store

import (
	"testing"
	"time"
)

func TestAcquireTier2CallQuota(t *testing.T) {
	db := testDB(t)
	day := UsageDay(time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		ok, err := db.AcquireTier2Call(day, 3)
		if err != nil {
			t.Fatalf("AcquireTier2Call: %v", err)
		}
		if !ok {
			t.Fatalf("call %d refused, want allowed", i+1)
		}
	}
	ok, err := db.AcquireTier2Call(day, 3)
	if err != nil {
		t.Fatalf("AcquireTier2Call: %v", err)
	}
	if ok {
		t.Error("fourth call allowed, want refused")
	}

	n, _ := db.Tier2Calls(day)
	if n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}

	// a new day starts fresh
	ok, _ = db.AcquireTier2Call("2026-03-02", 3)
	if !ok {
		t.Error("new day refused")
	}
}

func TestAcquireTier2CallUnlimited(t *testing.T) {
	db := testDB(t)
	for i := 0; i < 5; i++ {
		if ok, err := db.AcquireTier2Call("d", 0); err != nil || !ok {
			t.Fatalf("AcquireTier2Call = %v, %v", ok, err)
		}
	}
	n, _ := db.Tier2Calls("d")
	if n != 5 {
		t.Errorf("calls = %d, want 5", n)
	}
}

func TestUsageDayUTC(t *testing.T) {
	loc := time.FixedZone("X", -5*3600)
	got := UsageDay(time.Date(2026, 1, 1, 22, 0, 0, 0, loc))
	if got != "2026-01-02" {
		t.Errorf("UsageDay = %s, want 2026-01-02", got)
	}
}

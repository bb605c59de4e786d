package models

import (
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPendingVerification, StatusActive, true},
		{StatusActive, StatusReleased, true},
		{StatusPendingVerification, StatusReleased, false},
		{StatusActive, StatusPendingVerification, false},
		{StatusReleased, StatusActive, false},
		{StatusReleased, StatusPendingVerification, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.ok {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.ok)
		}
	}
	if !StatusReleased.IsTerminal() {
		t.Error("RELEASED should be terminal")
	}
	if StatusActive.IsTerminal() {
		t.Error("ACTIVE should not be terminal")
	}
}

func TestComputeReleaseAt(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	got := ComputeReleaseAt(start, 30, 7)
	want := time.Date(2025, 4, 7, 9, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

package models

import "time"

// Status is the lifecycle state of a drop. The only legal transitions are
// PENDING_VERIFICATION → ACTIVE and ACTIVE → RELEASED; RELEASED is terminal.
type Status string

const (
	StatusPendingVerification Status = "PENDING_VERIFICATION"
	StatusActive              Status = "ACTIVE"
	StatusReleased            Status = "RELEASED"
)

// CanTransitionTo reports whether moving from s to next is a legal transition.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPendingVerification:
		return next == StatusActive
	case StatusActive:
		return next == StatusReleased
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusReleased
}

// Drop is one dead-man's-switch instance: an encrypted payload reference plus
// its lifecycle metadata. The payload itself is opaque to the server — only
// the client-computed digest and the object-store reference are held here.
type Drop struct {
	ID             string
	OwnerEmail     string
	RecipientEmail string
	PassphraseHint string

	Status Status

	// Single-purpose bearer capabilities, generated once at creation.
	VerifyToken  string
	CheckinToken string

	CheckinIntervalDays int
	GraceDays           int

	LastCheckinAt     time.Time
	ReleaseAt         time.Time
	LastCheckinSentAt *time.Time

	EncryptedPayloadRef string
	PayloadHash         string

	CreatedAt  time.Time
	VerifiedAt *time.Time
	ReleasedAt *time.Time
}

// ComputeReleaseAt returns the disclosure deadline implied by a liveness
// signal at last: the check-in interval plus the grace buffer.
func ComputeReleaseAt(last time.Time, intervalDays, graceDays int) time.Time {
	return last.AddDate(0, 0, intervalDays+graceDays)
}

// SweepAction identifies what a sweep did (or failed to do) for one drop.
type SweepAction string

const (
	// ActionReleased: the release mail was sent and the terminal status committed.
	ActionReleased SweepAction = "released"
	// ActionReleaseFailed: presigning or notifying failed; the drop stays ACTIVE.
	ActionReleaseFailed SweepAction = "release_failed"
	// ActionReleaseConflict: another actor won the conditional status write.
	ActionReleaseConflict SweepAction = "release_conflict"
	// ActionReleasePersistFailed: the mail went out but the status write failed.
	// The drop will be retried; the recipient may receive a duplicate mail.
	ActionReleasePersistFailed SweepAction = "release_persist_failed"
	// ActionCheckinSent: a check-in reminder was sent to the owner.
	ActionCheckinSent SweepAction = "checkin_sent"
	// ActionCheckinSendFailed: the reminder could not be sent or recorded.
	ActionCheckinSendFailed SweepAction = "checkin_send_failed"
)

// SweepOutcome is the per-drop result of one sweep pass. Drops that needed
// neither a release nor a reminder produce no outcome.
type SweepOutcome struct {
	DropID string      `json:"id"`
	Action SweepAction `json:"action"`
}

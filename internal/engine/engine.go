// Package engine owns the drop lifecycle: creation, one-shot verification,
// check-in renewal, reminder throttling, and one-time release. It is driven
// by HTTP requests and a periodic sweep, and talks only to the DropStore,
// the blob store, and the Notifier.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/org/deaddrop/internal/blob"
	"github.com/org/deaddrop/internal/notify"
	"github.com/org/deaddrop/internal/storage"
	"github.com/org/deaddrop/pkg/models"
	"github.com/rs/zerolog/log"
)

// Token prefixes keep the two capabilities visually distinct in URLs and
// logs; each is valid for exactly one operation.
const (
	verifyTokenPrefix  = "ddv_"
	checkinTokenPrefix = "ddc_"
)

var (
	// ErrInvalidInput is returned by Create for missing or malformed fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidToken is returned for unknown tokens. Deliberately carries no
	// detail about why the token failed.
	ErrInvalidToken = errors.New("invalid token")

	// ErrNotVerified is returned when checking in before verification.
	ErrNotVerified = errors.New("drop not verified")

	// ErrAlreadyReleased is returned when checking in on a released drop.
	ErrAlreadyReleased = errors.New("drop already released")
)

// Config holds engine settings, loaded once at startup.
type Config struct {
	// BaseURL is the externally visible base URL used in mail links.
	BaseURL string
	// ReleaseLinkTTL bounds how long the presigned payload URL in a release
	// mail stays valid.
	ReleaseLinkTTL time.Duration
	// DropTimeout bounds the store/notifier work for a single drop during a
	// sweep so one stuck dependency cannot stall the whole pass.
	DropTimeout time.Duration
}

// Engine is the lifecycle state machine over its three collaborators.
type Engine struct {
	store    storage.DropStore
	blobs    blob.Store
	notifier notify.Notifier
	cfg      Config
	now      func() time.Time
}

// New creates an Engine. Defaults: 30-day release links, 15s per-drop timeout.
func New(store storage.DropStore, blobs blob.Store, notifier notify.Notifier, cfg Config) *Engine {
	if cfg.ReleaseLinkTTL == 0 {
		cfg.ReleaseLinkTTL = 30 * 24 * time.Hour
	}
	if cfg.DropTimeout == 0 {
		cfg.DropTimeout = 15 * time.Second
	}
	return &Engine{
		store:    store,
		blobs:    blobs,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock replaces the engine's clock. Tests only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// CreateParams are the inputs to Create. EnvelopeJSON is the serialized
// envelope produced client-side; the server never inspects it beyond storing
// the bytes.
type CreateParams struct {
	OwnerEmail     string
	RecipientEmail string
	PassphraseHint string
	IntervalDays   int
	GraceDays      int
	EnvelopeJSON   []byte
	PayloadHash    string
}

func (p CreateParams) validate() error {
	switch {
	case p.OwnerEmail == "":
		return fmt.Errorf("%w: owner email is required", ErrInvalidInput)
	case p.RecipientEmail == "":
		return fmt.Errorf("%w: recipient email is required", ErrInvalidInput)
	case p.IntervalDays <= 0:
		return fmt.Errorf("%w: checkin_interval_days must be positive", ErrInvalidInput)
	case p.GraceDays <= 0:
		return fmt.Errorf("%w: grace_days must be positive", ErrInvalidInput)
	case len(p.EnvelopeJSON) == 0:
		return fmt.Errorf("%w: encrypted payload is required", ErrInvalidInput)
	case p.PayloadHash == "":
		return fmt.Errorf("%w: payload hash is required", ErrInvalidInput)
	}
	return nil
}

// Create stores the envelope blob, persists a new PENDING_VERIFICATION drop
// with distinct single-purpose tokens, and mails the owner a verify link.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*models.Drop, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ref := fmt.Sprintf("drops/%s.json", id)
	now := e.now().UTC()

	if err := e.blobs.Put(ctx, ref, p.EnvelopeJSON, "application/json"); err != nil {
		return nil, fmt.Errorf("storing envelope blob: %w", err)
	}

	verifyToken, err := newToken(verifyTokenPrefix)
	if err != nil {
		return nil, err
	}
	checkinToken, err := newToken(checkinTokenPrefix)
	if err != nil {
		return nil, err
	}

	drop := &models.Drop{
		ID:                  id,
		OwnerEmail:          p.OwnerEmail,
		RecipientEmail:      p.RecipientEmail,
		PassphraseHint:      p.PassphraseHint,
		Status:              models.StatusPendingVerification,
		VerifyToken:         verifyToken,
		CheckinToken:        checkinToken,
		CheckinIntervalDays: p.IntervalDays,
		GraceDays:           p.GraceDays,
		LastCheckinAt:       now,
		ReleaseAt:           models.ComputeReleaseAt(now, p.IntervalDays, p.GraceDays),
		EncryptedPayloadRef: ref,
		PayloadHash:         p.PayloadHash,
		CreatedAt:           now,
	}

	if err := e.store.CreateDrop(ctx, drop); err != nil {
		return nil, fmt.Errorf("persisting drop: %w", err)
	}

	msg := notify.VerificationMessage(drop.OwnerEmail, e.verifyURL(verifyToken))
	if err := e.notifier.Send(ctx, msg); err != nil {
		// The drop exists and can still be verified from the receipt flow;
		// a lost verification mail is recoverable, a lost drop is not.
		log.Error().Err(err).Str("drop_id", id).Msg("verification mail failed")
	}

	return drop, nil
}

// Verify activates a drop by its verify token. It is idempotent: once the
// drop has left PENDING_VERIFICATION, repeat calls succeed without mutating
// timestamps or re-sending mail. The bool reports that already-done case.
func (e *Engine) Verify(ctx context.Context, token string) (*models.Drop, bool, error) {
	drop, err := e.store.GetDropByVerifyToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, ErrInvalidToken
		}
		return nil, false, fmt.Errorf("looking up drop: %w", err)
	}

	if drop.Status != models.StatusPendingVerification {
		return drop, true, nil
	}

	now := e.now().UTC()
	releaseAt := models.ComputeReleaseAt(now, drop.CheckinIntervalDays, drop.GraceDays)
	if err := e.store.MarkVerified(ctx, drop.ID, now, releaseAt); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// A concurrent verify won the conditional update; same outcome.
			return drop, true, nil
		}
		return nil, false, fmt.Errorf("marking drop verified: %w", err)
	}
	drop.Status = models.StatusActive
	drop.VerifiedAt = &now
	drop.LastCheckinAt = now
	drop.ReleaseAt = releaseAt

	msg := notify.ActivationMessage(drop.OwnerEmail,
		e.checkinURL(drop.CheckinToken), e.receiptURL(drop.ID))
	if err := e.notifier.Send(ctx, msg); err != nil {
		log.Error().Err(err).Str("drop_id", drop.ID).Msg("activation mail failed")
	}

	return drop, false, nil
}

// Checkin renews the release deadline for an ACTIVE drop and clears the
// reminder throttle. No mail is sent for a successful check-in.
func (e *Engine) Checkin(ctx context.Context, token string) (time.Time, error) {
	drop, err := e.store.GetDropByCheckinToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return time.Time{}, ErrInvalidToken
		}
		return time.Time{}, fmt.Errorf("looking up drop: %w", err)
	}

	switch drop.Status {
	case models.StatusPendingVerification:
		return time.Time{}, ErrNotVerified
	case models.StatusReleased:
		return time.Time{}, ErrAlreadyReleased
	}

	now := e.now().UTC()
	releaseAt := models.ComputeReleaseAt(now, drop.CheckinIntervalDays, drop.GraceDays)
	if err := e.store.RecordCheckin(ctx, drop.ID, now, releaseAt); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Released between our read and the conditional write.
			return time.Time{}, ErrAlreadyReleased
		}
		return time.Time{}, fmt.Errorf("recording check-in: %w", err)
	}
	return releaseAt, nil
}

// Sweep evaluates every ACTIVE drop once: past-deadline drops are released,
// overdue-for-check-in drops are reminded (throttled to one mail per day).
// Failures are isolated per drop; each acted-on drop yields one outcome.
func (e *Engine) Sweep(ctx context.Context) ([]models.SweepOutcome, error) {
	drops, err := e.store.ListActiveDrops(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active drops: %w", err)
	}

	now := e.now().UTC()
	var outcomes []models.SweepOutcome
	for _, drop := range drops {
		if outcome, acted := e.sweepOne(ctx, drop, now); acted {
			outcomes = append(outcomes, outcome)
		}
	}
	return outcomes, nil
}

func (e *Engine) sweepOne(ctx context.Context, drop *models.Drop, now time.Time) (models.SweepOutcome, bool) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DropTimeout)
	defer cancel()

	if now.After(drop.ReleaseAt) {
		return models.SweepOutcome{DropID: drop.ID, Action: e.release(ctx, drop, now)}, true
	}

	if e.reminderDue(drop, now) {
		return models.SweepOutcome{DropID: drop.ID, Action: e.remind(ctx, drop, now)}, true
	}

	return models.SweepOutcome{}, false
}

// release discloses the drop to its recipient and commits the terminal
// transition. The mail goes out before the status write: a released-but-
// undisclosed drop would defeat the whole system, while a duplicate release
// mail after a persist failure is acceptable. The conditional update is the
// sole concurrency guard — a conflict means another actor already did this.
func (e *Engine) release(ctx context.Context, drop *models.Drop, now time.Time) models.SweepAction {
	url, err := e.blobs.PresignGet(ctx, drop.EncryptedPayloadRef, e.cfg.ReleaseLinkTTL)
	if err != nil {
		log.Error().Err(err).Str("drop_id", drop.ID).Msg("presigning payload failed")
		return models.ActionReleaseFailed
	}

	msg := notify.ReleaseMessage(drop.RecipientEmail, url, e.receiptURL(drop.ID), drop.PassphraseHint)
	if err := e.notifier.Send(ctx, msg); err != nil {
		log.Error().Err(err).Str("drop_id", drop.ID).Msg("release mail failed")
		return models.ActionReleaseFailed
	}

	committed, err := e.store.ReleaseDrop(ctx, drop.ID, now)
	if err != nil {
		log.Error().Err(err).Str("drop_id", drop.ID).
			Msg("release mail sent but status write failed; will retry next sweep")
		return models.ActionReleasePersistFailed
	}
	if !committed {
		return models.ActionReleaseConflict
	}

	log.Info().Str("drop_id", drop.ID).Time("released_at", now).Msg("drop released")
	return models.ActionReleased
}

// reminderDue: the owner is overdue for a check-in and no reminder went out
// in the last 24 hours. The grace period runs after the interval, so
// reminders start as soon as the interval lapses and repeat daily until
// check-in or release.
func (e *Engine) reminderDue(drop *models.Drop, now time.Time) bool {
	overdue := daysBetween(now, drop.LastCheckinAt) >= float64(drop.CheckinIntervalDays)
	if !overdue {
		return false
	}
	if drop.LastCheckinSentAt == nil {
		return true
	}
	return daysBetween(now, *drop.LastCheckinSentAt) >= 1
}

func (e *Engine) remind(ctx context.Context, drop *models.Drop, now time.Time) models.SweepAction {
	msg := notify.ReminderMessage(drop.OwnerEmail, e.checkinURL(drop.CheckinToken))
	if err := e.notifier.Send(ctx, msg); err != nil {
		log.Error().Err(err).Str("drop_id", drop.ID).Msg("reminder mail failed")
		return models.ActionCheckinSendFailed
	}
	if err := e.store.MarkReminderSent(ctx, drop.ID, now); err != nil {
		// The throttle timestamp was lost; worst case is one extra reminder.
		log.Error().Err(err).Str("drop_id", drop.ID).Msg("recording reminder failed")
		return models.ActionCheckinSendFailed
	}
	return models.ActionCheckinSent
}

func daysBetween(a, b time.Time) float64 {
	return a.Sub(b).Hours() / 24
}

// VerifyURL/CheckinURL/ReceiptURL build the externally visible links used in
// API responses and mail bodies.

func (e *Engine) verifyURL(token string) string {
	return fmt.Sprintf("%s/verify/%s", e.cfg.BaseURL, token)
}

func (e *Engine) checkinURL(token string) string {
	return fmt.Sprintf("%s/alive/%s", e.cfg.BaseURL, token)
}

func (e *Engine) receiptURL(id string) string {
	return fmt.Sprintf("%s/receipt/%s", e.cfg.BaseURL, id)
}

// CheckinURL exposes the check-in link for API responses.
func (e *Engine) CheckinURL(token string) string { return e.checkinURL(token) }

// ReceiptURL exposes the receipt link for API responses.
func (e *Engine) ReceiptURL(id string) string { return e.receiptURL(id) }

// GetDrop returns a drop by ID for the public receipt view.
func (e *Engine) GetDrop(ctx context.Context, id string) (*models.Drop, error) {
	return e.store.GetDrop(ctx, id)
}

// newToken generates an unguessable single-purpose bearer capability.
func newToken(prefix string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

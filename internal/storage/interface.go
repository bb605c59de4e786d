package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/deaddrop/pkg/models"
)

// ErrNotFound is returned when a requested drop does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a drop that already exists.
var ErrAlreadyExists = errors.New("already exists")

// DropStore defines the persistence interface for drop records. The envelope
// blob itself lives in the object store (blob.Store); this interface only
// handles the opaque reference to it.
type DropStore interface {
	CreateDrop(ctx context.Context, drop *models.Drop) error
	GetDrop(ctx context.Context, id string) (*models.Drop, error)
	GetDropByVerifyToken(ctx context.Context, token string) (*models.Drop, error)
	GetDropByCheckinToken(ctx context.Context, token string) (*models.Drop, error)

	// ListActiveDrops returns all drops in ACTIVE status, the only status the
	// sweep operates on.
	ListActiveDrops(ctx context.Context) ([]*models.Drop, error)

	// MarkVerified moves a drop to ACTIVE and resets its liveness clock.
	MarkVerified(ctx context.Context, id string, now, releaseAt time.Time) error

	// RecordCheckin resets the liveness clock and clears the reminder throttle.
	RecordCheckin(ctx context.Context, id string, now, releaseAt time.Time) error

	// MarkReminderSent records the reminder throttle timestamp only; it never
	// touches release_at.
	MarkReminderSent(ctx context.Context, id string, now time.Time) error

	// ReleaseDrop is the conditional status write guarding one-time release:
	// the RELEASED transition is committed only if the row is still ACTIVE.
	// It returns false with a nil error when another actor already handled
	// the drop.
	ReleaseDrop(ctx context.Context, id string, now time.Time) (bool, error)

	// CountByStatus reports drop counts per status for metrics.
	CountByStatus(ctx context.Context) (map[models.Status]int64, error)

	Close()
}

// Package blob abstracts the object store holding encrypted envelope blobs.
// A blob is written exactly once at drop creation and never modified; at
// release time the engine only obtains a time-limited retrieval URL — the
// blob bytes themselves never pass through the server again.
package blob

import (
	"context"
	"time"
)

// Store is the object-store interface the lifecycle engine depends on.
type Store interface {
	// Put uploads an immutable object under key.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// PresignGet returns a time-limited URL from which the object can be
	// fetched without further credentials.
	PresignGet(ctx context.Context, key string, lifetime time.Duration) (string, error)
}

// Package tenant defines the tenant record and the storage boundary the feed
// generator depends on. Store implementations are eventually consistent;
// callers must tolerate both an ErrNotFound return and an outright failure
// from Load.
package tenant

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Load when the tenant does not exist.
var ErrNotFound = errors.New("tenant: not found")

// Backup is the persisted fallback feed kept alongside the tenant record.
type Backup struct {
	Feed        string    `json:"feed"`
	GeneratedAt time.Time `json:"generatedAt"`
	Size        int       `json:"size"`
}

// Record is a single end-user's isolated data scope.
type Record struct {
	ID string `json:"id"`
	// Movies is the serialized selection list (a JSON array of movie
	// entries). Parsing failures degrade to an empty selection.
	Movies string `json:"movies"`
	// Secret is used for signature verification by the outer API surface;
	// the serving layer only carries it.
	Secret string `json:"secret"`
	// Backup is the last successfully generated feed, kept for recovery
	// when generation fails.
	Backup *Backup `json:"backup,omitempty"`
}

// Patch is a partial update: nil fields leave the stored value untouched.
type Patch struct {
	Movies *string
	Secret *string
	Backup *Backup
}

// Store is the tenant storage boundary. Save is best-effort from the feed
// generator's point of view; its errors are logged, never propagated to feed
// callers.
type Store interface {
	Load(ctx context.Context, id string) (Record, error)
	Save(ctx context.Context, id string, patch Patch) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// applyPatch folds a partial update into an existing record.
func applyPatch(rec Record, patch Patch) Record {
	if patch.Movies != nil {
		rec.Movies = *patch.Movies
	}
	if patch.Secret != nil {
		rec.Secret = *patch.Secret
	}
	if patch.Backup != nil {
		b := *patch.Backup
		rec.Backup = &b
	}
	return rec
}

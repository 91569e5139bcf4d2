// Package store persists mirror records. Implementations must make Get and
// Upsert atomic per subject key.
package store

import (
	"context"

	"trustledger/internal/mirror/models"
	id "trustledger/pkg/domain"
)

type Store interface {
	// Get returns the record for a subject, or sentinel.ErrNotFound.
	Get(ctx context.Context, subject id.Address) (models.MirrorRecord, error)
	// Upsert replaces the record for record.Subject.
	Upsert(ctx context.Context, record models.MirrorRecord) error
}

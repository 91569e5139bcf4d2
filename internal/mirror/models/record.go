// Package models defines the mirror's denormalized projection of ledger
// state.
package models

import (
	"time"

	id "trustledger/pkg/domain"
)

// MirrorRecord is the eventually-consistent, queryable projection of one
// subject's ledger state. LastAppliedSequence is the idempotence cursor:
// events at or below it have already been applied.
type MirrorRecord struct {
	Subject             id.Address                   `json:"subject"`
	Identifier          string                       `json:"identifier"`
	TrustScore          uint8                        `json:"trustScore"`
	EvidencePointer     string                       `json:"evidencePointer"`
	ProfileVersion      uint64                       `json:"profileVersion"`
	Accounts            []MirrorAccount              `json:"accounts,omitempty"`
	Badges              map[id.BadgeType]MirrorBadge `json:"badges,omitempty"`
	Verifier            bool                         `json:"verifier"`
	ObservationCount    int                          `json:"observationCount"`
	LastObservedScore   uint8                        `json:"lastObservedScore"`
	LastAppliedSequence uint64                       `json:"lastAppliedSequence"`
	UpdatedAt           time.Time                    `json:"updatedAt"`
}

// MirrorAccount is the projected verified account.
type MirrorAccount struct {
	Provider          id.Provider `json:"provider"`
	ExternalUsername  string      `json:"externalUsername"`
	ExternalAccountID string      `json:"externalAccountId"`
	ProofHash         []byte      `json:"proofHash"`
}

// MirrorBadge is the projected badge state.
type MirrorBadge struct {
	BadgeID         string    `json:"badgeId"`
	TrustScore      uint8     `json:"trustScore"`
	EvidencePointer string    `json:"evidencePointer"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

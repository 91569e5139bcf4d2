// Package models defines the ledger-resident entities: trust profiles,
// verified accounts, score observations, and trust badges.
package models

import (
	"time"

	"golang.org/x/crypto/sha3"

	id "trustledger/pkg/domain"
)

// TrustProfile is the authoritative reputation record for one subject.
// Owner and Identifier are immutable after creation; Version strictly
// increases on every mutation.
type TrustProfile struct {
	Owner           id.Address
	Identifier      string
	TrustScore      uint8
	AccountHandles  []AccountHandle
	EvidencePointer string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         uint64
}

// AccountHandle is a stable index into the registry's verified-account
// table. Profiles hold handles rather than embedded records so the
// tightly-versioned profile struct never grows in place.
type AccountHandle int

// VerifiedAccount is an attestation linking a subject to an external
// account. Immutable once appended; (Provider, ExternalUsername) is unique
// across the whole registry.
type VerifiedAccount struct {
	Provider          id.Provider
	ExternalUsername  string
	VerifiedAt        time.Time
	ProofHash         []byte
	ExternalAccountID string
}

// HashProof derives the stored proof hash from raw attestation evidence.
func HashProof(evidence []byte) []byte {
	sum := sha3.Sum256(evidence)
	return sum[:]
}

// ScoreObservation is one verifier's signed score submission. Observations
// are append-only and retained for consensus computation and audit.
type ScoreObservation struct {
	Subject   id.Address
	Score     uint8
	Timestamp time.Time
	Signature string
	Verifier  id.Address
}

// TrustBadge is a soulbound tiered credential. Ownership is bound to the
// issuance address permanently; there is no transfer operation.
type TrustBadge struct {
	ID              string
	Owner           id.Address
	BadgeType       id.BadgeType
	TrustScore      uint8
	EvidencePointer string
	IssuedAt        time.Time
	ExpiresAt       time.Time
	Version         uint64
}

// Expired reports whether the badge is past its validity window at `now`.
// An expired badge stays queryable but must not be treated as current
// evidence.
func (b TrustBadge) Expired(now time.Time) bool {
	return now.After(b.ExpiresAt)
}

// Package domain holds the typed identifiers shared across ledger and mirror
// code. IDs are distinct types so a verifier address can never be passed where
// a subject address is expected.
package domain

import (
	"strings"

	dErrors "trustledger/pkg/domain-errors"
)

// Address identifies an account on the ledger. Addresses are opaque strings
// minted by the ledger runtime; we validate shape, not derivation.
type Address string

const (
	minAddressLen = 3
	maxAddressLen = 64
)

// ParseAddress validates an address at a trust boundary.
func ParseAddress(raw string) (Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address is required")
	}
	if len(trimmed) < minAddressLen || len(trimmed) > maxAddressLen {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address length out of range")
	}
	for _, r := range trimmed {
		if !isAddressRune(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "address contains invalid characters")
		}
	}
	return Address(trimmed), nil
}

func isAddressRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	}
	return false
}

func (a Address) String() string { return string(a) }

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == "" }

// Provider names an external account provider ("github", "linkedin", ...).
type Provider string

func (p Provider) String() string { return string(p) }

// ParseProvider validates a provider label.
func ParseProvider(raw string) (Provider, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "provider is required")
	}
	return Provider(trimmed), nil
}

// BadgeType is the tier label of a trust badge.
type BadgeType string

const (
	BadgeBronze   BadgeType = "Bronze"
	BadgeSilver   BadgeType = "Silver"
	BadgeGold     BadgeType = "Gold"
	BadgePlatinum BadgeType = "Platinum"
	BadgeDiamond  BadgeType = "Diamond"
)

// BadgeTypeForScore maps a trust score to its tier. Boundaries are inclusive
// on the lower edge: 60 is Silver, 70 is Gold, 80 is Platinum, 90 is Diamond.
func BadgeTypeForScore(score uint8) BadgeType {
	switch {
	case score >= 90:
		return BadgeDiamond
	case score >= 80:
		return BadgePlatinum
	case score >= 70:
		return BadgeGold
	case score >= 60:
		return BadgeSilver
	default:
		return BadgeBronze
	}
}

func (b BadgeType) String() string { return string(b) }

// Valid reports whether b is one of the known tiers.
func (b BadgeType) Valid() bool {
	switch b {
	case BadgeBronze, BadgeSilver, BadgeGold, BadgePlatinum, BadgeDiamond:
		return true
	}
	return false
}

// MaxScore bounds trust scores and observations. Scores are 0..100.
const MaxScore = 100

// ValidScore reports whether a raw score is inside the trusted range.
// uint8 callers only need the upper bound.
func ValidScore(score uint8) bool { return score <= MaxScore }

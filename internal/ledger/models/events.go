package models

import (
	"encoding/json"
	"fmt"
	"time"

	id "trustledger/pkg/domain"
)

// Kind names an event variant on the wire.
type Kind string

const (
	KindProfileCreated     Kind = "profile_created"
	KindScoreUpdated       Kind = "score_updated"
	KindAccountVerified    Kind = "account_verified"
	KindVerifierRegistered Kind = "verifier_registered"
	KindVerifierRemoved    Kind = "verifier_removed"
	KindScoreUpdateSigned  Kind = "score_update_signed"
	KindBadgeMinted        Kind = "badge_minted"
	KindBadgeUpdated       Kind = "badge_updated"
)

// Payload is the closed set of event bodies. The marker method keeps the
// union sealed so dispatch switches stay exhaustive.
type Payload interface {
	Kind() Kind
	isPayload()
}

// ProfileCreated is emitted when a subject's profile comes into existence.
type ProfileCreated struct {
	Identifier      string `json:"identifier"`
	TrustScore      uint8  `json:"trustScore"`
	EvidencePointer string `json:"evidencePointer"`
	Version         uint64 `json:"version"`
}

func (ProfileCreated) Kind() Kind { return KindProfileCreated }
func (ProfileCreated) isPayload() {}

// ScoreUpdated carries both the old and new score so consumers can audit
// deltas without a read-back.
type ScoreUpdated struct {
	OldScore        uint8  `json:"oldScore"`
	NewScore        uint8  `json:"newScore"`
	EvidencePointer string `json:"evidencePointer"`
	Version         uint64 `json:"version"`
}

func (ScoreUpdated) Kind() Kind { return KindScoreUpdated }
func (ScoreUpdated) isPayload() {}

// AccountVerified is emitted when an attestation is appended to a profile.
type AccountVerified struct {
	Provider          id.Provider `json:"provider"`
	ExternalUsername  string      `json:"externalUsername"`
	ExternalAccountID string      `json:"externalAccountId"`
	ProofHash         []byte      `json:"proofHash"`
	Version           uint64      `json:"version"`
}

func (AccountVerified) Kind() Kind { return KindAccountVerified }
func (AccountVerified) isPayload() {}

// VerifierRegistered and VerifierRemoved track verifier-set membership. The
// envelope subject is the verifier address itself.
type VerifierRegistered struct{}

func (VerifierRegistered) Kind() Kind { return KindVerifierRegistered }
func (VerifierRegistered) isPayload() {}

type VerifierRemoved struct{}

func (VerifierRemoved) Kind() Kind { return KindVerifierRemoved }
func (VerifierRemoved) isPayload() {}

// ScoreUpdateSigned is emitted by the oracle when an observation is
// accepted.
type ScoreUpdateSigned struct {
	Verifier   id.Address `json:"verifier"`
	Score      uint8      `json:"score"`
	ObservedAt time.Time  `json:"observedAt"`
}

func (ScoreUpdateSigned) Kind() Kind { return KindScoreUpdateSigned }
func (ScoreUpdateSigned) isPayload() {}

// BadgeMinted is emitted on first qualifying issuance for a tier.
type BadgeMinted struct {
	BadgeID         string       `json:"badgeId"`
	BadgeType       id.BadgeType `json:"badgeType"`
	TrustScore      uint8        `json:"trustScore"`
	EvidencePointer string       `json:"evidencePointer"`
	ExpiresAt       time.Time    `json:"expiresAt"`
}

func (BadgeMinted) Kind() Kind { return KindBadgeMinted }
func (BadgeMinted) isPayload() {}

// BadgeUpdated is emitted on renewal; both scores ride along like
// ScoreUpdated.
type BadgeUpdated struct {
	BadgeID         string       `json:"badgeId"`
	BadgeType       id.BadgeType `json:"badgeType"`
	OldScore        uint8        `json:"oldScore"`
	NewScore        uint8        `json:"newScore"`
	EvidencePointer string       `json:"evidencePointer"`
	ExpiresAt       time.Time    `json:"expiresAt"`
	Version         uint64       `json:"version"`
}

func (BadgeUpdated) Kind() Kind { return KindBadgeUpdated }
func (BadgeUpdated) isPayload() {}

// Envelope is the stable wire schema for emitted events. Sequence is
// strictly increasing per subject and is the mirror's idempotence key.
type Envelope struct {
	Type      Kind       `json:"type"`
	Subject   id.Address `json:"subject"`
	Sequence  uint64     `json:"sequence"`
	TxID      string     `json:"txId"`
	Timestamp time.Time  `json:"timestamp"`
	Payload   Payload    `json:"-"`
}

// wireEnvelope is the JSON shape; the payload is deferred so decoding can
// pick the concrete type from Type.
type wireEnvelope struct {
	Type      Kind            `json:"type"`
	Subject   id.Address      `json:"subject"`
	Sequence  uint64          `json:"sequence"`
	TxID      string          `json:"txId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Encode serializes the envelope for the feed.
func (e Envelope) Encode() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("envelope %s/%d has no payload", e.Subject, e.Sequence)
	}
	if e.Type == "" {
		e.Type = e.Payload.Kind()
	}
	if e.Type != e.Payload.Kind() {
		return nil, fmt.Errorf("envelope type %s does not match payload %s", e.Type, e.Payload.Kind())
	}
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
	}
	return json.Marshal(wireEnvelope{
		Type:      e.Type,
		Subject:   e.Subject,
		Sequence:  e.Sequence,
		TxID:      e.TxID,
		Timestamp: e.Timestamp,
		Payload:   raw,
	})
}

// DecodeEnvelope parses a wire event. Unknown kinds are an error: a new
// variant must be added to the union before a producer may emit it.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	var payload Payload
	switch wire.Type {
	case KindProfileCreated:
		payload = &ProfileCreated{}
	case KindScoreUpdated:
		payload = &ScoreUpdated{}
	case KindAccountVerified:
		payload = &AccountVerified{}
	case KindVerifierRegistered:
		payload = &VerifierRegistered{}
	case KindVerifierRemoved:
		payload = &VerifierRemoved{}
	case KindScoreUpdateSigned:
		payload = &ScoreUpdateSigned{}
	case KindBadgeMinted:
		payload = &BadgeMinted{}
	case KindBadgeUpdated:
		payload = &BadgeUpdated{}
	default:
		return Envelope{}, fmt.Errorf("unknown event kind %q", wire.Type)
	}

	if len(wire.Payload) > 0 {
		if err := json.Unmarshal(wire.Payload, payload); err != nil {
			return Envelope{}, fmt.Errorf("decode %s payload: %w", wire.Type, err)
		}
	}

	return Envelope{
		Type:      wire.Type,
		Subject:   wire.Subject,
		Sequence:  wire.Sequence,
		TxID:      wire.TxID,
		Timestamp: wire.Timestamp,
		Payload:   deref(payload),
	}, nil
}

// deref returns the value form so handlers can type-switch on concrete
// structs rather than pointers.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *ProfileCreated:
		return *v
	case *ScoreUpdated:
		return *v
	case *AccountVerified:
		return *v
	case *VerifierRegistered:
		return *v
	case *VerifierRemoved:
		return *v
	case *ScoreUpdateSigned:
		return *v
	case *BadgeMinted:
		return *v
	case *BadgeUpdated:
		return *v
	}
	return p
}

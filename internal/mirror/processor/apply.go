package processor

import (
	"fmt"

	ledgermodels "trustledger/internal/ledger/models"
	"trustledger/internal/mirror/models"
	id "trustledger/pkg/domain"
)

// project applies one event's field changes to the record. The switch is
// exhaustive over the payload union; a new variant must be handled here
// before a producer may emit it.
func project(record models.MirrorRecord, env ledgermodels.Envelope) (models.MirrorRecord, error) {
	switch payload := env.Payload.(type) {
	case ledgermodels.ProfileCreated:
		record.Identifier = payload.Identifier
		record.TrustScore = payload.TrustScore
		record.EvidencePointer = payload.EvidencePointer
		record.ProfileVersion = payload.Version

	case ledgermodels.ScoreUpdated:
		record.TrustScore = payload.NewScore
		record.EvidencePointer = payload.EvidencePointer
		record.ProfileVersion = payload.Version

	case ledgermodels.AccountVerified:
		record.Accounts = append(record.Accounts, models.MirrorAccount{
			Provider:          payload.Provider,
			ExternalUsername:  payload.ExternalUsername,
			ExternalAccountID: payload.ExternalAccountID,
			ProofHash:         payload.ProofHash,
		})
		record.ProfileVersion = payload.Version

	case ledgermodels.VerifierRegistered:
		record.Verifier = true

	case ledgermodels.VerifierRemoved:
		record.Verifier = false

	case ledgermodels.ScoreUpdateSigned:
		record.ObservationCount++
		record.LastObservedScore = payload.Score

	case ledgermodels.BadgeMinted:
		if record.Badges == nil {
			record.Badges = make(map[id.BadgeType]models.MirrorBadge)
		}
		record.Badges[payload.BadgeType] = models.MirrorBadge{
			BadgeID:         payload.BadgeID,
			TrustScore:      payload.TrustScore,
			EvidencePointer: payload.EvidencePointer,
			ExpiresAt:       payload.ExpiresAt,
		}

	case ledgermodels.BadgeUpdated:
		if record.Badges == nil {
			record.Badges = make(map[id.BadgeType]models.MirrorBadge)
		}
		record.Badges[payload.BadgeType] = models.MirrorBadge{
			BadgeID:         payload.BadgeID,
			TrustScore:      payload.NewScore,
			EvidencePointer: payload.EvidencePointer,
			ExpiresAt:       payload.ExpiresAt,
		}

	default:
		return record, fmt.Errorf("no projection for event kind %q", env.Type)
	}

	record.Subject = env.Subject
	record.LastAppliedSequence = env.Sequence
	record.UpdatedAt = env.Timestamp
	return record, nil
}

// Package httptransport is the read-only HTTP surface: profile, consensus
// and badge lookups plus a per-subject event stream. It delegates to the
// domain services and holds no business logic.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"trustledger/internal/jobs"
	"trustledger/internal/ledger/models"
	"trustledger/internal/ledger/oracle"
	id "trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
)

type ProfileService interface {
	GetProfile(ctx context.Context, subject id.Address) (models.TrustProfile, error)
	Accounts(ctx context.Context, subject id.Address) ([]models.VerifiedAccount, error)
}

type ConsensusService interface {
	GetConsensusScore(ctx context.Context, subject id.Address) (oracle.Consensus, error)
	MinVerifications() int
}

type BadgeService interface {
	GetBadge(ctx context.Context, owner id.Address, badgeType id.BadgeType) (models.TrustBadge, error)
	ListBadges(ctx context.Context, owner id.Address) ([]models.TrustBadge, error)
}

// JobInspector exposes terminally failed background writes to operators.
type JobInspector interface {
	FailedWrites() []jobs.FailedWrite
}

type Handler struct {
	logger    *slog.Logger
	profiles  ProfileService
	consensus ConsensusService
	badges    BadgeService
	jobs      JobInspector
	events    EventStream
}

func NewHandler(
	profiles ProfileService,
	consensus ConsensusService,
	badges BadgeService,
	events EventStream,
	jobsInspector JobInspector,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		logger:    logger,
		profiles:  profiles,
		consensus: consensus,
		badges:    badges,
		events:    events,
		jobs:      jobsInspector,
	}
}

type accountResponse struct {
	Provider          id.Provider `json:"provider"`
	Username          string      `json:"username"`
	VerifiedAt        time.Time   `json:"verifiedAt"`
	ExternalAccountID string      `json:"externalAccountId"`
}

type profileResponse struct {
	Owner           id.Address        `json:"owner"`
	Identifier      string            `json:"identifier"`
	TrustScore      uint8             `json:"trustScore"`
	EvidencePointer string            `json:"evidencePointer"`
	Accounts        []accountResponse `json:"accounts"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	Version         uint64            `json:"version"`
}

type consensusResponse struct {
	Subject      id.Address `json:"subject"`
	Score        uint8      `json:"score"`
	Observations int        `json:"observations"`
	Established  bool       `json:"established"`
}

type badgeResponse struct {
	ID              string       `json:"id"`
	Owner           id.Address   `json:"owner"`
	BadgeType       id.BadgeType `json:"badgeType"`
	TrustScore      uint8        `json:"trustScore"`
	EvidencePointer string       `json:"evidencePointer"`
	IssuedAt        time.Time    `json:"issuedAt"`
	ExpiresAt       time.Time    `json:"expiresAt"`
	Expired         bool         `json:"expired"`
	Version         uint64       `json:"version"`
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, err := subjectParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	profile, err := h.profiles.GetProfile(ctx, subject)
	if err != nil {
		h.logError(ctx, "profile lookup failed", subject, err)
		writeError(w, err)
		return
	}
	accounts, err := h.profiles.Accounts(ctx, subject)
	if err != nil {
		h.logError(ctx, "account lookup failed", subject, err)
		writeError(w, err)
		return
	}

	resp := profileResponse{
		Owner:           profile.Owner,
		Identifier:      profile.Identifier,
		TrustScore:      profile.TrustScore,
		EvidencePointer: profile.EvidencePointer,
		Accounts:        make([]accountResponse, 0, len(accounts)),
		CreatedAt:       profile.CreatedAt,
		UpdatedAt:       profile.UpdatedAt,
		Version:         profile.Version,
	}
	for _, account := range accounts {
		resp.Accounts = append(resp.Accounts, accountResponse{
			Provider:          account.Provider,
			Username:          account.ExternalUsername,
			VerifiedAt:        account.VerifiedAt,
			ExternalAccountID: account.ExternalAccountID,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetConsensus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, err := subjectParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	consensus, err := h.consensus.GetConsensusScore(ctx, subject)
	if err != nil {
		h.logError(ctx, "consensus lookup failed", subject, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, consensusResponse{
		Subject:      subject,
		Score:        consensus.Score,
		Observations: consensus.Observations,
		Established:  consensus.Established(h.consensus.MinVerifications()),
	})
}

func (h *Handler) handleGetBadge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, err := subjectParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	badgeType := id.BadgeType(chi.URLParam(r, "type"))
	if !badgeType.Valid() {
		writeError(w, dErrors.Newf(dErrors.CodeBadRequest, "unknown badge type %q", badgeType))
		return
	}

	badge, err := h.badges.GetBadge(ctx, subject, badgeType)
	if err != nil {
		h.logError(ctx, "badge lookup failed", subject, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, badgeResponse{
		ID:              badge.ID,
		Owner:           badge.Owner,
		BadgeType:       badge.BadgeType,
		TrustScore:      badge.TrustScore,
		EvidencePointer: badge.EvidencePointer,
		IssuedAt:        badge.IssuedAt,
		ExpiresAt:       badge.ExpiresAt,
		Expired:         badge.Expired(time.Now()),
		Version:         badge.Version,
	})
}

func (h *Handler) handleListBadges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, err := subjectParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	badges, err := h.badges.ListBadges(ctx, subject)
	if err != nil {
		h.logError(ctx, "badge list failed", subject, err)
		writeError(w, err)
		return
	}

	now := time.Now()
	resp := make([]badgeResponse, 0, len(badges))
	for _, badge := range badges {
		resp = append(resp, badgeResponse{
			ID:              badge.ID,
			Owner:           badge.Owner,
			BadgeType:       badge.BadgeType,
			TrustScore:      badge.TrustScore,
			EvidencePointer: badge.EvidencePointer,
			IssuedAt:        badge.IssuedAt,
			ExpiresAt:       badge.ExpiresAt,
			Expired:         badge.Expired(now),
			Version:         badge.Version,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleFailedWrites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.jobs.FailedWrites())
}

func (h *Handler) logError(ctx context.Context, msg string, subject id.Address, err error) {
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return
	}
	h.logger.ErrorContext(ctx, msg, "subject", subject, "error", err)
}

func subjectParam(r *http.Request) (id.Address, error) {
	subject, err := id.ParseAddress(chi.URLParam(r, "subject"))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid subject address")
	}
	return subject, nil
}

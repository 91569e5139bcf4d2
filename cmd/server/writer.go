package main

import (
	"context"

	"trustledger/internal/ledger/badge"
	"trustledger/internal/ledger/registry"
	id "trustledger/pkg/domain"
)

// ledgerWriter adapts the registry and badge services to the orchestrator's
// write interface. A score write commits the new score and then issues or
// renews the subject's badge at that score.
type ledgerWriter struct {
	registry *registry.Service
	badges   *badge.Service
	caller   id.Address
}

func (w ledgerWriter) WriteScore(ctx context.Context, subject id.Address, score uint8, evidencePointer string) error {
	if _, err := w.registry.UpdateScore(ctx, w.caller, subject, score, evidencePointer); err != nil {
		return err
	}
	_, err := w.badges.IssueOrRenew(ctx, subject, score, evidencePointer)
	return err
}

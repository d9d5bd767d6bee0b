package services

import (
	"fmt"

	"github.com/arkvault/arkvault-backend/internal/pkg/logger"
	"github.com/arkvault/arkvault-backend/internal/platform/dbctx"
	"github.com/arkvault/arkvault-backend/internal/platform/ethaddr"
	"github.com/arkvault/arkvault-backend/internal/repos"
	"github.com/arkvault/arkvault-backend/internal/types"
)

// AuditService writes the append-only trail of state transitions. Every
// record carries both the asset owner and the wallet that actually
// performed the action; they differ under delegation.
type AuditService interface {
	Record(dbc dbctx.Context, assetID, action, ownerWallet, initiator string, detail map[string]any) error
	HistoryForAsset(dbc dbctx.Context, assetID string) ([]*types.AuditRecord, error)
	HistoryForWallet(dbc dbctx.Context, wallet string) ([]*types.AuditRecord, error)
}

type auditService struct {
	log  *logger.Logger
	repo repos.AuditRepo
}

func NewAuditService(log *logger.Logger, repo repos.AuditRepo) AuditService {
	return &auditService{
		log:  log.With("service", "AuditService"),
		repo: repo,
	}
}

func (s *auditService) Record(dbc dbctx.Context, assetID, action, ownerWallet, initiator string, detail map[string]any) error {
	performedBy := ownerWallet
	if initiator != "" && !ethaddr.Equal(initiator, ownerWallet) {
		performedBy = initiator
	}
	_, err := s.repo.Append(dbc, &types.AuditRecord{
		AssetID:     assetID,
		Action:      action,
		OwnerWallet: ownerWallet,
		PerformedBy: performedBy,
		Detail:      detail,
	})
	if err != nil {
		return fmt.Errorf("record %s for %s: %w", action, assetID, err)
	}
	s.log.Info("Recorded audit action", "asset_id", assetID, "action", action, "performed_by", performedBy)
	return nil
}

func (s *auditService) HistoryForAsset(dbc dbctx.Context, assetID string) ([]*types.AuditRecord, error) {
	return s.repo.ListByAsset(dbc, assetID)
}

func (s *auditService) HistoryForWallet(dbc dbctx.Context, wallet string) ([]*types.AuditRecord, error) {
	return s.repo.ListByWallet(dbc, wallet)
}

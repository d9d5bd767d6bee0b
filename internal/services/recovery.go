package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/arkvault/arkvault-backend/internal/ipfs"
	"github.com/arkvault/arkvault-backend/internal/pkg/logger"
	"github.com/arkvault/arkvault-backend/internal/platform/dbctx"
	"github.com/arkvault/arkvault-backend/internal/repos"
	"github.com/arkvault/arkvault-backend/internal/types"
)

// RecoveryController repairs a version chain after a failed verification.
// Two disjoint paths, never both in one call: deletion-status repair marks
// the whole chain deleted to match the ledger, content repair appends a
// new current version rebuilt from the anchored payload. Historical
// versions are reported, never healed.
type RecoveryController interface {
	// Recover inspects vr, applies at most one repair path, and records
	// the outcome in vr. It returns the version row the caller should
	// serve from now on, or nil when nothing changed. Repair failures are
	// carried in vr rather than returned: callers always get metadata
	// plus a diagnosis.
	Recover(ctx context.Context, doc *types.AssetVersion, vr *VerificationResult, autoRecover bool, initiator string) *types.AssetVersion
}

type recoveryController struct {
	log      *logger.Logger
	db       *gorm.DB
	versions repos.AssetVersionRepo
	content  ipfs.ContentStore
	audit    AuditService
}

func NewRecoveryController(
	log *logger.Logger,
	db *gorm.DB,
	versions repos.AssetVersionRepo,
	content ipfs.ContentStore,
	audit AuditService,
) RecoveryController {
	return &recoveryController{
		log:      log.With("service", "RecoveryController"),
		db:       db,
		versions: versions,
		content:  content,
		audit:    audit,
	}
}

func (rc *recoveryController) Recover(ctx context.Context, doc *types.AssetVersion, vr *VerificationResult, autoRecover bool, initiator string) *types.AssetVersion {
	if doc == nil || vr == nil {
		return nil
	}
	switch {
	case vr.DeletionStatusTampered && autoRecover:
		return rc.repairDeletionStatus(ctx, doc, vr, autoRecover, initiator)
	case vr.RecoveryNeeded && autoRecover && doc.IsCurrent && !vr.DeletionStatusTampered:
		return rc.repairContent(ctx, doc, vr, autoRecover, initiator)
	}
	return nil
}

// repairDeletionStatus propagates the ledger's deletion flag to every
// version in the chain. No new version is created.
func (rc *recoveryController) repairDeletionStatus(ctx context.Context, doc *types.AssetVersion, vr *VerificationResult, autoRecover bool, initiator string) *types.AssetVersion {
	vr.RecoveryAttempted = true
	err := rc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if _, err := rc.versions.MarkAllDeleted(dbc, doc.AssetID); err != nil {
			return err
		}
		return rc.audit.Record(dbc, doc.AssetID, types.ActionDeletionStatusRestored, doc.OwnerWallet, initiator, map[string]any{
			"previous_version": doc.VersionNumber,
			"recovery_source":  "ledger_verification",
			"auto_recover":     autoRecover,
		})
	})
	if err != nil {
		rc.log.Error("Failed to restore deletion status", "asset_id", doc.AssetID, "error", err)
		vr.RecoverySuccessful = false
		vr.Message = "Failed to restore deletion status"
		return nil
	}
	vr.RecoverySuccessful = true
	vr.NewVersionCreated = false
	vr.Message = "Asset deletion status restored from ledger"
	rc.log.Info("Restored deletion status from ledger", "asset_id", doc.AssetID)

	// Re-read the version the caller asked for; GetVersion hides deleted
	// rows, so scan the chain instead.
	chain, err := rc.versions.ListChain(dbctx.Context{Ctx: ctx}, doc.AssetID)
	if err != nil {
		return nil
	}
	for _, v := range chain {
		if v.VersionNumber == doc.VersionNumber {
			return v
		}
	}
	return nil
}

// repairContent rebuilds the current version from the payload the ledger
// anchored. The anchored CID, not the locally stored one, is the trust
// root here.
func (rc *recoveryController) repairContent(ctx context.Context, doc *types.AssetVersion, vr *VerificationResult, autoRecover bool, initiator string) *types.AssetVersion {
	vr.RecoveryAttempted = true

	payload, err := rc.content.Get(ctx, vr.LedgerCID)
	if err != nil {
		rc.log.Error("Failed to fetch anchored payload", "asset_id", doc.AssetID, "cid", vr.LedgerCID, "error", err)
		vr.RecoverySuccessful = false
		return nil
	}
	if ipfs.IsPlaceholder(payload) {
		rc.log.Error("Anchored payload is unreadable", "asset_id", doc.AssetID, "cid", vr.LedgerCID)
		vr.RecoverySuccessful = false
		return nil
	}
	critical, ok := payload["critical_metadata"].(map[string]any)
	if !ok {
		rc.log.Error("Anchored payload lacks critical metadata", "asset_id", doc.AssetID, "cid", vr.LedgerCID)
		vr.RecoverySuccessful = false
		return nil
	}

	restored := &types.AssetVersion{
		AssetID:             doc.AssetID,
		OwnerWallet:         doc.OwnerWallet,
		ContentCID:          vr.LedgerCID,
		LedgerTxID:          doc.LedgerTxID,
		IPFSVersion:         vr.IPFSVersion,
		CriticalMetadata:    critical,
		NonCriticalMetadata: doc.NonCriticalMetadata,
	}
	err = rc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if _, err := rc.versions.CreateVersion(dbc, restored); err != nil {
			return err
		}
		return rc.audit.Record(dbc, doc.AssetID, types.ActionIntegrityRecovery, doc.OwnerWallet, initiator, map[string]any{
			"previous_version":      doc.VersionNumber,
			"new_version":           restored.VersionNumber,
			"previous_ipfs_version": doc.IPFSVersion,
			"new_ipfs_version":      restored.IPFSVersion,
			"ledger_cid":            vr.LedgerCID,
			"computed_cid":          vr.ComputedCID,
			"recovery_source":       "content_store",
			"tx_sender_verified":    vr.TxSenderVerified,
			"auto_recover":          autoRecover,
		})
	})
	if err != nil {
		rc.log.Error("Failed to persist recovered version", "asset_id", doc.AssetID, "error", err)
		vr.RecoverySuccessful = false
		return nil
	}

	vr.RecoverySuccessful = true
	vr.NewVersionCreated = true
	rc.log.Info("Recovered version from anchored payload",
		"asset_id", doc.AssetID, "new_version", restored.VersionNumber, "cid", vr.LedgerCID)
	return restored
}

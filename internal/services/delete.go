package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/arkvault/arkvault-backend/internal/ledger"
	apperrors "github.com/arkvault/arkvault-backend/internal/pkg/errors"
	"github.com/arkvault/arkvault-backend/internal/pkg/logger"
	"github.com/arkvault/arkvault-backend/internal/platform/dbctx"
	"github.com/arkvault/arkvault-backend/internal/platform/ethaddr"
	"github.com/arkvault/arkvault-backend/internal/repos"
	"github.com/arkvault/arkvault-backend/internal/types"
)

type DeleteResult struct {
	AssetID    string `json:"asset_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	LedgerTxID string `json:"ledger_tx_id,omitempty"`
}

type BatchDeleteResult struct {
	Status       string                   `json:"status"`
	Message      string                   `json:"message"`
	Results      map[string]*DeleteResult `json:"results"`
	SuccessCount int                      `json:"success_count"`
	FailureCount int                      `json:"failure_count"`
}

// DeleteService soft-deletes version chains. Non-owners must hold a
// delegate grant on the ledger; local state never decides delegation.
type DeleteService interface {
	Delete(ctx context.Context, assetID, requester, reason string) (*DeleteResult, error)
	BatchDelete(ctx context.Context, assetIDs []string, requester, reason string) (*BatchDeleteResult, error)
}

type deleteService struct {
	log      *logger.Logger
	db       *gorm.DB
	versions repos.AssetVersionRepo
	chain    ledger.Client
	audit    AuditService
}

func NewDeleteService(
	log *logger.Logger,
	db *gorm.DB,
	versions repos.AssetVersionRepo,
	chain ledger.Client,
	audit AuditService,
) DeleteService {
	return &deleteService{
		log:      log.With("service", "DeleteService"),
		db:       db,
		versions: versions,
		chain:    chain,
		audit:    audit,
	}
}

func (ds *deleteService) Delete(ctx context.Context, assetID, requester, reason string) (*DeleteResult, error) {
	dbc := dbctx.Context{Ctx: ctx}

	current, err := ds.versions.GetCurrent(dbc, assetID)
	if err != nil {
		return nil, fmt.Errorf("load asset %s: %w", assetID, err)
	}
	if current == nil {
		anyVersion, err := ds.versions.GetAnyVersion(dbc, assetID)
		if err != nil {
			return nil, fmt.Errorf("load asset %s: %w", assetID, err)
		}
		if anyVersion != nil && anyVersion.IsDeleted {
			return &DeleteResult{
				AssetID: assetID,
				Status:  "warning",
				Message: "Asset is already deleted",
			}, nil
		}
		return nil, fmt.Errorf("asset %s: %w", assetID, apperrors.ErrNotFound)
	}

	owner := current.OwnerWallet
	delegated := !ethaddr.Equal(owner, requester)

	var txHash string
	if delegated {
		// The contract enforces the delegate grant; a rejected submit is
		// an authorization failure, not an infrastructure one.
		anchor, err := ds.chain.GetAnchor(ctx, assetID, owner)
		if err != nil || anchor.IsDeleted {
			return nil, fmt.Errorf("asset %s: only the owner or a ledger delegate can delete: %w", assetID, apperrors.ErrUnauthorized)
		}
		txHash, err = ds.chain.SubmitDelete(ctx, assetID, owner, true)
		if err != nil {
			ds.log.Warn("Delegated ledger delete rejected", "asset_id", assetID, "requester", requester, "error", err)
			return nil, fmt.Errorf("asset %s: only the owner or a ledger delegate can delete: %w", assetID, apperrors.ErrUnauthorized)
		}
	} else {
		txHash, err = ds.chain.SubmitDelete(ctx, assetID, owner, false)
		if err != nil {
			// Keep the local store authoritative; reconciliation picks up
			// the missed ledger delete later via verification.
			ds.log.Error("Ledger delete failed, continuing with local delete", "asset_id", assetID, "error", err)
			txHash = ""
		}
	}

	err = ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}
		rows, err := ds.versions.MarkAllDeleted(txc, assetID)
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("no versions marked deleted")
		}
		detail := map[string]any{"reason": reason}
		if reason == "" {
			detail["reason"] = "User requested deletion"
		}
		if txHash != "" {
			detail["ledger_tx_id"] = txHash
		}
		return ds.audit.Record(txc, assetID, types.ActionDelete, owner, requester, detail)
	})
	if err != nil {
		return nil, fmt.Errorf("delete asset %s: %w", assetID, err)
	}

	ds.log.Info("Deleted asset", "asset_id", assetID, "requester", requester)
	return &DeleteResult{
		AssetID:    assetID,
		Status:     "success",
		Message:    "Asset deleted successfully",
		LedgerTxID: txHash,
	}, nil
}

// BatchDelete isolates failures per asset; one bad id never aborts the
// rest.
func (ds *deleteService) BatchDelete(ctx context.Context, assetIDs []string, requester, reason string) (*BatchDeleteResult, error) {
	out := &BatchDeleteResult{Results: make(map[string]*DeleteResult, len(assetIDs))}
	for _, id := range assetIDs {
		res, err := ds.Delete(ctx, id, requester, reason)
		if err != nil {
			out.Results[id] = &DeleteResult{AssetID: id, Status: "error", Message: err.Error()}
			out.FailureCount++
			continue
		}
		out.Results[id] = res
		out.SuccessCount++
	}

	switch {
	case out.FailureCount == 0:
		out.Status = "success"
		out.Message = fmt.Sprintf("All %d assets deleted successfully", out.SuccessCount)
	case out.SuccessCount > 0:
		out.Status = "partial"
		out.Message = fmt.Sprintf("%d assets deleted successfully, %d failed", out.SuccessCount, out.FailureCount)
	default:
		out.Status = "error"
		out.Message = fmt.Sprintf("Failed to delete any of the %d assets", out.FailureCount)
	}
	return out, nil
}

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

type TransferResult struct {
	AssetID    string `json:"asset_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	From       string `json:"from"`
	To         string `json:"to"`
	LedgerTxID string `json:"ledger_tx_id"`
}

// TransferService moves chain ownership through the ledger's two-step
// transfer flow: the owner initiates, the recipient accepts, either side
// of the window the owner may cancel.
type TransferService interface {
	Initiate(ctx context.Context, assetID, currentOwner, newOwner, notes string) (*TransferResult, error)
	Accept(ctx context.Context, assetID, previousOwner, newOwner, notes string) (*TransferResult, error)
	Cancel(ctx context.Context, assetID, currentOwner, notes string) (*TransferResult, error)
}

type transferService struct {
	log      *logger.Logger
	db       *gorm.DB
	versions repos.AssetVersionRepo
	chain    ledger.Client
	audit    AuditService
}

func NewTransferService(
	log *logger.Logger,
	db *gorm.DB,
	versions repos.AssetVersionRepo,
	chain ledger.Client,
	audit AuditService,
) TransferService {
	return &transferService{
		log:      log.With("service", "TransferService"),
		db:       db,
		versions: versions,
		chain:    chain,
		audit:    audit,
	}
}

func (ts *transferService) Initiate(ctx context.Context, assetID, currentOwner, newOwner, notes string) (*TransferResult, error) {
	doc, err := ts.ownedCurrent(ctx, assetID, currentOwner)
	if err != nil {
		return nil, err
	}

	pendingTo, err := ts.chain.PendingTransferTo(ctx, assetID, doc.OwnerWallet)
	if err != nil {
		return nil, fmt.Errorf("check pending transfer for %s: %w", assetID, err)
	}
	if pendingTo != ledger.ZeroAddress {
		return nil, fmt.Errorf("asset %s already has a pending transfer to %s", assetID, pendingTo)
	}

	txHash, err := ts.chain.InitiateTransfer(ctx, assetID, newOwner)
	if err != nil {
		return nil, fmt.Errorf("initiate transfer for %s: %w", assetID, err)
	}

	if err := ts.audit.Record(dbctx.Context{Ctx: ctx}, assetID, types.ActionTransferInitiated, doc.OwnerWallet, currentOwner, map[string]any{
		"from":         currentOwner,
		"to":           newOwner,
		"ledger_tx_id": txHash,
		"notes":        notes,
	}); err != nil {
		return nil, err
	}

	ts.log.Info("Initiated transfer", "asset_id", assetID, "to", newOwner)
	return &TransferResult{
		AssetID:    assetID,
		Status:     "success",
		Message:    fmt.Sprintf("Transfer initiated for asset %s", assetID),
		From:       currentOwner,
		To:         newOwner,
		LedgerTxID: txHash,
	}, nil
}

func (ts *transferService) Accept(ctx context.Context, assetID, previousOwner, newOwner, notes string) (*TransferResult, error) {
	doc, err := ts.ownedCurrent(ctx, assetID, previousOwner)
	if err != nil {
		return nil, err
	}

	pendingTo, err := ts.chain.PendingTransferTo(ctx, assetID, doc.OwnerWallet)
	if err != nil {
		return nil, fmt.Errorf("check pending transfer for %s: %w", assetID, err)
	}
	if !ethaddr.Equal(pendingTo, newOwner) {
		return nil, fmt.Errorf("asset %s has no pending transfer to %s: %w", assetID, newOwner, apperrors.ErrUnauthorized)
	}

	txHash, err := ts.chain.AcceptTransfer(ctx, assetID, previousOwner)
	if err != nil {
		return nil, fmt.Errorf("accept transfer for %s: %w", assetID, err)
	}

	// The whole chain moves to the new owner: history stays intact but
	// is owned, and verified, under the new wallet from here on.
	err = ts.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}
		if _, err := ts.versions.SetOwner(txc, assetID, newOwner); err != nil {
			return err
		}
		return ts.audit.Record(txc, assetID, types.ActionTransferCompleted, newOwner, newOwner, map[string]any{
			"from":         previousOwner,
			"to":           newOwner,
			"ledger_tx_id": txHash,
			"notes":        notes,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("complete transfer for %s: %w", assetID, err)
	}

	ts.log.Info("Completed transfer", "asset_id", assetID, "from", previousOwner, "to", newOwner)
	return &TransferResult{
		AssetID:    assetID,
		Status:     "success",
		Message:    fmt.Sprintf("Transfer accepted for asset %s", assetID),
		From:       previousOwner,
		To:         newOwner,
		LedgerTxID: txHash,
	}, nil
}

func (ts *transferService) Cancel(ctx context.Context, assetID, currentOwner, notes string) (*TransferResult, error) {
	doc, err := ts.ownedCurrent(ctx, assetID, currentOwner)
	if err != nil {
		return nil, err
	}

	pendingTo, err := ts.chain.PendingTransferTo(ctx, assetID, doc.OwnerWallet)
	if err != nil {
		return nil, fmt.Errorf("check pending transfer for %s: %w", assetID, err)
	}
	if pendingTo == ledger.ZeroAddress {
		return nil, fmt.Errorf("asset %s has no pending transfer", assetID)
	}

	txHash, err := ts.chain.CancelTransfer(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("cancel transfer for %s: %w", assetID, err)
	}

	if err := ts.audit.Record(dbctx.Context{Ctx: ctx}, assetID, types.ActionTransferCancelled, doc.OwnerWallet, currentOwner, map[string]any{
		"from":         currentOwner,
		"to":           pendingTo,
		"ledger_tx_id": txHash,
		"notes":        notes,
	}); err != nil {
		return nil, err
	}

	ts.log.Info("Cancelled transfer", "asset_id", assetID)
	return &TransferResult{
		AssetID:    assetID,
		Status:     "success",
		Message:    fmt.Sprintf("Transfer cancelled for asset %s", assetID),
		From:       currentOwner,
		To:         pendingTo,
		LedgerTxID: txHash,
	}, nil
}

func (ts *transferService) ownedCurrent(ctx context.Context, assetID, owner string) (*types.AssetVersion, error) {
	doc, err := ts.versions.GetCurrent(dbctx.Context{Ctx: ctx}, assetID)
	if err != nil {
		return nil, fmt.Errorf("load asset %s: %w", assetID, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("asset %s: %w", assetID, apperrors.ErrNotFound)
	}
	if !ethaddr.Equal(doc.OwnerWallet, owner) {
		return nil, fmt.Errorf("asset %s: only the owner can manage transfers: %w", assetID, apperrors.ErrUnauthorized)
	}
	return doc, nil
}

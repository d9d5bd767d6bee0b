package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/arkvault/arkvault-backend/internal/canonical"
	"github.com/arkvault/arkvault-backend/internal/ipfs"
	"github.com/arkvault/arkvault-backend/internal/ledger"
	"github.com/arkvault/arkvault-backend/internal/pending"
	apperrors "github.com/arkvault/arkvault-backend/internal/pkg/errors"
	"github.com/arkvault/arkvault-backend/internal/pkg/logger"
	"github.com/arkvault/arkvault-backend/internal/platform/dbctx"
	"github.com/arkvault/arkvault-backend/internal/platform/ethaddr"
	"github.com/arkvault/arkvault-backend/internal/repos"
	"github.com/arkvault/arkvault-backend/internal/types"
)

// Publish statuses.
const (
	StatusSuccess          = "success"
	StatusPendingSignature = "pending_signature"
)

// PublishRequest is one metadata publication. OwnerWallet may differ from
// the authenticated initiator under delegation; when empty it defaults to
// the initiator.
type PublishRequest struct {
	AssetID             string         `json:"asset_id"`
	OwnerWallet         string         `json:"owner_wallet"`
	CriticalMetadata    map[string]any `json:"critical_metadata"`
	NonCriticalMetadata map[string]any `json:"non_critical_metadata"`
}

type PublishResult struct {
	AssetID     string             `json:"asset_id"`
	Status      string             `json:"status"`
	Message     string             `json:"message"`
	Version     uint64             `json:"version,omitempty"`
	IPFSVersion uint64             `json:"ipfs_version,omitempty"`
	ContentCID  string             `json:"content_cid,omitempty"`
	LedgerTxID  string             `json:"ledger_tx_id,omitempty"`
	PendingID   string             `json:"pending_id,omitempty"`
	UnsignedTx  *ledger.UnsignedTx `json:"unsigned_tx,omitempty"`
	OwnerWallet string             `json:"owner_wallet"`
	Initiator   string             `json:"initiator"`
}

// PublishCoordinator drives the create / update / recreate state machine.
// Server-custodied identities complete in one call; wallet identities get
// an unsigned transaction back and finish through Complete once it is
// signed and broadcast.
type PublishCoordinator interface {
	Process(ctx context.Context, auth types.AuthContext, req PublishRequest) (*PublishResult, error)
	ProcessBatch(ctx context.Context, auth types.AuthContext, reqs []PublishRequest) []*PublishResult
	Complete(ctx context.Context, pendingID, txHash, initiator string) (*PublishResult, error)
	ListPending(ctx context.Context, initiator string) ([]*pending.Transaction, error)
}

type publishCoordinator struct {
	log      *logger.Logger
	db       *gorm.DB
	versions repos.AssetVersionRepo
	content  ipfs.ContentStore
	chain    ledger.Client
	staged   pending.Store
	audit    AuditService
}

func NewPublishCoordinator(
	log *logger.Logger,
	db *gorm.DB,
	versions repos.AssetVersionRepo,
	content ipfs.ContentStore,
	chain ledger.Client,
	staged pending.Store,
	audit AuditService,
) PublishCoordinator {
	return &publishCoordinator{
		log:      log.With("service", "PublishCoordinator"),
		db:       db,
		versions: versions,
		content:  content,
		chain:    chain,
		staged:   staged,
		audit:    audit,
	}
}

func (pc *publishCoordinator) Process(ctx context.Context, auth types.AuthContext, req PublishRequest) (*PublishResult, error) {
	if req.AssetID == "" {
		return nil, fmt.Errorf("%w: asset_id is required", apperrors.ErrInvalidMetadata)
	}
	initiator := auth.WalletAddress
	owner := req.OwnerWallet
	if owner == "" {
		owner = initiator
	}
	dbc := dbctx.Context{Ctx: ctx}

	existing, err := pc.versions.GetCurrent(dbc, req.AssetID)
	if err != nil {
		return nil, fmt.Errorf("load asset %s: %w", req.AssetID, err)
	}
	wasDeleted := false
	if existing == nil {
		anyVersion, err := pc.versions.GetAnyVersion(dbc, req.AssetID)
		if err != nil {
			return nil, fmt.Errorf("load asset %s: %w", req.AssetID, err)
		}
		if anyVersion != nil && anyVersion.IsDeleted {
			existing = anyVersion
			wasDeleted = true
		}
	}

	computed, err := canonical.ComputeCID(req.AssetID, owner, req.CriticalMetadata)
	if err != nil {
		return nil, err
	}

	// A deleted asset's anchor is stale by definition, so recreation
	// always rewrites content and ledger even when the CID is unchanged.
	if existing != nil && !wasDeleted && computed == existing.ContentCID {
		return pc.metadataOnlyUpdate(ctx, existing, owner, initiator, req)
	}

	payload, err := canonical.PublishPayload(req.AssetID, owner, req.CriticalMetadata)
	if err != nil {
		return nil, err
	}
	data, err := canonical.Canonicalize(payload)
	if err != nil {
		return nil, err
	}
	cid, err := pc.content.Put(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("store payload for %s: %w", req.AssetID, err)
	}
	// The sidecar addresses payloads exactly as ComputeCID does; anchoring
	// any other CID would fail every later verification of this version.
	if cid != computed {
		return nil, fmt.Errorf("store payload for %s: content store addressed payload as %s, want %s", req.AssetID, cid, computed)
	}

	m := mutation{
		assetID:             req.AssetID,
		owner:               owner,
		initiator:           initiator,
		cid:                 cid,
		criticalMetadata:    req.CriticalMetadata,
		nonCriticalMetadata: req.NonCriticalMetadata,
		isNew:               existing == nil,
		wasDeleted:          wasDeleted,
	}
	if existing != nil {
		m.baseIPFSVersion = existing.IPFSVersion
	}

	if !auth.ServerCustody() {
		return pc.stageForSignature(ctx, m)
	}

	delegated := !ethaddr.Equal(owner, initiator)
	txHash, err := pc.chain.SubmitUpdate(ctx, cid, req.AssetID, owner, delegated)
	if err != nil {
		return nil, fmt.Errorf("anchor %s: %w", req.AssetID, err)
	}
	return pc.commit(ctx, m, txHash)
}

// ProcessBatch publishes several assets, isolating failures per item.
func (pc *publishCoordinator) ProcessBatch(ctx context.Context, auth types.AuthContext, reqs []PublishRequest) []*PublishResult {
	results := make([]*PublishResult, len(reqs))
	for i, req := range reqs {
		res, err := pc.Process(ctx, auth, req)
		if err != nil {
			results[i] = &PublishResult{
				AssetID:   req.AssetID,
				Status:    "error",
				Message:   err.Error(),
				Initiator: auth.WalletAddress,
			}
			continue
		}
		results[i] = res
	}
	return results
}

func (pc *publishCoordinator) metadataOnlyUpdate(ctx context.Context, existing *types.AssetVersion, owner, initiator string, req PublishRequest) (*PublishResult, error) {
	v := &types.AssetVersion{
		AssetID:             req.AssetID,
		OwnerWallet:         owner,
		ContentCID:          existing.ContentCID,
		LedgerTxID:          existing.LedgerTxID,
		IPFSVersion:         existing.IPFSVersion,
		CriticalMetadata:    req.CriticalMetadata,
		NonCriticalMetadata: req.NonCriticalMetadata,
	}
	err := pc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if _, err := pc.versions.CreateVersion(dbc, v); err != nil {
			return err
		}
		return pc.audit.Record(dbc, req.AssetID, types.ActionUpdate, owner, initiator, map[string]any{
			"version":      v.VersionNumber,
			"ipfs_version": v.IPFSVersion,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("update asset %s: %w", req.AssetID, err)
	}
	return &PublishResult{
		AssetID:     req.AssetID,
		Status:      StatusSuccess,
		Message:     "New version created with updated non-critical metadata only",
		Version:     v.VersionNumber,
		IPFSVersion: v.IPFSVersion,
		ContentCID:  v.ContentCID,
		LedgerTxID:  v.LedgerTxID,
		OwnerWallet: owner,
		Initiator:   initiator,
	}, nil
}

// stageForSignature stores everything needed to replay the version-store
// mutation later and hands the unsigned transaction back to the caller.
// No version-store mutation happens yet.
func (pc *publishCoordinator) stageForSignature(ctx context.Context, m mutation) (*PublishResult, error) {
	unsigned, err := pc.chain.BuildUpdateTx(ctx, m.cid, m.assetID, m.owner, m.initiator)
	if err != nil {
		return nil, fmt.Errorf("build unsigned tx for %s: %w", m.assetID, err)
	}
	pendingID, err := pc.staged.Stage(ctx, &pending.Transaction{
		InitiatorWallet:     m.initiator,
		OwnerWallet:         m.owner,
		AssetID:             m.assetID,
		StagedCID:           m.cid,
		CriticalMetadata:    m.criticalMetadata,
		NonCriticalMetadata: m.nonCriticalMetadata,
		UnsignedTx:          unsigned,
		WasDeleted:          m.wasDeleted,
		IsNewDocument:       m.isNew,
		BaseIPFSVersion:     m.baseIPFSVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("stage pending tx for %s: %w", m.assetID, err)
	}
	pc.log.Info("Staged transaction for signing", "asset_id", m.assetID, "pending_id", pendingID)
	return &PublishResult{
		AssetID:     m.assetID,
		Status:      StatusPendingSignature,
		Message:     "Transaction prepared for signing",
		ContentCID:  m.cid,
		PendingID:   pendingID,
		UnsignedTx:  &unsigned,
		OwnerWallet: m.owner,
		Initiator:   m.initiator,
	}, nil
}

func (pc *publishCoordinator) Complete(ctx context.Context, pendingID, txHash, initiator string) (*PublishResult, error) {
	// Claiming the entry up front keeps two racing completions from both
	// replaying the commit; every failure path puts it back.
	staged, err := pc.staged.Consume(ctx, pendingID)
	if err != nil {
		return nil, err
	}
	if !ethaddr.Equal(staged.InitiatorWallet, initiator) {
		pc.restage(ctx, staged)
		return nil, fmt.Errorf("pending transaction %s: %w", pendingID, apperrors.ErrUnauthorized)
	}

	receipt, err := pc.chain.ConfirmTransaction(ctx, txHash)
	if err != nil {
		pc.restage(ctx, staged)
		return nil, fmt.Errorf("confirm %s: %w", txHash, err)
	}
	if !receipt.Success {
		pc.restage(ctx, staged)
		return nil, fmt.Errorf("transaction %s: %w", txHash, apperrors.ErrTransactionNotConfirmed)
	}

	res, err := pc.commit(ctx, mutation{
		assetID:             staged.AssetID,
		owner:               staged.OwnerWallet,
		initiator:           staged.InitiatorWallet,
		cid:                 staged.StagedCID,
		criticalMetadata:    staged.CriticalMetadata,
		nonCriticalMetadata: staged.NonCriticalMetadata,
		isNew:               staged.IsNewDocument,
		wasDeleted:          staged.WasDeleted,
		baseIPFSVersion:     staged.BaseIPFSVersion,
	}, txHash)
	if err != nil {
		pc.restage(ctx, staged)
		return nil, err
	}
	pc.log.Info("Completed externally signed publish", "asset_id", staged.AssetID, "tx_hash", txHash)
	return res, nil
}

// restage puts a claimed entry back under its original pending ID so the
// caller can retry Complete.
func (pc *publishCoordinator) restage(ctx context.Context, tx *pending.Transaction) {
	if _, err := pc.staged.Stage(ctx, tx); err != nil {
		pc.log.Error("Failed to re-stage pending transaction", "pending_id", tx.PendingID, "error", err)
	}
}

func (pc *publishCoordinator) ListPending(ctx context.Context, initiator string) ([]*pending.Transaction, error) {
	return pc.staged.ListByInitiator(ctx, initiator)
}

// mutation is the version-store write deferred until the ledger write is
// durable, shared by the synchronous and two-phase paths.
type mutation struct {
	assetID             string
	owner               string
	initiator           string
	cid                 string
	criticalMetadata    map[string]any
	nonCriticalMetadata map[string]any
	isNew               bool
	wasDeleted          bool
	baseIPFSVersion     uint64
}

func (pc *publishCoordinator) commit(ctx context.Context, m mutation, txHash string) (*PublishResult, error) {
	v := &types.AssetVersion{
		AssetID:             m.assetID,
		OwnerWallet:         m.owner,
		ContentCID:          m.cid,
		LedgerTxID:          txHash,
		CriticalMetadata:    m.criticalMetadata,
		NonCriticalMetadata: m.nonCriticalMetadata,
	}

	var action, message string
	switch {
	case m.isNew:
		v.IPFSVersion = 1
		action = types.ActionCreate
		message = "Document created"
	case m.wasDeleted:
		v.IPFSVersion = 1
		action = types.ActionRecreateDeleted
		message = "Asset recreated from deleted state with version reset to 1"
	default:
		v.IPFSVersion = m.baseIPFSVersion + 1
		action = types.ActionVersionCreate
		message = "New version created with updated critical metadata"
	}

	err := pc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		var err error
		if m.isNew || m.wasDeleted {
			_, err = pc.versions.CreateChain(dbc, v)
		} else {
			_, err = pc.versions.CreateVersion(dbc, v)
		}
		if err != nil {
			return err
		}
		detail := map[string]any{
			"content_cid":  m.cid,
			"ledger_tx_id": txHash,
			"version":      v.VersionNumber,
			"ipfs_version": v.IPFSVersion,
		}
		if m.wasDeleted {
			detail["was_deleted"] = true
		}
		return pc.audit.Record(dbc, m.assetID, action, m.owner, m.initiator, detail)
	})
	if err != nil {
		return nil, fmt.Errorf("commit %s for %s: %w", action, m.assetID, err)
	}

	pc.log.Info("Committed publish", "asset_id", m.assetID, "action", action,
		"version", v.VersionNumber, "ipfs_version", v.IPFSVersion)
	return &PublishResult{
		AssetID:     m.assetID,
		Status:      StatusSuccess,
		Message:     message,
		Version:     v.VersionNumber,
		IPFSVersion: v.IPFSVersion,
		ContentCID:  m.cid,
		LedgerTxID:  txHash,
		OwnerWallet: m.owner,
		Initiator:   m.initiator,
	}, nil
}

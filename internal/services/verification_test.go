package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/arkvault/arkvault-backend/internal/canonical"
	"github.com/arkvault/arkvault-backend/internal/ledger"
	apperrors "github.com/arkvault/arkvault-backend/internal/pkg/errors"
	"github.com/arkvault/arkvault-backend/internal/platform/dbctx"
	"github.com/arkvault/arkvault-backend/internal/repos"
	"github.com/arkvault/arkvault-backend/internal/types"
)

type verifyFixture struct {
	db       *gorm.DB
	versions repos.AssetVersionRepo
	audit    AuditService
	chain    *fakeLedger
	content  *fakeContent
	svc      VerificationService
}

func newVerifyFixture(t *testing.T) *verifyFixture {
	t.Helper()
	db := newTestDB(t)
	log := newTestLogger(t)
	versions := repos.NewAssetVersionRepo(db, log)
	audit := NewAuditService(log, repos.NewAuditRepo(db, log))
	chain := &fakeLedger{serverWallet: walletServer}
	content := newFakeContent()
	recovery := NewRecoveryController(log, db, versions, content, audit)
	return &verifyFixture{
		db:       db,
		versions: versions,
		audit:    audit,
		chain:    chain,
		content:  content,
		svc:      NewVerificationService(log, db, versions, chain, recovery),
	}
}

// seedVerified inserts a current version whose stored CID matches what the
// fake ledger anchors, i.e. an untampered asset.
func (fx *verifyFixture) seedVerified(t *testing.T, assetID string, critical map[string]any) *types.AssetVersion {
	t.Helper()
	cid, err := canonical.ComputeCID(assetID, walletOwner, critical)
	if err != nil {
		t.Fatalf("compute cid: %v", err)
	}
	v := seedVersion(t, fx.versions, &types.AssetVersion{
		AssetID:          assetID,
		OwnerWallet:      walletOwner,
		ContentCID:       cid,
		LedgerTxID:       "0xanchor",
		IPFSVersion:      1,
		CriticalMetadata: critical,
	})
	fx.chain.verify = ledger.VerifyOutcome{Valid: true, ActualVersion: 1}
	fx.chain.tx = ledger.TxDetails{CID: cid, Sender: walletServer}
	return v
}

func TestRetrieveVerifiedCurrentVersion(t *testing.T) {
	fx := newVerifyFixture(t)
	fx.seedVerified(t, "A1", map[string]any{"x": 1})

	res, err := fx.svc.Retrieve(context.Background(), "A1", nil, true, walletOwner)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	vr := res.Verification
	if !vr.Verified || !vr.CIDMatch || vr.RecoveryNeeded {
		t.Fatalf("expected verified result, got %+v", vr)
	}
	if vr.RecoveryAttempted {
		t.Fatalf("verified asset must not trigger recovery")
	}
	if res.Version != 1 {
		t.Fatalf("version: %d", res.Version)
	}
}

func TestRetrieveSurvivesAnchorOutage(t *testing.T) {
	fx := newVerifyFixture(t)
	fx.seedVerified(t, "A1", map[string]any{"x": 1})
	fx.chain.anchorErr = errors.New("anchor endpoint down")

	res, err := fx.svc.Retrieve(context.Background(), "A1", nil, true, walletOwner)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !res.Verification.Verified {
		t.Fatalf("anchor outage must not fail verification: %+v", res.Verification)
	}
}

func TestRetrieveUnknownAssetIsNotFound(t *testing.T) {
	fx := newVerifyFixture(t)
	if _, err := fx.svc.Retrieve(context.Background(), "missing", nil, true, walletOwner); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeletionTamperDetectionAndRepair(t *testing.T) {
	fx := newVerifyFixture(t)
	fx.seedVerified(t, "A1", map[string]any{"x": 1})

	// Ledger says deleted, the version store disagrees.
	fx.chain.verify = ledger.VerifyOutcome{Valid: false, ActualVersion: 1, IsDeleted: true}

	res, err := fx.svc.Retrieve(context.Background(), "A1", nil, true, walletOwner)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	vr := res.Verification
	if !vr.DeletionStatusTampered {
		t.Fatalf("expected deletion_status_tampered, got %+v", vr)
	}
	if !vr.RecoverySuccessful || vr.NewVersionCreated {
		t.Fatalf("deletion repair should succeed without a new version, got %+v", vr)
	}

	// Whole chain is deleted now.
	dbc := dbctx.Context{Ctx: context.Background()}
	if cur, _ := fx.versions.GetCurrent(dbc, "A1"); cur != nil {
		t.Fatalf("repair left a live current version")
	}
	chain, _ := fx.versions.ListChain(dbc, "A1")
	for _, v := range chain {
		if !v.IsDeleted {
			t.Fatalf("version %d not marked deleted", v.VersionNumber)
		}
	}

	actions := auditActions(t, fx.audit, "A1")
	if len(actions) != 1 || actions[0] != types.ActionDeletionStatusRestored {
		t.Fatalf("audit actions: %v", actions)
	}
}

func TestDeletionRepairServesRequestedVersion(t *testing.T) {
	fx := newVerifyFixture(t)
	fx.seedVerified(t, "A1", map[string]any{"x": 1})
	fx.seedVerified(t, "A1", map[string]any{"x": 2})

	fx.chain.verify = ledger.VerifyOutcome{Valid: false, ActualVersion: 2, IsDeleted: true}

	v1 := uint64(1)
	res, err := fx.svc.Retrieve(context.Background(), "A1", &v1, true, walletOwner)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	vr := res.Verification
	if !vr.DeletionStatusTampered || !vr.RecoverySuccessful {
		t.Fatalf("expected successful deletion repair: %+v", vr)
	}
	if res.Version != 1 {
		t.Fatalf("repair should keep serving the requested version, got %d", res.Version)
	}

	chain, _ := fx.versions.ListChain(dbctx.Context{Ctx: context.Background()}, "A1")
	for _, v := range chain {
		if !v.IsDeleted {
			t.Fatalf("version %d not marked deleted", v.VersionNumber)
		}
	}
}

func TestContentTamperRecovery(t *testing.T) {
	fx := newVerifyFixture(t)

	// The ledger anchors the authentic payload; the stored row was
	// tampered after the fact.
	authentic := map[string]any{"x": 1}
	anchoredCID := authenticPayload(t, fx.content, "A1", walletOwner, authentic)

	seedVersion(t, fx.versions, &types.AssetVersion{
		AssetID:          "A1",
		OwnerWallet:      walletOwner,
		ContentCID:       "bafytampered",
		LedgerTxID:       "0xanchor",
		IPFSVersion:      1,
		CriticalMetadata: map[string]any{"x": "evil"},
	})
	fx.chain.verify = ledger.VerifyOutcome{Valid: false, ActualVersion: 1}
	fx.chain.tx = ledger.TxDetails{CID: anchoredCID, Sender: walletServer}

	res, err := fx.svc.Retrieve(context.Background(), "A1", nil, true, walletOwner)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	vr := res.Verification
	if vr.Verified || !vr.RecoveryNeeded {
		t.Fatalf("tampered asset should fail verification: %+v", vr)
	}
	if !vr.RecoverySuccessful || !vr.NewVersionCreated {
		t.Fatalf("expected successful content recovery: %+v", vr)
	}

	// The served metadata is the authentic payload under the anchored CID.
	if res.CriticalMetadata["x"] != float64(1) {
		t.Fatalf("recovered critical metadata: %v", res.CriticalMetadata)
	}
	if res.ContentCID != anchoredCID {
		t.Fatalf("recovered cid %s, want %s", res.ContentCID, anchoredCID)
	}
	if res.Version != 2 {
		t.Fatalf("recovery should append a new version, got %d", res.Version)
	}

	cur, _ := fx.versions.GetCurrent(dbctx.Context{Ctx: context.Background()}, "A1")
	if cur == nil || cur.ContentCID != anchoredCID {
		t.Fatalf("current version not replaced by recovery")
	}

	actions := auditActions(t, fx.audit, "A1")
	if len(actions) != 1 || actions[0] != types.ActionIntegrityRecovery {
		t.Fatalf("audit actions: %v", actions)
	}
}

func TestContentRecoveryFailsWithoutMutation(t *testing.T) {
	fx := newVerifyFixture(t)

	seedVersion(t, fx.versions, &types.AssetVersion{
		AssetID:          "A1",
		OwnerWallet:      walletOwner,
		ContentCID:       "bafytampered",
		LedgerTxID:       "0xanchor",
		IPFSVersion:      1,
		CriticalMetadata: map[string]any{"x": "evil"},
	})
	// Anchored CID points at nothing retrievable.
	fx.chain.verify = ledger.VerifyOutcome{Valid: false, ActualVersion: 1}
	fx.chain.tx = ledger.TxDetails{CID: "bafymissing", Sender: walletServer}

	res, err := fx.svc.Retrieve(context.Background(), "A1", nil, true, walletOwner)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	vr := res.Verification
	if !vr.RecoveryAttempted || vr.RecoverySuccessful {
		t.Fatalf("recovery should have been attempted and failed: %+v", vr)
	}

	chain, _ := fx.versions.ListChain(dbctx.Context{Ctx: context.Background()}, "A1")
	if len(chain) != 1 {
		t.Fatalf("failed recovery must not mutate the chain, got %d rows", len(chain))
	}
}

func TestHistoricalTamperIsReportedNotHealed(t *testing.T) {
	fx := newVerifyFixture(t)
	fx.seedVerified(t, "A1", map[string]any{"x": 1})
	// Appending version 2 demotes version 1 to historical.
	fx.seedVerified(t, "A1", map[string]any{"x": 2})

	// Sender check fails for the historical branch.
	fx.chain.tx = ledger.TxDetails{CID: "bafysomethingelse", Sender: walletOther}

	v1 := uint64(1)
	res, err := fx.svc.Retrieve(context.Background(), "A1", &v1, true, walletOwner)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	vr := res.Verification
	if vr.Verified || !vr.RecoveryNeeded {
		t.Fatalf("historical mismatch should fail verification: %+v", vr)
	}
	if vr.RecoveryAttempted {
		t.Fatalf("historical versions are never healed: %+v", vr)
	}
	if res.Version != 1 {
		t.Fatalf("served version: %d", res.Version)
	}
	if actions := auditActions(t, fx.audit, "A1"); len(actions) != 0 {
		t.Fatalf("no audit records expected, got %v", actions)
	}
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arkvault/arkvault-backend/internal/canonical"
	"github.com/arkvault/arkvault-backend/internal/ipfs"
	"github.com/arkvault/arkvault-backend/internal/ledger"
	apperrors "github.com/arkvault/arkvault-backend/internal/pkg/errors"
	"github.com/arkvault/arkvault-backend/internal/pkg/logger"
	"github.com/arkvault/arkvault-backend/internal/platform/dbctx"
	"github.com/arkvault/arkvault-backend/internal/repos"
	"github.com/arkvault/arkvault-backend/internal/types"
)

const (
	walletOwner    = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	walletOther    = "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359"
	walletServer   = "0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb"
	walletDelegate = "0xd1220a0cf47c7b9be7a2e6ba89f429762e7b9adb"
)

// Server-side uuid/now defaults in the postgres schema don't run on
// sqlite, so tests create an equivalent schema by hand.
const testSchema = `
CREATE TABLE asset_version (
	id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL,
	version_number INTEGER NOT NULL,
	ipfs_version INTEGER NOT NULL DEFAULT 0,
	is_current BOOLEAN NOT NULL DEFAULT 0,
	is_deleted BOOLEAN NOT NULL DEFAULT 0,
	owner_wallet TEXT NOT NULL,
	content_cid TEXT,
	ledger_tx_id TEXT,
	critical_metadata TEXT,
	non_critical_metadata TEXT,
	created_at DATETIME,
	updated_at DATETIME,
	UNIQUE (asset_id, version_number)
);
CREATE TABLE audit_record (
	id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL,
	action TEXT NOT NULL,
	owner_wallet TEXT NOT NULL,
	performed_by TEXT NOT NULL,
	detail TEXT,
	created_at DATETIME
);
`

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.Exec(testSchema).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return gdb
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

// fakeLedger is an in-memory ledger.Client with canned responses and
// call counters.
type fakeLedger struct {
	anchor       ledger.Anchor
	anchorErr    error
	verify       ledger.VerifyOutcome
	verifyErr    error
	tx           ledger.TxDetails
	txErr        error
	unsigned     ledger.UnsignedTx
	receipt      ledger.Receipt
	confirmErr   error
	pendingTo    string
	submitErr    error
	serverWallet string

	submitUpdateCalls int
	submitDeleteCalls int
	lastDelegated     bool
	txCounter         int
}

func (f *fakeLedger) GetAnchor(ctx context.Context, assetID, owner string) (ledger.Anchor, error) {
	return f.anchor, f.anchorErr
}

func (f *fakeLedger) VerifyCID(ctx context.Context, assetID, owner, cid string, claimedVersion uint64) (ledger.VerifyOutcome, error) {
	return f.verify, f.verifyErr
}

func (f *fakeLedger) GetTransaction(ctx context.Context, txID, assetID string) (ledger.TxDetails, error) {
	return f.tx, f.txErr
}

func (f *fakeLedger) BuildUpdateTx(ctx context.Context, cid, assetID, owner, from string) (ledger.UnsignedTx, error) {
	return f.unsigned, nil
}

func (f *fakeLedger) SubmitUpdate(ctx context.Context, cid, assetID, owner string, delegated bool) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitUpdateCalls++
	f.lastDelegated = delegated
	f.txCounter++
	return fmt.Sprintf("0xupdate%d", f.txCounter), nil
}

func (f *fakeLedger) SubmitDelete(ctx context.Context, assetID, owner string, delegated bool) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitDeleteCalls++
	f.lastDelegated = delegated
	f.txCounter++
	return fmt.Sprintf("0xdelete%d", f.txCounter), nil
}

func (f *fakeLedger) ConfirmTransaction(ctx context.Context, txHash string) (ledger.Receipt, error) {
	return f.receipt, f.confirmErr
}

func (f *fakeLedger) PendingTransferTo(ctx context.Context, assetID, owner string) (string, error) {
	if f.pendingTo == "" {
		return ledger.ZeroAddress, nil
	}
	return f.pendingTo, nil
}

func (f *fakeLedger) InitiateTransfer(ctx context.Context, assetID, newOwner string) (string, error) {
	f.txCounter++
	return fmt.Sprintf("0xtransfer%d", f.txCounter), nil
}

func (f *fakeLedger) AcceptTransfer(ctx context.Context, assetID, previousOwner string) (string, error) {
	f.txCounter++
	return fmt.Sprintf("0xtransfer%d", f.txCounter), nil
}

func (f *fakeLedger) CancelTransfer(ctx context.Context, assetID string) (string, error) {
	f.txCounter++
	return fmt.Sprintf("0xtransfer%d", f.txCounter), nil
}

func (f *fakeLedger) ServerWalletAddress() string { return f.serverWallet }

// fakeContent content-addresses payloads in memory with the same CID
// derivation the real store uses.
type fakeContent struct {
	objects  map[string][]byte
	putCalls int
	getErr   error
}

func newFakeContent() *fakeContent {
	return &fakeContent{objects: make(map[string][]byte)}
}

func (f *fakeContent) Put(ctx context.Context, payload []byte) (string, error) {
	f.putCalls++
	cid, err := canonical.CIDForBytes(payload)
	if err != nil {
		return "", err
	}
	f.objects[cid] = payload
	return cid, nil
}

func (f *fakeContent) Get(ctx context.Context, cid string) (map[string]any, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	raw, ok := f.objects[cid]
	if !ok {
		return nil, fmt.Errorf("%w: no object for %s", apperrors.ErrContentUnavailable, cid)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (f *fakeContent) PutBatch(ctx context.Context, items []ipfs.BatchItem, onProgress ipfs.ProgressFunc) []ipfs.BatchResult {
	results := make([]ipfs.BatchResult, len(items))
	for i, item := range items {
		cid, err := f.Put(ctx, item.Payload)
		results[i] = ipfs.BatchResult{AssetID: item.AssetID, CID: cid, Status: ipfs.BatchStatusCompleted, Err: err}
	}
	return results
}

// seedVersion inserts a chain entry directly, bypassing the coordinator.
func seedVersion(t *testing.T, versionRepo repos.AssetVersionRepo, v *types.AssetVersion) *types.AssetVersion {
	t.Helper()
	created, err := versionRepo.CreateVersion(dbctx.Context{Ctx: context.Background()}, v)
	if err != nil {
		t.Fatalf("seed version: %v", err)
	}
	return created
}

// authenticPayload builds and registers the content-store object that the
// ledger is assumed to have anchored, returning its CID.
func authenticPayload(t *testing.T, content *fakeContent, assetID, owner string, critical map[string]any) string {
	t.Helper()
	payload, err := canonical.PublishPayload(assetID, owner, critical)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	data, err := canonical.Canonicalize(payload)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	cid, err := content.Put(context.Background(), data)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	content.putCalls--
	return cid
}

func testDBC() dbctx.Context {
	return dbctx.Context{Ctx: context.Background()}
}

func auditActions(t *testing.T, audit AuditService, assetID string) []string {
	t.Helper()
	records, err := audit.HistoryForAsset(testDBC(), assetID)
	if err != nil {
		t.Fatalf("audit history: %v", err)
	}
	actions := make([]string, len(records))
	for i, r := range records {
		actions[i] = r.Action
	}
	return actions
}

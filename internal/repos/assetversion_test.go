package repos

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arkvault/arkvault-backend/internal/pkg/logger"
	"github.com/arkvault/arkvault-backend/internal/platform/dbctx"
	"github.com/arkvault/arkvault-backend/internal/types"
)

// The postgres schema uses server-side uuid/now defaults, so tests create
// an equivalent sqlite schema by hand instead of automigrating.
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

func testCtx() dbctx.Context {
	return dbctx.Context{Ctx: context.Background()}
}

const testWallet = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"

func newVersion(assetID string) *types.AssetVersion {
	return &types.AssetVersion{
		AssetID:          assetID,
		IPFSVersion:      1,
		OwnerWallet:      testWallet,
		ContentCID:       "bafy-test-cid",
		LedgerTxID:       "0xtx1",
		CriticalMetadata: map[string]any{"x": float64(1)},
	}
}

func TestCreateChainAndGetCurrent(t *testing.T) {
	repo := NewAssetVersionRepo(newTestDB(t), newTestLogger(t))

	created, err := repo.CreateChain(testCtx(), newVersion("A1"))
	if err != nil {
		t.Fatalf("CreateChain: %v", err)
	}
	if created.VersionNumber != 1 || !created.IsCurrent {
		t.Fatalf("unexpected chain head: version=%d current=%v", created.VersionNumber, created.IsCurrent)
	}

	got, err := repo.GetCurrent(testCtx(), "A1")
	if err != nil {
		t.Fatalf("GetCurrent: %v", err)
	}
	if got == nil || got.VersionNumber != 1 {
		t.Fatalf("GetCurrent returned %+v", got)
	}
}

func TestCreateVersionFlipsCurrentAtomically(t *testing.T) {
	repo := NewAssetVersionRepo(newTestDB(t), newTestLogger(t))

	if _, err := repo.CreateChain(testCtx(), newVersion("A1")); err != nil {
		t.Fatalf("CreateChain: %v", err)
	}
	v2 := newVersion("A1")
	v2.IPFSVersion = 2
	appended, err := repo.CreateVersion(testCtx(), v2)
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	if appended.VersionNumber != 2 {
		t.Fatalf("version number: want=2 got=%d", appended.VersionNumber)
	}

	chain, err := repo.ListChain(testCtx(), "A1")
	if err != nil {
		t.Fatalf("ListChain: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain length: want=2 got=%d", len(chain))
	}
	currentCount := 0
	for _, v := range chain {
		if v.IsCurrent {
			currentCount++
		}
	}
	if currentCount != 1 {
		t.Fatalf("exactly one current version expected, got %d", currentCount)
	}
	if !chain[1].IsCurrent {
		t.Fatalf("newest version is not current")
	}
}

func TestGetVersionExcludesDeleted(t *testing.T) {
	repo := NewAssetVersionRepo(newTestDB(t), newTestLogger(t))

	if _, err := repo.CreateChain(testCtx(), newVersion("A1")); err != nil {
		t.Fatalf("CreateChain: %v", err)
	}
	if _, err := repo.MarkAllDeleted(testCtx(), "A1"); err != nil {
		t.Fatalf("MarkAllDeleted: %v", err)
	}

	got, err := repo.GetVersion(testCtx(), "A1", 1)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if got != nil {
		t.Fatalf("deleted version should not be returned, got %+v", got)
	}

	anyVersion, err := repo.GetAnyVersion(testCtx(), "A1")
	if err != nil {
		t.Fatalf("GetAnyVersion: %v", err)
	}
	if anyVersion == nil || !anyVersion.IsDeleted {
		t.Fatalf("GetAnyVersion should surface the deleted row, got %+v", anyVersion)
	}
}

func TestCreateChainReplacesDeletedChain(t *testing.T) {
	repo := NewAssetVersionRepo(newTestDB(t), newTestLogger(t))

	if _, err := repo.CreateChain(testCtx(), newVersion("A1")); err != nil {
		t.Fatalf("CreateChain: %v", err)
	}
	v2 := newVersion("A1")
	if _, err := repo.CreateVersion(testCtx(), v2); err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	if _, err := repo.MarkAllDeleted(testCtx(), "A1"); err != nil {
		t.Fatalf("MarkAllDeleted: %v", err)
	}

	fresh, err := repo.CreateChain(testCtx(), newVersion("A1"))
	if err != nil {
		t.Fatalf("CreateChain (recreate): %v", err)
	}
	if fresh.VersionNumber != 1 {
		t.Fatalf("recreated chain should restart at version 1, got %d", fresh.VersionNumber)
	}

	chain, err := repo.ListChain(testCtx(), "A1")
	if err != nil {
		t.Fatalf("ListChain: %v", err)
	}
	if len(chain) != 1 {
		t.Fatalf("old chain rows should be removed, got %d rows", len(chain))
	}
}

func TestIPFSVersionFallsBackToVersionNumber(t *testing.T) {
	gdb := newTestDB(t)
	repo := NewAssetVersionRepo(gdb, newTestLogger(t))

	v := newVersion("A1")
	v.IPFSVersion = 0
	if _, err := repo.CreateChain(testCtx(), v); err != nil {
		t.Fatalf("CreateChain: %v", err)
	}
	v2 := newVersion("A1")
	v2.IPFSVersion = 0
	if _, err := repo.CreateVersion(testCtx(), v2); err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}

	got, err := repo.GetCurrent(testCtx(), "A1")
	if err != nil {
		t.Fatalf("GetCurrent: %v", err)
	}
	if got.IPFSVersion != got.VersionNumber {
		t.Fatalf("ipfs_version fallback: want=%d got=%d", got.VersionNumber, got.IPFSVersion)
	}
}

func TestFindByWallet(t *testing.T) {
	repo := NewAssetVersionRepo(newTestDB(t), newTestLogger(t))

	if _, err := repo.CreateChain(testCtx(), newVersion("A1")); err != nil {
		t.Fatalf("CreateChain A1: %v", err)
	}
	if _, err := repo.CreateChain(testCtx(), newVersion("A2")); err != nil {
		t.Fatalf("CreateChain A2: %v", err)
	}
	if _, err := repo.MarkAllDeleted(testCtx(), "A2"); err != nil {
		t.Fatalf("MarkAllDeleted: %v", err)
	}

	current, err := repo.FindCurrentByWallet(testCtx(), testWallet)
	if err != nil {
		t.Fatalf("FindCurrentByWallet: %v", err)
	}
	if len(current) != 1 || current[0].AssetID != "A1" {
		t.Fatalf("FindCurrentByWallet: %+v", current)
	}

	all, err := repo.FindAllByWallet(testCtx(), testWallet, true)
	if err != nil {
		t.Fatalf("FindAllByWallet: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("FindAllByWallet incl deleted: want=2 got=%d", len(all))
	}
}

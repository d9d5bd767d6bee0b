package repos

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arkvault/arkvault-backend/internal/pkg/logger"
	"github.com/arkvault/arkvault-backend/internal/platform/dbctx"
	"github.com/arkvault/arkvault-backend/internal/types"
)

// AssetVersionRepo is the version store adapter: CRUD over the append-only
// version chain of each asset. Lookups that miss return (nil, nil); the
// service layer decides whether that is an error.
type AssetVersionRepo interface {
	GetCurrent(dbc dbctx.Context, assetID string) (*types.AssetVersion, error)
	GetVersion(dbc dbctx.Context, assetID string, versionNumber uint64) (*types.AssetVersion, error)
	GetAnyVersion(dbc dbctx.Context, assetID string) (*types.AssetVersion, error)
	ListChain(dbc dbctx.Context, assetID string) ([]*types.AssetVersion, error)
	CreateVersion(dbc dbctx.Context, v *types.AssetVersion) (*types.AssetVersion, error)
	CreateChain(dbc dbctx.Context, v *types.AssetVersion) (*types.AssetVersion, error)
	MarkAllDeleted(dbc dbctx.Context, assetID string) (int64, error)
	SetOwner(dbc dbctx.Context, assetID, newOwner string) (int64, error)
	FindCurrentByWallet(dbc dbctx.Context, wallet string) ([]*types.AssetVersion, error)
	FindAllByWallet(dbc dbctx.Context, wallet string, includeDeleted bool) ([]*types.AssetVersion, error)
}

type assetVersionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssetVersionRepo(db *gorm.DB, baseLog *logger.Logger) AssetVersionRepo {
	return &assetVersionRepo{db: db, log: baseLog.With("repo", "AssetVersionRepo")}
}

func (r *assetVersionRepo) handle(dbc dbctx.Context) *gorm.DB {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(dbc.Ctx)
}

// Legacy rows can miss ipfs_version; it falls back to the version number
// exactly once, here at the adapter boundary.
func normalize(v *types.AssetVersion) *types.AssetVersion {
	if v != nil && v.IPFSVersion == 0 {
		v.IPFSVersion = v.VersionNumber
	}
	return v
}

func (r *assetVersionRepo) GetCurrent(dbc dbctx.Context, assetID string) (*types.AssetVersion, error) {
	var rows []*types.AssetVersion
	if err := r.handle(dbc).
		Where("asset_id = ? AND is_current = ? AND is_deleted = ?", assetID, true, false).
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return normalize(rows[0]), nil
}

func (r *assetVersionRepo) GetVersion(dbc dbctx.Context, assetID string, versionNumber uint64) (*types.AssetVersion, error) {
	var rows []*types.AssetVersion
	if err := r.handle(dbc).
		Where("asset_id = ? AND version_number = ? AND is_deleted = ?", assetID, versionNumber, false).
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return normalize(rows[0]), nil
}

// GetAnyVersion returns the newest chain entry regardless of deletion
// status. Callers use it to distinguish "never existed" from "deleted".
func (r *assetVersionRepo) GetAnyVersion(dbc dbctx.Context, assetID string) (*types.AssetVersion, error) {
	var rows []*types.AssetVersion
	if err := r.handle(dbc).
		Where("asset_id = ?", assetID).
		Order("version_number DESC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return normalize(rows[0]), nil
}

func (r *assetVersionRepo) ListChain(dbc dbctx.Context, assetID string) ([]*types.AssetVersion, error) {
	var rows []*types.AssetVersion
	if err := r.handle(dbc).
		Where("asset_id = ?", assetID).
		Order("version_number ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		normalize(row)
	}
	return rows, nil
}

// CreateVersion appends v to the chain and makes it current. The previous
// current flag and the new one flip inside a single transaction so a
// concurrent reader never observes zero or two current versions.
func (r *assetVersionRepo) CreateVersion(dbc dbctx.Context, v *types.AssetVersion) (*types.AssetVersion, error) {
	if v == nil {
		return nil, fmt.Errorf("nil asset version")
	}
	err := r.inTx(dbc, func(tx *gorm.DB) error {
		var maxVersion uint64
		row := tx.Model(&types.AssetVersion{}).
			Where("asset_id = ?", v.AssetID).
			Select("COALESCE(MAX(version_number), 0)").
			Row()
		if err := row.Scan(&maxVersion); err != nil {
			return err
		}

		if err := tx.Model(&types.AssetVersion{}).
			Where("asset_id = ? AND is_current = ?", v.AssetID, true).
			Update("is_current", false).Error; err != nil {
			return err
		}

		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		v.VersionNumber = maxVersion + 1
		v.IsCurrent = true
		v.IsDeleted = false
		return tx.Create(v).Error
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// CreateChain starts a fresh chain at version 1. Any rows left over from a
// previously deleted chain are physically removed; this is the only code
// path that deletes version rows.
func (r *assetVersionRepo) CreateChain(dbc dbctx.Context, v *types.AssetVersion) (*types.AssetVersion, error) {
	if v == nil {
		return nil, fmt.Errorf("nil asset version")
	}
	err := r.inTx(dbc, func(tx *gorm.DB) error {
		if err := tx.Where("asset_id = ?", v.AssetID).
			Delete(&types.AssetVersion{}).Error; err != nil {
			return err
		}
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		v.VersionNumber = 1
		v.IsCurrent = true
		v.IsDeleted = false
		return tx.Create(v).Error
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *assetVersionRepo) MarkAllDeleted(dbc dbctx.Context, assetID string) (int64, error) {
	res := r.handle(dbc).Model(&types.AssetVersion{}).
		Where("asset_id = ? AND is_deleted = ?", assetID, false).
		Update("is_deleted", true)
	return res.RowsAffected, res.Error
}

func (r *assetVersionRepo) SetOwner(dbc dbctx.Context, assetID, newOwner string) (int64, error) {
	res := r.handle(dbc).Model(&types.AssetVersion{}).
		Where("asset_id = ?", assetID).
		Update("owner_wallet", newOwner)
	return res.RowsAffected, res.Error
}

func (r *assetVersionRepo) FindCurrentByWallet(dbc dbctx.Context, wallet string) ([]*types.AssetVersion, error) {
	var rows []*types.AssetVersion
	if err := r.handle(dbc).
		Where("owner_wallet = ? AND is_current = ? AND is_deleted = ?", wallet, true, false).
		Order("asset_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		normalize(row)
	}
	return rows, nil
}

func (r *assetVersionRepo) FindAllByWallet(dbc dbctx.Context, wallet string, includeDeleted bool) ([]*types.AssetVersion, error) {
	q := r.handle(dbc).Where("owner_wallet = ?", wallet)
	if !includeDeleted {
		q = q.Where("is_deleted = ?", false)
	}
	var rows []*types.AssetVersion
	if err := q.Order("asset_id ASC, version_number ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		normalize(row)
	}
	return rows, nil
}

// inTx runs fn inside dbc.Tx when one is supplied, otherwise opens its own
// transaction.
func (r *assetVersionRepo) inTx(dbc dbctx.Context, fn func(tx *gorm.DB) error) error {
	if dbc.Tx != nil {
		return fn(dbc.Tx.WithContext(dbc.Ctx))
	}
	return r.db.WithContext(dbc.Ctx).Transaction(fn)
}

package repos

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arkvault/arkvault-backend/internal/pkg/logger"
	"github.com/arkvault/arkvault-backend/internal/platform/dbctx"
	"github.com/arkvault/arkvault-backend/internal/types"
)

// AuditRepo is append-only. There is deliberately no update or delete.
type AuditRepo interface {
	Append(dbc dbctx.Context, record *types.AuditRecord) (*types.AuditRecord, error)
	ListByAsset(dbc dbctx.Context, assetID string) ([]*types.AuditRecord, error)
	ListByWallet(dbc dbctx.Context, wallet string) ([]*types.AuditRecord, error)
}

type auditRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuditRepo(db *gorm.DB, baseLog *logger.Logger) AuditRepo {
	return &auditRepo{db: db, log: baseLog.With("repo", "AuditRepo")}
}

func (r *auditRepo) handle(dbc dbctx.Context) *gorm.DB {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(dbc.Ctx)
}

func (r *auditRepo) Append(dbc dbctx.Context, record *types.AuditRecord) (*types.AuditRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("nil audit record")
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if err := r.handle(dbc).Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

func (r *auditRepo) ListByAsset(dbc dbctx.Context, assetID string) ([]*types.AuditRecord, error) {
	var rows []*types.AuditRecord
	if err := r.handle(dbc).
		Where("asset_id = ?", assetID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *auditRepo) ListByWallet(dbc dbctx.Context, wallet string) ([]*types.AuditRecord, error) {
	var rows []*types.AuditRecord
	if err := r.handle(dbc).
		Where("owner_wallet = ? OR performed_by = ?", wallet, wallet).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

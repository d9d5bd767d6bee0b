package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AssetVersion is one immutable entry in an asset's version chain. Rows are
// never updated after creation except for the IsCurrent/IsDeleted flags, and
// never removed except when a deleted chain is replaced by a fresh one.
type AssetVersion struct {
	ID                  uuid.UUID         `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	AssetID             string            `gorm:"uniqueIndex:idx_asset_version,priority:1;index;not null;column:asset_id" json:"asset_id"`
	VersionNumber       uint64            `gorm:"uniqueIndex:idx_asset_version,priority:2;not null;column:version_number" json:"version_number"`
	IPFSVersion         uint64            `gorm:"not null;column:ipfs_version" json:"ipfs_version"`
	IsCurrent           bool              `gorm:"not null;column:is_current" json:"is_current"`
	IsDeleted           bool              `gorm:"not null;column:is_deleted" json:"is_deleted"`
	OwnerWallet         string            `gorm:"index;not null;column:owner_wallet" json:"owner_wallet"`
	ContentCID          string            `gorm:"column:content_cid" json:"content_cid"`
	LedgerTxID          string            `gorm:"column:ledger_tx_id" json:"ledger_tx_id"`
	CriticalMetadata    datatypes.JSONMap `gorm:"column:critical_metadata" json:"critical_metadata"`
	NonCriticalMetadata datatypes.JSONMap `gorm:"column:non_critical_metadata" json:"non_critical_metadata"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (AssetVersion) TableName() string { return "asset_version" }

// AuditRecord is append-only. OwnerWallet and PerformedBy differ when a
// delegate acts on the owner's behalf.
type AuditRecord struct {
	ID          uuid.UUID         `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	AssetID     string            `gorm:"index;not null;column:asset_id" json:"asset_id"`
	Action      string            `gorm:"not null;column:action" json:"action"`
	OwnerWallet string            `gorm:"not null;column:owner_wallet" json:"owner_wallet"`
	PerformedBy string            `gorm:"not null;column:performed_by" json:"performed_by"`
	Detail      datatypes.JSONMap `gorm:"column:detail" json:"detail"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (AuditRecord) TableName() string { return "audit_record" }

// Audit actions.
const (
	ActionCreate                 = "CREATE"
	ActionUpdate                 = "UPDATE"
	ActionVersionCreate          = "VERSION_CREATE"
	ActionRecreateDeleted        = "RECREATE_DELETED"
	ActionDelete                 = "DELETE"
	ActionIntegrityRecovery      = "INTEGRITY_RECOVERY"
	ActionDeletionStatusRestored = "DELETION_STATUS_RESTORED"
	ActionTransferInitiated      = "TRANSFER_INITIATED"
	ActionTransferCompleted      = "TRANSFER_COMPLETED"
	ActionTransferCancelled      = "TRANSFER_CANCELLED"
)

// Authentication methods, as resolved by the (external) auth layer.
const (
	AuthMethodWallet = "wallet"
	AuthMethodAPIKey = "api_key"
)

// AuthContext is supplied per request by the authentication middleware. The
// publish coordinator uses Method to pick the custody branch: wallet users
// sign their own ledger transactions, API-key users get the server wallet.
type AuthContext struct {
	WalletAddress string   `json:"wallet_address"`
	Method        string   `json:"auth_method"`
	Permissions   []string `json:"permissions,omitempty"`
}

func (a AuthContext) ServerCustody() bool { return a.Method != AuthMethodWallet }

package pending

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/arkvault/arkvault-backend/internal/ledger"
	"github.com/arkvault/arkvault-backend/internal/pkg/logger"
)

// DefaultTTL bounds how long a staged transaction may wait for its
// signature before it becomes unreadable.
const DefaultTTL = 5 * time.Minute

// Transaction captures everything needed to replay the version-store
// mutation once the ledger write is confirmed externally.
type Transaction struct {
	PendingID           string            `json:"pending_id"`
	InitiatorWallet     string            `json:"initiator_wallet"`
	OwnerWallet         string            `json:"owner_wallet"`
	AssetID             string            `json:"asset_id"`
	StagedCID           string            `json:"staged_cid"`
	CriticalMetadata    map[string]any    `json:"critical_metadata"`
	NonCriticalMetadata map[string]any    `json:"non_critical_metadata"`
	UnsignedTx          ledger.UnsignedTx `json:"unsigned_tx"`
	WasDeleted          bool              `json:"was_deleted"`
	IsNewDocument       bool              `json:"is_new_document"`
	BaseIPFSVersion     uint64            `json:"base_ipfs_version"`
	CreatedAt           time.Time         `json:"created_at"`
}

// Store holds staged transactions under a TTL. Entries are consumed
// exactly once: Consume atomically removes and returns an entry, and
// after Consume (or expiry) a Get fails with ErrNotFound. Staging a
// transaction that already carries a PendingID keeps that ID, so a
// claimed entry can be put back after a failed completion.
type Store interface {
	Stage(ctx context.Context, tx *Transaction) (string, error)
	Get(ctx context.Context, pendingID string) (*Transaction, error)
	Consume(ctx context.Context, pendingID string) (*Transaction, error)
	ListByInitiator(ctx context.Context, wallet string) ([]*Transaction, error)
}

// NewFromEnv selects the redis-backed store when REDIS_ADDR is set and
// falls back to the in-process store otherwise (single-node deployments
// and tests).
func NewFromEnv(log *logger.Logger, ttl time.Duration) (Store, error) {
	if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
		return NewRedisStore(log, addr, ttl)
	}
	log.Warn("REDIS_ADDR not set, using in-process pending-transaction store")
	return NewMemoryStore(ttl), nil
}

func keyPrefix(wallet string) string {
	return "pending_tx:" + strings.ToLower(wallet) + ":"
}

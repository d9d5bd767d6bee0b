package pending

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/arkvault/arkvault-backend/internal/pkg/errors"
)

type memoryEntry struct {
	tx        Transaction
	expiresAt time.Time
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore is a process-local Store with the same read-once and
// expiry semantics as the redis implementation.
func NewMemoryStore(ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &memoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *memoryStore) Stage(ctx context.Context, tx *Transaction) (string, error) {
	if tx == nil {
		return "", fmt.Errorf("nil pending transaction")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.PendingID == "" {
		tx.PendingID = keyPrefix(tx.InitiatorWallet) + uuid.NewString()
		tx.CreatedAt = s.now().UTC()
	}
	s.entries[tx.PendingID] = memoryEntry{tx: *tx, expiresAt: s.now().Add(s.ttl)}
	return tx.PendingID, nil
}

func (s *memoryStore) Get(ctx context.Context, pendingID string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[pendingID]
	if !ok || s.now().After(entry.expiresAt) {
		delete(s.entries, pendingID)
		return nil, fmt.Errorf("pending transaction %s: %w", pendingID, apperrors.ErrNotFound)
	}
	tx := entry.tx
	return &tx, nil
}

func (s *memoryStore) Consume(ctx context.Context, pendingID string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[pendingID]
	if !ok || s.now().After(entry.expiresAt) {
		delete(s.entries, pendingID)
		return nil, fmt.Errorf("pending transaction %s: %w", pendingID, apperrors.ErrNotFound)
	}
	delete(s.entries, pendingID)
	tx := entry.tx
	return &tx, nil
}

func (s *memoryStore) ListByInitiator(ctx context.Context, wallet string) ([]*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := keyPrefix(wallet)
	var out []*Transaction
	for id, entry := range s.entries {
		if s.now().After(entry.expiresAt) {
			delete(s.entries, id)
			continue
		}
		if strings.HasPrefix(id, prefix) {
			tx := entry.tx
			out = append(out, &tx)
		}
	}
	return out, nil
}

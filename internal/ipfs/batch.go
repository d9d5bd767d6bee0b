package ipfs

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Batch progress states reported through the callback.
const (
	BatchStatusUploading = "uploading"
	BatchStatusCompleted = "completed"
	BatchStatusError     = "error"
)

type BatchItem struct {
	AssetID string
	Payload []byte
}

type BatchResult struct {
	AssetID string
	CID     string
	Status  string
	Err     error
}

// ProgressFunc observes per-item progress. May be nil.
type ProgressFunc func(assetID, status string)

// PutBatch uploads items with at most cfg.MaxConcurrent in flight. One
// item failing never cancels its siblings; the caller gets a result per
// item, in input order.
func (c *client) PutBatch(ctx context.Context, items []BatchItem, onProgress ProgressFunc) []BatchResult {
	results := make([]BatchResult, len(items))
	sem := semaphore.NewWeighted(int64(c.cfg.MaxConcurrent))
	var wg sync.WaitGroup

	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled: mark this and all remaining items.
			for j := i; j < len(items); j++ {
				results[j] = BatchResult{AssetID: items[j].AssetID, Status: BatchStatusError, Err: err}
				report(onProgress, items[j].AssetID, BatchStatusError)
			}
			break
		}

		wg.Add(1)
		go func(idx int, it BatchItem) {
			defer wg.Done()
			defer sem.Release(1)

			report(onProgress, it.AssetID, BatchStatusUploading)
			cid, err := c.Put(ctx, it.Payload)
			if err != nil {
				results[idx] = BatchResult{AssetID: it.AssetID, Status: BatchStatusError, Err: err}
				report(onProgress, it.AssetID, BatchStatusError)
				return
			}
			results[idx] = BatchResult{AssetID: it.AssetID, CID: cid, Status: BatchStatusCompleted}
			report(onProgress, it.AssetID, BatchStatusCompleted)
		}(i, item)
	}

	wg.Wait()
	return results
}

func report(fn ProgressFunc, assetID, status string) {
	if fn != nil {
		fn(assetID, status)
	}
}

package scan

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sruckh/gmail-cleaner/internal/gmail"
)

// Fetch defaults, overridable per Fetcher.
const (
	DefaultChunkSize   = 100
	DefaultMaxRetries  = 3
	DefaultBackoffBase = time.Second
)

// Fetcher resolves message ids to metadata in fixed-size chunks.
// Chunk failures are retried with exponential backoff; a chunk that keeps
// failing is dropped and its ids counted, never aborting the whole fetch.
type Fetcher struct {
	Source      gmail.MetadataFetcher
	ChunkSize   int
	MaxRetries  int
	BackoffBase time.Duration
	Logger      *slog.Logger
}

// Fetch retrieves metadata for ids. It returns the fetched metadata, the
// number of ids that could not be resolved, and an error only for failures
// that make continuing pointless (auth loss, cancellation). Output order
// across chunks is unspecified; consumers fold by key.
//
// onProgress, if non-nil, is invoked after each chunk with the running
// count of processed ids and the total.
func (f *Fetcher) Fetch(ctx context.Context, ids []string, onProgress func(processed, total int)) ([]*gmail.MessageMeta, int, error) {
	chunkSize := f.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	total := len(ids)
	metas := make([]*gmail.MessageMeta, 0, total)
	failed := 0
	processed := 0

	for start := 0; start < total; start += chunkSize {
		end := start + chunkSize
		if end > total {
			end = total
		}
		chunk := ids[start:end]

		results, err := f.fetchChunk(ctx, chunk)
		if err != nil {
			var authErr *gmail.AuthError
			if errors.As(err, &authErr) || ctx.Err() != nil {
				return metas, failed, err
			}
			logger.Warn("metadata chunk failed, skipping", "size", len(chunk), "error", err)
			failed += len(chunk)
		} else {
			for _, m := range results {
				if m == nil {
					failed++
					continue
				}
				metas = append(metas, m)
			}
		}

		processed += len(chunk)
		if onProgress != nil {
			onProgress(processed, total)
		}
	}

	return metas, failed, nil
}

// fetchChunk runs one batch fetch with retries.
func (f *Fetcher) fetchChunk(ctx context.Context, chunk []string) ([]*gmail.MessageMeta, error) {
	maxRetries := f.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	base := f.BackoffBase
	if base <= 0 {
		base = DefaultBackoffBase
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			wait := base << uint(attempt-1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		results, err := f.Source.GetMetadataBatch(ctx, chunk)
		if err == nil {
			return results, nil
		}
		lastErr = err

		var authErr *gmail.AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
	}
	return nil, lastErr
}

// Package engine ties the scan pipeline, the mutation executor and the job
// registry together into the operations the HTTP surface and CLI expose.
// Every Start method validates synchronously, claims the job slot, then
// runs the worker on its own goroutine; the job status record is the only
// channel back to the caller.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sruckh/gmail-cleaner/internal/gmail"
	"github.com/sruckh/gmail-cleaner/internal/job"
	"github.com/sruckh/gmail-cleaner/internal/scan"
)

// Options are the injected batch and retry parameters.
type Options struct {
	// ChunkSize is ids per batch fetch or batch mutate call.
	ChunkSize int

	// MaxRetries bounds per-chunk retry attempts.
	MaxRetries int

	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration

	// PageSize caps list page size.
	PageSize int

	// MaxCollect bounds a full per-sender drain so a runaway sender
	// cannot stall a job indefinitely.
	MaxCollect int
}

// DefaultOptions returns the provider-aligned defaults.
func DefaultOptions() Options {
	return Options{
		ChunkSize:   100,
		MaxRetries:  3,
		BackoffBase: time.Second,
		PageSize:    500,
		MaxCollect:  20000,
	}
}

// Engine owns the per-operation workers and their shared result sets.
type Engine struct {
	client gmail.API
	jobs   *job.Registry
	opts   Options
	logger *slog.Logger
	unsub  *scan.Unsubscriber

	// ctx is cancelled by Close; workers derive from it, not from the
	// triggering request, so an operation outlives its HTTP request.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu                sync.Mutex
	scanResults       []*scan.SenderSummary
	deleteScanResults []*scan.SenderSummary
	exportRows        []ExportRow
	labelCache        []*gmail.Label
}

// New creates an engine. client may be nil (not yet authenticated); every
// Start method then fails with ErrNotAuthenticated.
func New(client gmail.API, jobs *job.Registry, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ChunkSize <= 0 {
		opts = DefaultOptions()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		client: client,
		jobs:   jobs,
		opts:   opts,
		logger: logger,
		unsub:  scan.NewUnsubscriber(logger),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetUnsubscriber replaces the unsubscribe executor (tests).
func (e *Engine) SetUnsubscriber(u *scan.Unsubscriber) {
	e.unsub = u
}

// Close cancels running workers and waits for them to finish.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Jobs exposes the registry for status polling.
func (e *Engine) Jobs() *job.Registry {
	return e.jobs
}

func (e *Engine) requireClient() error {
	if e.client == nil {
		return ErrNotAuthenticated
	}
	return nil
}

func (e *Engine) pager() *scan.Pager {
	return &scan.Pager{Lister: e.client, PageSize: e.opts.PageSize}
}

func (e *Engine) fetcher() *scan.Fetcher {
	return &scan.Fetcher{
		Source:      e.client,
		ChunkSize:   e.opts.ChunkSize,
		MaxRetries:  e.opts.MaxRetries,
		BackoffBase: e.opts.BackoffBase,
		Logger:      e.logger,
	}
}

// spawn runs worker on the engine's own context and tracks it for Close.
func (e *Engine) spawn(kind job.Kind, j *job.Job, worker func(ctx context.Context, j *job.Job)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("worker panicked", "kind", kind, "panic", r)
				j.Fail(fmt.Errorf("internal error: %v", r))
			}
		}()
		worker(e.ctx, j)
	}()
}

// UnreadCount reports how many unread inbox messages exist, capped at one
// list page. HasMore signals the count is a floor, not a total.
func (e *Engine) UnreadCount(ctx context.Context) (count int, hasMore bool, err error) {
	if err := e.requireClient(); err != nil {
		return 0, false, err
	}
	page, err := e.client.ListMessages(ctx, "is:unread in:inbox", "", e.opts.PageSize)
	if err != nil {
		return 0, false, err
	}
	return len(page.IDs), page.NextPageToken != "", nil
}

// Profile returns the authenticated account's profile.
func (e *Engine) Profile(ctx context.Context) (*gmail.Profile, error) {
	if err := e.requireClient(); err != nil {
		return nil, err
	}
	return e.client.GetProfile(ctx)
}

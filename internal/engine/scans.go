package engine

import (
	"context"
	"fmt"

	"github.com/sruckh/gmail-cleaner/internal/filter"
	"github.com/sruckh/gmail-cleaner/internal/job"
	"github.com/sruckh/gmail-cleaner/internal/scan"
)

// Scan limits mirror the request validation bounds.
const (
	DefaultScanLimit       = 500
	MaxScanLimit           = 5000
	DefaultDeleteScanLimit = 1000
	MaxDeleteScanLimit     = 10000
)

// StartScan begins the unsubscribe scan: aggregate senders by domain and
// classify their unsubscribe mechanism.
func (e *Engine) StartScan(f filter.Filter, limit int) error {
	if err := e.requireClient(); err != nil {
		return err
	}
	query, err := f.Compile()
	if err != nil {
		return err
	}
	if limit <= 0 {
		limit = DefaultScanLimit
	}
	if limit > MaxScanLimit {
		limit = MaxScanLimit
	}

	j, err := e.jobs.Begin(job.KindScan)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.scanResults = nil
	e.mu.Unlock()

	e.spawn(job.KindScan, j, func(ctx context.Context, j *job.Job) {
		summaries, err := e.runSenderScan(ctx, j, query, limit, scan.KeyByDomain)
		if err != nil {
			j.Fail(err)
			return
		}

		j.Message("Classifying unsubscribe mechanisms...")
		j.Progress(90)

		// Keep only senders that advertise a way out.
		results := summaries[:0]
		for _, s := range summaries {
			info := scan.Classify(s.ListUnsubscribe, s.ListUnsubscribePost)
			if info.Mechanism == scan.MechanismNone {
				continue
			}
			s.Unsubscribe = &info
			results = append(results, s)
		}

		e.mu.Lock()
		e.scanResults = results
		e.mu.Unlock()

		j.Complete(fmt.Sprintf("Found %d subscriptions", len(results)))
	})
	return nil
}

// StartDeleteScan begins the delete scan: aggregate senders by address.
func (e *Engine) StartDeleteScan(f filter.Filter, limit int) error {
	if err := e.requireClient(); err != nil {
		return err
	}
	query, err := f.Compile()
	if err != nil {
		return err
	}
	if limit <= 0 {
		limit = DefaultDeleteScanLimit
	}
	if limit > MaxDeleteScanLimit {
		limit = MaxDeleteScanLimit
	}

	j, err := e.jobs.Begin(job.KindDeleteScan)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.deleteScanResults = nil
	e.mu.Unlock()

	e.spawn(job.KindDeleteScan, j, func(ctx context.Context, j *job.Job) {
		summaries, err := e.runSenderScan(ctx, j, query, limit, scan.KeyByAddress)
		if err != nil {
			j.Fail(err)
			return
		}

		e.mu.Lock()
		e.deleteScanResults = summaries
		e.mu.Unlock()

		j.Complete(fmt.Sprintf("Found %d senders", len(summaries)))
	})
	return nil
}

// runSenderScan is the shared list→fetch→aggregate pipeline. Listing
// accounts for the first 10% of progress, fetching for 10–90%.
func (e *Engine) runSenderScan(ctx context.Context, j *job.Job, query string, limit int, key scan.KeyFunc) ([]*scan.SenderSummary, error) {
	j.Message("Fetching email list...")

	ids, err := e.pager().CollectIDs(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		j.Progress(90)
		j.Message("No emails found")
		return nil, nil
	}

	total := len(ids)
	j.Progress(10)
	j.Message(fmt.Sprintf("Found %d emails. Scanning...", total))
	j.Update(func(c *job.Counters) { c.TotalEmails = total })

	agg := scan.NewAggregator(key)
	metas, failed, err := e.fetcher().Fetch(ctx, ids, func(processed, total int) {
		j.Progress(10 + processed*80/total)
		j.Message(fmt.Sprintf("Scanned %d/%d emails", processed, total))
		j.Update(func(c *job.Counters) { c.FetchedCount = processed })
	})
	if err != nil {
		return nil, err
	}
	if failed > 0 {
		j.Update(func(c *job.Counters) { c.FailedCount = failed })
	}
	if failed == total {
		return nil, fmt.Errorf("all %d metadata fetches failed", total)
	}

	for _, m := range metas {
		agg.Add(m)
	}
	return agg.Sorted(), nil
}

// ScanResults returns the unsubscribe scan result set once the scan job
// is done.
func (e *Engine) ScanResults() ([]*scan.SenderSummary, error) {
	return e.results(job.KindScan, func() []*scan.SenderSummary { return e.scanResults })
}

// DeleteScanResults returns the delete scan result set once that job is
// done.
func (e *Engine) DeleteScanResults() ([]*scan.SenderSummary, error) {
	return e.results(job.KindDeleteScan, func() []*scan.SenderSummary { return e.deleteScanResults })
}

func (e *Engine) results(kind job.Kind, get func() []*scan.SenderSummary) ([]*scan.SenderSummary, error) {
	st := e.jobs.Status(kind)
	if !st.Done || st.Error != "" {
		return nil, ErrNoResults
	}

	// Copies, not the cached structs: Unsubscribe rewrites mechanisms on
	// the cache while a caller may still be encoding an earlier snapshot.
	e.mu.Lock()
	defer e.mu.Unlock()
	src := get()
	out := make([]*scan.SenderSummary, 0, len(src))
	for _, s := range src {
		cp := *s
		if s.Unsubscribe != nil {
			info := *s.Unsubscribe
			cp.Unsubscribe = &info
		}
		out = append(out, &cp)
	}
	return out, nil
}

// Unsubscribe executes one sender's unsubscribe target. A failed
// automatic attempt degrades that sender's cached mechanism to manual so
// the next results poll reflects it; other senders are untouched.
func (e *Engine) Unsubscribe(ctx context.Context, domain, target string) scan.UnsubscribeResult {
	res := e.unsub.Unsubscribe(ctx, target)

	if !res.Success && res.Mechanism == scan.MechanismManual {
		e.mu.Lock()
		for _, s := range e.scanResults {
			if s.Domain == domain && s.Unsubscribe != nil &&
				s.Unsubscribe.Mechanism == scan.MechanismAutomatic {
				info := *s.Unsubscribe
				info.Mechanism = scan.MechanismManual
				s.Unsubscribe = &info
			}
		}
		e.mu.Unlock()
	}
	return res
}

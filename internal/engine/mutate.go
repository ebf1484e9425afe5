package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sruckh/gmail-cleaner/internal/filter"
	"github.com/sruckh/gmail-cleaner/internal/gmail"
	"github.com/sruckh/gmail-cleaner/internal/job"
)

// Mark-read request bounds.
const (
	DefaultMarkReadCount = 100
	MaxMarkReadCount     = 100000
)

// MaxBulkSenders caps sender-targeted bulk operations.
const MaxBulkSenders = 50

// applyMutation is the mutation executor: ids are split into ChunkSize
// chunks, each chunk batch-modified with retries, failures tallied rather
// than escalated. Progress advances through the lo..hi window after every
// chunk. The returned error is non-nil only for aborts (auth loss,
// cancellation); chunk-level failures land in the failed count.
func (e *Engine) applyMutation(ctx context.Context, j *job.Job, ids []string, mods gmail.ModifyRequest, lo, hi int, onChunk func(succeeded int)) (succeeded, failed int, err error) {
	total := len(ids)
	for start := 0; start < total; start += e.opts.ChunkSize {
		end := start + e.opts.ChunkSize
		if end > total {
			end = total
		}
		chunk := ids[start:end]

		if err := e.modifyChunk(ctx, chunk, mods); err != nil {
			var authErr *gmail.AuthError
			if errors.As(err, &authErr) || ctx.Err() != nil {
				return succeeded, failed, err
			}
			e.logger.Warn("mutation chunk failed, skipping", "size", len(chunk), "error", err)
			failed += len(chunk)
		} else {
			succeeded += len(chunk)
		}

		j.Progress(lo + (start+len(chunk))*(hi-lo)/total)
		if onChunk != nil {
			onChunk(succeeded)
		}
	}
	return succeeded, failed, nil
}

// modifyChunk runs one batch modify with the shared retry policy.
func (e *Engine) modifyChunk(ctx context.Context, ids []string, mods gmail.ModifyRequest) error {
	var lastErr error
	for attempt := 0; attempt < e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := e.opts.BackoffBase << uint(attempt-1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		err := e.client.BatchModify(ctx, ids, mods)
		if err == nil {
			return nil
		}
		lastErr = err

		var authErr *gmail.AuthError
		if errors.As(err, &authErr) {
			return err
		}
	}
	return lastErr
}

// collectForSenders drains all message ids for each sender, reporting
// per-sender progress through the lo..hi window. Per-sender list errors
// are collected, not fatal.
func (e *Engine) collectForSenders(ctx context.Context, j *job.Job, senders []string, lo, hi int) (ids []string, listErrs []string) {
	total := len(senders)
	j.Update(func(c *job.Counters) { c.TotalSenders = total })

	for i, sender := range senders {
		j.Update(func(c *job.Counters) { c.CurrentSender = i + 1 })
		j.Progress(lo + i*(hi-lo)/total)
		j.Message(fmt.Sprintf("Finding emails from %s...", sender))

		f := filter.Filter{Sender: sender}
		query, err := f.Compile()
		if err != nil {
			listErrs = append(listErrs, fmt.Sprintf("%s: %v", sender, err))
			continue
		}

		senderIDs, err := e.pager().CollectIDs(ctx, query, e.opts.MaxCollect)
		if err != nil {
			listErrs = append(listErrs, fmt.Sprintf("%s: %v", sender, err))
			continue
		}
		ids = append(ids, senderIDs...)
	}
	return ids, listErrs
}

// finishMutation resolves the terminal state shared by all bulk mutation
// workers: total failure fails the job, anything else completes with a
// tally. verb is past tense ("Deleted", "Archived").
func finishMutation(j *job.Job, succeeded, failed int, verb string, listErrs []string) {
	if failed > 0 && succeeded == 0 {
		j.Fail(fmt.Errorf("all %d messages failed", failed))
		return
	}

	msg := fmt.Sprintf("%s %d emails", verb, succeeded)
	if failed > 0 {
		msg = fmt.Sprintf("%s, %d failed", msg, failed)
	}
	if len(listErrs) > 0 {
		if len(listErrs) > 3 {
			listErrs = listErrs[:3]
		}
		msg = fmt.Sprintf("%s. Errors: %s", msg, strings.Join(listErrs, "; "))
	}
	j.Complete(msg)
}

// validateSenders rejects empty or oversized target lists.
func validateSenders(senders []string) error {
	if len(senders) == 0 {
		return ErrNoTargets
	}
	if len(senders) > MaxBulkSenders {
		return fmt.Errorf("at most %d senders per operation, got %d", MaxBulkSenders, len(senders))
	}
	return nil
}

// StartMarkRead marks unread messages matching the filter as read.
func (e *Engine) StartMarkRead(f filter.Filter, count int) error {
	if err := e.requireClient(); err != nil {
		return err
	}
	filterQuery, err := f.Compile()
	if err != nil {
		return err
	}
	if count <= 0 {
		count = DefaultMarkReadCount
	}
	if count > MaxMarkReadCount {
		count = MaxMarkReadCount
	}

	query := "is:unread"
	if filterQuery != "" {
		query += " " + filterQuery
	}

	j, err := e.jobs.Begin(job.KindMarkRead)
	if err != nil {
		return err
	}

	e.spawn(job.KindMarkRead, j, func(ctx context.Context, j *job.Job) {
		j.Message("Finding unread emails...")

		ids, err := e.pager().CollectIDs(ctx, query, count)
		if err != nil {
			j.Fail(err)
			return
		}
		if len(ids) == 0 {
			j.Complete("No unread emails found")
			return
		}

		j.Progress(10)
		j.Update(func(c *job.Counters) { c.TotalEmails = len(ids) })

		mods := gmail.ModifyRequest{RemoveLabelIDs: []string{gmail.LabelUnread}}
		succeeded, failed, err := e.applyMutation(ctx, j, ids, mods, 10, 100, func(succeeded int) {
			j.Message(fmt.Sprintf("Marked %d/%d as read", succeeded, len(ids)))
			j.Update(func(c *job.Counters) { c.MarkedCount = succeeded })
		})
		if err != nil {
			j.Fail(err)
			return
		}
		finishMutation(j, succeeded, failed, "Marked", nil)
	})
	return nil
}

// StartDeleteSender trashes every message from one sender.
func (e *Engine) StartDeleteSender(sender string) error {
	if err := e.requireClient(); err != nil {
		return err
	}
	if strings.TrimSpace(sender) == "" {
		return ErrNoTargets
	}

	j, err := e.jobs.Begin(job.KindDeleteSingle)
	if err != nil {
		return err
	}

	e.spawn(job.KindDeleteSingle, j, func(ctx context.Context, j *job.Job) {
		ids, listErrs := e.collectForSenders(ctx, j, []string{sender}, 0, 40)
		if len(ids) == 0 {
			if len(listErrs) > 0 {
				j.Fail(fmt.Errorf("%s", strings.Join(listErrs, "; ")))
				return
			}
			j.Complete("No emails found")
			return
		}

		j.Message(fmt.Sprintf("Deleting %d emails...", len(ids)))
		j.Update(func(c *job.Counters) { c.TotalEmails = len(ids) })

		mods := gmail.ModifyRequest{AddLabelIDs: []string{gmail.LabelTrash}}
		succeeded, failed, err := e.applyMutation(ctx, j, ids, mods, 40, 100, func(succeeded int) {
			j.Update(func(c *job.Counters) { c.DeletedCount = succeeded })
		})
		if err != nil {
			j.Fail(err)
			return
		}

		if succeeded > 0 {
			e.dropDeleteScanResult(sender)
		}
		finishMutation(j, succeeded, failed, "Deleted", listErrs)
	})
	return nil
}

// StartDeleteBulk trashes every message from each listed sender: one
// collection phase (0–40%), one deletion phase (40–100%).
func (e *Engine) StartDeleteBulk(senders []string) error {
	if err := e.requireClient(); err != nil {
		return err
	}
	if err := validateSenders(senders); err != nil {
		return err
	}

	j, err := e.jobs.Begin(job.KindDeleteBulk)
	if err != nil {
		return err
	}

	e.spawn(job.KindDeleteBulk, j, func(ctx context.Context, j *job.Job) {
		j.Message("Collecting emails to delete...")

		ids, listErrs := e.collectForSenders(ctx, j, senders, 0, 40)
		if len(ids) == 0 {
			if len(listErrs) == len(senders) {
				j.Fail(fmt.Errorf("could not list any sender: %s", strings.Join(listErrs, "; ")))
				return
			}
			j.Complete("No emails found to delete")
			return
		}

		j.Progress(40)
		j.Message(fmt.Sprintf("Deleting %d emails...", len(ids)))
		j.Update(func(c *job.Counters) { c.TotalEmails = len(ids) })

		mods := gmail.ModifyRequest{AddLabelIDs: []string{gmail.LabelTrash}}
		succeeded, failed, err := e.applyMutation(ctx, j, ids, mods, 40, 100, func(succeeded int) {
			j.Message(fmt.Sprintf("Deleted %d/%d emails...", succeeded, len(ids)))
			j.Update(func(c *job.Counters) { c.DeletedCount = succeeded })
		})
		if err != nil {
			j.Fail(err)
			return
		}

		if succeeded > 0 {
			for _, s := range senders {
				e.dropDeleteScanResult(s)
			}
		}
		finishMutation(j, succeeded, failed, "Deleted", listErrs)
	})
	return nil
}

// StartArchive removes the inbox label from each sender's messages.
func (e *Engine) StartArchive(senders []string) error {
	mods := gmail.ModifyRequest{RemoveLabelIDs: []string{gmail.LabelInbox}}
	return e.startSenderMutation(job.KindArchive, senders, mods, "Archived",
		func(c *job.Counters, succeeded int) { c.ArchivedCount = succeeded })
}

// StartMarkImportant adds or removes the important label on each sender's
// messages.
func (e *Engine) StartMarkImportant(senders []string, important bool) error {
	var mods gmail.ModifyRequest
	verb := "Marked important"
	if important {
		mods.AddLabelIDs = []string{gmail.LabelImportant}
	} else {
		mods.RemoveLabelIDs = []string{gmail.LabelImportant}
		verb = "Unmarked important"
	}
	return e.startSenderMutation(job.KindMarkImportant, senders, mods, verb,
		func(c *job.Counters, succeeded int) { c.AffectedCount = succeeded })
}

// StartLabelApply applies a label to each sender's messages. The label id
// must exist; validation runs on the caller's context.
func (e *Engine) StartLabelApply(ctx context.Context, labelID string, senders []string) error {
	if err := e.checkLabelExists(ctx, labelID); err != nil {
		return err
	}
	mods := gmail.ModifyRequest{AddLabelIDs: []string{labelID}}
	return e.startSenderMutation(job.KindLabelApply, senders, mods, "Labeled",
		func(c *job.Counters, succeeded int) { c.AffectedCount = succeeded })
}

// StartLabelRemove removes a label from each sender's messages.
func (e *Engine) StartLabelRemove(ctx context.Context, labelID string, senders []string) error {
	if err := e.checkLabelExists(ctx, labelID); err != nil {
		return err
	}
	mods := gmail.ModifyRequest{RemoveLabelIDs: []string{labelID}}
	return e.startSenderMutation(job.KindLabelRemove, senders, mods, "Unlabeled",
		func(c *job.Counters, succeeded int) { c.AffectedCount = succeeded })
}

// startSenderMutation is the shared collect-then-mutate worker for the
// sender-targeted label mutations.
func (e *Engine) startSenderMutation(kind job.Kind, senders []string, mods gmail.ModifyRequest, verb string, tally func(*job.Counters, int)) error {
	if err := e.requireClient(); err != nil {
		return err
	}
	if err := validateSenders(senders); err != nil {
		return err
	}

	j, err := e.jobs.Begin(kind)
	if err != nil {
		return err
	}

	e.spawn(kind, j, func(ctx context.Context, j *job.Job) {
		ids, listErrs := e.collectForSenders(ctx, j, senders, 0, 40)
		if len(ids) == 0 {
			if len(listErrs) == len(senders) {
				j.Fail(fmt.Errorf("could not list any sender: %s", strings.Join(listErrs, "; ")))
				return
			}
			j.Complete("No emails found")
			return
		}

		j.Progress(40)
		j.Update(func(c *job.Counters) { c.TotalEmails = len(ids) })
		j.Message(fmt.Sprintf("Updating %d emails...", len(ids)))

		succeeded, failed, err := e.applyMutation(ctx, j, ids, mods, 40, 100, func(succeeded int) {
			j.Update(func(c *job.Counters) { tally(c, succeeded) })
		})
		if err != nil {
			j.Fail(err)
			return
		}
		finishMutation(j, succeeded, failed, verb, listErrs)
	})
	return nil
}

// dropDeleteScanResult removes a sender from the cached delete-scan
// results so a follow-up poll doesn't offer it again.
func (e *Engine) dropDeleteScanResult(sender string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.deleteScanResults[:0]
	for _, s := range e.deleteScanResults {
		if s.Email != sender {
			kept = append(kept, s)
		}
	}
	e.deleteScanResults = kept
}

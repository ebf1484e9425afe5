package engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sruckh/gmail-cleaner/internal/job"
	"github.com/sruckh/gmail-cleaner/internal/scan"
)

// ExportRow is one message in the download result set. One row per
// message, never per sender.
type ExportRow struct {
	Sender  string    `json:"sender"`
	Email   string    `json:"email"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
	Size    int64     `json:"size"`
}

// csvHeader is fixed; column order and presence never vary.
var csvHeader = []string{"sender", "email", "subject", "date", "size_bytes"}

// StartDownload collects every message from the listed senders and
// materializes the per-message export rows for CSV download.
func (e *Engine) StartDownload(senders []string) error {
	if err := e.requireClient(); err != nil {
		return err
	}
	if err := validateSenders(senders); err != nil {
		return err
	}

	j, err := e.jobs.Begin(job.KindDownload)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.exportRows = nil
	e.mu.Unlock()

	e.spawn(job.KindDownload, j, func(ctx context.Context, j *job.Job) {
		j.Message("Collecting emails to download...")

		ids, listErrs := e.collectForSenders(ctx, j, senders, 0, 30)
		if len(ids) == 0 {
			if len(listErrs) == len(senders) {
				j.Fail(fmt.Errorf("could not list any sender: %s", strings.Join(listErrs, "; ")))
				return
			}
			j.Complete("No emails found")
			return
		}

		j.Progress(30)
		j.Update(func(c *job.Counters) { c.TotalEmails = len(ids) })
		j.Message(fmt.Sprintf("Fetching %d emails...", len(ids)))

		metas, failed, err := e.fetcher().Fetch(ctx, ids, func(processed, total int) {
			j.Progress(30 + processed*70/total)
			j.Message(fmt.Sprintf("Fetched %d/%d emails", processed, total))
			j.Update(func(c *job.Counters) { c.FetchedCount = processed })
		})
		if err != nil {
			j.Fail(err)
			return
		}
		if failed == len(ids) {
			j.Fail(fmt.Errorf("all %d metadata fetches failed", len(ids)))
			return
		}
		if failed > 0 {
			j.Update(func(c *job.Counters) { c.FailedCount = failed })
		}

		rows := make([]ExportRow, 0, len(metas))
		for _, m := range metas {
			sender := scan.ParseFrom(m.From)
			rows = append(rows, ExportRow{
				Sender:  sender.Name,
				Email:   sender.Address,
				Subject: m.Subject,
				Date:    m.InternalDate,
				Size:    m.SizeEstimate,
			})
		}

		e.mu.Lock()
		e.exportRows = rows
		e.mu.Unlock()

		j.Complete(fmt.Sprintf("Prepared %d emails for download", len(rows)))
	})
	return nil
}

// DownloadCSV serializes the download result set: fixed header row, one
// record per message. ErrNoResults until the download job is done.
func (e *Engine) DownloadCSV() ([]byte, error) {
	st := e.jobs.Status(job.KindDownload)
	if !st.Done || st.Error != "" {
		return nil, ErrNoResults
	}

	e.mu.Lock()
	rows := make([]ExportRow, len(e.exportRows))
	copy(rows, e.exportRows)
	e.mu.Unlock()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, r := range rows {
		date := ""
		if !r.Date.IsZero() {
			date = r.Date.UTC().Format(time.RFC3339)
		}
		record := []string{r.Sender, r.Email, r.Subject, date, strconv.FormatInt(r.Size, 10)}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

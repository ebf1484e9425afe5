package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sruckh/gmail-cleaner/internal/engine"
	"github.com/sruckh/gmail-cleaner/internal/filter"
	"github.com/sruckh/gmail-cleaner/internal/gmail"
	"github.com/sruckh/gmail-cleaner/internal/job"
	"github.com/sruckh/gmail-cleaner/internal/scan"
)

// Engine defines the engine operations the API needs.
type Engine interface {
	StartScan(f filter.Filter, limit int) error
	ScanResults() ([]*scan.SenderSummary, error)
	Unsubscribe(ctx context.Context, domain, target string) scan.UnsubscribeResult

	StartDeleteScan(f filter.Filter, limit int) error
	DeleteScanResults() ([]*scan.SenderSummary, error)
	StartDeleteSender(sender string) error
	StartDeleteBulk(senders []string) error

	StartMarkRead(f filter.Filter, count int) error
	UnreadCount(ctx context.Context) (count int, hasMore bool, err error)

	StartArchive(senders []string) error
	StartMarkImportant(senders []string, important bool) error
	StartLabelApply(ctx context.Context, labelID string, senders []string) error
	StartLabelRemove(ctx context.Context, labelID string, senders []string) error

	Labels(ctx context.Context) (*engine.LabelSet, error)
	CreateLabel(ctx context.Context, name string) (*gmail.Label, error)
	DeleteLabel(ctx context.Context, id string) error

	StartDownload(senders []string) error
	DownloadCSV() ([]byte, error)

	Profile(ctx context.Context) (*gmail.Profile, error)
	Jobs() *job.Registry
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// writeEngineError maps an engine error onto the HTTP taxonomy.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var notFound *gmail.NotFoundError
	switch {
	case errors.Is(err, filter.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
	case errors.Is(err, engine.ErrNoTargets):
		writeError(w, http.StatusBadRequest, "no_targets", err.Error())
	case errors.Is(err, job.ErrJobRunning):
		writeError(w, http.StatusConflict, "job_running", err.Error())
	case errors.Is(err, engine.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "not_authenticated", "Not authenticated with Gmail")
	case errors.Is(err, engine.ErrNoResults):
		writeError(w, http.StatusNotFound, "no_results", "No results available yet")
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// writeStarted acknowledges a job start.
func writeStarted(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// decodeJSON decodes a request body, tolerating an empty body for
// requests where every field is optional.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body")
		return false
	}
	return true
}

// writeStatus serves one job kind's current snapshot.
func (s *Server) writeStatus(w http.ResponseWriter, kind job.Kind) {
	writeJSON(w, http.StatusOK, s.engine.Jobs().Status(kind))
}

// ScanRequest starts a scan. Filter fields are inlined.
type ScanRequest struct {
	Limit int `json:"limit"`
	filter.Filter
}

// MarkReadRequest starts a mark-read pass.
type MarkReadRequest struct {
	Count int `json:"count"`
	filter.Filter
}

// SenderRequest targets a single sender.
type SenderRequest struct {
	Sender string `json:"sender"`
}

// SendersRequest targets a list of senders.
type SendersRequest struct {
	Senders []string `json:"senders"`
}

// ImportantRequest targets senders with a direction flag.
type ImportantRequest struct {
	Senders   []string `json:"senders"`
	Important bool     `json:"important"`
}

// LabelRequest targets senders with a label.
type LabelRequest struct {
	LabelID string   `json:"label_id"`
	Senders []string `json:"senders"`
}

// UnsubscribeRequest executes one unsubscribe target.
type UnsubscribeRequest struct {
	Domain string `json:"domain"`
	URL    string `json:"unsubscribe_url"`
}

// CreateLabelRequest creates a user label.
type CreateLabelRequest struct {
	Name string `json:"name"`
}

// handleAuthStatus reports whether a Gmail token is present.
func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"authenticated": false}
	if s.auth != nil && s.auth.HasToken() {
		resp["authenticated"] = true
		if p, err := s.engine.Profile(r.Context()); err == nil {
			resp["email"] = p.EmailAddress
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSignOut deletes the stored Gmail token.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusUnauthorized, "not_authenticated", "Not authenticated with Gmail")
		return
	}
	if err := s.auth.SignOut(); err != nil {
		s.logger.Error("sign out failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to sign out")
		return
	}
	s.logger.Info("signed out via API")
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

// handleScan starts the unsubscribe scan.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.StartScan(req.Filter, req.Limit); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeStarted(w)
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, job.KindScan)
}

func (s *Server) handleScanResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.engine.ScanResults()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(results),
		"senders": results,
	})
}

// handleUnsubscribe executes one sender's unsubscribe target. The result
// is returned inline; failures are part of the result, not HTTP errors.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req UnsubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "missing_url", "unsubscribe_url is required")
		return
	}
	result := s.engine.Unsubscribe(r.Context(), req.Domain, req.URL)
	writeJSON(w, http.StatusOK, result)
}

// handleDeleteScan starts the delete scan.
func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.StartDeleteScan(req.Filter, req.Limit); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeStarted(w)
}

func (s *Server) handleDeleteScanStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, job.KindDeleteScan)
}

func (s *Server) handleDeleteScanResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.engine.DeleteScanResults()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(results),
		"senders": results,
	})
}

// handleDeleteEmails trashes all messages from one sender.
func (s *Server) handleDeleteEmails(w http.ResponseWriter, r *http.Request) {
	var req SenderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.StartDeleteSender(req.Sender); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeStarted(w)
}

// handleDeleteEmailsBulk trashes all messages from the listed senders.
func (s *Server) handleDeleteEmailsBulk(w http.ResponseWriter, r *http.Request) {
	var req SendersRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.StartDeleteBulk(req.Senders); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeStarted(w)
}

// handleDeleteBulkStatus serves the deletion progress. Single-sender and
// bulk deletions feed the same progress view: a running job wins,
// otherwise the most recently started one.
func (s *Server) handleDeleteBulkStatus(w http.ResponseWriter, r *http.Request) {
	bulk := s.engine.Jobs().Status(job.KindDeleteBulk)
	single := s.engine.Jobs().Status(job.KindDeleteSingle)

	st := bulk
	switch {
	case !bulk.Done && !bulk.StartedAt.IsZero():
	case !single.Done && !single.StartedAt.IsZero():
		st = single
	case single.StartedAt.After(bulk.StartedAt):
		st = single
	}
	writeJSON(w, http.StatusOK, st)
}

// handleMarkRead starts a mark-as-read pass over unread messages.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.StartMarkRead(req.Filter, req.Count); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeStarted(w)
}

func (s *Server) handleMarkReadStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, job.KindMarkRead)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, hasMore, err := s.engine.UnreadCount(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    count,
		"has_more": hasMore,
	})
}

// handleArchive removes listed senders' messages from the inbox.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	var req SendersRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.StartArchive(req.Senders); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeStarted(w)
}

func (s *Server) handleArchiveStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, job.KindArchive)
}

// handleMarkImportant marks or unmarks listed senders' messages important.
func (s *Server) handleMarkImportant(w http.ResponseWriter, r *http.Request) {
	var req ImportantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.StartMarkImportant(req.Senders, req.Important); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeStarted(w)
}

func (s *Server) handleImportantStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, job.KindMarkImportant)
}

// handleListLabels returns the account's labels split system/user.
func (s *Server) handleListLabels(w http.ResponseWriter, r *http.Request) {
	labels, err := s.engine.Labels(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, labels)
}

// handleCreateLabel creates a user label.
func (s *Server) handleCreateLabel(w http.ResponseWriter, r *http.Request) {
	var req CreateLabelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_name", "Label name is required")
		return
	}
	label, err := s.engine.CreateLabel(r.Context(), req.Name)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, label)
}

// handleDeleteLabel deletes a user label by id.
func (s *Server) handleDeleteLabel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.DeleteLabel(r.Context(), id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleApplyLabel applies a label to listed senders' messages.
func (s *Server) handleApplyLabel(w http.ResponseWriter, r *http.Request) {
	var req LabelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.StartLabelApply(r.Context(), req.LabelID, req.Senders); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeStarted(w)
}

// handleRemoveLabel removes a label from listed senders' messages.
func (s *Server) handleRemoveLabel(w http.ResponseWriter, r *http.Request) {
	var req LabelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.StartLabelRemove(r.Context(), req.LabelID, req.Senders); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeStarted(w)
}

// handleLabelOperationStatus serves label mutation progress. Apply and
// remove feed the same progress view: a running job wins, otherwise the
// most recently started one.
func (s *Server) handleLabelOperationStatus(w http.ResponseWriter, r *http.Request) {
	apply := s.engine.Jobs().Status(job.KindLabelApply)
	remove := s.engine.Jobs().Status(job.KindLabelRemove)

	st := apply
	switch {
	case !apply.Done && !apply.StartedAt.IsZero():
	case !remove.Done && !remove.StartedAt.IsZero():
		st = remove
	case remove.StartedAt.After(apply.StartedAt):
		st = remove
	}
	writeJSON(w, http.StatusOK, st)
}

// handleDownloadEmails prepares an export of the listed senders' messages.
func (s *Server) handleDownloadEmails(w http.ResponseWriter, r *http.Request) {
	var req SendersRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.StartDownload(req.Senders); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeStarted(w)
}

func (s *Server) handleDownloadStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, job.KindDownload)
}

// handleDownloadCSV serves the prepared export as a CSV attachment.
func (s *Server) handleDownloadCSV(w http.ResponseWriter, r *http.Request) {
	data, err := s.engine.DownloadCSV()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="emails.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

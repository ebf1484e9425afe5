package gmail

import (
	"context"
	"fmt"
	"sync"
)

// MockAPI is a mock implementation of the Gmail API for testing.
type MockAPI struct {
	mu sync.Mutex

	// Profile to return
	Profile *Profile

	// Labels to return
	Labels []*Label

	// Messages indexed by ID
	Messages map[string]*MessageMeta

	// Message list pages - each page is a list of message IDs
	MessagePages [][]string

	// Error injection
	ProfileError      error
	LabelsError       error
	CreateLabelError  error
	DeleteLabelError  error
	ListMessagesError error
	GetMessageError   map[string]error // Per-message errors
	BatchModifyError  error

	// BatchModifyHook, if set, is consulted before recording a
	// BatchModify call. The call index is 1-based. Returning a non-nil
	// error fails that call; the mutation is not recorded.
	BatchModifyHook func(call int, ids []string) error

	// MetadataBatchHook, if set, can fail an entire GetMetadataBatch
	// call. The call index is 1-based.
	MetadataBatchHook func(call int, ids []string) error

	// Call tracking for assertions
	ProfileCalls       int
	LabelsCalls        int
	ListMessagesCalls  int
	LastQuery          string // Last query passed to ListMessages
	LastMaxResults     int
	GetMessageCalls    []string
	MetadataBatchCalls [][]string
	BatchModifyCalls   [][]string
	ModifyRequests     []ModifyRequest
	CreatedLabels      []string
	DeletedLabels      []string

	nextLabelID int
}

// NewMockAPI creates a new mock API with empty state.
func NewMockAPI() *MockAPI {
	return &MockAPI{
		Messages:        make(map[string]*MessageMeta),
		GetMessageError: make(map[string]error),
	}
}

// GetProfile returns the mock profile.
func (m *MockAPI) GetProfile(ctx context.Context) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProfileCalls++

	if m.ProfileError != nil {
		return nil, m.ProfileError
	}
	if m.Profile == nil {
		return &Profile{
			EmailAddress:  "test@example.com",
			MessagesTotal: int64(len(m.Messages)),
		}, nil
	}
	return m.Profile, nil
}

// ListMessages returns mock message IDs with pagination.
func (m *MockAPI) ListMessages(ctx context.Context, query, pageToken string, maxResults int) (*MessageListPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListMessagesCalls++
	m.LastQuery = query
	m.LastMaxResults = maxResults

	if m.ListMessagesError != nil {
		return nil, m.ListMessagesError
	}

	// Determine which page to return
	pageNum := 0
	if pageToken != "" {
		_, err := fmt.Sscanf(pageToken, "page_%d", &pageNum)
		if err != nil {
			return nil, fmt.Errorf("invalid page token: %s", pageToken)
		}
	}

	if len(m.MessagePages) == 0 {
		// Return all messages if no pages configured
		var ids []string
		for id := range m.Messages {
			ids = append(ids, id)
		}
		return &MessageListPage{
			IDs:                ids,
			ResultSizeEstimate: int64(len(ids)),
		}, nil
	}

	if pageNum >= len(m.MessagePages) {
		return &MessageListPage{}, nil
	}

	page := m.MessagePages[pageNum]
	ids := make([]string, len(page))
	copy(ids, page)

	var nextPageToken string
	if pageNum+1 < len(m.MessagePages) {
		nextPageToken = fmt.Sprintf("page_%d", pageNum+1)
	}

	total := int64(0)
	for _, p := range m.MessagePages {
		total += int64(len(p))
	}

	return &MessageListPage{
		IDs:                ids,
		NextPageToken:      nextPageToken,
		ResultSizeEstimate: total,
	}, nil
}

// GetMessageMetadata returns a mock message.
func (m *MockAPI) GetMessageMetadata(ctx context.Context, id string) (*MessageMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getMessageLocked(id)
}

func (m *MockAPI) getMessageLocked(id string) (*MessageMeta, error) {
	m.GetMessageCalls = append(m.GetMessageCalls, id)

	if err, ok := m.GetMessageError[id]; ok && err != nil {
		return nil, err
	}

	msg, ok := m.Messages[id]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + id}
	}
	return msg, nil
}

// GetMetadataBatch fetches multiple messages.
// Mirrors the real Client behavior: individual fetch errors leave a nil entry
// in the results slice rather than failing the entire batch, except auth
// errors which fail the batch outright.
func (m *MockAPI) GetMetadataBatch(ctx context.Context, ids []string) ([]*MessageMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MetadataBatchCalls = append(m.MetadataBatchCalls, ids)
	if m.MetadataBatchHook != nil {
		if err := m.MetadataBatchHook(len(m.MetadataBatchCalls), ids); err != nil {
			return nil, err
		}
	}

	results := make([]*MessageMeta, len(ids))
	for i, id := range ids {
		msg, err := m.getMessageLocked(id)
		if err != nil {
			if _, ok := err.(*AuthError); ok {
				return nil, err
			}
			continue
		}
		results[i] = msg
	}
	return results, nil
}

// BatchModify records a batch mutation call.
func (m *MockAPI) BatchModify(ctx context.Context, ids []string, mods ModifyRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.BatchModifyError != nil {
		return m.BatchModifyError
	}
	if m.BatchModifyHook != nil {
		if err := m.BatchModifyHook(len(m.BatchModifyCalls)+1, ids); err != nil {
			return err
		}
	}

	m.BatchModifyCalls = append(m.BatchModifyCalls, ids)
	m.ModifyRequests = append(m.ModifyRequests, mods)

	// Keep stored message labels coherent so follow-up fetches see the
	// mutation.
	for _, id := range ids {
		msg, ok := m.Messages[id]
		if !ok {
			continue
		}
		msg.LabelIDs = applyLabelMods(msg.LabelIDs, mods)
	}
	return nil
}

func applyLabelMods(labels []string, mods ModifyRequest) []string {
	out := make([]string, 0, len(labels)+len(mods.AddLabelIDs))
	for _, l := range labels {
		removed := false
		for _, r := range mods.RemoveLabelIDs {
			if l == r {
				removed = true
				break
			}
		}
		if !removed {
			out = append(out, l)
		}
	}
	for _, a := range mods.AddLabelIDs {
		present := false
		for _, l := range out {
			if l == a {
				present = true
				break
			}
		}
		if !present {
			out = append(out, a)
		}
	}
	return out
}

// ListLabels returns the mock labels. A cancelled context fails the call
// without counting it, matching the real client.
func (m *MockAPI) ListLabels(ctx context.Context) ([]*Label, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.LabelsCalls++

	if m.LabelsError != nil {
		return nil, m.LabelsError
	}
	if m.Labels == nil {
		return []*Label{
			{ID: "INBOX", Name: "INBOX", Type: "system"},
			{ID: "TRASH", Name: "TRASH", Type: "system"},
		}, nil
	}
	return m.Labels, nil
}

// CreateLabel adds a label to the mock state.
func (m *MockAPI) CreateLabel(ctx context.Context, name string) (*Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateLabelError != nil {
		return nil, m.CreateLabelError
	}

	m.nextLabelID++
	label := &Label{
		ID:   fmt.Sprintf("Label_%d", m.nextLabelID),
		Name: name,
		Type: "user",
	}
	m.Labels = append(m.Labels, label)
	m.CreatedLabels = append(m.CreatedLabels, name)
	return label, nil
}

// DeleteLabel removes a label from the mock state.
func (m *MockAPI) DeleteLabel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeleteLabelError != nil {
		return m.DeleteLabelError
	}

	for i, l := range m.Labels {
		if l.ID == id {
			m.Labels = append(m.Labels[:i], m.Labels[i+1:]...)
			m.DeletedLabels = append(m.DeletedLabels, id)
			return nil
		}
	}
	return &NotFoundError{Path: "/labels/" + id}
}

// Close is a no-op for the mock.
func (m *MockAPI) Close() error {
	return nil
}

// SetupMessages adds pre-built MessageMeta values to the mock store.
// Nil entries in the input slice are silently skipped.
func (m *MockAPI) SetupMessages(msgs ...*MessageMeta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Messages == nil {
		m.Messages = make(map[string]*MessageMeta)
	}
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		m.Messages[msg.ID] = msg
	}
}

// Reset clears all state and call tracking.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Messages = make(map[string]*MessageMeta)
	m.MessagePages = nil
	m.Labels = nil
	m.GetMessageError = make(map[string]error)
	m.BatchModifyHook = nil
	m.MetadataBatchHook = nil

	m.ProfileCalls = 0
	m.LabelsCalls = 0
	m.ListMessagesCalls = 0
	m.LastQuery = ""
	m.LastMaxResults = 0
	m.GetMessageCalls = nil
	m.MetadataBatchCalls = nil
	m.BatchModifyCalls = nil
	m.ModifyRequests = nil
	m.CreatedLabels = nil
	m.DeletedLabels = nil
	m.nextLabelID = 0
}

// Ensure MockAPI implements API interface.
var _ API = (*MockAPI)(nil)

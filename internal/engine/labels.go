package engine

import (
	"context"
	"fmt"

	"github.com/sruckh/gmail-cleaner/internal/gmail"
)

// LabelSet is the label listing split the UI consumes.
type LabelSet struct {
	System []*gmail.Label `json:"system"`
	User   []*gmail.Label `json:"user"`
}

// Labels lists the account's labels through a read-through cache. The
// cache is invalidated by CreateLabel and DeleteLabel; the provider owns
// the truth.
func (e *Engine) Labels(ctx context.Context) (*LabelSet, error) {
	if err := e.requireClient(); err != nil {
		return nil, err
	}

	labels, err := e.cachedLabels(ctx)
	if err != nil {
		return nil, err
	}

	set := &LabelSet{}
	for _, l := range labels {
		if l.Type == "system" {
			set.System = append(set.System, l)
		} else {
			set.User = append(set.User, l)
		}
	}
	return set, nil
}

func (e *Engine) cachedLabels(ctx context.Context) ([]*gmail.Label, error) {
	e.mu.Lock()
	cached := e.labelCache
	e.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	labels, err := e.client.ListLabels(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.labelCache = labels
	e.mu.Unlock()
	return labels, nil
}

func (e *Engine) invalidateLabels() {
	e.mu.Lock()
	e.labelCache = nil
	e.mu.Unlock()
}

// checkLabelExists verifies a label id against the cache before a label
// mutation job starts. It runs on the caller's context so an abandoned
// start request does not trigger a provider call.
func (e *Engine) checkLabelExists(ctx context.Context, labelID string) error {
	if err := e.requireClient(); err != nil {
		return err
	}
	if labelID == "" {
		return fmt.Errorf("no label id specified")
	}

	labels, err := e.cachedLabels(ctx)
	if err != nil {
		return err
	}
	for _, l := range labels {
		if l.ID == labelID {
			return nil
		}
	}
	return &gmail.NotFoundError{Path: "/labels/" + labelID}
}

// CreateLabel creates a user label and invalidates the cache.
func (e *Engine) CreateLabel(ctx context.Context, name string) (*gmail.Label, error) {
	if err := e.requireClient(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("label name required")
	}

	label, err := e.client.CreateLabel(ctx, name)
	if err != nil {
		return nil, err
	}
	e.invalidateLabels()
	return label, nil
}

// DeleteLabel deletes a user label and invalidates the cache.
func (e *Engine) DeleteLabel(ctx context.Context, id string) error {
	if err := e.requireClient(); err != nil {
		return err
	}
	if err := e.client.DeleteLabel(ctx, id); err != nil {
		return err
	}
	e.invalidateLabels()
	return nil
}

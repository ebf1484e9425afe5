// Package scan implements the read side of the cleaner: draining message
// id pages under a budget, batch-fetching metadata with partial-failure
// tolerance, folding metadata into per-sender summaries, and classifying
// unsubscribe mechanisms.
package scan

import (
	"context"

	"github.com/sruckh/gmail-cleaner/internal/gmail"
)

// DefaultPageSize is the provider's maximum list page size.
const DefaultPageSize = 500

// Pager drains paged list calls under an item budget. Each CollectIDs
// call starts a fresh cursor; a pager is not restartable mid-stream.
type Pager struct {
	Lister   gmail.MessageLister
	PageSize int
}

// CollectIDs lists message ids matching query until the budget is reached
// or pages run out. It returns exactly min(budget, available) ids in
// provider order. List errors propagate untouched; retry policy lives in
// the transport layer.
func (p *Pager) CollectIDs(ctx context.Context, query string, budget int) ([]string, error) {
	if budget <= 0 {
		return nil, nil
	}

	pageSize := p.PageSize
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}

	var ids []string
	pageToken := ""
	for len(ids) < budget {
		want := budget - len(ids)
		if want > pageSize {
			want = pageSize
		}

		page, err := p.Lister.ListMessages(ctx, query, pageToken, want)
		if err != nil {
			return nil, err
		}

		got := page.IDs
		if len(ids)+len(got) > budget {
			got = got[:budget-len(ids)]
		}
		ids = append(ids, got...)

		if page.NextPageToken == "" || len(page.IDs) == 0 {
			break
		}
		pageToken = page.NextPageToken
	}
	return ids, nil
}

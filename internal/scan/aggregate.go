package scan

import (
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/sruckh/gmail-cleaner/internal/gmail"
)

// maxSampleSubjects bounds the representative subjects kept per sender.
const maxSampleSubjects = 3

// Sender is the parsed identity behind a From header.
type Sender struct {
	Name    string
	Address string
	Domain  string
}

// ParseFrom extracts the sender identity from a raw From header value.
// Addresses are lowercased so aggregation keys are case-insensitive.
func ParseFrom(raw string) Sender {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Sender{}
	}

	addr, err := mail.ParseAddress(raw)
	if err != nil {
		// Bare addresses or malformed headers: best effort.
		addr = &mail.Address{Address: strings.Trim(raw, "<>")}
	}

	email := strings.ToLower(strings.TrimSpace(addr.Address))
	s := Sender{
		Name:    strings.Trim(addr.Name, `"`),
		Address: email,
	}
	if at := strings.LastIndex(email, "@"); at >= 0 {
		s.Domain = email[at+1:]
	} else {
		s.Domain = email
	}
	if s.Name == "" {
		s.Name = s.Address
	}
	return s
}

// KeyFunc chooses the aggregation key for a sender. An empty key skips
// the message.
type KeyFunc func(Sender) string

// KeyByAddress groups by full sender address (delete and label flows).
func KeyByAddress(s Sender) string { return s.Address }

// KeyByDomain groups by bare sender domain (unsubscribe flow).
func KeyByDomain(s Sender) string { return s.Domain }

// SenderSummary is the per-sender fold of scanned metadata.
type SenderSummary struct {
	Key        string    `json:"key"`
	Name       string    `json:"sender"`
	Email      string    `json:"email"`
	Domain     string    `json:"domain"`
	Count      int       `json:"count"`
	Subjects   []string  `json:"subjects"`
	FirstDate  time.Time `json:"first_date,omitzero"`
	LastDate   time.Time `json:"last_date,omitzero"`
	MessageIDs []string  `json:"-"`

	// Raw unsubscribe headers of the first message that carried them,
	// classified after aggregation.
	ListUnsubscribe     string `json:"-"`
	ListUnsubscribePost string `json:"-"`

	Unsubscribe *UnsubscribeInfo `json:"unsubscribe,omitempty"`
}

// Aggregator folds message metadata into SenderSummary records. Folding is
// commutative: chunk arrival order does not affect the result.
type Aggregator struct {
	key       KeyFunc
	summaries map[string]*SenderSummary
}

// NewAggregator creates an aggregator grouping by the given key.
func NewAggregator(key KeyFunc) *Aggregator {
	return &Aggregator{
		key:       key,
		summaries: make(map[string]*SenderSummary),
	}
}

// Add folds one message into its sender's summary.
func (a *Aggregator) Add(meta *gmail.MessageMeta) {
	if meta == nil {
		return
	}
	sender := ParseFrom(meta.From)
	key := a.key(sender)
	if key == "" {
		return
	}

	sum, ok := a.summaries[key]
	if !ok {
		sum = &SenderSummary{
			Key:    key,
			Name:   sender.Name,
			Email:  sender.Address,
			Domain: sender.Domain,
		}
		a.summaries[key] = sum
	}

	sum.Count++
	sum.MessageIDs = append(sum.MessageIDs, meta.ID)

	if !meta.InternalDate.IsZero() {
		if sum.FirstDate.IsZero() || meta.InternalDate.Before(sum.FirstDate) {
			sum.FirstDate = meta.InternalDate
		}
		if meta.InternalDate.After(sum.LastDate) {
			sum.LastDate = meta.InternalDate
		}
	}

	if subject := strings.TrimSpace(meta.Subject); subject != "" && len(sum.Subjects) < maxSampleSubjects {
		seen := false
		for _, s := range sum.Subjects {
			if s == subject {
				seen = true
				break
			}
		}
		if !seen {
			sum.Subjects = append(sum.Subjects, subject)
		}
	}

	if sum.ListUnsubscribe == "" && meta.ListUnsubscribe != "" {
		sum.ListUnsubscribe = meta.ListUnsubscribe
		sum.ListUnsubscribePost = meta.ListUnsubscribePost
	}
}

// Len returns the number of distinct senders folded so far.
func (a *Aggregator) Len() int {
	return len(a.summaries)
}

// Sorted returns the summaries ordered by descending count, ties broken
// by key ascending for determinism.
func (a *Aggregator) Sorted() []*SenderSummary {
	out := make([]*SenderSummary, 0, len(a.summaries))
	for _, s := range a.summaries {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Package filter declares the mailbox filter model and its compilation to
// Gmail search query syntax. A Filter is validated and compiled once at the
// start of an operation; downstream components only ever see the compiled
// query string.
package filter

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrInvalidFilter marks any validation failure during Compile. Callers
// match it with errors.Is to map to a client error.
var ErrInvalidFilter = eris.New("invalid filter")

var sizeRe = regexp.MustCompile(`^\d+[KMGkmg]$`)

// dateLayout is the Gmail query date format.
const dateLayout = "2006/01/02"

// Categories Gmail accepts in a category: clause.
var allowedCategories = map[string]bool{
	"primary":    true,
	"social":     true,
	"promotions": true,
	"updates":    true,
	"forums":     true,
}

// Filter describes the optional constraints for a scan or mutation. The
// zero value matches everything.
type Filter struct {
	// OlderThanDays matches messages older than N days. Ignored when an
	// explicit date range is present, since the range is the more
	// precise statement of intent.
	OlderThanDays int `json:"older_than_days,omitempty" toml:"older_than_days"`

	// AfterDate / BeforeDate bound the message date, formatted
	// YYYY/MM/DD. Either side may be open. Ordering is not checked;
	// an inverted range is passed through and matches nothing.
	AfterDate  string `json:"after_date,omitempty" toml:"after_date"`
	BeforeDate string `json:"before_date,omitempty" toml:"before_date"`

	// LargerThan matches messages above a size, e.g. "5M" or "500K".
	LargerThan string `json:"larger_than,omitempty" toml:"larger_than"`

	// Category is one of Gmail's inbox categories.
	Category string `json:"category,omitempty" toml:"category"`

	// Sender restricts to a sender address or domain.
	Sender string `json:"sender,omitempty" toml:"sender"`

	// Label restricts to messages carrying a label, by label name.
	Label string `json:"label,omitempty" toml:"label"`
}

// IsZero reports whether the filter has no constraints.
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// Compile validates the filter and renders it as a Gmail search query.
// An empty query string (no constraints) is valid and matches the whole
// mailbox. All validation failures wrap ErrInvalidFilter.
func (f Filter) Compile() (string, error) {
	if err := f.validate(); err != nil {
		return "", err
	}

	var parts []string

	hasRange := f.AfterDate != "" || f.BeforeDate != ""
	if f.OlderThanDays > 0 && !hasRange {
		parts = append(parts, fmt.Sprintf("older_than:%dd", f.OlderThanDays))
	}
	if f.AfterDate != "" {
		parts = append(parts, "after:"+f.AfterDate)
	}
	if f.BeforeDate != "" {
		parts = append(parts, "before:"+f.BeforeDate)
	}
	if f.LargerThan != "" {
		parts = append(parts, "larger:"+strings.ToUpper(f.LargerThan))
	}
	if f.Category != "" {
		parts = append(parts, "category:"+strings.ToLower(f.Category))
	}
	if f.Sender != "" {
		parts = append(parts, "from:"+f.Sender)
	}
	if f.Label != "" {
		parts = append(parts, "label:"+f.Label)
	}

	return strings.Join(parts, " "), nil
}

func (f Filter) validate() error {
	if f.OlderThanDays < 0 {
		return eris.Wrapf(ErrInvalidFilter, "older_than_days must be non-negative, got %d", f.OlderThanDays)
	}
	if err := validateDate("after_date", f.AfterDate); err != nil {
		return err
	}
	if err := validateDate("before_date", f.BeforeDate); err != nil {
		return err
	}
	if f.LargerThan != "" && !sizeRe.MatchString(f.LargerThan) {
		return eris.Wrapf(ErrInvalidFilter, "larger_than must look like \"1M\", \"10M\" or \"500K\", got %q", f.LargerThan)
	}
	if f.Category != "" && !allowedCategories[strings.ToLower(f.Category)] {
		return eris.Wrapf(ErrInvalidFilter, "unknown category %q", f.Category)
	}
	if f.Sender != "" {
		s := strings.TrimSpace(f.Sender)
		if !strings.Contains(s, "@") && !strings.Contains(s, ".") {
			return eris.Wrapf(ErrInvalidFilter, "sender must be an address or domain, got %q", f.Sender)
		}
		if strings.ContainsAny(s, " \t") {
			return eris.Wrapf(ErrInvalidFilter, "sender must not contain whitespace, got %q", f.Sender)
		}
	}
	if strings.ContainsAny(f.Label, " \t") {
		return eris.Wrapf(ErrInvalidFilter, "label must not contain whitespace, got %q", f.Label)
	}
	return nil
}

func validateDate(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse(dateLayout, value); err != nil {
		return eris.Wrapf(ErrInvalidFilter, "%s must be formatted YYYY/MM/DD, got %q", field, value)
	}
	return nil
}

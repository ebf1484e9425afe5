package filter

import (
	"errors"
	"testing"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{
			name:   "Empty",
			filter: Filter{},
			want:   "",
		},
		{
			name:   "OlderThan",
			filter: Filter{OlderThanDays: 30},
			want:   "older_than:30d",
		},
		{
			name:   "DateRange",
			filter: Filter{AfterDate: "2024/01/01", BeforeDate: "2024/06/30"},
			want:   "after:2024/01/01 before:2024/06/30",
		},
		{
			name:   "RangeWinsOverAge",
			filter: Filter{OlderThanDays: 90, AfterDate: "2024/01/01"},
			want:   "after:2024/01/01",
		},
		{
			name:   "BeforeOnlyWinsOverAge",
			filter: Filter{OlderThanDays: 90, BeforeDate: "2024/01/01"},
			want:   "before:2024/01/01",
		},
		{
			// Date ordering is the provider's concern; both clauses pass
			// through and an inverted range simply matches nothing.
			name:   "InvertedRange",
			filter: Filter{AfterDate: "2025/02/01", BeforeDate: "2025/01/01"},
			want:   "after:2025/02/01 before:2025/01/01",
		},
		{
			name:   "EmptyRange",
			filter: Filter{AfterDate: "2024/01/01", BeforeDate: "2024/01/01"},
			want:   "after:2024/01/01 before:2024/01/01",
		},
		{
			name:   "Size",
			filter: Filter{LargerThan: "5m"},
			want:   "larger:5M",
		},
		{
			name:   "Category",
			filter: Filter{Category: "Promotions"},
			want:   "category:promotions",
		},
		{
			name:   "SenderAddress",
			filter: Filter{Sender: "news@example.com"},
			want:   "from:news@example.com",
		},
		{
			name:   "SenderDomain",
			filter: Filter{Sender: "example.com"},
			want:   "from:example.com",
		},
		{
			name:   "Label",
			filter: Filter{Label: "newsletters"},
			want:   "label:newsletters",
		},
		{
			name: "Combined",
			filter: Filter{
				OlderThanDays: 180,
				LargerThan:    "10M",
				Category:      "updates",
				Sender:        "example.com",
				Label:         "bulk",
			},
			want: "older_than:180d larger:10M category:updates from:example.com label:bulk",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.filter.Compile()
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Compile() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompileInvalid(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
	}{
		{"NegativeAge", Filter{OlderThanDays: -1}},
		{"BadAfterDate", Filter{AfterDate: "2024-01-01"}},
		{"BadBeforeDate", Filter{BeforeDate: "01/02/2024"}},
		{"ImpossibleDate", Filter{AfterDate: "2024/13/45"}},
		{"BadSize", Filter{LargerThan: "5MB"}},
		{"SizeNoUnit", Filter{LargerThan: "500"}},
		{"UnknownCategory", Filter{Category: "spam"}},
		{"BadSender", Filter{Sender: "nodomain"}},
		{"SenderWithSpace", Filter{Sender: "a b@example.com"}},
		{"LabelWithSpace", Filter{Label: "my label"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.filter.Compile()
			if err == nil {
				t.Fatal("Compile() expected error, got nil")
			}
			if !errors.Is(err, ErrInvalidFilter) {
				t.Errorf("error %v does not wrap ErrInvalidFilter", err)
			}
		})
	}
}

func TestIsZero(t *testing.T) {
	if !(Filter{}).IsZero() {
		t.Error("empty filter should be zero")
	}
	if (Filter{Category: "social"}).IsZero() {
		t.Error("filter with category should not be zero")
	}
}

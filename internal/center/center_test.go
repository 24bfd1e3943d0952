package center

import (
	"sort"
	"strings"
	"testing"
	"time"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "Nexus Center", want: "Nexus Center"},
		{name: "punctuation", in: "St. Mary's (North)!", want: `St\. Mary's \(North\)\!`},
		{name: "dashes and dots", in: "ft-lauderdale.fl", want: `ft\-lauderdale\.fl`},
		{name: "empty", in: "", want: ""},
		{name: "unicode untouched", in: "Zürich", want: "Zürich"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EscapeMarkdownV2(tt.in); got != tt.want {
				t.Fatalf("EscapeMarkdownV2(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAvailabilityMessage(t *testing.T) {
	c := Center{ID: 7, ShortName: "nx", FullName: "Nexus Center (Main)", Address: "1 Main St"}
	start := time.Date(2026, 9, 10, 9, 30, 0, 0, time.UTC)

	msg := c.AvailabilityMessage(start, "https://example.test/schedule")

	if !strings.Contains(msg, `Nexus Center \(Main\)`) {
		t.Fatalf("center name not escaped: %q", msg)
	}
	if !strings.Contains(msg, "9:30 AM on Thursday September 10") {
		t.Fatalf("slot time not rendered: %q", msg)
	}
	if !strings.Contains(msg, "[Schedule appointment](https://example.test/schedule)") {
		t.Fatalf("scheduling link missing: %q", msg)
	}
}

func TestCatalogLookups(t *testing.T) {
	cat, err := NewCatalog([]Center{
		{ID: 7, ShortName: "nx", FullName: "Nexus Center"},
		{ID: 9, ShortName: "wf", FullName: "Waterfront Office"},
	})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	if c, ok := cat.Get(9); !ok || c.ShortName != "wf" {
		t.Fatalf("Get(9) = %+v, %v", c, ok)
	}
	if _, ok := cat.Get(12); ok {
		t.Fatal("Get(12) found a center that was never configured")
	}
	if c, ok := cat.ByShortName("nx"); !ok || c.ID != 7 {
		t.Fatalf("ByShortName(nx) = %+v, %v", c, ok)
	}
	if _, ok := cat.ByShortName("nope"); ok {
		t.Fatal("ByShortName(nope) should miss")
	}

	lines := cat.DisplayLines()
	if len(lines) != 2 {
		t.Fatalf("DisplayLines len = %d, want 2", len(lines))
	}
	if !sort.StringsAreSorted(lines) {
		t.Fatalf("DisplayLines not sorted: %v", lines)
	}
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	if _, err := NewCatalog([]Center{
		{ID: 7, ShortName: "nx"},
		{ID: 7, ShortName: "other"},
	}); err == nil {
		t.Fatal("duplicate id accepted")
	}
	if _, err := NewCatalog([]Center{
		{ID: 7, ShortName: "nx"},
		{ID: 9, ShortName: "nx"},
	}); err == nil {
		t.Fatal("duplicate short name accepted")
	}
	if _, err := NewCatalog([]Center{{ID: 7, ShortName: "  "}}); err == nil {
		t.Fatal("blank short name accepted")
	}
}

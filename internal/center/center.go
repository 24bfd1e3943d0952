// Package center holds the static enrollment-center catalog. Centers are
// loaded once from configuration and only ever read afterwards.
package center

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ID identifies a center in the upstream scheduling API.
type ID = uint32

type Center struct {
	ID        ID     `json:"id"`
	ShortName string `json:"short_name"`
	FullName  string `json:"full_name"`
	Address   string `json:"address"`
}

// DisplayLine renders a center for /list and /status output (MarkdownV2).
func (c Center) DisplayLine() string {
	return fmt.Sprintf("`%s` %s", EscapeMarkdownV2(c.ShortName), EscapeMarkdownV2(c.FullName))
}

// Catalog is an immutable id-keyed lookup over the configured centers.
type Catalog struct {
	byID    map[ID]Center
	byShort map[string]Center
	all     []Center
}

func NewCatalog(centers []Center) (*Catalog, error) {
	cat := &Catalog{
		byID:    make(map[ID]Center, len(centers)),
		byShort: make(map[string]Center, len(centers)),
		all:     append([]Center(nil), centers...),
	}
	for _, c := range centers {
		if strings.TrimSpace(c.ShortName) == "" {
			return nil, fmt.Errorf("center %d: short_name is required", c.ID)
		}
		if _, dup := cat.byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate center id %d", c.ID)
		}
		if _, dup := cat.byShort[c.ShortName]; dup {
			return nil, fmt.Errorf("duplicate center short name %q", c.ShortName)
		}
		cat.byID[c.ID] = c
		cat.byShort[c.ShortName] = c
	}
	return cat, nil
}

func (cat *Catalog) Get(id ID) (Center, bool) {
	c, ok := cat.byID[id]
	return c, ok
}

// ByShortName resolves the user-facing handle used in /track and /untrack.
func (cat *Catalog) ByShortName(short string) (Center, bool) {
	c, ok := cat.byShort[short]
	return c, ok
}

func (cat *Catalog) Len() int { return len(cat.all) }

// DisplayLines returns one line per center, sorted for stable chat output.
func (cat *Catalog) DisplayLines() []string {
	lines := make([]string, 0, len(cat.all))
	for _, c := range cat.all {
		lines = append(lines, c.DisplayLine())
	}
	sort.Strings(lines)
	return lines
}

// slotTimeFormat renders a slot start as e.g. "3:04 PM on Monday January 2".
const slotTimeFormat = "3:04 PM on Monday January 2"

// AvailabilityMessage formats the notification for one open slot at this
// center. Everything user- or config-supplied is escaped; the scheduling
// link is emitted as an inline markdown link.
func (c Center) AvailabilityMessage(start time.Time, scheduleURL string) string {
	return fmt.Sprintf(
		"Appointment available for %s\n%s\n[Schedule appointment](%s)",
		EscapeMarkdownV2(c.FullName),
		EscapeMarkdownV2(start.Format(slotTimeFormat)),
		EscapeMarkdownV2URL(scheduleURL),
	)
}

// markdownV2Special is the set of characters Telegram requires escaped in
// MarkdownV2 text outside of code blocks and link URLs.
const markdownV2Special = "_*[]()~`>#+-=|{}.!"

// EscapeMarkdownV2 escapes text for Telegram's MarkdownV2 parse mode.
func EscapeMarkdownV2(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 128 && strings.ContainsRune(markdownV2Special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EscapeMarkdownV2URL escapes a URL used inside inline-link parentheses,
// where only ')' and '\' need escaping.
func EscapeMarkdownV2URL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `)`, `\)`)
}
